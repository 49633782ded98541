package gwsession

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTokenFailsAfterExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New("u1", "1.2.3.4:5", "md5", "UTF8", "tok", now.Add(time.Minute))

	_, err := s.GetToken(now)
	require.NoError(t, err)

	_, err = s.GetToken(now.Add(2 * time.Minute))
	require.Error(t, err)
}

func TestInvalidateBlocksFurtherUse(t *testing.T) {
	now := time.Now()
	s := New("u1", "", "md5", "UTF8", "tok", now.Add(time.Hour))
	s.Invalidate()
	_, err := s.GetToken(now)
	require.Error(t, err)
}

func TestExtensionTimerFiresAtConfiguredCadence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New("u1", "", "md5", "UTF8", "tok", clock.Now().Add(24*time.Hour))

	var calls int
	extend := func(ctx context.Context, token string) (time.Time, error) {
		calls++
		return clock.Now().Add(24 * time.Hour), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	log := logrus.NewEntry(logrus.New())
	go func() {
		s.RunExtensionTimer(ctx, clock, 10*time.Second, extend, log)
		close(done)
	}()

	clock.BlockUntil(1)
	for i := 0; i < 10; i++ {
		clock.Advance(10 * time.Second)
		clock.BlockUntil(1)
	}

	cancel()
	<-done
	assert.Equal(t, 10, calls)
}

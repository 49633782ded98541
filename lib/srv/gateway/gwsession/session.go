/*
Copyright 2024 The WinCC PG Gateway Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gwsession holds the per-connection authenticated Session and
// drives its GraphQL bearer-token extension timer. A Session is owned
// exclusively by the connection that created it; there is no global
// session registry.
package gwsession

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/trace"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/pgerr"
)

// ExtendFunc calls the GraphQL session.extend mutation and returns the new
// absolute token expiry.
type ExtendFunc func(ctx context.Context, token string) (newExpiry time.Time, err error)

// Session is the authenticated identity and live GraphQL credential for one
// Postgres wire connection.
type Session struct {
	// User is the user name as presented in the startup parameters.
	User string
	// ClientAddr is the remote address of the connected client.
	ClientAddr string
	// AuthMethod is "md5" or "scram-sha-256", whichever was negotiated, or
	// "trust" when the wire challenge was skipped in no-auth mode.
	AuthMethod string
	// ClientEncoding is the negotiated client_encoding startup parameter.
	ClientEncoding string

	mu            sync.RWMutex
	token         string
	tokenExpiry   time.Time
	lastExtension time.Time
	expired       bool
}

// New creates a Session from a successful GraphQL login.
func New(user, clientAddr, authMethod, clientEncoding, token string, expiry time.Time) *Session {
	return &Session{
		User:           user,
		ClientAddr:     clientAddr,
		AuthMethod:     authMethod,
		ClientEncoding: clientEncoding,
		token:          token,
		tokenExpiry:    expiry,
	}
}

// GetToken returns the live bearer token. It fails once the token has
// expired or the session has been explicitly invalidated: no SQL executes
// without a live Session whose token has not expired.
func (s *Session) GetToken(now time.Time) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expired || !now.Before(s.tokenExpiry) {
		return "", pgerr.New(pgerr.KindAuth, "session token has expired")
	}
	return s.token, nil
}

// Invalidate marks the session dead. Subsequent GetToken calls fail. Called
// when the GraphQL backend rejects a token refresh or login.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = true
}

// extend installs a refreshed token and expiry, called only from the
// extension timer goroutine.
func (s *Session) extend(now time.Time, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return
	}
	s.tokenExpiry = expiry
	s.lastExtension = now
}

// currentToken returns the token for use by the extension timer itself,
// regardless of expiry (the timer is what keeps it from expiring).
func (s *Session) currentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// RunExtensionTimer ticks every interval and calls extend to refresh the
// session's GraphQL token, until ctx is canceled. On a failed extension
// call, the session is invalidated and the timer exits; the next SQL call
// on this connection will then observe an expired Session and the
// connection state machine terminates it.
//
// RunExtensionTimer is meant to run in its own goroutine, one per
// connection, cooperating with the main connection goroutine purely
// through the Session's mutex.
func (s *Session) RunExtensionTimer(ctx context.Context, clock clockwork.Clock, interval time.Duration, extend ExtendFunc, log *logrus.Entry) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.Chan():
			token := s.currentToken()
			newExpiry, err := extend(ctx, token)
			if err != nil {
				log.WithError(err).Warn("Failed to extend GraphQL session token; invalidating session.")
				s.Invalidate()
				return
			}
			s.extend(now, newExpiry)
		}
	}
}

// CheckLive is a convenience wrapper returning a pgerr-tagged error ready
// to be mapped straight to a wire ErrorResponse if the session is not
// usable.
func (s *Session) CheckLive(now time.Time) error {
	_, err := s.GetToken(now)
	return trace.Wrap(err)
}

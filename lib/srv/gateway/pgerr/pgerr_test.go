package pgerr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStateMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		code string
	}{
		{KindAuth, "28P01"},
		{KindParse, "42601"},
		{KindUnsupportedTable, "42P01"},
		{KindUnsupportedStatement, "0A000"},
		{KindFilterMissing, "42000"},
		{KindBackend, "08000"},
		{KindInternal, "XX000"},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		resp := ToErrorResponse(err)
		assert.Equal(t, c.code, resp.Code)
		assert.Equal(t, "ERROR", resp.Severity)
	}
}

func TestKindRoundTripsThroughWrap(t *testing.T) {
	base := New(KindFilterMissing, "tag_name required")
	wrapped := Wrap(KindBackend, base, "translating query")
	// The outermost tag wins since Wrap re-tags with the new kind.
	assert.Equal(t, KindBackend, KindOf(wrapped))
}

func TestUntaggedErrorIsInternal(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(assertErr{}))
}

type assertErr struct{}

func (assertErr) Error() string { return "plain" }

package graphqlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/pgerr"
)

func TestLoginSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "login")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"login": map[string]interface{}{
					"token":     "tok-123",
					"expiresAt": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	res, err := c.Login(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", res.Token)
}

func TestLoginAuthErrorMapsToAuthKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{
				{"message": "bad credentials", "extensions": map[string]interface{}{"code": "401"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Login(context.Background(), "u1", "wrong")
	require.Error(t, err)
	assert.Equal(t, pgerr.KindAuth, pgerr.KindOf(err))
}

func TestBackendErrorMapsToBackendKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{
				{"message": "tag not found", "extensions": map[string]interface{}{"code": "500"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.TagValues(context.Background(), "tok", []string{"A"})
	require.Error(t, err)
	assert.Equal(t, pgerr.KindBackend, pgerr.KindOf(err))
}

func TestBrowseReturnsNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"browse": []map[string]interface{}{
					{"name": "HMI_Tag_1:PV"},
					{"name": "HMI_Tag_2:PV"},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	names, err := c.Browse(context.Background(), "tok", "HMI_*:*", nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"HMI_Tag_1:PV", "HMI_Tag_2:PV"}, names)
}

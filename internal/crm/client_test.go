package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgame/service-auth/internal/config"
)

func newTestClient(tokenURL string) *Client {
	return NewClient(config.CRMConfig{
		ClientID:     "cid",
		ClientSecret: "csecret",
		TokenURL:     tokenURL,
		Timeout:      2 * time.Second,
	}, "http://api.local/api/auth/oauth-callback")
}

func TestClient_ExchangeCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		assert.Equal(t, "cid", r.Form.Get("client_id"))
		assert.Equal(t, "csecret", r.Form.Get("client_secret"))
		assert.Equal(t, "http://api.local/api/auth/oauth-callback", r.Form.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A","refresh_token":"R","expires_in":3600}`))
	}))
	defer srv.Close()

	tok, err := newTestClient(srv.URL).ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "A", tok.AccessToken)
	assert.Equal(t, "R", tok.RefreshToken)
	assert.Equal(t, int64(3600), tok.ExpiresIn)
}

func TestClient_Refresh(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A2","refresh_token":"R2","expires_in":86400}`))
	}))
	defer srv.Close()

	tok, err := newTestClient(srv.URL).Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "A2", tok.AccessToken)
}

func TestClient_ProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ExchangeCode(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestClient_MissingAccessToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"refresh_token":"R"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ExchangeCode(context.Background(), "code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing access_token")
}

package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatgame/service-auth/internal/crm/entity"
	"github.com/chatgame/service-auth/internal/middleware"
	userentity "github.com/chatgame/service-auth/internal/user/entity"
)

const frontend = "http://front.local"

func newTestHandler(provider Provider, store ConnectionStore) *Handler {
	return NewHandler(newTestService(provider, store), frontend, zap.NewNop().Sugar())
}

func callbackRequest(query url.Values) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/api/auth/oauth-callback?"+query.Encode(), nil)
}

func redirectLocation(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc
}

func TestCallback_Success(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{exchangeResp: &TokenResponse{AccessToken: "A", RefreshToken: "R", ExpiresIn: 3600}}
	store := newMemStore()
	h := newTestHandler(provider, store)

	rec := httptest.NewRecorder()
	h.Callback(rec, callbackRequest(url.Values{
		"code":       {"the-code"},
		"locationId": {"loc"},
		"companyId":  {"comp"},
		"state":      {encodeState(t, "u1")},
	}))

	loc := redirectLocation(t, rec)
	assert.Equal(t, frontend+"/dashboard", loc.Scheme+"://"+loc.Host+loc.Path)
	assert.Equal(t, "true", loc.Query().Get("connected"))
	assert.Equal(t, ProviderName, loc.Query().Get("provider"))

	conn, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "A", conn.AccessToken)
}

func TestCallback_MissingCode(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	h := newTestHandler(provider, newMemStore())

	rec := httptest.NewRecorder()
	h.Callback(rec, callbackRequest(url.Values{"state": {encodeState(t, "u1")}}))

	loc := redirectLocation(t, rec)
	assert.Equal(t, "no_code", loc.Query().Get("error"))
	assert.Zero(t, provider.exchangeCalls)
}

func TestCallback_ErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider *stubProvider
		state    string
		wantCode string
	}{
		{
			name:     "token exchange failure",
			provider: &stubProvider{exchangeErr: assert.AnError},
			state:    "ignored",
			wantCode: "token_exchange",
		},
		{
			name:     "invalid state",
			provider: &stubProvider{exchangeResp: &TokenResponse{AccessToken: "A", RefreshToken: "R", ExpiresIn: 60}},
			state:    "!!!",
			wantCode: "invalid_state",
		},
		{
			name:     "missing user id",
			provider: &stubProvider{exchangeResp: &TokenResponse{AccessToken: "A", RefreshToken: "R", ExpiresIn: 60}},
			state:    "e30=", // {}
			wantCode: "user_not_found",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(tc.provider, newMemStore())
			rec := httptest.NewRecorder()
			h.Callback(rec, callbackRequest(url.Values{"code": {"c"}, "state": {tc.state}}))

			loc := redirectLocation(t, rec)
			assert.Equal(t, tc.wantCode, loc.Query().Get("error"))
		})
	}
}

func TestStatus_RequiresUser(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&stubProvider{}, newMemStore())
	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/auth/integration-status", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatus_Connected(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.Replace(context.Background(), &entity.Connection{
		UserID: "u1", AccessToken: "A", RefreshToken: "R",
		ExpiresAt: time.Now().Add(time.Hour), Connected: true,
		LocationID: "loc", CompanyID: "comp",
	}))
	h := newTestHandler(&stubProvider{}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/integration-status", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), &userentity.PublicUser{ID: "u1"}))
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Connected)
	require.NotNil(t, st.IsExpired)
	assert.False(t, *st.IsExpired)
	assert.Equal(t, "loc", st.LocationID)
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.Replace(context.Background(), &entity.Connection{
		UserID: "u1", AccessToken: "A", RefreshToken: "R", Connected: true,
	}))
	h := newTestHandler(&stubProvider{}, store)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/integration-disconnect", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), &userentity.PublicUser{ID: "u1"}))
	rec := httptest.NewRecorder()
	h.Disconnect(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])

	_, err := store.Get(context.Background(), "u1")
	assert.Error(t, err)
}

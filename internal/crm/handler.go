package crm

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/chatgame/service-auth/internal/middleware"
)

// ProviderName tags successful callback redirects.
const ProviderName = "crm"

// Handler exposes the OAuth callback plus the gated status and disconnect
// endpoints.
type Handler struct {
	svc         *Service
	frontendURL string
	logger      *zap.SugaredLogger
}

func NewHandler(svc *Service, frontendURL string, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, frontendURL: frontendURL, logger: logger}
}

// Callback handles the provider redirect. This is a browser flow: every
// outcome is a 302 back to the frontend dashboard, success and failure
// alike. Errors never escape as HTTP error bodies.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.svc.ExchangeCode(r.Context(), q.Get("code"), q.Get("locationId"), q.Get("companyId"), q.Get("state"))
	if err == nil {
		h.redirect(w, r, url.Values{"connected": {"true"}, "provider": {ProviderName}})
		return
	}

	h.logger.Warnw("oauth callback failed", "err", err)
	params := url.Values{}
	switch {
	case errors.Is(err, ErrMissingCode):
		params.Set("error", "no_code")
	case errors.Is(err, ErrTokenExchange):
		params.Set("error", "token_exchange")
		params.Set("message", err.Error())
	case errors.Is(err, ErrInvalidState):
		params.Set("error", "invalid_state")
	case errors.Is(err, ErrUserNotFound):
		params.Set("error", "user_not_found")
	default:
		params.Set("error", "server_error")
		params.Set("message", err.Error())
	}
	h.redirect(w, r, params)
}

// Status reports the acting user's connection state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "not authorized"})
		return
	}

	st, err := h.svc.GetStatus(r.Context(), u.ID)
	if err != nil {
		h.logger.Errorw("integration status", "user_id", u.ID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to check connection status"})
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// Disconnect removes the acting user's connection.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "not authorized"})
		return
	}

	if err := h.svc.Disconnect(r.Context(), u.ID); err != nil {
		h.logger.Errorw("integration disconnect", "user_id", u.ID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to disconnect integration",
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "connection removed successfully",
	})
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, params url.Values) {
	http.Redirect(w, r, h.frontendURL+"/dashboard?"+params.Encode(), http.StatusFound)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chatgame/service-auth/internal/middleware"
)

// TokenIssuer mints session tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// Handler exposes HTTP endpoints for registration, login, logout and the
// current-user lookup.
type Handler struct {
	svc     *UserService
	tokens  TokenIssuer
	cookies SessionCookies
	logger  *zap.SugaredLogger
	devMode bool
}

func NewHandler(svc *UserService, tokens TokenIssuer, cookies SessionCookies, logger *zap.SugaredLogger, devMode bool) *Handler {
	return &Handler{svc: svc, tokens: tokens, cookies: cookies, logger: logger, devMode: devMode}
}

// RegisterRequest request body for the register endpoint.
type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	u, err := h.svc.Register(r.Context(), req.Name, req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			h.respondError(w, http.StatusBadRequest, validationMessage(err))
		case errors.Is(err, ErrDuplicateEmail):
			h.respondError(w, http.StatusBadRequest, "email is already registered")
		default:
			h.serverError(w, "register", err)
		}
		return
	}

	tok, err := h.tokens.Issue(u.ID)
	if err != nil {
		h.serverError(w, "register issue token", err)
		return
	}
	h.cookies.Set(w, tok)
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "user registered successfully",
		"data":    u,
		"token":   tok,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	u, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			h.respondError(w, http.StatusBadRequest, validationMessage(err))
		case errors.Is(err, ErrUserNotFound):
			h.respondError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, ErrBadCredentials):
			h.respondError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			h.serverError(w, "login", err)
		}
		return
	}

	tok, err := h.tokens.Issue(u.ID)
	if err != nil {
		h.serverError(w, "login issue token", err)
		return
	}
	h.cookies.Set(w, tok)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "login successful",
		"data":    u,
		"token":   tok,
	})
}

// Logout clears the session cookie. Stateless, always succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "logged out successfully",
	})
}

// Me returns the user resolved by the auth gate.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "not authorized")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    u,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "message": message})
}

// serverError logs full detail and returns a generic message outside
// development mode.
func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Errorw("unexpected error", "op", op, "err", err)
	msg := "something went wrong"
	if h.devMode {
		msg = err.Error()
	}
	h.writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"message": "server error",
		"error":   msg,
	})
}

func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
}

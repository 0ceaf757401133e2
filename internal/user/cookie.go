package user

import (
	"net/http"
	"time"

	"github.com/chatgame/service-auth/internal/middleware"
)

// SessionCookies writes and clears the HTTP-only session cookie.
type SessionCookies struct {
	// Secure is set in production so the cookie only travels over TLS.
	Secure bool
	MaxAge time.Duration
}

// Set attaches the session token cookie to the response.
func (c SessionCookies) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the session cookie.
func (c SessionCookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
	})
}

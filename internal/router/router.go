package router

import (
	"net/http"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/chatgame/service-auth/internal/config"
	"github.com/chatgame/service-auth/internal/crm"
	crmrepo "github.com/chatgame/service-auth/internal/crm/repo"
	"github.com/chatgame/service-auth/internal/middleware"
	"github.com/chatgame/service-auth/internal/token"
	"github.com/chatgame/service-auth/internal/user"
	userrepo "github.com/chatgame/service-auth/internal/user/repo"
	"github.com/chatgame/service-auth/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level
// using the provided sugared logger. Each request gets a snowflake ID so
// log lines for one request can be correlated.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := utilities.NewRequestID()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			if r.TLS != nil {
				// 30 days
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows credentialed requests from the configured frontend
// origins. Requests with no Origin header (curl, server-to-server, the
// provider's callback redirect) pass through untouched.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && slices.Contains(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
				if r.Method == http.MethodOptions {
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RegisterRoutes wires repositories, services and handlers onto a ServeMux
// and wraps the whole surface with the middleware chain.
func RegisterRoutes(cfg *config.Config, logger *zap.SugaredLogger, db *sqlx.DB) (http.Handler, error) {
	issuer, err := token.NewIssuer(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	userSvc := user.NewUserService(userrepo.NewUserRepo(db), nil)
	cookies := user.SessionCookies{Secure: cfg.IsProduction(), MaxAge: issuer.TTL()}
	userHandler := user.NewHandler(userSvc, issuer, cookies, logger, !cfg.IsProduction())

	provider := crm.NewClient(cfg.CRM, cfg.RedirectURI())
	crmSvc := crm.NewService(provider, crmrepo.NewConnectionRepo(db), logger)
	crmHandler := crm.NewHandler(crmSvc, cfg.FrontendURL, logger)

	gate := middleware.Auth(issuer, userSvc, logger)

	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// auth routes
	mux.HandleFunc("POST /api/auth/register", userHandler.Register)
	mux.HandleFunc("POST /api/auth/login", userHandler.Login)
	mux.HandleFunc("POST /api/auth/logout", userHandler.Logout)
	mux.Handle("GET /api/auth/me", gate(http.HandlerFunc(userHandler.Me)))

	// CRM integration routes; the callback is hit by a browser redirect
	// from the provider and is not gated.
	mux.HandleFunc("GET /api/auth/oauth-callback", crmHandler.Callback)
	mux.Handle("GET /api/auth/integration-status", gate(http.HandlerFunc(crmHandler.Status)))
	mux.Handle("POST /api/auth/integration-disconnect", gate(http.HandlerFunc(crmHandler.Disconnect)))

	handler := LoggingMiddleware(logger)(SecurityHeadersMiddleware()(CORSMiddleware(cfg.AllowedOrigins())(mux)))
	return handler, nil
}

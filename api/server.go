/*
server.go - HTTP router and middleware configuration

ROUTER: chi

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     One zerolog line per request, tagged with the request id
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin reads for dashboards (read API only)

ROUTERS:
  NewPublicRouter   /healthz, /telegram/webhook. Safe to expose.
  NewRouter         /healthz, /api/users/* (optionally behind a bearer
                    token), and the webhook when both share a listener.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// WebhookPath is where Telegram posts updates in webhook mode.
const WebhookPath = "/telegram/webhook"

// Options configure the read API router.
type Options struct {
	// Token, when set, is required as "Authorization: Bearer <token>" on
	// every /api request.
	Token string

	// Webhook is mounted at WebhookPath when non-nil.
	Webhook http.Handler
}

// NewRouter creates the read API router.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api/users/{id}", func(r chi.Router) {
		if opts.Token != "" {
			r.Use(requireBearer(opts.Token))
		}
		r.Get("/", h.GetUser)
		r.Get("/balances", h.ListBalances)
		r.Get("/balances/{other}", h.GetBalance)
		r.Get("/history/{other}", h.GetHistory)
		r.Get("/aliases", h.ListAliases)
	})

	if opts.Webhook != nil {
		r.Method(http.MethodPost, WebhookPath, opts.Webhook)
	}

	return r
}

// NewPublicRouter serves only health and the Telegram webhook. It never
// exposes ledger data. webhook may be nil in polling mode.
func NewPublicRouter(h *Handler, webhook http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	if webhook != nil {
		r.Method(http.MethodPost, WebhookPath, webhook)
	}
	return r
}

func requireBearer(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

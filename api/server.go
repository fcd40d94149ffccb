/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  unique id per request, copied into the request logger
  2. RealIP:     client address for rate limiting behind a proxy
  3. Recoverer:  panic recovery (500 instead of crash)
  4. Logger:     zap request log + request duration histogram
  5. CORS:       cross-origin requests for the dashboard frontend
  6. RateLimit:  per-IP limit (httprate) on /api and /public

ROUTE GROUPS:
  /healthz              database health (no auth)
  /metrics              Prometheus scrape endpoint (no auth)
  /public/*             card dashboard and activation (no auth)
  /api/*                bearer token required
  /api/admin/*          admin role required
  /api/scenarios/*      admin role required, development only

SEE ALSO:
  - handlers.go: handler implementations
  - auth.go: token verification
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/loyalty-engine/logging"
	"github.com/warp/loyalty-engine/metrics"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimit is requests per minute per IP; 0 disables limiting.
	RateLimit int
	// EnableScenarios mounts the demo scenario routes. They wipe the
	// database, so only development servers set it.
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/public/{slug}/cards/{cardId}", func(r chi.Router) {
		r.Use(rateLimit(opts.RateLimit))
		r.Get("/", h.GetPublicCard)
		r.Post("/activate", h.ActivateCard)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(opts.RateLimit))
		r.Use(h.Auth.Middleware)

		r.Route("/points", func(r chi.Router) {
			r.Post("/operations", h.ApplyOperation)
			r.Post("/adjustments", h.ApplyAdjustment)
			r.Post("/entries/{id}/reverse", h.ReverseEntry)
		})

		r.Route("/businesses", func(r chi.Router) {
			r.Get("/", h.ListBusinesses)
			r.With(RequireAdmin).Post("/", h.CreateBusiness)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBusiness)
				r.Put("/", h.UpdateBusiness)
				r.With(RequireAdmin).Delete("/", h.DeleteBusiness)
				r.With(RequireAdmin).Post("/slug", h.RegenerateSlug)
				r.Get("/stats", h.BusinessStats)
				r.Get("/entries", h.ListBusinessEntries)

				r.Get("/items", h.ListItems)
				r.Post("/items", h.CreateItem)

				r.Get("/clients", h.ListClients)
				r.Post("/clients", h.CreateClient)
				r.Post("/clients/bulk", h.BulkCreateClients)
			})
		})

		r.Route("/items/{id}", func(r chi.Router) {
			r.Put("/", h.UpdateItem)
			r.Delete("/", h.DeleteItem)
		})

		r.Route("/clients/{id}", func(r chi.Router) {
			r.Get("/", h.GetClient)
			r.Put("/", h.UpdateClient)
			r.Get("/entries", h.ListClientEntries)
			r.Get("/qr", h.ClientQR)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.With(RequireAdmin).Post("/", h.CreateUser)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/ledger-audit", h.GetLedgerAudit)
			r.Post("/ledger-audit", h.RunLedgerAudit)
		})

		if opts.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}

func rateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
		}),
	)
}

// requestLogger logs each request with zap and records its duration.
// Handlers get a logger carrying request_id through logging.FromContext.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqLog := log.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			ctx := logging.WithLogger(r.Context(), reqLog)

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.APIRequestDuration.
				WithLabelValues(r.Method, route, strconv.Itoa(status)).
				Observe(elapsed.Seconds())

			reqLog.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", elapsed))
		})
	}
}

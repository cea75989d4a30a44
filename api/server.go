/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the proxy
  3. Logger:     Structured request logging (logrus) and latency metrics
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the web app

ROUTE GROUPS:
  /healthz              Liveness, touches the store
  /metrics              Prometheus
  /api/rewards          Public catalog
  /api/me/*             Customer (X-Actor-ID required)
  /api/staff/*          Staff (X-Actor-ID required)
  /api/admin/*          Admin (X-Actor-ID required)

SECURITY NOTE:
  Authentication and role checks happen upstream. The router only requires
  an actor id so every decision is attributed.

SEE ALSO:
  - handlers.go: Handler implementations
  - actor.go: Actor header middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match", ActorHeader},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/rewards", h.ListActiveRewards)

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)

			r.Route("/me", func(r chi.Router) {
				r.Get("/balance", h.GetMyBalance)
				r.Get("/visits", h.ListMyVisits)
				r.Post("/visits", h.CreateVisit)
				r.Get("/redemptions", h.ListMyRedemptions)
				r.Post("/redemptions", h.RequestRedemption)
			})

			r.Route("/staff", func(r chi.Router) {
				r.Get("/queue", h.GetQueue)
				r.Route("/visits", func(r chi.Router) {
					r.Get("/pending", h.ListPendingVisits)
					r.Get("/history", h.ListVisitHistory)
					r.Post("/{id}/approve", h.ApproveVisit)
					r.Post("/{id}/reject", h.RejectVisit)
				})
				r.Post("/users/{id}/grant", h.GrantVisit)
				r.Route("/redemptions", func(r chi.Router) {
					r.Get("/pending", h.ListPendingRedemptions)
					r.Get("/history", h.ListRedemptionHistory)
					r.Post("/{id}/approve", h.ApproveRedemption)
					r.Post("/{id}/reject", h.RejectRedemption)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Route("/rewards", func(r chi.Router) {
					r.Get("/", h.ListAllRewards)
					r.Post("/", h.CreateReward)
					r.Put("/{id}", h.UpdateReward)
					r.Delete("/{id}", h.DeleteReward)
					r.Post("/{id}/active", h.SetRewardActive)
				})
				r.Post("/visits/{id}/override", h.OverrideVisit)
				r.Get("/audit", h.ListAudit)
				r.Post("/reconcile", h.Reconcile)
				r.Post("/seed", h.SeedCatalog)
			})
		})
	})

	return r
}

// requestLogger logs one line per request and records its latency by
// route pattern.
func requestLogger(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if m != nil {
				m.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
			}

			entry := log.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     status,
				"duration":   elapsed.String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			if actor := r.Header.Get(ActorHeader); actor != "" {
				entry = entry.WithField("actor", actor)
			}
			switch {
			case status >= 500:
				entry.Warn("request")
			case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
				entry.Debug("request")
			default:
				entry.Info("request")
			}
		})
	}
}

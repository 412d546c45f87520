package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MADA-gnuBD/bikeops/internal/authz"
	"github.com/MADA-gnuBD/bikeops/internal/metrics"
	"github.com/MADA-gnuBD/bikeops/internal/session"
)

// Deps is everything the router mounts. Nil handlers leave their routes
// unmounted; a nil Authz mounts the guarded routes but denies them.
type Deps struct {
	CORSOrigins   []string
	AuthRateLimit int
	StaticDir     string

	Sessions *session.Manager
	Authz    *authz.Enforcer

	Health      *HealthHandler
	Stations    *StationHandler
	Views       *ViewHandler
	Auth        *AuthHandler
	AI          *AIHandler
	Community   *CommunityHandler
	WorkHistory *WorkHistoryHandler
	WorkQueue   *WorkQueueHandler

	// WebSocket serves /ws when set, behind the session middleware
	WebSocket http.Handler
}

// NewRouter wires the HTTP surface
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(AccessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestIDHeader, "Location"},
		AllowCredentials: true,
	}))

	if d.Health != nil {
		r.Get("/health", d.Health.GetHealth)
	}
	r.Handle("/metrics", promhttp.Handler())
	if d.WebSocket != nil {
		ws := d.WebSocket
		if d.Sessions != nil {
			ws = d.Sessions.Middleware(ws)
		}
		r.Handle("/ws", ws)
	}

	r.Route("/api", func(r chi.Router) {
		if d.Sessions != nil {
			r.Use(d.Sessions.Middleware)
		}

		if h := d.Stations; h != nil {
			r.Route("/stations", func(r chi.Router) {
				r.Get("/", h.GetStations)
				r.Get("/stats", h.GetStats)
				r.Get("/geojson", h.GetGeoJSON)
				r.With(d.Authz.Require(authz.ObjStations, authz.ActRefresh)).Post("/refresh", h.Refresh)
				r.Get("/{id}", h.GetStation)
				r.Get("/{id}/history", h.GetStationHistory)
			})
		}

		if h := d.Views; h != nil {
			r.Route("/views", func(r chi.Router) {
				r.Use(d.Authz.Require(authz.ObjViews, authz.ActWrite))
				r.Post("/", h.CreateView)
				r.Get("/{id}", h.GetView)
				r.Delete("/{id}", h.DeleteView)
				r.Put("/{id}/viewport", h.SetViewport)
				r.Post("/{id}/overlays", h.OpenOverlay)
				r.Delete("/{id}/overlays/{stationId}", h.DismissOverlay)
				r.Post("/{id}/overlays/{stationId}/predict", h.PredictOverlay)
			})
		}

		if h := d.Auth; h != nil {
			r.Route("/auth", func(r chi.Router) {
				if d.AuthRateLimit > 0 {
					r.Use(httprate.LimitByIP(d.AuthRateLimit, time.Minute))
				}
				r.Post("/login", h.Login)
				r.Post("/register", h.Register)
				r.Post("/logout", h.Logout)
				r.Post("/refresh", h.Refresh)
				r.Group(func(r chi.Router) {
					r.Use(session.Require)
					r.Get("/me", h.GetMe)
					r.Put("/me", h.UpdateMe)
					r.Delete("/me", h.DeleteMe)
				})
			})
		}

		if h := d.AI; h != nil {
			r.Route("/ai", func(r chi.Router) {
				r.Use(session.Require)
				r.Post("/predict", h.Predict)
				r.Post("/range-predict", h.RangePredict)
				r.Post("/rebalance-plan", h.RebalancePlan)
			})
		}

		if h := d.Community; h != nil {
			r.Route("/posts", func(r chi.Router) {
				r.Get("/", h.ListPosts)
				r.Get("/{postId}", h.GetPost)
				r.Get("/{postId}/comments", h.ListComments)
				r.Group(func(r chi.Router) {
					r.Use(d.Authz.Require(authz.ObjPosts, authz.ActWrite))
					r.Post("/", h.CreatePost)
					r.Put("/{postId}", h.UpdatePost)
					r.Delete("/{postId}", h.DeletePost)
					r.Post("/{postId}/like", h.LikePost)
					r.Post("/{postId}/comments", h.CreateComment)
					r.Put("/{postId}/comments/{commentId}", h.UpdateComment)
					r.Delete("/{postId}/comments/{commentId}", h.DeleteComment)
				})
			})
		}

		if h := d.WorkHistory; h != nil {
			r.Route("/work-history", func(r chi.Router) {
				r.With(d.Authz.Require(authz.ObjWorkHistory, authz.ActReadOwn)).Get("/", h.List)
				r.With(d.Authz.Require(authz.ObjWorkHistory, authz.ActReadOwn)).Get("/count/today", h.TodayCount)
				r.With(d.Authz.Require(authz.ObjWorkHistory, authz.ActWrite)).Post("/", h.Create)
				r.With(d.Authz.Require(authz.ObjWorkHistory, authz.ActDeleteOwn)).Delete("/{id}", h.Delete)
			})
		}

		if h := d.WorkQueue; h != nil {
			r.Route("/workqueue", func(r chi.Router) {
				r.Use(d.Authz.Require(authz.ObjWorkQueue, authz.ActWrite))
				r.Get("/", h.List)
				r.Post("/", h.Add)
				r.Get("/recommendations", h.Recommendations)
				r.Get("/priority", h.Priority)
				r.Delete("/{stationId}", h.Remove)
				r.Post("/{stationId}/complete", h.Complete)
			})
		}
	})

	if d.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(d.StaticDir)))
	}
	return r
}

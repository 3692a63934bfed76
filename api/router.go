// Package api maps HTTP requests onto people and friend edge operations.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jacentio/socialgraph/friends"
	"github.com/jacentio/socialgraph/people"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the HTTP API.
type Handler struct {
	people  *people.Repository
	friends *friends.Service
	logger  *slog.Logger
}

// NewHandler creates a Handler. If logger is nil, slog.Default() is used.
func NewHandler(repo *people.Repository, svc *friends.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		people:  repo,
		friends: svc,
		logger:  logger,
	}
}

// Routes returns the router with all routes and middleware.
func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(h.logger))
	router.Use(requestMetrics)

	router.Get("/health", h.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/users", func(r chi.Router) {
		r.Post("/", h.createUser)
		r.Get("/", h.listUsers)

		r.Route("/{userId}", func(r chi.Router) {
			r.Get("/", h.getUser)
			r.Put("/", h.updateUser)
			r.Delete("/", h.deleteUser)

			r.Route("/friends", func(r chi.Router) {
				r.Post("/", h.createFriend)
				r.Get("/", h.listFriends)
				r.Get("/{friendId}", h.getFriend)
				r.Delete("/{friendId}", h.deleteFriend)
			})
		})
	})

	return router
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

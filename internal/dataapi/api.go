// Package dataapi serves flag evaluations over HTTP for callers that cannot
// embed the client library.
package dataapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/rafaeljc/bifrost/internal/evaluator"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// defaultMaxBodyBytes caps request bodies when Options leaves it unset.
const defaultMaxBodyBytes = 1 << 20

// Evaluator produces evaluation results and records their impressions.
// *client.Client satisfies it.
type Evaluator interface {
	Evaluations(ctx context.Context, key ruleengine.Key, flagNames []string, attrs ruleengine.Attributes) []evaluator.Result
	EvaluationsBySets(ctx context.Context, key ruleengine.Key, sets []string, attrs ruleengine.Attributes) []evaluator.Result
}

// Options configures the API.
type Options struct {
	// APIKeyHash is the hex SHA-256 of the accepted API key. Empty disables
	// authentication.
	APIKeyHash string
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
}

// API holds the router and its dependencies.
type API struct {
	// Router is the chi multiplexer serving every endpoint.
	Router *chi.Mux

	logger    *slog.Logger
	evaluator Evaluator
	validate  *validator.Validate
	opts      Options
}

// NewAPI creates the API. It panics if eval is nil.
func NewAPI(logger *slog.Logger, eval Evaluator, opts Options) *API {
	validation.AssertImplemented(eval, "dataapi: evaluator")
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	a := &API{
		Router:    chi.NewRouter(),
		logger:    logger,
		evaluator: eval,
		validate:  validator.New(),
		opts:      opts,
	}
	a.configureRoutes()
	return a
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger(a.logger))
	a.Router.Use(Metrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		if a.opts.APIKeyHash != "" {
			r.Use(a.authenticateAPIKey)
		}
		r.Get("/treatment", a.handleTreatment)
		r.Post("/treatments", a.handleTreatments)
	})
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}

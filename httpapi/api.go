// Package httpapi is the HTTP ingress of a conduit engine: the ping
// endpoint that exercises both brokers, plus task and dead-letter
// inspection.
//
//	GET  /healthz
//	GET  /v1/ping
//	GET  /v1/tasks/{id}
//	POST /v1/tasks/{id}/cancel
//	GET  /v1/dlq
//	POST /v1/dlq/{id}/replay
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/engine"
)

// Option configures an API.
type Option func(*API)

// WithVersion sets the version reported by the ping endpoint.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithLogger sets the logger. Defaults to the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// API serves the HTTP routes of an engine.
type API struct {
	eng      *engine.Engine
	version  string
	logger   *slog.Logger
	sessions *sessions
}

// New creates an API over eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: eng.Logger(), sessions: newSessions()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the assembled router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(Correlation)
	r.Use(RequestLogging(a.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/ping", a.ping)
		r.Get("/tasks/{id}", a.getTask)
		r.Post("/tasks/{id}/cancel", a.cancelTask)
		r.Get("/dlq", a.listDLQ)
		r.Post("/dlq/{id}/replay", a.replayDLQ)
		r.Get("/ws", a.websocket)
	})
	return r
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, conduit.ErrTaskNotFound),
		errors.Is(err, conduit.ErrDLQNotFound):
		return http.StatusNotFound
	case errors.Is(err, conduit.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, conduit.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides the detail of internal errors from the client.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", slog.String("error", err.Error()))
		msg = http.StatusText(code)
	}
	a.writeErrorBody(w, r, code, msg)
}

func (a *API) writeErrorBody(w http.ResponseWriter, r *http.Request, code int, msg string) {
	body := ErrorResponse{Error: msg}
	if cid := correlation.FromContext(r.Context()); !cid.IsNone() {
		body.CorrelationID = cid.String()
	}
	a.writeJSON(w, r, code, body)
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.WarnContext(r.Context(), "write response failed", slog.String("error", err.Error()))
	}
}

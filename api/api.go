// Package api exposes the admin HTTP surface: read access to the audit
// event log, dead letter inspection and replay, processing stats, and a
// live lifecycle stream.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	central "github.com/kakavi/central-backend"
	"github.com/kakavi/central-backend/engine"
	"github.com/kakavi/central-backend/scope"
	"github.com/kakavi/central-backend/stream"
)

// actorHeader is the request header carrying the acting user's
// identifier, set by the authenticating proxy in front of this service.
const actorHeader = "X-Actor-Id"

// API wires the admin HTTP handlers over an Engine.
type API struct {
	eng    *engine.Engine
	broker *stream.Broker
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithStreamBroker enables the live stream endpoint backed by the given
// broker. The broker must also be registered as a hook extension on the
// engine for events to flow.
func WithStreamBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API over the given engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(a.actorContext)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/events", a.listEvents)
		r.Get("/events/{eventID}", a.getEvent)
		r.Get("/stats", a.getStats)

		r.Route("/deadletters", func(r chi.Router) {
			r.Get("/", a.listDeadLetters)
			r.Delete("/", a.purgeDeadLetters)
			r.Get("/{eventID}", a.getDeadLetter)
			r.Post("/{eventID}/replay", a.replayDeadLetter)
		})

		if a.broker != nil {
			r.Get("/stream", a.streamEvents)
		}
	})

	return r
}

// actorContext lifts the actor header into the request context so
// downstream recording attributes writes to the right actor.
func (a *API) actorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get(actorHeader); actor != "" {
			r = r.WithContext(scope.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status.
func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors to HTTP status codes.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, central.ErrEventNotFound):
		status = http.StatusNotFound
	case errors.Is(err, central.ErrEventProcessed),
		errors.Is(err, central.ErrEventNotDead),
		errors.Is(err, central.ErrEventAlreadyExists):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", slog.String("error", err.Error()))
	}
	a.writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeBadRequest reports a malformed parameter.
func (a *API) writeBadRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

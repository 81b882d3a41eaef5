// Package api exposes a running walker over HTTP: status, metrics and a
// websocket stream of path events.
package api

import (
	"net/http"
	"time"

	"fswalk/internal/event"
	"fswalk/internal/logging"
	"fswalk/internal/metrics"
	"fswalk/internal/version"
	"fswalk/internal/walk"
)

// WalkStatus is the read-only view of a walker the status endpoint needs.
type WalkStatus interface {
	Root() string
	State() walk.State
	ActiveWatchers() int
}

type Options struct {
	Bus            *event.Bus[event.PathEvent]
	Walker         WalkStatus
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
	Logger         *logging.Logger
}

type statusResponse struct {
	Version        string    `json:"version"`
	Root           string    `json:"root,omitempty"`
	State          string    `json:"state"`
	ActiveWatchers int       `json:"active_watchers"`
	Subscribers    int       `json:"subscribers"`
	Published      int64     `json:"published"`
	Dropped        int64     `json:"dropped"`
	ServerTime     time.Time `json:"server_time"`
}

func RegisterRoutes(mux *http.ServeMux, opts Options) {
	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(opts.Logger, handler)
	}
	mux.Handle("/events", wrap(&PathEventsHandler{
		Bus:            opts.Bus,
		AuthToken:      opts.AuthToken,
		AllowedOrigins: opts.AllowedOrigins,
		Logger:         opts.Logger,
	}))
	mux.Handle("/api/status", wrap(restHandler(opts.AuthToken, func(w http.ResponseWriter, r *http.Request) *apiError {
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, http.MethodGet)
		}
		writeJSON(w, http.StatusOK, buildStatus(opts))
		return nil
	})))
	mux.Handle("/metrics", wrap(restHandler(opts.AuthToken, func(w http.ResponseWriter, r *http.Request) *apiError {
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, http.MethodGet)
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if err := opts.Metrics.WritePrometheus(w); err != nil {
			return &apiError{Status: http.StatusInternalServerError, Message: "metrics unavailable"}
		}
		return nil
	})))
}

func NewHandler(opts Options) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, opts)
	return mux
}

func buildStatus(opts Options) statusResponse {
	response := statusResponse{
		Version:    version.GetVersionInfo().Version,
		State:      walk.StateNotStarted.String(),
		ServerTime: time.Now().UTC(),
	}
	if opts.Walker != nil {
		response.Root = opts.Walker.Root()
		response.State = opts.Walker.State().String()
		response.ActiveWatchers = opts.Walker.ActiveWatchers()
	}
	if opts.Bus != nil {
		response.Subscribers = opts.Bus.SubscriberCount()
		response.Published, response.Dropped = opts.Bus.Stats()
	}
	return response
}

// Package alertapi exposes the triage handler over HTTP: alert ingestion and
// audit lookups of stored results.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/sieve/internal/alert"
	"github.com/linnemanlabs/sieve/internal/triage"
)

// TriageService defines the business operations alertapi needs.
type TriageService interface {
	Handle(ctx context.Context, al *alert.Alert) (*triage.Result, error)
	Get(ctx context.Context, alertID string) (*triage.Result, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      TriageService
	now      func() time.Time
	onIngest func()
}

// Option configures an API.
type Option func(*API)

// WithClock sets the clock used to stamp alerts that arrive without a
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// WithIngestHook registers a callback run for every decoded alert.
func WithIngestHook(fn func()) Option {
	return func(a *API) { a.onIngest = fn }
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	a := &API{
		logger: logger,
		svc:    svc,
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router. mw wraps every API
// route (authentication, rate limiting).
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)
		r.Post("/alerts", a.handleIngestAlert)
		r.Get("/triage/{id}", a.handleGetTriage)
	})
}

func (a *API) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	id, err := alertIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid alert id"})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sieve.alert.id", id))

	result, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage result", "alert_id", id)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}

	span.SetAttributes(attribute.String("sieve.triage.action", string(result.Action)))
	writeJSON(w, http.StatusOK, result)
}

// alertIDParam returns the decoded {id} segment. chi routes on RawPath when
// the request carried escapes like %2F, leaving the segment still encoded.
func alertIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return id, nil
	}
	return url.PathUnescape(id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

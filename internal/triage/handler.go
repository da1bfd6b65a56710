package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sieve/internal/alert"
)

const tracerName = "github.com/linnemanlabs/sieve/internal/triage"

// Classifier is the inference service as the handler sees it.
type Classifier interface {
	Classify(ctx context.Context, al *alert.Alert) (*Judgment, error)
}

// HandlerHooks receives per-alert instrumentation. Nil fields are skipped.
type HandlerHooks struct {
	OnDecision func(label Label, action Action, confidence float64)
	OnStep     func(step string, duration float64, failed bool)
	OnComplete func(state State, duration float64)
}

// Options configures a Handler. Zero timeouts disable the per-step bound.
type Options struct {
	Policy           *Policy
	InferenceTimeout time.Duration
	StoreTimeout     time.Duration
	NotifyTimeout    time.Duration
	Environment      string
	Region           string
	ProcessedBy      string
	Hooks            HandlerHooks
	TracerProvider   trace.TracerProvider
	Now              func() time.Time
}

// Handler runs one alert through validate, classify, decide, persist and
// notify. It keeps no state between calls, so concurrent Handle calls on
// different alerts are independent.
type Handler struct {
	classifier Classifier
	store      Store
	notifier   Notifier
	logger     log.Logger
	opts       Options
	tracer     trace.Tracer
}

// NewHandler creates a Handler. A nil notifier disables publishing; a nil
// policy uses DefaultThreshold with no remediable patterns.
func NewHandler(classifier Classifier, store Store, notifier Notifier, logger log.Logger, opts Options) *Handler {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Policy == nil {
		opts.Policy = &Policy{Threshold: DefaultThreshold}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Handler{
		classifier: classifier,
		store:      store,
		notifier:   notifier,
		logger:     logger,
		opts:       opts,
		tracer:     tp.Tracer(tracerName),
	}
}

// Handle triages al. On ErrValidation and ErrInference the returned result
// is nil and no side effects happened. On ErrPersistence and ErrNotification
// the result is returned alongside the error.
func (h *Handler) Handle(ctx context.Context, al *alert.Alert) (res *Result, err error) {
	start := time.Now()
	state := StateReceived

	var alertID string
	if al != nil {
		alertID = al.ID
	}

	ctx, span := h.tracer.Start(ctx, "triage.Handle", trace.WithAttributes(
		attribute.String("sieve.alert.id", alertID),
	))
	L := h.logger.With("alert_id", alertID)

	defer func() {
		span.SetAttributes(attribute.String("sieve.triage.state", string(state)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if h.opts.Hooks.OnComplete != nil {
			h.opts.Hooks.OnComplete(state, time.Since(start).Seconds())
		}
	}()

	if verr := al.Validate(); verr != nil {
		state = StateValidationFailed
		L.Warn(ctx, "alert rejected", "error", verr.Error())
		return nil, newError(ErrValidation, alertID, verr)
	}

	j, cerr := h.classify(ctx, al)
	if cerr != nil {
		state = StateClassifyFailed
		L.Error(ctx, cerr, "classification failed")
		return nil, newError(ErrInference, al.ID, cerr)
	}
	state = StateClassified

	d := h.opts.Policy.Decide(al, j)
	result := &Result{
		AlertID:         al.ID,
		Alert:           *al,
		Label:           j.Label,
		Confidence:      j.Confidence,
		Action:          d.Action,
		Rationale:       j.Rationale,
		DecidedAt:       h.opts.Now().UTC(),
		DecisionReason:  d.Reason,
		Summary:         j.Summary,
		Guidance:        j.Guidance,
		Remediation:     j.Remediation,
		SuggestedAction: j.SuggestedAction,
		Model:           j.Model,
		Environment:     h.opts.Environment,
		Region:          h.opts.Region,
		ProcessedBy:     h.opts.ProcessedBy,
		TokensIn:        j.Usage.InputTokens,
		TokensOut:       j.Usage.OutputTokens,
		RawOutput:       j.Raw,
	}
	state = StateDecided

	span.SetAttributes(
		attribute.String("sieve.triage.label", string(result.Label)),
		attribute.String("sieve.triage.action", string(result.Action)),
		attribute.Float64("sieve.triage.confidence", result.Confidence),
	)
	if h.opts.Hooks.OnDecision != nil {
		h.opts.Hooks.OnDecision(result.Label, result.Action, result.Confidence)
	}
	if j.Label == LabelUnknown {
		L.Warn(ctx, "model returned unrecognized label", "raw_label", j.RawLabel)
	}
	if j.SuggestedAction != "" && j.SuggestedAction != d.Action {
		L.Warn(ctx, "model suggestion overridden by policy",
			"suggested_action", j.SuggestedAction,
			"action", d.Action,
			"reason", d.Reason,
		)
	}
	L.Info(ctx, "alert decided",
		"label", result.Label,
		"confidence", result.Confidence,
		"action", result.Action,
		"reason", result.DecisionReason,
		"model", result.Model,
	)

	if perr := h.persist(ctx, result); perr != nil {
		state = StatePersistFailed
		pe := newError(ErrPersistence, al.ID, perr)
		L.Error(ctx, perr, "failed to persist triage result", "action", result.Action)
		if result.Action != ActionEscalate {
			return result, pe
		}

		// escalations are time-sensitive, a human hears about it even when the record is lost
		if nerr := h.notify(ctx, result); nerr != nil {
			L.Error(ctx, nerr, "failed to publish escalation after persistence failure")
			return result, errors.Join(pe, newError(ErrNotification, al.ID, nerr))
		}
		L.Warn(ctx, "escalation published without persisted record")
		return result, pe
	}
	state = StatePersisted

	if nerr := h.notify(ctx, result); nerr != nil {
		state = StateNotifyFailed
		L.Error(ctx, nerr, "failed to publish notification", "action", result.Action)
		return result, newError(ErrNotification, al.ID, nerr)
	}
	state = StateNotified

	L.Info(ctx, "triage complete", "action", result.Action, "duration", time.Since(start).Seconds())
	return result, nil
}

func (h *Handler) classify(ctx context.Context, al *alert.Alert) (*Judgment, error) {
	cctx, cancel := withTimeout(ctx, h.opts.InferenceTimeout)
	defer cancel()

	j, err := h.classifier.Classify(cctx, al)
	if err != nil {
		if cctx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("inference timed out after %s: %w", h.opts.InferenceTimeout, err)
		}
		return nil, err
	}
	if j == nil {
		return nil, errors.New("classifier returned no judgment")
	}
	return j, nil
}

func (h *Handler) persist(ctx context.Context, r *Result) error {
	sctx, cancel := withTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := h.store.Put(sctx, r)
	h.step("store", start, err)
	return err
}

func (h *Handler) notify(ctx context.Context, r *Result) error {
	if h.notifier == nil {
		h.logger.Info(ctx, "no notification channel configured, skipping publish", "alert_id", r.AlertID)
		return nil
	}

	nctx, cancel := withTimeout(ctx, h.opts.NotifyTimeout)
	defer cancel()

	start := time.Now()
	err := h.notifier.Publish(nctx, NewNotification(r))
	h.step("notify", start, err)
	return err
}

func (h *Handler) step(name string, start time.Time, err error) {
	if h.opts.Hooks.OnStep != nil {
		h.opts.Hooks.OnStep(name, time.Since(start).Seconds(), err != nil)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Get returns the stored result for an alert, for audit lookups.
func (h *Handler) Get(ctx context.Context, alertID string) (*Result, bool, error) {
	return h.store.Get(ctx, alertID)
}

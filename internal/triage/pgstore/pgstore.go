// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sieve/internal/postgres"
	"github.com/linnemanlabs/sieve/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sieve/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists alerts and their triage results in PostgreSQL. The pool is
// owned by the caller.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Put writes the alert and its result in one transaction. Writing the same
// result again leaves the row unchanged.
func (s *Store) Put(ctx context.Context, r *triage.Result) error {
	if r.AlertID == "" {
		return triage.ErrNoAlertID
	}
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()
	ctx = postgres.WithAlertID(ctx, r.AlertID)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := upsertAlert(ctx, tx, r); err != nil {
		return fail(span, err)
	}
	if err := upsertResult(ctx, tx, r); err != nil {
		return fail(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// text drops NUL bytes, which Postgres TEXT columns reject.
func text(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func upsertAlert(ctx context.Context, tx pgx.Tx, r *triage.Result) error {
	var observedAt *time.Time
	if !r.Alert.Timestamp.IsZero() {
		ts := r.Alert.Timestamp.UTC()
		observedAt = &ts
	}

	_, err := tx.Exec(ctx, `INSERT INTO alerts (id, source, severity, description, observed_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		source      = EXCLUDED.source,
		severity    = EXCLUDED.severity,
		description = EXCLUDED.description,
		observed_at = EXCLUDED.observed_at`,
		r.AlertID, text(r.Alert.Source), text(r.Alert.Severity), text(r.Alert.Description), observedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert alert: %w", err)
	}
	return nil
}

func upsertResult(ctx context.Context, tx pgx.Tx, r *triage.Result) error {
	_, err := tx.Exec(ctx, `INSERT INTO triage_results (
		alert_id, label, confidence, action, rationale, decided_at, decision_reason,
		summary, guidance, remediation, suggested_action, model, environment, region,
		processed_by, tokens_in, tokens_out, raw_output
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	ON CONFLICT (alert_id) DO UPDATE SET
		label            = EXCLUDED.label,
		confidence       = EXCLUDED.confidence,
		action           = EXCLUDED.action,
		rationale        = EXCLUDED.rationale,
		decided_at       = EXCLUDED.decided_at,
		decision_reason  = EXCLUDED.decision_reason,
		summary          = EXCLUDED.summary,
		guidance         = EXCLUDED.guidance,
		remediation      = EXCLUDED.remediation,
		suggested_action = EXCLUDED.suggested_action,
		model            = EXCLUDED.model,
		environment      = EXCLUDED.environment,
		region           = EXCLUDED.region,
		processed_by     = EXCLUDED.processed_by,
		tokens_in        = EXCLUDED.tokens_in,
		tokens_out       = EXCLUDED.tokens_out,
		raw_output       = EXCLUDED.raw_output`,
		r.AlertID, string(r.Label), r.Confidence, string(r.Action), text(r.Rationale),
		r.DecidedAt.UTC(), r.DecisionReason, text(r.Summary), text(r.Guidance), text(r.Remediation),
		string(r.SuggestedAction), r.Model, r.Environment, r.Region, r.ProcessedBy,
		r.TokensIn, r.TokensOut, text(r.RawOutput),
	)
	if err != nil {
		return fmt.Errorf("upsert triage result: %w", err)
	}
	return nil
}

// Get retrieves the result for an alert ID together with the stored alert.
func (s *Store) Get(ctx context.Context, alertID string) (*triage.Result, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()
	ctx = postgres.WithAlertID(ctx, alertID)

	var (
		r          triage.Result
		label      string
		action     string
		suggested  string
		observedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT
		a.id, a.source, a.severity, a.description, a.observed_at,
		t.label, t.confidence, t.action, t.rationale, t.decided_at, t.decision_reason,
		t.summary, t.guidance, t.remediation, t.suggested_action, t.model, t.environment, t.region,
		t.processed_by, t.tokens_in, t.tokens_out, t.raw_output
	FROM triage_results t JOIN alerts a ON a.id = t.alert_id
	WHERE t.alert_id = $1`, alertID).Scan(
		&r.Alert.ID, &r.Alert.Source, &r.Alert.Severity, &r.Alert.Description, &observedAt,
		&label, &r.Confidence, &action, &r.Rationale, &r.DecidedAt, &r.DecisionReason,
		&r.Summary, &r.Guidance, &r.Remediation, &suggested, &r.Model, &r.Environment, &r.Region,
		&r.ProcessedBy, &r.TokensIn, &r.TokensOut, &r.RawOutput,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("scan: %w", err))
	}

	r.AlertID = r.Alert.ID
	r.Label = triage.Label(label)
	r.Action = triage.Action(action)
	r.SuggestedAction = triage.Action(suggested)
	r.DecidedAt = r.DecidedAt.UTC()
	if observedAt != nil {
		r.Alert.Timestamp = observedAt.UTC()
	}
	return &r, true, nil
}

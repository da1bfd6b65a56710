package triage

import (
	"context"
	"errors"
)

// ErrNoAlertID is returned by stores asked to persist a result without a key.
var ErrNoAlertID = errors.New("result has no alert id")

// Store is the persistence interface for triage results, keyed by alert ID.
// Put is an idempotent overwrite.
type Store interface {
	Put(ctx context.Context, result *Result) error
	Get(ctx context.Context, alertID string) (*Result, bool, error)
}

// Package redisstore provides a Redis implementation of triage.Store. Each
// result is one JSON value under "<prefix><alert id>".
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/sieve/internal/triage"
)

// DefaultPrefix namespaces result keys.
const DefaultPrefix = "sieve:triage:"

// Store persists triage results in Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithTTL expires results after d. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// New returns a Store backed by client. The client is owned by the caller.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) key(alertID string) string {
	return s.prefix + alertID
}

// Put overwrites the result stored for r.AlertID.
func (s *Store) Put(ctx context.Context, r *triage.Result) error {
	if r.AlertID == "" {
		return triage.ErrNoAlertID
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.client.Set(ctx, s.key(r.AlertID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.AlertID, err)
	}
	return nil
}

// Get retrieves the result for an alert ID.
func (s *Store) Get(ctx context.Context, alertID string) (*triage.Result, bool, error) {
	data, err := s.client.Get(ctx, s.key(alertID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", alertID, err)
	}
	var r triage.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false, fmt.Errorf("unmarshal result %s: %w", alertID, err)
	}
	return &r, true, nil
}

// Package redisstream publishes triage notifications onto a Redis stream so
// downstream consumers (remediation runners, paging bridges) can read them
// with consumer groups.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/sieve/internal/triage"
)

// DefaultStream is used when no stream name is configured.
const DefaultStream = "sieve:triage"

// Notifier appends notifications to a Redis stream.
type Notifier struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// New returns a Notifier writing to stream. maxLen > 0 caps the stream
// length approximately; zero leaves it unbounded.
func New(client redis.UniversalClient, stream string, maxLen int64) *Notifier {
	if stream == "" {
		stream = DefaultStream
	}
	return &Notifier{client: client, stream: stream, maxLen: maxLen}
}

// Publish adds n as one stream entry. The full notification is carried as
// JSON in the "payload" field; routing fields are duplicated for filtering.
func (s *Notifier) Publish(ctx context.Context, n *triage.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("redisstream: marshal notification: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"notification_id": n.ID,
			"alert_id":        n.AlertID,
			"action":          string(n.Action),
			"label":           string(n.Label),
			"subject":         n.Subject,
			"payload":         string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redisstream: xadd %s: %w", s.stream, err)
	}
	return nil
}

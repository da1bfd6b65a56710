// Package slack publishes triage notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sieve/internal/triage"
)

const (
	maxTextLen  = 3000
	httpTimeout = 10 * time.Second
)

// Notifier posts triage notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Publish is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Publish posts n to the configured webhook.
func (s *Notifier) Publish(ctx context.Context, n *triage.Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(n))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	s.logger.Info(ctx, "slack notification sent", "alert_id", n.AlertID, "notification_id", n.ID)
	return nil
}

func buildMessage(n *triage.Notification) map[string]any {
	return map[string]any{
		"text": n.Subject,
		"blocks": []map[string]any{
			headerBlock(n),
			fieldsBlock(n),
			{"type": "divider"},
			textSection("Summary", n.Summary, "_No summary generated._"),
			textSection("Rationale", n.Rationale, "_No rationale given._"),
			actionSection(n),
			contextBlock(n),
		},
	}
}

// actionSection carries what happens next: the remediation automation runs
// for auto-remediated alerts, responder guidance otherwise.
func actionSection(n *triage.Notification) map[string]any {
	if n.Action == triage.ActionAutoRemediate {
		return textSection("Automated Remediation", n.Remediation, "_No remediation described._")
	}
	return textSection("Responder Guidance", n.Guidance, "_None._")
}

func headerBlock(n *triage.Notification) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(fmt.Sprintf("%s %s", actionEmoji(n.Action), n.Subject), 150),
		},
	}
}

func fieldsBlock(n *triage.Notification) map[string]any {
	field := func(name, value string) map[string]any {
		if value == "" {
			value = "-"
		}
		return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*%s:* %s", name, value)}
	}
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			field("Alert", n.AlertID),
			field("Action", triage.ActionTitle(n.Action)),
			field("Label", string(n.Label)),
			field("Confidence", fmt.Sprintf("%.2f", n.Confidence)),
			field("Severity", n.Severity),
			field("Model", shortModel(n.Model)),
		},
	}
}

func textSection(title, text, empty string) map[string]any {
	text = truncate(text, maxTextLen)
	if text == "" {
		text = empty
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n%s", title, text),
		},
	}
}

func contextBlock(n *triage.Notification) map[string]any {
	text := fmt.Sprintf("sieve • %s • %s", n.ID, n.DecidedAt.UTC().Format("2006-01-02 15:04 UTC"))
	if n.Environment != "" {
		text += " • " + n.Environment
	}
	return map[string]any{
		"type":     "context",
		"elements": []map[string]any{{"type": "mrkdwn", "text": text}},
	}
}

func actionEmoji(a triage.Action) string {
	switch a {
	case triage.ActionEscalate:
		return "\U0001f534" // red circle
	case triage.ActionAutoRemediate:
		return "\U0001f7e1" // yellow circle
	case triage.ActionIgnore:
		return "\U0001f7e2" // green circle
	default:
		return "⚪" // white circle
	}
}

// dateModelRe matches model names ending with a YYYYMMDD date suffix.
var dateModelRe = regexp.MustCompile(`-\d{8}$`)

func shortModel(model string) string {
	return dateModelRe.ReplaceAllString(model, "")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit-3], "") + "..."
}

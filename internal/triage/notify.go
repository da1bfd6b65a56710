package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Notifier publishes a routing notification. Delivery is fire-and-forget;
// implementations must be safe for concurrent use.
type Notifier interface {
	Publish(ctx context.Context, n *Notification) error
}

// Notification summarizes a triage result for subscribers.
type Notification struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	AlertID     string    `json:"alert_id"`
	Label       Label     `json:"label"`
	Confidence  float64   `json:"confidence"`
	Action      Action    `json:"action"`
	Rationale   string    `json:"rationale"`
	Summary     string    `json:"summary,omitempty"`
	Guidance    string    `json:"guidance,omitempty"`
	Remediation string    `json:"remediation,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Source      string    `json:"source,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Model       string    `json:"model,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}

// NewNotification renders r into a notification with a fresh ID.
func NewNotification(r *Result) *Notification {
	return &Notification{
		ID:          ulid.Make().String(),
		Subject:     subject(r),
		Body:        body(r),
		AlertID:     r.AlertID,
		Label:       r.Label,
		Confidence:  r.Confidence,
		Action:      r.Action,
		Rationale:   r.Rationale,
		Summary:     r.Summary,
		Guidance:    r.Guidance,
		Remediation: r.Remediation,
		Severity:    r.Alert.Severity,
		Source:      r.Alert.Source,
		Environment: r.Environment,
		Model:       r.Model,
		DecidedAt:   r.DecidedAt,
	}
}

// ActionTitle is the human-facing name of an action.
func ActionTitle(a Action) string {
	switch a {
	case ActionAutoRemediate:
		return "Auto-Remediated"
	case ActionEscalate:
		return "Escalated"
	case ActionIgnore:
		return "Ignored"
	default:
		return "Action Unknown"
	}
}

func subject(r *Result) string {
	return fmt.Sprintf("[Sieve - %s] %s - %s",
		ActionTitle(r.Action), orUnknown(r.Alert.Severity), orUnknown(r.Alert.Source))
}

func body(r *Result) string {
	var b strings.Builder

	summary := r.Summary
	if summary == "" {
		summary = "No summary generated."
	}
	fmt.Fprintf(&b, "Alert Summary: %s\n\n", summary)
	fmt.Fprintf(&b, "Classification: %s (confidence %.2f)\n", r.Label, r.Confidence)
	if r.Rationale != "" {
		fmt.Fprintf(&b, "Rationale: %s\n", r.Rationale)
	}
	b.WriteString("\n")

	switch r.Action {
	case ActionAutoRemediate:
		if r.Remediation != "" {
			fmt.Fprintf(&b, "Automated Remediation: %s\n", r.Remediation)
		}
		b.WriteString("This threat is being addressed by automated remediation. No human intervention needed.")
	case ActionEscalate:
		if r.Guidance != "" {
			fmt.Fprintf(&b, "Responder Guidance: %s\n", r.Guidance)
		}
		b.WriteString("Human review is required for this alert.")
	case ActionIgnore:
		b.WriteString("This alert was classified as benign and requires no action.")
	}

	details, _ := json.MarshalIndent(r.Alert, "", "  ")
	fmt.Fprintf(&b, "\n\nFull Alert Details:\n%s", details)
	return b.String()
}

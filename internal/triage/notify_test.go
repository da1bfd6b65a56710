package triage

import (
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/sieve/internal/alert"
)

func TestNewNotification(t *testing.T) {
	t.Parallel()

	r := &Result{
		AlertID:     "N1",
		Alert:       alert.Alert{ID: "N1", Source: "ids", Severity: "High", Description: "port scan"},
		Label:       LabelSuspicious,
		Confidence:  0.62,
		Action:      ActionEscalate,
		Rationale:   "Scan from unfamiliar range.",
		Guidance:    "Check firewall logs for follow-up connections.",
		Environment: "prod",
		DecidedAt:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	n := NewNotification(r)
	if n.ID == "" {
		t.Error("expected notification id")
	}
	if n.AlertID != "N1" || n.Action != ActionEscalate || n.Label != LabelSuspicious {
		t.Errorf("notification = %+v", n)
	}
	if n.Subject != "[Sieve - Escalated] High - ids" {
		t.Errorf("subject = %q", n.Subject)
	}
	for _, want := range []string{
		"No summary generated.",
		"Classification: suspicious (confidence 0.62)",
		"Rationale: Scan from unfamiliar range.",
		"Responder Guidance: Check firewall logs",
		"Human review is required",
		"Full Alert Details:",
		`"id": "N1"`,
	} {
		if !strings.Contains(n.Body, want) {
			t.Errorf("body missing %q:\n%s", want, n.Body)
		}
	}

	if other := NewNotification(r); other.ID == n.ID {
		t.Error("expected distinct notification ids")
	}
}

func TestNewNotification_Remediation(t *testing.T) {
	t.Parallel()

	r := &Result{
		AlertID:     "R1",
		Alert:       alert.Alert{ID: "R1", Source: "edr", Severity: "High", Description: "xmrig started"},
		Label:       LabelMalicious,
		Confidence:  0.97,
		Action:      ActionAutoRemediate,
		Remediation: "Kill the xmrig process and quarantine host web-7.",
	}

	n := NewNotification(r)
	if n.Remediation != r.Remediation {
		t.Errorf("Remediation = %q, want %q", n.Remediation, r.Remediation)
	}
	if !strings.Contains(n.Body, "Automated Remediation: Kill the xmrig process and quarantine host web-7.") {
		t.Errorf("body missing remediation:\n%s", n.Body)
	}

	// only auto-remediated alerts describe a remediation
	r.Action = ActionEscalate
	if n := NewNotification(r); strings.Contains(n.Body, "Automated Remediation") {
		t.Errorf("escalation body should not describe remediation:\n%s", n.Body)
	}
}

func TestNotificationSubjects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action Action
		want   string
		body   string
	}{
		{ActionAutoRemediate, "[Sieve - Auto-Remediated] unknown - unknown", "automated remediation"},
		{ActionEscalate, "[Sieve - Escalated] unknown - unknown", "Human review"},
		{ActionIgnore, "[Sieve - Ignored] unknown - unknown", "benign and requires no action"},
		{Action("bogus"), "[Sieve - Action Unknown] unknown - unknown", "Full Alert Details"},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			t.Parallel()

			n := NewNotification(&Result{AlertID: "N2", Alert: alert.Alert{ID: "N2"}, Action: tt.action, Summary: "s"})
			if n.Subject != tt.want {
				t.Errorf("subject = %q, want %q", n.Subject, tt.want)
			}
			if !strings.Contains(n.Body, tt.body) {
				t.Errorf("body missing %q:\n%s", tt.body, n.Body)
			}
			if !strings.HasPrefix(n.Body, "Alert Summary: s") {
				t.Errorf("body should start with summary:\n%s", n.Body)
			}
		})
	}
}

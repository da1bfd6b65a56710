package triage

import (
	"strings"
	"time"

	"github.com/linnemanlabs/sieve/internal/alert"
)

// Label is the classification assigned to an alert.
type Label string

const (
	LabelBenign     Label = "benign"
	LabelSuspicious Label = "suspicious"
	LabelMalicious  Label = "malicious"

	// LabelUnknown covers anything the model returned outside the set above.
	LabelUnknown Label = "unknown"
)

// ParseLabel normalizes s and reports whether it names a known label.
// Unrecognized input yields LabelUnknown, false.
func ParseLabel(s string) (Label, bool) {
	switch l := Label(strings.ToLower(strings.TrimSpace(s))); l {
	case LabelBenign, LabelSuspicious, LabelMalicious, LabelUnknown:
		return l, true
	default:
		return LabelUnknown, false
	}
}

// Action is the response routed for an alert.
type Action string

const (
	// ActionAutoRemediate lets automation act without human review.
	ActionAutoRemediate Action = "auto-remediate"

	// ActionEscalate routes the alert to a human responder.
	ActionEscalate Action = "escalate"

	// ActionIgnore records the alert and takes no further action.
	ActionIgnore Action = "ignore"
)

// ParseAction normalizes s ("auto_remediate", "Auto-Remediate" and
// "autoremediate" are all accepted) and reports whether it names an action.
func ParseAction(s string) (Action, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "_", "-")
	norm = strings.ReplaceAll(norm, " ", "-")
	if norm == "autoremediate" {
		norm = string(ActionAutoRemediate)
	}
	switch a := Action(norm); a {
	case ActionAutoRemediate, ActionEscalate, ActionIgnore:
		return a, true
	default:
		return "", false
	}
}

// State tracks where an alert is in the triage pipeline.
type State string

const (
	StateReceived   State = "received"
	StateClassified State = "classified"
	StateDecided    State = "decided"
	StatePersisted  State = "persisted"
	StateNotified   State = "notified"

	StateValidationFailed State = "validation_failed"
	StateClassifyFailed   State = "classify_failed"
	StatePersistFailed    State = "persist_failed"
	StateNotifyFailed     State = "notify_failed"
)

// Judgment is the parsed output of the inference service for one alert.
type Judgment struct {
	Label           Label
	RawLabel        string
	Confidence      float64
	SuggestedAction Action
	Rationale       string
	Summary         string
	Guidance        string
	Remediation     string
	Model           string
	Usage           Usage
	Raw             string
}

// Result is the outcome of triaging one alert. It is created once and never
// mutated; AlertID always equals Alert.ID.
type Result struct {
	AlertID         string      `json:"alert_id"`
	Alert           alert.Alert `json:"alert"`
	Label           Label       `json:"label"`
	Confidence      float64     `json:"confidence"`
	Action          Action      `json:"action"`
	Rationale       string      `json:"rationale"`
	DecidedAt       time.Time   `json:"decided_at"`
	DecisionReason  string      `json:"decision_reason,omitempty"`
	Summary         string      `json:"summary,omitempty"`
	Guidance        string      `json:"guidance,omitempty"`
	Remediation     string      `json:"remediation,omitempty"`
	SuggestedAction Action      `json:"suggested_action,omitempty"`
	Model           string      `json:"model,omitempty"`
	Environment     string      `json:"environment,omitempty"`
	Region          string      `json:"region,omitempty"`
	ProcessedBy     string      `json:"processed_by,omitempty"`
	TokensIn        int         `json:"tokens_in,omitempty"`
	TokensOut       int         `json:"tokens_out,omitempty"`
	RawOutput       string      `json:"raw_output,omitempty"`
}

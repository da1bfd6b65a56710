// internal/triage/engine.go
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sieve/internal/alert"
)

const (
	ResponseTokens = 1024
	Temperature    = 0.2
)

// errMalformed marks model output that could not be turned into a Judgment.
var errMalformed = errors.New("malformed model output")

// EngineHooks receives per-call instrumentation. Nil fields are skipped.
type EngineHooks struct {
	OnLLMCall func(inputTokens, outputTokens int, duration float64, failed bool)
}

// Engine turns an alert into a Judgment with a single provider call. It holds
// no per-alert state and is safe for concurrent use.
type Engine struct {
	provider Provider
	logger   log.Logger
	hooks    EngineHooks
}

// NewEngine creates a new triage engine with the given provider.
func NewEngine(provider Provider, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		provider: provider,
		logger:   logger,
		hooks:    hooks,
	}
}

// Classify asks the provider for a judgment on al. Provider failures and
// unparseable output are returned as errors, never as a default judgment.
func (e *Engine) Classify(ctx context.Context, al *alert.Alert) (*Judgment, error) {
	start := time.Now()
	resp, err := e.provider.Send(ctx, &LLMRequest{
		MaxTokens:   ResponseTokens,
		Temperature: Temperature,
		System:      systemPrompt,
		Messages: []Message{
			{Role: "user", Content: []ContentBlock{{Type: "text", Text: buildPrompt(al)}}},
		},
	})
	dur := time.Since(start).Seconds()
	if err != nil {
		if e.hooks.OnLLMCall != nil {
			e.hooks.OnLLMCall(0, 0, dur, true)
		}
		return nil, fmt.Errorf("llm call: %w", err)
	}
	if e.hooks.OnLLMCall != nil {
		e.hooks.OnLLMCall(resp.Usage.InputTokens, resp.Usage.OutputTokens, dur, false)
	}

	e.logger.Info(ctx, "llm response",
		"alert_id", al.ID,
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", dur,
	)

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	j, err := parseJudgment(text.String())
	if err != nil {
		if resp.StopReason == StopMaxTokens {
			return nil, fmt.Errorf("%w (response truncated at max tokens)", err)
		}
		return nil, err
	}
	j.Model = resp.Model
	j.Usage = resp.Usage
	return j, nil
}

// judgmentWire is the JSON schema the prompt asks the model to produce.
type judgmentWire struct {
	Label             string   `json:"label"`
	Confidence        *float64 `json:"confidence"`
	RecommendedAction string   `json:"recommended_action"`
	Rationale         string   `json:"rationale"`
	Summary           string   `json:"summary"`
	Guidance          string   `json:"guidance"`
	Remediation       string   `json:"remediation"`
}

// parseJudgment decodes the first JSON object found in text. Models
// sometimes wrap the object in prose or code fences, so everything outside
// the outermost braces is ignored.
func parseJudgment(text string) (*Judgment, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", errMalformed)
	}

	var w judgmentWire
	if err := json.Unmarshal([]byte(text[start:end+1]), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	if w.Confidence == nil {
		return nil, fmt.Errorf("%w: confidence missing", errMalformed)
	}
	if *w.Confidence < 0 || *w.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", errMalformed, *w.Confidence)
	}

	label, _ := ParseLabel(w.Label)
	suggested, _ := ParseAction(w.RecommendedAction)

	return &Judgment{
		Label:           label,
		RawLabel:        w.Label,
		Confidence:      *w.Confidence,
		SuggestedAction: suggested,
		Rationale:       strings.TrimSpace(w.Rationale),
		Summary:         strings.TrimSpace(w.Summary),
		Guidance:        strings.TrimSpace(w.Guidance),
		Remediation:     strings.TrimSpace(w.Remediation),
		Raw:             text,
	}, nil
}

const systemPrompt = `You are Sieve, a security operations triage assistant. You classify security alerts
and recommend how they should be handled.

Respond with a single JSON object and nothing else: no prose, no markdown fences.
The object must have exactly these keys:

- "label": one of "benign", "suspicious", "malicious".
- "confidence": a number between 0.0 and 1.0 for how sure you are of the label.
- "recommended_action": one of "auto-remediate", "escalate", "ignore".
    - "auto-remediate": a real threat that automation can contain without human review.
    - "escalate": needs a human responder.
    - "ignore": not a threat, record only.
- "rationale": two or three sentences explaining the label.
- "summary": a one-sentence summary of the alert.
- "guidance": if escalating, concrete steps for the responder; otherwise an empty string.
- "remediation": if auto-remediating, the containment the automation should perform
  (for example "block source IP 203.0.113.7 at the edge firewall"); otherwise an empty string.

If you cannot tell, use "suspicious" with a low confidence and "escalate".`

// buildPrompt embeds the alert fields in the user message.
func buildPrompt(al *alert.Alert) string {
	ts := "unknown"
	if !al.Timestamp.IsZero() {
		ts = al.Timestamp.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf(`Analyze the following security alert.

Alert ID: %s
Source: %s
Severity hint: %s
Observed at: %s

Description:
%s`,
		al.ID,
		orUnknown(al.Source),
		orUnknown(al.Severity),
		ts,
		al.Description,
	)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

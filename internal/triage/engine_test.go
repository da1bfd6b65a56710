package triage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sieve/internal/alert"
)

// mockProvider returns canned responses in order and records requests.
type mockProvider struct {
	mu        sync.Mutex
	responses []*LLMResponse
	err       error
	requests  []*LLMRequest
}

func (m *mockProvider) Send(_ context.Context, req *LLMRequest) (*LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, errors.New("no more responses")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func textResponse(text string) *LLMResponse {
	return &LLMResponse{
		Content:    []ContentBlock{{Type: "text", Text: text}},
		StopReason: StopEnd,
		Usage:      Usage{InputTokens: 200, OutputTokens: 60},
		Model:      "claude-test",
	}
}

func TestEngine_Classify(t *testing.T) {
	t.Parallel()

	p := &mockProvider{responses: []*LLMResponse{textResponse(
		`{"label":"malicious","confidence":0.93,"recommended_action":"auto-remediate","rationale":"Known C2 address.","summary":"Beacon to C2","guidance":"","remediation":"Block 203.0.113.7 at the egress firewall."}`,
	)}}
	e := NewEngine(p, log.Nop(), EngineHooks{})

	al := &alert.Alert{
		ID:          "E1",
		Source:      "edr",
		Severity:    "high",
		Description: "beacon to 203.0.113.7",
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	j, err := e.Classify(context.Background(), al)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if j.Label != LabelMalicious || j.Confidence != 0.93 || j.SuggestedAction != ActionAutoRemediate {
		t.Errorf("judgment = %+v", j)
	}
	if j.Model != "claude-test" || j.Usage.InputTokens != 200 || j.Usage.OutputTokens != 60 {
		t.Errorf("model metadata = %q %+v", j.Model, j.Usage)
	}
	if j.Summary != "Beacon to C2" {
		t.Errorf("summary = %q", j.Summary)
	}
	if j.Remediation != "Block 203.0.113.7 at the egress firewall." {
		t.Errorf("remediation = %q", j.Remediation)
	}

	if len(p.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(p.requests))
	}
	req := p.requests[0]
	if req.System != systemPrompt {
		t.Error("expected system prompt on request")
	}
	if !strings.Contains(req.System, `"remediation"`) {
		t.Error("system prompt should ask for a remediation description")
	}
	if req.MaxTokens != ResponseTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, ResponseTokens)
	}
	prompt := req.Messages[0].Content[0].Text
	for _, want := range []string{"Alert ID: E1", "Source: edr", "Severity hint: high", "2026-01-02T03:04:05Z", "beacon to 203.0.113.7"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestEngine_ClassifyProviderError(t *testing.T) {
	t.Parallel()

	var failed bool
	hooks := EngineHooks{OnLLMCall: func(_, _ int, _ float64, f bool) { failed = f }}
	p := &mockProvider{err: errors.New("503 overloaded")}
	e := NewEngine(p, nil, hooks)

	_, err := e.Classify(context.Background(), &alert.Alert{ID: "E2", Description: "x"})
	if err == nil || !strings.Contains(err.Error(), "503 overloaded") {
		t.Fatalf("err = %v, want provider error", err)
	}
	if !failed {
		t.Error("expected OnLLMCall to report failure")
	}
}

func TestEngine_ClassifyTruncated(t *testing.T) {
	t.Parallel()

	resp := textResponse(`{"label":"malicious","confid`)
	resp.StopReason = StopMaxTokens
	e := NewEngine(&mockProvider{responses: []*LLMResponse{resp}}, log.Nop(), EngineHooks{})

	_, err := e.Classify(context.Background(), &alert.Alert{ID: "E3", Description: "x"})
	if !errors.Is(err, errMalformed) {
		t.Fatalf("err = %v, want errMalformed", err)
	}
	if !strings.Contains(err.Error(), "max tokens") {
		t.Errorf("err = %v, want truncation note", err)
	}
}

func TestParseJudgment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		wantErr   bool
		label     Label
		rawLabel  string
		conf      float64
		suggested Action
	}{
		{
			name:      "plain object",
			text:      `{"label":"benign","confidence":0.88,"recommended_action":"ignore"}`,
			label:     LabelBenign,
			rawLabel:  "benign",
			conf:      0.88,
			suggested: ActionIgnore,
		},
		{
			name:      "code fence",
			text:      "```json\n{\"label\":\"Suspicious\",\"confidence\":0.5,\"recommended_action\":\"Escalate\"}\n```",
			label:     LabelSuspicious,
			rawLabel:  "Suspicious",
			conf:      0.5,
			suggested: ActionEscalate,
		},
		{
			name:      "surrounding prose",
			text:      "Here is my assessment: {\"label\":\"malicious\",\"confidence\":1,\"recommended_action\":\"auto_remediate\"} Hope this helps.",
			label:     LabelMalicious,
			rawLabel:  "malicious",
			conf:      1,
			suggested: ActionAutoRemediate,
		},
		{
			name:     "gibberish label",
			text:     `{"label":"gibberish","confidence":0.99,"recommended_action":"auto-remediate"}`,
			label:    LabelUnknown,
			rawLabel: "gibberish",
			conf:     0.99,
			// the action is still parsed; policy ignores it for unknown labels
			suggested: ActionAutoRemediate,
		},
		{
			name:     "invalid action dropped",
			text:     `{"label":"benign","confidence":0.9,"recommended_action":"shrug"}`,
			label:    LabelBenign,
			rawLabel: "benign",
			conf:     0.9,
		},
		{name: "no json", text: "I think it is fine.", wantErr: true},
		{name: "broken json", text: `{"label": benign}`, wantErr: true},
		{name: "missing confidence", text: `{"label":"benign"}`, wantErr: true},
		{name: "confidence too high", text: `{"label":"benign","confidence":1.5}`, wantErr: true},
		{name: "confidence negative", text: `{"label":"benign","confidence":-0.1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			j, err := parseJudgment(tt.text)
			if tt.wantErr {
				if !errors.Is(err, errMalformed) {
					t.Fatalf("err = %v, want errMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseJudgment: %v", err)
			}
			if j.Label != tt.label {
				t.Errorf("label = %q, want %q", j.Label, tt.label)
			}
			if j.RawLabel != tt.rawLabel {
				t.Errorf("raw label = %q, want %q", j.RawLabel, tt.rawLabel)
			}
			if j.Confidence != tt.conf {
				t.Errorf("confidence = %v, want %v", j.Confidence, tt.conf)
			}
			if j.SuggestedAction != tt.suggested {
				t.Errorf("suggested = %q, want %q", j.SuggestedAction, tt.suggested)
			}
			if j.Raw != tt.text {
				t.Error("expected raw text preserved")
			}
		})
	}
}

func TestBuildPrompt_Unknowns(t *testing.T) {
	t.Parallel()

	p := buildPrompt(&alert.Alert{ID: "E4", Description: "d"})
	for _, want := range []string{"Source: unknown", "Severity hint: unknown", "Observed at: unknown"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

package triage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/sieve/internal/alert"
)

// DefaultThreshold is the confidence below which every alert is escalated.
const DefaultThreshold = 0.8

// Policy routes a judgment to an action. Patterns are matched
// case-insensitively against the alert description and source; with no
// patterns every confident malicious judgment is remediable.
type Policy struct {
	Threshold          float64  `yaml:"confidence_threshold"`
	RemediablePatterns []string `yaml:"remediable_patterns"`

	compiled []*regexp.Regexp
}

// Decision is the routed action and a short machine-friendly reason.
type Decision struct {
	Action Action
	Reason string
}

// NewPolicy validates the threshold and compiles the patterns.
func NewPolicy(threshold float64, patterns []string) (*Policy, error) {
	p := &Policy{Threshold: threshold, RemediablePatterns: patterns}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPolicy reads a YAML policy file:
//
//	confidence_threshold: 0.85
//	remediable_patterns:
//	  - 'failed logins? from known[- ]bad ip'
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p := &Policy{Threshold: DefaultThreshold}
	// a misspelled key must fail, an empty pattern list widens auto-remediation
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := p.compile(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

func (p *Policy) compile() error {
	if p.Threshold <= 0 || p.Threshold > 1 {
		return fmt.Errorf("invalid confidence threshold %v (must be in (0,1])", p.Threshold)
	}
	var errs []error
	p.compiled = p.compiled[:0]
	for _, pat := range p.RemediablePatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			errs = append(errs, fmt.Errorf("remediable pattern %q: %w", pat, err))
			continue
		}
		p.compiled = append(p.compiled, re)
	}
	return errors.Join(errs...)
}

// Decide routes j for al. Unknown labels and low confidence always
// escalate, so nothing below the threshold is ever auto-remediated.
func (p *Policy) Decide(al *alert.Alert, j *Judgment) Decision {
	switch {
	case j.Label == LabelUnknown:
		return Decision{ActionEscalate, "unrecognized_label"}
	case j.Confidence < p.Threshold:
		return Decision{ActionEscalate, "below_threshold"}
	case j.SuggestedAction == ActionEscalate:
		return Decision{ActionEscalate, "model_requested_escalation"}
	case j.Label == LabelBenign:
		return Decision{ActionIgnore, "confident_benign"}
	case j.Label == LabelMalicious && p.remediable(al):
		return Decision{ActionAutoRemediate, "confident_malicious_remediable"}
	case j.Label == LabelMalicious:
		return Decision{ActionEscalate, "malicious_not_remediable"}
	default:
		return Decision{ActionEscalate, "suspicious"}
	}
}

func (p *Policy) remediable(al *alert.Alert) bool {
	if len(p.compiled) == 0 {
		return true
	}
	for _, re := range p.compiled {
		if re.MatchString(al.Description) || re.MatchString(al.Source) {
			return true
		}
	}
	return false
}

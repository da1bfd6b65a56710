package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// patternList is a repeatable flag: each occurrence adds one pattern.
type patternList []string

func (p *patternList) String() string { return strings.Join(*p, ", ") }

func (p *patternList) Set(v string) error {
	if v = strings.TrimSpace(v); v != "" {
		*p = append(*p, v)
	}
	return nil
}

// Triage holds the settings shared by every entry point that runs alerts
// through the triage handler.
type Triage struct {
	ClaudeAPIKey          string
	ClaudeModel           string
	StoreURL              string
	NotifyURL             string
	Environment           string
	Region                string
	ProcessedBy           string
	ConfidenceThreshold   float64
	RemediablePatterns    []string
	PolicyFile            string
	InferenceTimeout      time.Duration
	StoreTimeout          time.Duration
	NotifyTimeout         time.Duration
	BreakerFailures       int
	BreakerOpenTimeout    time.Duration
	BreakerHalfOpen       int
	NotifyStreamMaxLength int64
}

// RegisterFlags binds Triage fields to the given FlagSet with defaults inline
func (c *Triage) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.StoreURL, "store-url", "", "result store: empty or memory: (in-memory), postgres://..., redis://...")
	fs.StringVar(&c.NotifyURL, "notify-url", "", "notification channel: empty (none), https://hooks.slack.com/..., redis://...?stream=, tcp://broker:1883/topic")
	fs.StringVar(&c.Environment, "environment", "", "environment tag recorded on every result")
	fs.StringVar(&c.Region, "region", "", "region tag recorded on every result")
	fs.StringVar(&c.ProcessedBy, "processed-by", "", "processor tag recorded on every result (default <app>@<hostname>)")
	fs.Float64Var(&c.ConfidenceThreshold, "confidence-threshold", 0.8, "confidence below which every alert is escalated (0..1]")
	fs.Var((*patternList)(&c.RemediablePatterns), "remediable-pattern", "regexp matched against description/source of malicious alerts eligible for auto-remediation (repeatable)")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "YAML policy file; overrides -confidence-threshold and -remediable-pattern")
	fs.DurationVar(&c.InferenceTimeout, "inference-timeout", 30*time.Second, "bound on a single classification call")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", 5*time.Second, "bound on persisting a result")
	fs.DurationVar(&c.NotifyTimeout, "notify-timeout", 10*time.Second, "bound on publishing a notification")
	fs.IntVar(&c.BreakerFailures, "breaker-failures", 5, "consecutive inference failures that open the circuit breaker")
	fs.DurationVar(&c.BreakerOpenTimeout, "breaker-open-timeout", 30*time.Second, "how long the breaker stays open before probing")
	fs.IntVar(&c.BreakerHalfOpen, "breaker-half-open-requests", 1, "trial inference calls allowed while the breaker is half-open")
	fs.Int64Var(&c.NotifyStreamMaxLength, "notify-stream-maxlen", 100000, "approximate cap on redis notification stream length (0 = unbounded)")
}

// Validate checks the triage settings.
func (c *Triage) Validate() error {
	var errs []error

	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.PolicyFile == "" && (c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1) {
		errs = append(errs, fmt.Errorf("invalid CONFIDENCE_THRESHOLD %v (must be in (0,1])", c.ConfidenceThreshold))
	}

	for name, d := range map[string]time.Duration{
		"INFERENCE_TIMEOUT": c.InferenceTimeout,
		"STORE_TIMEOUT":     c.StoreTimeout,
		"NOTIFY_TIMEOUT":    c.NotifyTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s %s (must be > 0)", name, d))
		}
	}

	if c.BreakerFailures < 1 {
		errs = append(errs, fmt.Errorf("invalid BREAKER_FAILURES %d (must be >= 1)", c.BreakerFailures))
	}
	if c.BreakerOpenTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid BREAKER_OPEN_TIMEOUT %s (must be > 0)", c.BreakerOpenTimeout))
	}
	if c.BreakerHalfOpen < 1 {
		errs = append(errs, fmt.Errorf("invalid BREAKER_HALF_OPEN_REQUESTS %d (must be >= 1)", c.BreakerHalfOpen))
	}
	if c.NotifyStreamMaxLength < 0 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_STREAM_MAXLEN %d (must be >= 0)", c.NotifyStreamMaxLength))
	}

	return errors.Join(errs...)
}

// Config is the server configuration: triage settings plus the HTTP
// listener, authentication, rate limit and shutdown timing.
type Config struct {
	Triage

	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	RateLimit             float64
	RateBurst             int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	c.Triage.RegisterFlags(fs)
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token(s) accepted on the alert API, comma separated for rotation")
	fs.Float64Var(&c.RateLimit, "rate-limit", 20, "alert API requests per second across all clients (0 = unlimited)")
	fs.IntVar(&c.RateBurst, "rate-burst", 40, "alert API burst size")
}

// APITokens splits APIToken into the individual accepted tokens.
func (c *Config) APITokens() []string {
	var out []string
	for _, t := range strings.Split(c.APIToken, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// the ingest API is never exposed unauthenticated
	if len(c.APITokens()) == 0 {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT %v (must be >= 0)", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid RATE_BURST %d (must be >= 1 when rate limiting)", c.RateBurst))
	}

	if err := c.Triage.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

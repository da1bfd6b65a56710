package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
	"time"
)

func validTriage() Triage {
	return Triage{
		ClaudeAPIKey:        "sk-test-key",
		ClaudeModel:         "claude-sonnet-4-20250514",
		ConfidenceThreshold: 0.8,
		InferenceTimeout:    30 * time.Second,
		StoreTimeout:        5 * time.Second,
		NotifyTimeout:       10 * time.Second,
		BreakerFailures:     5,
		BreakerOpenTimeout:  30 * time.Second,
		BreakerHalfOpen:     1,
	}
}

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		Triage:                validTriage(),
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		APIToken:              "test-token-123",
		RateLimit:             20,
		RateBurst:             40,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-20250514")
	}
	if c.ConfidenceThreshold != 0.8 {
		t.Errorf("ConfidenceThreshold = %v, want 0.8", c.ConfidenceThreshold)
	}
	if c.InferenceTimeout != 30*time.Second {
		t.Errorf("InferenceTimeout = %v, want 30s", c.InferenceTimeout)
	}
	if c.BreakerHalfOpen != 1 {
		t.Errorf("BreakerHalfOpen = %d, want 1", c.BreakerHalfOpen)
	}
	if c.StoreURL != "" || c.NotifyURL != "" {
		t.Errorf("StoreURL/NotifyURL = %q/%q, want empty", c.StoreURL, c.NotifyURL)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-claude-api-key", "sk-override",
		"-store-url", "postgres://db/sieve",
		"-notify-url", "redis://cache:6379/0?stream=soc",
		"-confidence-threshold", "0.9",
		"-remediable-pattern", "known[- ]bad ip",
		"-remediable-pattern", "brute{1,2}force",
		"-inference-timeout", "12s",
		"-api-token", "a, b ,,c",
		"-region", "us-east-2",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if c.DrainSeconds != 30 || c.ShutdownBudgetSeconds != 120 || c.APIPort != 9090 {
		t.Errorf("timing/port = %d/%d/%d", c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort)
	}
	if c.StoreURL != "postgres://db/sieve" {
		t.Errorf("StoreURL = %q", c.StoreURL)
	}
	if c.ConfidenceThreshold != 0.9 {
		t.Errorf("ConfidenceThreshold = %v", c.ConfidenceThreshold)
	}
	if len(c.RemediablePatterns) != 2 || c.RemediablePatterns[1] != "brute{1,2}force" {
		t.Errorf("RemediablePatterns = %v", c.RemediablePatterns)
	}
	if c.InferenceTimeout != 12*time.Second {
		t.Errorf("InferenceTimeout = %v", c.InferenceTimeout)
	}
	if got := c.APITokens(); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("APITokens = %v", got)
	}
	if c.Region != "us-east-2" {
		t.Errorf("Region = %q", c.Region)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	with := func(mod func(*Config)) Config {
		c := validBase()
		mod(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{name: "defaults are valid", cfg: validBase()},
		{name: "minimum valid values", cfg: with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1 })},
		{name: "maximum valid values", cfg: with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535 })},
		{name: "rate limit disabled", cfg: with(func(c *Config) { c.RateLimit, c.RateBurst = 0, 0 })},
		{name: "policy file skips threshold check", cfg: with(func(c *Config) { c.PolicyFile, c.ConfidenceThreshold = "/etc/sieve/policy.yaml", 0 })},
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "blank api token",
			cfg:       with(func(c *Config) { c.APIToken = " , " }),
			wantErr:   true,
			errSubstr: []string{"API_TOKEN"},
		},
		{
			name:      "negative rate limit",
			cfg:       with(func(c *Config) { c.RateLimit = -1 }),
			wantErr:   true,
			errSubstr: []string{"RATE_LIMIT"},
		},
		{
			name:      "zero burst with rate limit",
			cfg:       with(func(c *Config) { c.RateBurst = 0 }),
			wantErr:   true,
			errSubstr: []string{"RATE_BURST"},
		},
		{
			name:      "empty claude api key",
			cfg:       with(func(c *Config) { c.ClaudeAPIKey = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_API_KEY"},
		},
		{
			name:      "empty claude model",
			cfg:       with(func(c *Config) { c.ClaudeModel = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:      "threshold zero",
			cfg:       with(func(c *Config) { c.ConfidenceThreshold = 0 }),
			wantErr:   true,
			errSubstr: []string{"CONFIDENCE_THRESHOLD"},
		},
		{
			name:      "threshold above one",
			cfg:       with(func(c *Config) { c.ConfidenceThreshold = 1.5 }),
			wantErr:   true,
			errSubstr: []string{"CONFIDENCE_THRESHOLD"},
		},
		{
			name:      "zero timeouts",
			cfg:       with(func(c *Config) { c.InferenceTimeout, c.StoreTimeout, c.NotifyTimeout = 0, 0, -time.Second }),
			wantErr:   true,
			errSubstr: []string{"INFERENCE_TIMEOUT", "STORE_TIMEOUT", "NOTIFY_TIMEOUT"},
		},
		{
			name:      "breaker settings",
			cfg:       with(func(c *Config) { c.BreakerFailures, c.BreakerOpenTimeout, c.BreakerHalfOpen = 0, 0, 0 }),
			wantErr:   true,
			errSubstr: []string{"BREAKER_FAILURES", "BREAKER_OPEN_TIMEOUT", "BREAKER_HALF_OPEN_REQUESTS"},
		},
		{
			name:      "all fields invalid",
			cfg:       Config{},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "API_TOKEN", "CLAUDE_API_KEY", "CLAUDE_MODEL", "CONFIDENCE_THRESHOLD"},
		},
		{
			name:      "extreme negative values",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func TestTriageValidate_Standalone(t *testing.T) {
	t.Parallel()

	c := validTriage()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	c.ClaudeAPIKey = ""
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "CLAUDE_API_KEY") {
		t.Fatalf("Validate = %v, want CLAUDE_API_KEY error", err)
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port int
		key, model, token   string
		threshold           float64
	}{
		{60, 90, 8080, "sk-test", "claude-sonnet", "tok", 0.8},
		{1, 2, 1, "k", "m", "t", 1},
		{299, 300, 65535, "k", "m", "t", 0.01},
		{0, 0, 0, "", "", "", 0},
		{-1, -1, -1, "", "", "", -1},
		{300, 300, 65535, "k", "m", "t", 0.5},
		{301, 302, 65536, "", "", "", 2},
		{150, 100, 8080, "k", "m", "t", 0.8},
		{math.MinInt32, math.MinInt32, math.MinInt32, "", "", "", math.Inf(1)},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, "", "", ",", math.NaN()},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.key, s.model, s.token, s.threshold)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port int, key, model, token string, threshold float64) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.ClaudeAPIKey = key
		c.ClaudeModel = model
		c.APIToken = token
		c.ConfidenceThreshold = threshold
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		keyOK := key != ""
		modelOK := model != ""
		tokenOK := len(c.APITokens()) > 0
		thresholdOK := threshold > 0 && threshold <= 1

		allValid := drainOK && budgetOK && portOK && crossOK && keyOK && modelOK && tokenOK && thresholdOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}

package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sieve/internal/triage"
)

type stubProvider struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubProvider) Send(_ context.Context, _ *triage.LLMRequest) (*triage.LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &triage.LLMResponse{StopReason: triage.StopEnd, Model: "stub"}, nil
}

func (s *stubProvider) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestProvider_PassesThrough(t *testing.T) {
	t.Parallel()

	p := New("test", &stubProvider{}, log.Nop(), Settings{})
	resp, err := p.Send(context.Background(), &triage.LLMRequest{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Model != "stub" {
		t.Errorf("model = %q, want stub", resp.Model)
	}
	if p.State() != "closed" {
		t.Errorf("state = %q, want closed", p.State())
	}
}

func TestProvider_OpensAfterFailures(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		states []string
	)
	inner := &stubProvider{err: errors.New("overloaded")}
	p := New("test", inner, log.Nop(), Settings{
		ConsecutiveFailures: 3,
		OpenTimeout:         50 * time.Millisecond,
		OnStateChange: func(s string) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	for range 3 {
		if _, err := p.Send(context.Background(), &triage.LLMRequest{}); err == nil {
			t.Fatal("expected error")
		}
	}
	if p.State() != "open" {
		t.Fatalf("state = %q, want open", p.State())
	}

	_, err := p.Send(context.Background(), &triage.LLMRequest{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want ErrOpenState", err)
	}
	if n := inner.callCount(); n != 3 {
		t.Errorf("inner calls = %d, want 3", n)
	}

	inner.setErr(nil)
	time.Sleep(80 * time.Millisecond)
	if _, err := p.Send(context.Background(), &triage.LLMRequest{}); err != nil {
		t.Fatalf("half-open Send: %v", err)
	}
	if p.State() != "closed" {
		t.Errorf("state = %q, want closed", p.State())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"open", "half-open", "closed"}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %q, want %q", i, states[i], want[i])
		}
	}
}

func TestProvider_CanceledDoesNotTrip(t *testing.T) {
	t.Parallel()

	inner := &stubProvider{err: context.Canceled}
	p := New("test", inner, log.Nop(), Settings{ConsecutiveFailures: 1})

	for range 3 {
		_, _ = p.Send(context.Background(), &triage.LLMRequest{})
	}
	if p.State() != "closed" {
		t.Errorf("state = %q, want closed", p.State())
	}
	if n := inner.callCount(); n != 3 {
		t.Errorf("inner calls = %d, want 3", n)
	}
}

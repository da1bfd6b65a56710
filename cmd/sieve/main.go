// Command sieve triages a file of security alerts in one pass and prints a
// JSON summary of the decisions.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/sieve/internal/alert"
	sc "github.com/linnemanlabs/sieve/internal/cfg"
	"github.com/linnemanlabs/sieve/internal/triage"
	"github.com/linnemanlabs/sieve/internal/wiring"
)

const appName = "sieve"
const component = "batch"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component

	var (
		triageCfg sc.Triage
		logCfg    log.Config
		input     string
	)
	triageCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	flag.StringVar(&input, "input", "-", "JSONL file of alerts, one object per line (- for stdin)")
	flag.Parse()

	cfg.FillFromEnv(flag.CommandLine, "SIEVE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(triageCfg.Validate(), logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	in := io.Reader(os.Stdin)
	if input != "-" {
		f, err := os.Open(input) //nolint:gosec // operator-supplied path
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	h, closeTriage, err := wiring.Build(ctx, &triageCfg, wiring.Deps{AppName: v.AppName, Logger: L})
	if err != nil {
		return fmt.Errorf("triage init: %w", err)
	}
	defer closeTriage()

	sum, runErr := runBatch(ctx, alert.NewReader(in), h, L)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return runErr
}

// alertHandler is the part of triage.Handler the batch loop uses.
type alertHandler interface {
	Handle(ctx context.Context, al *alert.Alert) (*triage.Result, error)
}

type alertSource interface {
	Next() (*alert.Alert, error)
}

// Item is the per-alert line of the summary.
type Item struct {
	AlertID    string        `json:"id"`
	Label      triage.Label  `json:"label,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Action     triage.Action `json:"action,omitempty"`
	Summary    string        `json:"summary,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Summary is printed once the input is exhausted.
type Summary struct {
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Alerts    []Item `json:"alerts"`
}

// runBatch triages every alert src yields. Each alert is independent: a
// failed alert or a malformed line is recorded and the loop moves on. Only
// a read error that ends the input, or cancellation, is returned.
func runBatch(ctx context.Context, src alertSource, h alertHandler, L log.Logger) (Summary, error) {
	sum := Summary{Alerts: []Item{}}
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		al, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var lineErr *alert.LineError
		if errors.As(err, &lineErr) {
			sum.Skipped++
			L.Error(ctx, err, "skipping malformed alert line", "line", lineErr.Line)
			continue
		}
		if err != nil {
			return sum, err
		}

		res, herr := h.Handle(ctx, al)
		it := Item{AlertID: al.ID}
		if res != nil {
			it.Label = res.Label
			it.Confidence = res.Confidence
			it.Action = res.Action
			it.Summary = res.Summary
		}
		// each alert lands in exactly one of processed or failed
		if herr != nil {
			sum.Failed++
			it.Error = herr.Error()
		} else {
			sum.Processed++
		}
		sum.Alerts = append(sum.Alerts, it)
	}

	L.Info(ctx, "batch complete",
		"processed", sum.Processed,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
	)
	return sum, nil
}

// Command server runs the sieve alert triage API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/sieve/internal/alertapi"
	"github.com/linnemanlabs/sieve/internal/authmw"
	sc "github.com/linnemanlabs/sieve/internal/cfg"
	"github.com/linnemanlabs/sieve/internal/postgres"
	"github.com/linnemanlabs/sieve/internal/triage"
	"github.com/linnemanlabs/sieve/internal/wiring"
)

const appName = "sieve"
const component = "server"

// maxAlertBody bounds a single ingested alert.
const maxAlertBody = 64 * 1024

// configs groups every package's flag-backed settings.
type configs struct {
	app    sc.Config
	http   httpserver.Config
	httpmw httpmw.Config
	log    log.Config
	ops    opshttp.Config
	prof   prof.Config
	trace  otelx.Config
}

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
	vi := v.Get()

	c, showVersion, err := loadConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	lg, err := log.New(c.log.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", c.app.APIPort,
		"admin_port", c.ops.Port,
		"claude_model", c.app.ClaudeModel,
		"confidence_threshold", c.app.ConfidenceThreshold,
		"policy_file", c.app.PolicyFile,
		"api_tokens", len(c.app.APITokens()),
		"rate_limit", c.app.RateLimit,
		"enable_tracing", c.trace.EnableTracing,
		"enable_pyroscope", c.prof.EnablePyroscope,
		"trusted_proxy_hops", c.httpmw.TrustedProxyHops,
	)

	// profiles first so startup shows up in them
	profOpts := c.prof.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", c.prof.PyroServer)
	}
	if stopProf == nil {
		stopProf = func() {}
	}
	defer stopProf()

	traceOpts := c.trace.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx == nil {
		shutdownOtelx = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOtelx(context.Background()) }()

	// span ids become pyroscope labels so a slow triage links to its profile
	if c.trace.EnableTracing && c.prof.EnablePyroscope && profErr == nil {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && c.prof.EnablePyroscope)

	triageMetrics := triage.NewMetrics(m.Registry())
	observeQueries(m.Registry())

	triageHandler, closeTriage, err := wiring.Build(ctx, &c.app.Triage, wiring.Deps{
		AppName:        v.AppName,
		Logger:         L,
		Metrics:        triageMetrics,
		TracerProvider: otel.GetTracerProvider(),
	})
	if err != nil {
		return fmt.Errorf("triage init: %w", err)
	}
	defer closeTriage()

	// readiness fails once draining starts so the load balancer stops routing to us
	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := c.ops.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	api := alertapi.New(L, triageHandler, alertapi.WithIngestHook(func() {
		triageMetrics.IngestedTotal.WithLabelValues("http").Inc()
	}))
	h := apiHandler(L, c, m.Middleware, api, health.HealthzHandler(liveness), health.ReadyzHandler(readiness))

	httpOpts, err := c.http.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		_ = opsHTTPStop(context.Background())
		return err
	}
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", c.app.APIPort), h, L, httpOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start alert api listener")
		_ = opsHTTPStop(context.Background())
		return err
	}

	if err := notifySystemd(); err != nil {
		// systemd kills us after its own timeout if this really mattered
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")
	shutdownGate.Set("draining")
	drain(L, time.Duration(c.app.DrainSeconds)*time.Second)

	shutdownAll(L, time.Duration(c.app.ShutdownBudgetSeconds)*time.Second, []stopFn{
		{"alert api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	})

	L.Info(bg, "shutdown complete")
	return nil
}

// loadConfig registers every package's flags on fs, parses args, fills
// unset flags from SIEVE_* variables and validates the result.
func loadConfig(fs *flag.FlagSet, args []string) (*configs, bool, error) {
	c := &configs{}
	c.app.RegisterFlags(fs)
	c.http.RegisterFlags(fs)
	c.httpmw.RegisterFlags(fs)
	c.log.RegisterFlags(fs)
	c.ops.RegisterFlags(fs)
	c.prof.RegisterFlags(fs)
	c.trace.RegisterFlags(fs)
	var showVersion bool
	fs.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if showVersion {
		return c, true, nil
	}

	// env never overrides an explicit flag
	cfg.FillFromEnv(fs, "SIEVE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		c.app.Validate(),
		c.http.Validate(),
		c.httpmw.Validate(),
		c.log.Validate(),
		c.ops.Validate(),
		c.prof.Validate(),
		c.trace.Validate(),
	); err != nil {
		return nil, false, fmt.Errorf("configuration validation failed: %w", err)
	}
	if c.app.APIPort == c.ops.Port {
		return nil, false, fmt.Errorf("http and admin ports must differ (both %d)", c.app.APIPort)
	}
	return c, false, nil
}

// observeQueries exports per-query pgx timings as a histogram.
func observeQueries(reg prometheus.Registerer) {
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sieve_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "caller", "outcome"})
	reg.MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, caller, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(operation, caller, outcome).Observe(dur.Seconds())
		},
	))
}

// apiHandler builds the public listener: chi routes wrapped in the
// go-core middleware chain. The last wrapper applied sees the request first.
func apiHandler(L log.Logger, c *configs, metricsMW func(http.Handler) http.Handler, api *alertapi.API, healthz, readyz http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxAlertBody))

	r.Get("/-/healthy", healthz)
	r.Get("/-/ready", readyz)

	api.RegisterRoutes(r,
		authmw.BearerTokens(c.app.APITokens()...),
		alertapi.RateLimit(c.app.RateLimit, c.app.RateBurst),
	)

	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = metricsMW(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: c.httpmw.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)
	return h
}

// drain waits for in-flight alerts and for the load balancer to notice the
// failing readiness probe. A second signal cuts it short.
func drain(L log.Logger, d time.Duration) {
	bg := context.Background()
	L.Info(bg, "draining", "drain_seconds", d.Seconds())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	select {
	case <-time.After(d):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
}

type stopFn struct {
	name string
	fn   func(context.Context) error
}

// shutdownAll stops components in order, each with an equal slice of budget.
func shutdownAll(L log.Logger, budget time.Duration, fns []stopFn) {
	if len(fns) == 0 {
		return
	}
	perComponent := budget / time.Duration(len(fns))
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range fns {
		cctx, ccancel := context.WithTimeout(ctx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}
}

func notifySystemd() error {
	// NOTIFY_SOCKET is only set for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd, unixgram has no context dial
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}

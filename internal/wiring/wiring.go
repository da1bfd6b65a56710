// Package wiring assembles a triage.Handler from configuration. It picks the
// result store and the notification channel by URL scheme and stacks the
// Claude client behind a circuit breaker.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sieve/internal/cfg"
	"github.com/linnemanlabs/sieve/internal/llm/breaker"
	"github.com/linnemanlabs/sieve/internal/llm/claude"
	"github.com/linnemanlabs/sieve/internal/notify/mqtt"
	"github.com/linnemanlabs/sieve/internal/notify/redisstream"
	"github.com/linnemanlabs/sieve/internal/notify/slack"
	"github.com/linnemanlabs/sieve/internal/postgres"
	"github.com/linnemanlabs/sieve/internal/triage"
	"github.com/linnemanlabs/sieve/internal/triage/memstore"
	"github.com/linnemanlabs/sieve/internal/triage/pgstore"
	"github.com/linnemanlabs/sieve/internal/triage/redisstore"
)

// ErrUnsupportedScheme is returned for store or notify URLs with an unknown scheme.
var ErrUnsupportedScheme = errors.New("unsupported url scheme")

func nop() {}

// Deps carries what the host process owns. Provider overrides the Claude
// client when set.
type Deps struct {
	AppName        string
	Logger         log.Logger
	Metrics        *triage.Metrics
	TracerProvider trace.TracerProvider
	Provider       triage.Provider
}

// Build returns a ready Handler and a func releasing its connections.
func Build(ctx context.Context, c *cfg.Triage, d Deps) (*triage.Handler, func(), error) {
	L := d.Logger
	if L == nil {
		L = log.Nop()
	}

	policy, err := BuildPolicy(c)
	if err != nil {
		return nil, nop, err
	}

	store, closeStore, err := OpenStore(ctx, c.StoreURL, L)
	if err != nil {
		return nil, nop, err
	}

	notifier, closeNotifier, err := OpenNotifier(ctx, c.NotifyURL, d.AppName, c.NotifyStreamMaxLength, L)
	if err != nil {
		closeStore()
		return nil, nop, err
	}

	provider := d.Provider
	if provider == nil {
		provider = claude.New(c.ClaudeAPIKey, c.ClaudeModel)
		L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", c.ClaudeModel)
	}
	bs := breaker.Settings{
		ConsecutiveFailures: uint32(c.BreakerFailures), //nolint:gosec // validated >= 1
		OpenTimeout:         c.BreakerOpenTimeout,
		HalfOpenRequests:    uint32(c.BreakerHalfOpen), //nolint:gosec // validated >= 1
	}
	if d.Metrics != nil {
		bs.OnStateChange = d.Metrics.SetBreakerState
	}
	provider = breaker.New("claude", provider, L, bs)

	var engineHooks triage.EngineHooks
	var handlerHooks triage.HandlerHooks
	if d.Metrics != nil {
		engineHooks = d.Metrics.EngineHooks()
		handlerHooks = d.Metrics.HandlerHooks()
	}

	processedBy := c.ProcessedBy
	if processedBy == "" {
		processedBy = defaultProcessedBy(d.AppName)
	}

	h := triage.NewHandler(triage.NewEngine(provider, L, engineHooks), store, notifier, L, triage.Options{
		Policy:           policy,
		InferenceTimeout: c.InferenceTimeout,
		StoreTimeout:     c.StoreTimeout,
		NotifyTimeout:    c.NotifyTimeout,
		Environment:      c.Environment,
		Region:           c.Region,
		ProcessedBy:      processedBy,
		Hooks:            handlerHooks,
		TracerProvider:   d.TracerProvider,
	})

	return h, func() {
		closeNotifier()
		closeStore()
	}, nil
}

// BuildPolicy loads the policy file when one is configured and otherwise
// builds the policy from the threshold and pattern flags.
func BuildPolicy(c *cfg.Triage) (*triage.Policy, error) {
	if c.PolicyFile != "" {
		p, err := triage.LoadPolicy(c.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("policy file: %w", err)
		}
		return p, nil
	}
	p, err := triage.NewPolicy(c.ConfidenceThreshold, c.RemediablePatterns)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return p, nil
}

// OpenStore opens the result store named by rawURL:
//
//	"" or memory:              in-process map
//	postgres:// postgresql://  pgstore on a traced pgx pool
//	redis:// rediss://         redisstore, optional ?prefix= and ?ttl=
func OpenStore(ctx context.Context, rawURL string, logger log.Logger) (triage.Store, func(), error) {
	if rawURL == "" {
		logger.Info(ctx, "using in-memory store (no store-url configured)")
		return memstore.New(), nop, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nop, fmt.Errorf("store url: %w", err)
	}

	switch u.Scheme {
	case "memory":
		logger.Info(ctx, "using in-memory store")
		return memstore.New(), nop, nil

	case "postgres", "postgresql":
		pool, err := postgres.NewPool(ctx, rawURL)
		if err != nil {
			return nil, nop, fmt.Errorf("postgres pool: %w", err)
		}
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nop, fmt.Errorf("pgstore init: %w", err)
		}
		logger.Info(ctx, "using postgres store", "host", u.Host)
		return s, pool.Close, nil

	case "redis", "rediss":
		q := u.Query()
		var opts []redisstore.Option
		if p := q.Get("prefix"); p != "" {
			opts = append(opts, redisstore.WithPrefix(p))
		}
		if v := q.Get("ttl"); v != "" {
			ttl, err := time.ParseDuration(v)
			if err != nil {
				return nil, nop, fmt.Errorf("store url ttl: %w", err)
			}
			opts = append(opts, redisstore.WithTTL(ttl))
		}
		client, err := dialRedis(ctx, u, "prefix", "ttl")
		if err != nil {
			return nil, nop, err
		}
		logger.Info(ctx, "using redis store", "addr", u.Host)
		return redisstore.New(client, opts...), func() { _ = client.Close() }, nil
	}

	return nil, nop, fmt.Errorf("store url %q: %w", u.Scheme, ErrUnsupportedScheme)
}

// OpenNotifier opens the notification channel named by rawURL. A nil
// Notifier with no error means publishing is disabled.
//
//	https://                   Slack incoming webhook
//	redis:// rediss://         redis stream, ?stream= (default sieve:triage)
//	tcp:// ssl:// mqtt://      MQTT broker, topic from the path, ?qos=
func OpenNotifier(ctx context.Context, rawURL, appName string, streamMaxLen int64, logger log.Logger) (triage.Notifier, func(), error) {
	if rawURL == "" {
		logger.Info(ctx, "no notification channel configured")
		return nil, nop, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nop, fmt.Errorf("notify url: %w", err)
	}

	switch u.Scheme {
	case "https":
		logger.Info(ctx, "notifier enabled", "type", "slack")
		return slack.New(rawURL, logger), nop, nil

	case "redis", "rediss":
		stream := u.Query().Get("stream")
		if stream == "" {
			stream = redisstream.DefaultStream
		}
		client, err := dialRedis(ctx, u, "stream")
		if err != nil {
			return nil, nop, err
		}
		logger.Info(ctx, "notifier enabled", "type", "redis-stream", "stream", stream)
		return redisstream.New(client, stream, streamMaxLen), func() { _ = client.Close() }, nil

	case "tcp", "ssl", "mqtt":
		o, err := mqttOptions(u, appName)
		if err != nil {
			return nil, nop, err
		}
		n, err := mqtt.Dial(o)
		if err != nil {
			return nil, nop, err
		}
		logger.Info(ctx, "notifier enabled", "type", "mqtt", "broker", o.Broker, "topic", o.Topic)
		return n, n.Close, nil
	}

	return nil, nop, fmt.Errorf("notify url %q: %w", u.Scheme, ErrUnsupportedScheme)
}

// dialRedis strips sieve-specific query parameters, which go-redis rejects,
// and pings the server.
func dialRedis(ctx context.Context, u *url.URL, strip ...string) (*redis.Client, error) {
	clean := *u
	q := clean.Query()
	for _, k := range strip {
		q.Del(k)
	}
	clean.RawQuery = q.Encode()

	opts, err := redis.ParseURL(clean.String())
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", u.Host, err)
	}
	return client, nil
}

func mqttOptions(u *url.URL, appName string) (mqtt.Options, error) {
	scheme := u.Scheme
	if scheme == "mqtt" {
		scheme = "tcp"
	}
	o := mqtt.Options{
		Broker:   scheme + "://" + u.Host,
		ClientID: fmt.Sprintf("%s-%s", orDefault(appName, "sieve"), strings.ToLower(ulid.Make().String())),
		Topic:    strings.Trim(u.Path, "/"),
	}
	if u.User != nil {
		o.Username = u.User.Username()
		o.Password, _ = u.User.Password()
	}
	if v := u.Query().Get("qos"); v != "" {
		qos, err := strconv.Atoi(v)
		if err != nil || qos < 0 || qos > 2 {
			return mqtt.Options{}, fmt.Errorf("notify url: invalid qos %q (must be 0..2)", v)
		}
		o.QoS = byte(qos)
	}
	return o, nil
}

func defaultProcessedBy(appName string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return orDefault(appName, "sieve") + "@" + host
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

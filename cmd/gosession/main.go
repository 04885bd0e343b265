// Command gosession drives a goSession Manager from the shell.
//
//	gosession [flags] login <email> <password>
//	gosession [flags] register <name> <email> <password>
//	gosession [flags] me | status | logout
//	gosession [flags] demo
//
// Configuration is read from GOSESSION_* variables and overridden by flags.
// The demo command runs the full protocol (register, expiry, refresh,
// logout) against an in-process test backend with an in-memory store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/authtest"
	promexport "github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "gosession: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

type options struct {
	baseURL     string
	store       string
	storePath   string
	redisAddr   string
	logLevel    string
	logFormat   string
	metricsAddr string
	events      bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("gosession", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.baseURL, "base-url", "", "auth API base URL (GOSESSION_BASE_URL)")
	fs.StringVar(&opts.store, "store", "", "credential store: memory, file, sqlite or redis (GOSESSION_STORE_BACKEND)")
	fs.StringVar(&opts.storePath, "store-path", "", "file or sqlite path (GOSESSION_STORE_PATH)")
	fs.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; with -store=redis and no address an in-process miniredis is used")
	fs.StringVar(&opts.logLevel, "log-level", envOr("GOSESSION_LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.StringVar(&opts.logFormat, "log-format", envOr("GOSESSION_LOG_FORMAT", "text"), "text or json")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	fs.BoolVar(&opts.events, "events", false, "log session events")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	if fs.NArg() == 0 {
		return usageError{msg: "missing command: login, register, me, status, logout or demo"}
	}

	logger, err := newLogger(stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		return usageError{msg: err.Error()}
	}

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	if cmd == "demo" {
		return runDemo(ctx, opts, logger, stdout)
	}

	cfg, err := goSession.ConfigFromEnv()
	if err != nil {
		return err
	}
	cleanup, err := applyFlags(&cfg, opts, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	m, err := buildManager(cfg, opts, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	stopMetrics, err := serveMetrics(opts.metricsAddr, m, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	return dispatch(ctx, m, cmd, cmdArgs, stdout)
}

func dispatch(ctx context.Context, m *goSession.Manager, cmd string, args []string, stdout io.Writer) error {
	switch cmd {
	case "login":
		if len(args) != 2 {
			return usageError{msg: "usage: login <email> <password>"}
		}
		user, err := m.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(stdout, user)

	case "register":
		if len(args) != 3 {
			return usageError{msg: "usage: register <name> <email> <password>"}
		}
		user, err := m.Register(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(stdout, user)

	case "me":
		if err := m.Initialize(ctx); err != nil {
			return err
		}
		if !m.IsAuthenticated() {
			return errors.New("not logged in")
		}
		return printJSON(stdout, m.User())

	case "status":
		// A failed restore still resolves the session; report it as is.
		_ = m.Initialize(ctx)
		return printJSON(stdout, m.Snapshot())

	case "logout":
		return m.Logout(ctx)

	default:
		return usageError{msg: fmt.Sprintf("unknown command %q", cmd)}
	}
}

// applyFlags overrides cfg with explicitly set flags. The returned cleanup
// releases an in-process miniredis.
func applyFlags(cfg *goSession.Config, opts options, logger *slog.Logger) (func(), error) {
	cleanup := func() {}

	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	if opts.store != "" {
		cfg.Storage.Backend = goSession.StoreBackend(opts.store)
	}
	if opts.storePath != "" {
		cfg.Storage.Path = opts.storePath
	}
	if opts.redisAddr != "" {
		cfg.Storage.RedisAddr = opts.redisAddr
	}
	if opts.events {
		cfg.Events.Enabled = true
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.EnableLatencyHistograms = true
	}

	if cfg.Storage.Backend == goSession.StoreRedis && cfg.Storage.RedisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return cleanup, fmt.Errorf("start miniredis: %w", err)
		}
		cfg.Storage.RedisAddr = mr.Addr()
		cleanup = mr.Close
		logger.Warn("using in-process miniredis; credentials will not survive this process", "addr", mr.Addr())
	}
	return cleanup, nil
}

func buildManager(cfg goSession.Config, opts options, logger *slog.Logger) (*goSession.Manager, error) {
	b := goSession.New().WithConfig(cfg).WithLogger(logger)
	if opts.events {
		b = b.WithEventSink(goSession.NewSlogSink(logger))
	}
	return b.Build()
}

func serveMetrics(addr string, m *goSession.Manager, logger *slog.Logger) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promexport.Handler(m))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func runDemo(ctx context.Context, opts options, logger *slog.Logger, stdout io.Writer) error {
	backend, err := authtest.NewServer(authtest.Options{RotateRefreshTokens: true})
	if err != nil {
		return err
	}
	defer backend.Close()

	cfg := goSession.DefaultConfig()
	cfg.BaseURL = backend.URL
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Events.Enabled = opts.events

	m, err := buildManager(cfg, opts, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	stopMetrics, err := serveMetrics(opts.metricsAddr, m, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"initialize", func() error { return m.Initialize(ctx) }},
		{"register", func() error {
			_, err := m.Register(ctx, "Demo User", "demo@example.com", "demo-password")
			return err
		}},
		{"expire access tokens", func() error { backend.ExpireAccessTokens(); return nil }},
		{"fetch current user (refreshes)", func() error {
			_, err := m.FetchCurrentUser(ctx)
			return err
		}},
		{"logout", func() error { return m.Logout(ctx) }},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		fmt.Fprintf(stdout, "%-32s authenticated=%t\n", step.name, m.IsAuthenticated())
	}

	fmt.Fprintf(stdout, "refresh calls: %d, me calls: %d\n",
		backend.Calls(authtest.EndpointRefresh), backend.Calls(authtest.EndpointMe))

	counters := m.MetricsSnapshot().Counters
	return printJSON(stdout, map[string]uint64{
		"register_success": counters[goSession.MetricRegisterSuccess],
		"refresh_success":  counters[goSession.MetricRefreshSuccess],
		"refresh_rotated":  counters[goSession.MetricRefreshRotated],
		"request_retried":  counters[goSession.MetricRequestRetried],
		"logout":           counters[goSession.MetricLogout],
	})
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

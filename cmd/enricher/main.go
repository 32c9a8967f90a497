package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krishanraja/mindmaker-sub000/internal/app"
	"github.com/krishanraja/mindmaker-sub000/internal/config"
	"github.com/krishanraja/mindmaker-sub000/internal/logging"
	"github.com/krishanraja/mindmaker-sub000/internal/redact"
	"github.com/krishanraja/mindmaker-sub000/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var code int
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
	case "version":
		_, _ = fmt.Fprintln(os.Stdout, version.Current)
	case "serve":
		code = runServe(ctx, os.Args[2:])
	case "resolve":
		code = runResolve(ctx, os.Args[2:])
	case "local":
		code = runLocal(ctx, os.Args[2:])
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		code = 2
	}
	stop()
	os.Exit(code)
}

// commonFlags are accepted by every command and override config file and env.
type commonFlags struct {
	configPath string
	logLevel   string
	provider   string
	cache      string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", os.Getenv("ENRICHER_CONFIG"), "YAML config file (env: ENRICHER_CONFIG)")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level override: debug, info, warn, error")
	fs.StringVar(&c.provider, "provider", "", "Provider override: gemini or vertex")
	fs.StringVar(&c.cache, "cache", "", "Cache override: memory, redis, tiered or none")
}

func (c *commonFlags) load() (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.provider != "" {
		cfg.Enrich.Provider = c.provider
	}
	if c.cache != "" {
		cfg.Enrich.Cache = c.cache
	}
	return cfg, cfg.Validate()
}

func runServe(ctx context.Context, args []string) int {
	var common commonFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	common.register(fs)
	addr := fs.String("addr", "", "Listen address override (env: LISTEN_ADDR)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := common.load()
	if err != nil {
		return configError(err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	a, code := build(ctx, cfg, true)
	if a == nil {
		return code
	}
	defer func() { _ = a.Close() }()

	if err := a.Serve(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "serve failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func runResolve(ctx context.Context, args []string) int {
	var common commonFlags
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(os.Stderr, "resolve requires exactly one domain, email or URL")
		return 2
	}

	cfg, err := common.load()
	if err != nil {
		return configError(err)
	}
	a, code := build(ctx, cfg, false)
	if a == nil {
		return code
	}
	defer func() { _ = a.Close() }()

	rec := a.Resolve(ctx, fs.Arg(0))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "write record: %v\n", err)
		return 1
	}
	return 0
}

func runLocal(ctx context.Context, args []string) int {
	var common commonFlags
	fs := flag.NewFlagSet("local", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	common.register(fs)
	var inputPath, outputPath string
	var workers int
	var requestTimeout time.Duration
	var rateLimitRPS float64
	var failFast bool
	fs.StringVar(&inputPath, "input", "", "Input CSV file path (needs a domain, company_domain, email or website column)")
	fs.StringVar(&outputPath, "output", "", "Output CSV file path")
	fs.IntVar(&workers, "workers", 0, "Concurrent workers override (env: WORKERS)")
	fs.DurationVar(&requestTimeout, "request-timeout", 0, "Per-row timeout override, including retries (env: REQUEST_TIMEOUT)")
	fs.Float64Var(&rateLimitRPS, "rate-limit-rps", -1, "Global rate limit override, 0 disables (env: RATE_LIMIT_RPS)")
	fs.BoolVar(&failFast, "fail-fast", false, "Stop on the first row error (env: FAIL_FAST)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inputPath == "" || outputPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "local requires --input and --output")
		return 2
	}

	cfg, err := common.load()
	if err != nil {
		return configError(err)
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if requestTimeout > 0 {
		cfg.RequestTimeout = requestTimeout
	}
	if rateLimitRPS >= 0 {
		cfg.RateLimitRPS = rateLimitRPS
	}
	if failFast {
		cfg.FailFast = true
	}

	a, code := build(ctx, cfg, false)
	if a == nil {
		return code
	}
	defer func() { _ = a.Close() }()

	if err := a.RunLocal(ctx, inputPath, outputPath); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "local run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func build(ctx context.Context, cfg config.Config, withNotify bool) (*app.App, int) {
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	a, err := app.New(ctx, cfg, app.Deps{Logger: logger}, withNotify)
	if err != nil {
		return nil, configError(err)
	}
	return a, 0
}

func configError(err error) int {
	_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
	return 2
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `enricher: company enrichment and transactional email

Usage:
  enricher <command> [flags]

Commands:
  serve    Run the HTTP API (/v1/enrich, /v1/leads, /v1/contact, /healthz, /metrics)
  resolve  Enrich one domain, email or URL and print the record as JSON
  local    Enrich every row of a local CSV
  version  Print the version

Examples:
  enricher serve --config enricher.yaml
  enricher resolve acme.com
  enricher local --input domains.csv --output enriched.csv

Environment (selection):
  ENRICHER_CONFIG       YAML config file
  ENRICH_PROVIDER       gemini or vertex
  ENRICH_CACHE          memory, redis, tiered or none
  GEMINI_API_KEY        Gemini API key (gemini provider)
  VERTEX_PROJECT        Vertex project (vertex provider)
  CREDENTIAL_KEY_FILE   Service account key file (vertex provider)
  REDIS_URL             redis:// URL (redis and tiered caches)
  NOTIFY_SENDER         resend, shoutrrr or log
  NOTIFY_OWNER_EMAIL    Recipient of lead and contact notifications
  RESEND_API_KEY        Resend API key (resend sender)

`)
}

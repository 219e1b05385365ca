package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"agentstudio/internal/browseruse"
	"agentstudio/internal/config"
	"agentstudio/internal/logging"
	"agentstudio/internal/observability"
	"agentstudio/internal/output"
	"agentstudio/internal/research"
	"agentstudio/internal/tasktemplate"
)

// isTTY checks if the current environment has a TTY available
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

type rootOptions struct {
	configPath      string
	apiKey          string
	baseURL         string
	llmModel        string
	logLevel        string
	pollInterval    time.Duration
	maxPollDuration time.Duration
	noColor         bool
}

// overrides turns explicitly set flags into config overrides.
func (o *rootOptions) overrides(cmd *cobra.Command) config.Overrides {
	var ov config.Overrides
	flags := cmd.Flags()
	if flags.Changed("api-key") {
		ov.APIKey = &o.apiKey
	}
	if flags.Changed("base-url") {
		ov.BaseURL = &o.baseURL
	}
	if flags.Changed("model") {
		ov.LLMModel = &o.llmModel
	}
	if flags.Changed("log-level") {
		ov.LogLevel = &o.logLevel
	}
	if flags.Changed("poll-interval") {
		ov.PollInterval = &o.pollInterval
	}
	if flags.Changed("max-duration") {
		ov.MaxPollDuration = &o.maxPollDuration
	}
	return ov
}

// runtime bundles the wired components a command needs.
type runtime struct {
	config  config.Config
	meta    config.Metadata
	logger  *observability.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	catalog *tasktemplate.Catalog
	client  *browseruse.Client
	service *research.Service
	printer *output.Printer
	out     io.Writer
}

func (o *rootOptions) load(cmd *cobra.Command, extra ...config.Option) (*runtime, error) {
	opts := []config.Option{config.WithOverrides(o.overrides(cmd))}
	if o.configPath != "" {
		opts = append(opts, config.WithConfigPath(o.configPath))
	}
	opts = append(opts, extra...)

	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Interactive commands stay quiet unless a level was asked for.
	if meta.Source("logging.level") == config.SourceDefault && cmd.Name() != "serve" {
		cfg.Observability.Logging.Level = "warn"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	logging.SetDefault(logger)

	metrics, err := observability.NewMetricsCollector(cfg.Observability.Metrics)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	cfg.Observability.Tracing.ServiceVersion = version
	tracer, err := observability.NewTracerProvider(cfg.Observability.Tracing)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
		tracer = observability.NoopTracer()
	}

	catalog := tasktemplate.Builtin()
	client := browseruse.NewClient(cfg,
		browseruse.WithLogger(logging.FromObservabilityWithComponent(logger, "browser-use")),
		browseruse.WithMetrics(metrics),
		browseruse.WithTracer(tracer),
		browseruse.WithCatalog(catalog),
	)
	service, err := research.NewService(client, research.ConfigFrom(cfg),
		research.WithLogger(logging.FromObservabilityWithComponent(logger, "research")),
		research.WithMetrics(metrics),
		research.WithTracer(tracer),
		research.WithCatalog(catalog),
	)
	if err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	width := output.TerminalWidth(out)
	printer := output.NewPrinter(out, !o.noColor && isTTY(), output.WithMarkdown(markdownFor(out, width)))

	return &runtime{
		config:  cfg,
		meta:    meta,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		catalog: catalog,
		client:  client,
		service: service,
		printer: printer,
		out:     out,
	}, nil
}

func markdownFor(out io.Writer, width int) output.MarkdownRenderer {
	if width <= 0 {
		return output.PlainMarkdown()
	}
	return output.DefaultMarkdownRenderer(width)
}

// Close stops polling and flushes telemetry.
func (r *runtime) Close() {
	r.service.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracer.Shutdown(ctx); err != nil {
		r.logger.Warn("Tracer shutdown failed", "error", err)
	}
	if err := r.metrics.Shutdown(ctx); err != nil {
		r.logger.Warn("Metrics shutdown failed", "error", err)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "agentstudio",
		Short:         "Run and follow Browser Use research tasks",
		Long:          "agentstudio starts remote browser automation tasks, follows their progress, and collects screenshots, files and structured results.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (yaml, json or toml)")
	flags.StringVar(&opts.apiKey, "api-key", "", "Browser Use API key (defaults to "+config.APIKeyEnv+")")
	flags.StringVar(&opts.baseURL, "base-url", config.DefaultBaseURL, "Browser Use API base URL")
	flags.StringVarP(&opts.llmModel, "model", "m", "", "LLM model for new tasks")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.DurationVar(&opts.pollInterval, "poll-interval", config.DefaultPollInterval, "Status polling interval")
	flags.DurationVar(&opts.maxPollDuration, "max-duration", config.DefaultMaxPollDuration, "Stop following a task after this long")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable coloured output")

	root.AddCommand(
		newRunCommand(opts),
		newStatusCommand(opts),
		newScreenshotsCommand(opts),
		newFilesCommand(opts),
		newServeCommand(opts),
		newTemplatesCommand(opts),
		newVersionCommand(),
	)
	return root
}

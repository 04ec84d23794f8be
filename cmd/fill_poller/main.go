package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"time"

	"pnl_monitor/internal/alert"
	"pnl_monitor/internal/app"
	"pnl_monitor/internal/config"
	"pnl_monitor/internal/core"
	"pnl_monitor/internal/filllog"
	"pnl_monitor/internal/infrastructure/health"
	"pnl_monitor/internal/infrastructure/metrics"
	"pnl_monitor/internal/mirror"
	"pnl_monitor/internal/poller"
	"pnl_monitor/internal/sched"
	"pnl_monitor/internal/venue"
	"pnl_monitor/pkg/logging"
	"pnl_monitor/pkg/telemetry"
)

var (
	configFile     = flag.String("config", "configs/config.yaml", "Path to configuration file")
	intervalFlag   = flag.Int("interval", 0, "Poll interval in seconds (overrides config)")
	quietFlag      = flag.Bool("quiet", false, "Console prints warnings and errors only")
	maxRetriesFlag = flag.Int("max-retries", 0, "Per-tick fetch retry budget (overrides config)")
	startTimeFlag  = flag.String("start-time", "", "RFC3339 lower bound for the first fetch (overrides config)")
)

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}
	if envInterval := os.Getenv("POLL_INTERVAL"); envInterval != "" {
		if v, err := strconv.Atoi(envInterval); err == nil {
			*intervalFlag = v
		}
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		bootLogger, _ := logging.NewZapLogger("INFO")
		bootLogger.Fatal("Failed to load configuration", "config", *configFile, "error", err)
	}
	if *intervalFlag > 0 {
		cfg.Poller.IntervalSeconds = *intervalFlag
	}
	if *quietFlag {
		cfg.Poller.Quiet = true
	}
	if *maxRetriesFlag > 0 {
		cfg.Poller.MaxRetries = *maxRetriesFlag
	}
	if *startTimeFlag != "" {
		cfg.Poller.StartTime = *startTimeFlag
	}

	logger, err := logging.New(logging.Options{
		Level:    cfg.System.LogLevel,
		Quiet:    cfg.Poller.Quiet,
		FilePath: cfg.System.LogFile,
		Scope:    "fill_poller",
	})
	if err != nil {
		bootLogger, _ := logging.NewZapLogger("INFO")
		bootLogger.Fatal("Failed to initialize logger", "error", err)
	}
	defer logger.Sync()
	logging.SetGlobalLogger(logger)

	if cfg.Venue.BaseURL == "" {
		logger.Fatal("venue.base_url must be configured for the fill poller")
	}
	if *startTimeFlag != "" {
		if _, err := time.Parse(time.RFC3339, *startTimeFlag); err != nil {
			logger.Fatal("--start-time must be RFC3339", "value", *startTimeFlag)
		}
	}

	if cfg.Telemetry.EnableMetrics {
		tel, err := telemetry.Setup("fill_poller")
		if err != nil {
			logger.Fatal("Failed to initialize telemetry", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tel.Shutdown(ctx)
		}()
	}

	logger.Info("Starting fill poller",
		"venue", cfg.Venue.BaseURL,
		"fill_log", cfg.Storage.FillLogPath,
		"interval_s", cfg.Poller.IntervalSeconds)

	writer, err := filllog.NewWriter(cfg.Storage.FillLogPath)
	if err != nil {
		logger.Fatal("Failed to open fill log", "path", cfg.Storage.FillLogPath, "error", err)
	}
	defer writer.Close()

	var fillMirror core.IFillMirror
	if cfg.Storage.MirrorEnabled {
		m, err := mirror.NewSQLiteMirror(cfg.Storage.MirrorPath, logger)
		if err != nil {
			logger.Fatal("Failed to open fill mirror", "path", cfg.Storage.MirrorPath, "error", err)
		}
		defer m.Close()
		fillMirror = m
	}

	alerts := alert.NewAlertManager(logger)
	if cfg.Alerts.Enabled && cfg.Alerts.SlackWebhookURL.Reveal() != "" {
		alerts.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL.Reveal()))
	}

	source := venue.NewClient(
		cfg.Venue.BaseURL,
		time.Duration(cfg.Venue.TimeoutSeconds)*time.Second,
		venue.NewStaticTokenProvider(cfg.Venue.APIKey.Reveal()),
		cfg.Venue.AppName,
		cfg.Venue.CompanyName,
		logger,
		venue.WithRateLimit(cfg.Venue.RateLimitRPS, cfg.Venue.RateBurst),
	)

	p := poller.New(poller.Config{
		Backoff:                cfg.PollerBackoff(),
		DedupWindow:            cfg.Poller.DedupWindow,
		StartTime:              cfg.PollerStartTime(),
		MaxConsecutiveFailures: cfg.Poller.MaxConsecutiveFailures,
	}, source, writer, fillMirror, alerts, logger)

	if err := p.Start(context.Background()); err != nil {
		logger.Fatal("Failed to recover poller state from fill log", "error", err)
	}

	runners := []app.Runner{
		sched.New("poller", time.Duration(cfg.Poller.IntervalSeconds)*time.Second, p.Tick, logger),
	}
	if cfg.Telemetry.EnableMetrics {
		hm := health.NewHealthManager(logger)
		hm.Register("poller", p.CheckHealth)
		runners = append(runners, metrics.NewServer(cfg.Telemetry.PollerMetricsPort, hm, logger))
	}

	if err := app.New("fill_poller", logger).Run(runners...); err != nil {
		os.Exit(1)
	}
}

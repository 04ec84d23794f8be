package main

import (
	"context"
	"flag"
	"os"
	"time"

	"pnl_monitor/internal/app"
	"pnl_monitor/internal/config"
	"pnl_monitor/internal/engine"
	"pnl_monitor/internal/filllog"
	"pnl_monitor/internal/infrastructure/health"
	"pnl_monitor/internal/infrastructure/metrics"
	"pnl_monitor/internal/pnllog"
	"pnl_monitor/internal/sched"
	"pnl_monitor/internal/state"
	"pnl_monitor/pkg/logging"
	"pnl_monitor/pkg/telemetry"
)

var (
	configFile    = flag.String("config", "configs/config.yaml", "Path to configuration file")
	intervalFlag  = flag.Int("interval", 0, "Tick interval in seconds (overrides config)")
	startTimeFlag = flag.String("start-time", "", "RFC3339 boundary; earlier rows are consumed without P&L effect (overrides config)")
	outputFlag    = flag.String("output", "", "Realized P&L CSV path (overrides config)")
	resetFlag     = flag.Bool("reset", false, "Discard the persisted checkpoint and replay the whole log")
)

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		bootLogger, _ := logging.NewZapLogger("INFO")
		bootLogger.Fatal("Failed to load configuration", "config", *configFile, "error", err)
	}
	if *intervalFlag > 0 {
		cfg.Engine.IntervalSeconds = *intervalFlag
	}
	if *startTimeFlag != "" {
		cfg.Engine.StartTime = *startTimeFlag
	}
	if *outputFlag != "" {
		cfg.Engine.OutputPath = *outputFlag
	}

	logger, err := logging.New(logging.Options{
		Level:    cfg.System.LogLevel,
		FilePath: cfg.System.LogFile,
		Scope:    "pnl_engine",
	})
	if err != nil {
		bootLogger, _ := logging.NewZapLogger("INFO")
		bootLogger.Fatal("Failed to initialize logger", "error", err)
	}
	defer logger.Sync()
	logging.SetGlobalLogger(logger)

	if *startTimeFlag != "" {
		if _, err := time.Parse(time.RFC3339, *startTimeFlag); err != nil {
			logger.Fatal("--start-time must be RFC3339", "value", *startTimeFlag)
		}
	}

	if cfg.Telemetry.EnableMetrics {
		tel, err := telemetry.Setup("pnl_engine")
		if err != nil {
			logger.Fatal("Failed to initialize telemetry", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tel.Shutdown(ctx)
		}()
	}

	logger.Info("Starting accounting engine",
		"fill_log", cfg.Storage.FillLogPath,
		"output", cfg.Engine.OutputPath,
		"state", cfg.Storage.StatePath,
		"interval_s", cfg.Engine.IntervalSeconds)

	store, err := state.Open(cfg.Storage.StatePath, logger)
	if err != nil {
		logger.Fatal("Failed to open state store", "path", cfg.Storage.StatePath, "error", err)
	}
	defer store.Close()

	ctx := context.Background()
	if *resetFlag {
		if err := store.Reset(ctx); err != nil {
			logger.Fatal("Failed to reset state store", "error", err)
		}
		logger.Info("Checkpoint discarded, replaying fill log from the start")
	}

	output, err := pnllog.NewWriter(cfg.Engine.OutputPath)
	if err != nil {
		logger.Fatal("Failed to open P&L output", "path", cfg.Engine.OutputPath, "error", err)
	}
	defer output.Close()

	reader := filllog.NewReader(cfg.Storage.FillLogPath, logger)

	eng := engine.New(engine.Config{
		PointValue:   cfg.PointValue(),
		StartTime:    cfg.EngineStartTime(),
		DedupWindow:  cfg.Engine.DedupWindow,
		MaxBatchRows: cfg.Engine.MaxBatchRows,
		Filter: engine.Filter{
			Exchange: cfg.Engine.Filter.Exchange,
			Contract: cfg.Engine.Filter.Contract,
			User:     cfg.Engine.Filter.User,
		},
	}, reader, output, store, logger)

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("Failed to load checkpoint; run with --reset to rebuild from the log", "error", err)
	}

	runners := []app.Runner{
		sched.New("engine", time.Duration(cfg.Engine.IntervalSeconds)*time.Second, eng.Tick, logger),
	}
	if cfg.Telemetry.EnableMetrics {
		hm := health.NewHealthManager(logger)
		hm.Register("engine", eng.CheckHealth)
		runners = append(runners, metrics.NewServer(cfg.Telemetry.EngineMetricsPort, hm, logger))
	}

	if err := app.New("pnl_engine", logger).Run(runners...); err != nil {
		os.Exit(1)
	}
}

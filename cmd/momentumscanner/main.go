package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"github.com/rewired-gh/momentumscanner/internal/alertstate"
	"github.com/rewired-gh/momentumscanner/internal/config"
	"github.com/rewired-gh/momentumscanner/internal/indicator"
	"github.com/rewired-gh/momentumscanner/internal/indodax"
	"github.com/rewired-gh/momentumscanner/internal/logger"
	"github.com/rewired-gh/momentumscanner/internal/metrics"
	"github.com/rewired-gh/momentumscanner/internal/scanner"
	sig "github.com/rewired-gh/momentumscanner/internal/signal"
	"github.com/rewired-gh/momentumscanner/internal/telegram"
)

var (
	configPath = flag.StringP("config", "c", "", "Path to configuration file (defaults and env only when empty)")
	envFile    = flag.String("env-file", ".env", "Path to an optional .env file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if *configPath != "" {
		logger.Info("Configuration loaded from %s", *configPath)
	} else {
		logger.Info("Configuration loaded from defaults and environment")
	}

	strategy := sig.Strategy{
		MinVolume: decimal.NewFromFloat(cfg.Strategy.MinVolume),
		RSILower:  cfg.Strategy.RSILower,
		RSIUpper:  cfg.Strategy.RSIUpper,
	}
	if err := strategy.Validate(); err != nil {
		logger.Fatal("Invalid strategy: %v", err)
	}

	location := cfg.Location()
	store := alertstate.New(alertstate.Config{
		Cooldown:       cfg.Alerts.Cooldown,
		PriceBreakPct:  decimal.NewFromFloat(cfg.Alerts.PriceBreakPct),
		RSIBreakPoints: cfg.Alerts.RSIBreakPoints,
		Location:       location,
	})

	indodaxClient := indodax.NewClient(
		cfg.Indodax.BaseURL,
		cfg.Indodax.RequestTimeout,
		indodax.ClientConfig{
			Quote:          cfg.Indodax.Quote,
			Timeframe:      cfg.Indodax.CandleTimeframe,
			Lookback:       cfg.Indodax.CandleLookback,
			MaxRetries:     cfg.Indodax.MaxRetries,
			RetryDelayBase: cfg.Indodax.RetryDelayBase,
		},
	)

	m := metrics.New()
	health := metrics.NewHealth(3*cfg.Indodax.ScanInterval + cfg.Indodax.RateLimitCooloffMax)

	scannerOpts := []scanner.Option{
		scanner.WithMetrics(m),
		scanner.WithEngine(indicator.Engine{
			RSIPeriod:  cfg.Strategy.RSIPeriod,
			SMAPeriod:  cfg.Strategy.SMAPeriod,
			MinHistory: cfg.Strategy.MinHistory,
		}),
	}
	runnerOpts := []scanner.RunnerOption{
		scanner.WithHealth(health),
		scanner.WithClock(scanner.SystemClock{Location: location}),
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")

		formatter := telegram.Formatter{Location: location, ZoneLabel: cfg.Alerts.ZoneLabel}
		scannerOpts = append(scannerOpts, scanner.WithNotifier(telegramClient, formatter.FormatAlert))
		runnerOpts = append(runnerOpts, scanner.WithHealthNotifier(telegramClient))
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	scan := scanner.New(indodaxClient, indodaxClient, store, strategy, scanner.Config{
		CandleFetchDelay: cfg.Indodax.CandleFetchDelay,
		RequestTimeout:   cfg.Indodax.RequestTimeout,
	}, scannerOpts...)

	runner := scanner.NewRunner(scan, store, scanner.RunnerConfig{
		Interval: cfg.Indodax.ScanInterval,
		Backoff: scanner.Backoff{
			Base: cfg.Indodax.RateLimitCooloff,
			Max:  cfg.Indodax.RateLimitCooloffMax,
		},
	}, runnerOpts...)

	var metricsServer *metrics.Server
	if cfg.Metrics.ListenAddr != "" {
		metricsServer = metrics.NewServer(cfg.Metrics.ListenAddr, m, health)
		metricsServer.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, runner.Status)
	}

	logger.Info("Starting momentum scanner (interval: %v, min_volume: %s, rsi: %.0f-%.0f, cooldown: %v)",
		cfg.Indodax.ScanInterval,
		strategy.MinVolume,
		strategy.RSILower,
		strategy.RSIUpper,
		cfg.Alerts.Cooldown,
	)

	runner.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop metrics server: %v", err)
		}
	}
	logger.Info("Service stopped")
}

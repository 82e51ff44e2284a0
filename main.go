package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cryptodash/config"
	"cryptodash/internal/alert"
	"cryptodash/internal/cache"
	"cryptodash/internal/dashboard"
	"cryptodash/internal/metrics"
	"cryptodash/internal/poller"
	"cryptodash/internal/snapshot"
	"cryptodash/internal/watchlist"
	"cryptodash/logger"
	"cryptodash/reader/coingecko"
	"cryptodash/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting cryptodash")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.SetMetricSink(metrics.Forward)
	if err := metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch); err != nil {
		log.WithError(err).Warn("cloudwatch metrics disabled")
		metrics.DisableCloudWatch()
	} else if cfg.Metrics.CloudWatch.Enabled {
		logger.SetReportSink(metrics.PublishReport)
	}
	if cfg.Logging.ReportInterval > 0 {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	responseCache, err := cache.New(cfg.Cache)
	if err != nil {
		log.WithError(err).Error("failed to create response cache")
		os.Exit(1)
	}

	client := coingecko.NewClient(cfg.Source, responseCache, log)
	defer client.Close()

	store := snapshot.New(snapshot.Config{
		CycleMinutes:   cfg.Poller.CycleMinutes,
		Retention:      cfg.Snapshot.Retention,
		ToleranceRatio: cfg.Snapshot.ToleranceRatio,
	}, log)

	alerts := alert.NewEvaluator(alert.Config{
		Thresholds: alert.Thresholds{
			Price5m:     cfg.Alerts.Price5m,
			Price15m:    cfg.Alerts.Price15m,
			VolumeSpike: cfg.Alerts.VolumeSpike,
			VolumeDrop:  cfg.Alerts.VolumeDrop,
		},
		MaxAlerts:      cfg.Alerts.MaxAlerts,
		DedupRetention: cfg.Alerts.DedupRetention,
	}, log)

	watched := watchlist.New(cfg.Watchlist.Defaults, log)

	var publishers []alert.Publisher
	if cfg.Kafka.Enabled {
		kafkaWriter, err := writer.NewKafkaWriter(cfg.Kafka, log)
		if err != nil {
			log.WithError(err).Error("failed to create kafka alert writer")
			os.Exit(1)
		}
		publishers = append(publishers, kafkaWriter)
	} else {
		log.WithComponent("main").Info("kafka disabled; alerts stay in memory")
	}

	exportWriter, err := writer.NewExportWriter(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to create export writer")
		os.Exit(1)
	}

	collectors := metrics.NewCollectors()

	driver := poller.New(poller.Config{
		Interval:               cfg.Poller.Interval,
		FetchTimeout:           cfg.Source.Timeout,
		Query:                  client.DefaultQuery(),
		MaxConsecutiveFailures: cfg.Poller.MaxConsecutiveFailures,
		AutoExportEvery:        cfg.Poller.AutoExportEvery,
	}, poller.Deps{
		Fetcher:    client,
		Store:      store,
		Alerts:     alerts,
		Publishers: publishers,
		Exporter:   exportWriter,
		Metrics:    collectors,
		Log:        log,
	})

	server, err := dashboard.NewServer(cfg.Dashboard, dashboard.Backend{
		Driver:    driver,
		Store:     store,
		Alerts:    alerts,
		Watchlist: watched,
		Exporter:  exportWriter,
		Source:    client,
		Metrics:   collectors,
		View:      cfg.View,
		ExportDir: cfg.Export.Directory,
	}, log)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := driver.Run(ctx); err != nil {
			log.WithError(err).Warn("poller stopped with error")
		}
	}()

	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				log.WithError(err).Error("dashboard server failed")
				cancel()
			}
		}()
	} else {
		log.WithComponent("main").Info("dashboard disabled")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	for _, p := range publishers {
		if err := p.Close(); err != nil {
			log.WithError(err).Warn("failed to close alert publisher")
		}
	}

	log.Info("cryptodash stopped")
}

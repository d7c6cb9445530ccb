package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"hybrid-ids/internal/alert"
	"hybrid-ids/internal/anomaly"
	"hybrid-ids/internal/capture"
	"hybrid-ids/internal/metrics"
	"hybrid-ids/internal/model"
	"hybrid-ids/internal/pipeline"
	"hybrid-ids/internal/rules"
	"hybrid-ids/internal/storage"
	"hybrid-ids/internal/utils"

	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	var (
		configFile   = flag.String("config", utils.DefaultConfigPath, "Configuration file path (YAML)")
		pcapPath     = flag.String("pcap", "", "Read events from a pcap or pcapng file")
		eventsPath   = flag.String("events", "", "Read events from a JSON-lines file")
		hubbleServer = flag.String("hubble", "", "Read events from a Hubble relay (host:port)")
		limit        = flag.Int("limit", -1, "Maximum number of events to read (0 = no limit)")
		window       = flag.Int("window", 0, "Aggregation window in seconds (overrides config)")
		showVersion  = flag.Bool("version", false, "Show version information")
		testTelegram = flag.Bool("test-telegram", false, "Send test message to Telegram")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("Hybrid IDS v%s\n", version)
		return
	}

	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load YAML config %s: %v\n", *configFile, err)
		fmt.Println("Using default configuration...")
		config = utils.GetDefaultConfig()
	} else {
		fmt.Printf("✅ Loaded configuration from %s\n", *configFile)
	}

	switch {
	case *pcapPath != "":
		config.Source.Type = utils.SourceTypePcap
		config.Source.PcapPath = *pcapPath
	case *eventsPath != "":
		config.Source.Type = utils.SourceTypeJSONL
		config.Source.EventsPath = *eventsPath
	case *hubbleServer != "":
		config.Source.Type = utils.SourceTypeHubble
		config.Source.HubbleServer = *hubbleServer
	}
	if *limit >= 0 {
		config.Application.EventLimit = *limit
	}
	if *window != 0 {
		config.Application.WindowSeconds = *window
	}
	if err := config.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := utils.NewLogger(config.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(2)
	}

	if *testTelegram {
		fmt.Println("Testing Telegram notification...")
		if err := newTelegramNotifier(config, logger).SendAlert(model.NewStartupAlert(nowUTC())); err != nil {
			fmt.Printf("❌ Telegram test failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Telegram test message sent")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		logger.Errorf("Run failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config *utils.Config, logger *logrus.Logger) error {
	var m *metrics.PrometheusMetrics
	if config.Application.MetricsPort != "" {
		exporter := alert.NewPrometheusExporter(config.Application.MetricsPort, nil, logger)
		m = exporter.GetMetrics()

		exporterCtx, exporterCancel := context.WithCancel(ctx)
		defer exporterCancel()
		go func() {
			if err := exporter.Start(exporterCtx); err != nil {
				logger.Errorf("Prometheus exporter error: %v", err)
			}
		}()
	}

	store, err := openStore(ctx, config, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", config.Storage.Type, err)
	}
	defer store.Close()

	opts := []pipeline.Option{
		pipeline.WithMetrics(m),
		pipeline.WithFlowSink(storage.StoreFlowSink{Store: store}),
	}

	if config.Storage.ClickHouse.Enabled {
		ch := config.Storage.ClickHouse
		writer, err := storage.NewClickHouseFlowWriter(ctx, storage.ClickHouseConfig{
			Host:     ch.Host,
			Port:     ch.Port,
			Database: ch.Database,
			Username: ch.Username,
			Password: ch.Password,
		}, logger)
		if err != nil {
			logger.Warnf("ClickHouse flow export unavailable: %v", err)
		} else {
			defer writer.Close()
			opts = append(opts, pipeline.WithFlowSink(writer))
		}
	}

	engine := rules.NewEngine(logger)
	if err := utils.RegisterBuiltinRules(engine, config, logger); err != nil {
		return err
	}
	closeNotifiers := registerAlertNotifiers(engine, config, store, logger)
	defer closeNotifiers()

	if config.Anomaly.Enabled {
		a := config.Anomaly
		artifacts := anomaly.NewFileArtifactStore(a.ModelDir, a.ModelFile, a.ScalerFile)
		detector, err := anomaly.NewDetector(anomaly.Config{
			MinTrainingFlows: a.MinTrainingFlows,
			NEstimators:      a.NEstimators,
			Contamination:    a.Contamination,
			Seed:             a.RandomSeed,
		}, artifacts, logger, anomaly.WithMetrics(m))
		if err != nil {
			return fmt.Errorf("load anomaly model from %s: %w", a.ModelDir, err)
		}
		logger.Infof("[Anomaly] Detector state: %s", detector.State())
		opts = append(opts, pipeline.WithDetector(detector))
	}

	source, closeSource, err := openSource(config, logger, m)
	if err != nil {
		return err
	}
	defer closeSource()

	events, err := source.Events(ctx, config.Application.EventLimit)
	if err != nil {
		return fmt.Errorf("read %s events: %w", source.Name(), err)
	}

	processor := pipeline.NewProcessor(engine, config.Application.WindowSeconds, logger, opts...)
	result, err := processor.Run(ctx, events)
	if err != nil {
		return err
	}

	fmt.Printf("\nRun %s: %d events, %d flows, %d alerts\n", result.RunID, len(events), len(result.Flows), len(result.Alerts))
	return nil
}

func openStore(ctx context.Context, config *utils.Config, logger *logrus.Logger) (storage.Store, error) {
	if config.Storage.Type == utils.StorageTypePostgres {
		pg := config.Storage.Postgres
		return storage.NewPostgresStore(ctx, storage.PostgresConfig{
			URL:            pg.URL,
			MaxConnections: pg.MaxConnections,
			MinConnections: pg.MinConnections,
		}, logger)
	}
	return storage.NewMemoryStore(logger), nil
}

func openSource(config *utils.Config, logger *logrus.Logger, m *metrics.PrometheusMetrics) (capture.Source, func(), error) {
	noop := func() {}
	switch config.Source.Type {
	case utils.SourceTypeHubble:
		src, err := capture.NewHubbleSource(config.Source.HubbleServer, config.Source.Namespaces, logger, m)
		if err != nil {
			return nil, noop, fmt.Errorf("connect to hubble relay %s: %w", config.Source.HubbleServer, err)
		}
		return src, func() { src.Close() }, nil
	case utils.SourceTypeJSONL:
		if config.Source.EventsPath == "" {
			return nil, noop, fmt.Errorf("no events file given (-events or source.events_path)")
		}
		return capture.NewJSONLSource(filepath.Clean(config.Source.EventsPath), logger, m), noop, nil
	default:
		if config.Source.PcapPath == "" {
			return nil, noop, fmt.Errorf("no pcap file given (-pcap or source.pcap_path)")
		}
		return capture.NewPcapSource(filepath.Clean(config.Source.PcapPath), logger, m), noop, nil
	}
}

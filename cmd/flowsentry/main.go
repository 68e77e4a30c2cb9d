package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"flowsentry/config"
	"flowsentry/internal/accumstore"
	"flowsentry/internal/alerts"
	"flowsentry/internal/analyzer"
	"flowsentry/internal/dataset"
	"flowsentry/internal/evalset"
	inputredis "flowsentry/internal/input/redis"
	"flowsentry/internal/intake"
	"flowsentry/internal/logger"
	"flowsentry/internal/metrics"
	"flowsentry/internal/modelstore"
	"flowsentry/internal/output/alerthttp"
	"flowsentry/internal/output/alertjson"
	"flowsentry/internal/output/perfclickhouse"
	"flowsentry/internal/perftrack"
	"flowsentry/internal/pipeline"
	"flowsentry/internal/poisoning"
	"flowsentry/internal/retrain"
	"flowsentry/internal/rules"
	"flowsentry/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("flowsentry.yml"); err == nil {
		return "flowsentry.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "flowsentry.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "flowsentry.yml"
}

func applyDefaults(cfg *config.Config) {
	fs := &cfg.FlowSentry

	if fs.Input.Redis.Addr == "" {
		fs.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if fs.Input.Redis.Key == "" {
		fs.Input.Redis.Key = "network_flows"
	}
	if fs.Input.Redis.BlockTimeout == 0 {
		fs.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if fs.Pipeline.Workers <= 0 {
		fs.Pipeline.Workers = 4
	}
	if fs.Pipeline.BatchSize <= 0 {
		fs.Pipeline.BatchSize = 200
	}
	if fs.Pipeline.FlushInterval <= 0 {
		fs.Pipeline.FlushInterval = 2 * time.Second
	}

	if fs.Detection.ZScoreThreshold <= 0 {
		fs.Detection.ZScoreThreshold = 1.4
	}
	if fs.Detection.DetectionFraction <= 0 {
		fs.Detection.DetectionFraction = 0.10
	}
	if fs.Detection.AlertConfidence <= 0 {
		fs.Detection.AlertConfidence = 0.40
	}

	if fs.Alerts.Cooldown < 0 {
		fs.Alerts.Cooldown = 0
	}
	if fs.Alerts.MaxFeatures <= 0 {
		fs.Alerts.MaxFeatures = 10
	}
	if fs.Alerts.Output.Mode == "" {
		fs.Alerts.Output.Mode = "file"
	}
	if fs.Alerts.Output.File.Path == "" {
		fs.Alerts.Output.File.Path = "output/alerts.jsonl"
	}

	if fs.Datasets.BasePath == "" {
		fs.Datasets.BasePath = "data/base_corpus.csv"
	}
	if fs.Datasets.EvalSetPath == "" {
		fs.Datasets.EvalSetPath = "data/eval_set.csv"
	}
	if fs.Datasets.EvalSize <= 0 {
		fs.Datasets.EvalSize = 500
	}
	if fs.Datasets.AccumDir == "" {
		fs.Datasets.AccumDir = "data/accumulated"
	}
	if fs.Datasets.ModelDir == "" {
		fs.Datasets.ModelDir = "data/models"
	}

	if fs.Retraining.Interval <= 0 {
		fs.Retraining.Interval = 5 * time.Minute
	}
	if fs.Retraining.MinSamples <= 0 {
		fs.Retraining.MinSamples = 50
	}

	if fs.Poisoning.Strategy == "" {
		fs.Poisoning.Strategy = models.StrategyLabelFlip
	}
	if fs.Poisoning.State.Mode == "" {
		fs.Poisoning.State.Mode = "file"
	}
	if fs.Poisoning.State.File.Path == "" {
		fs.Poisoning.State.File.Path = "data/poisoning/poisoning_state.json"
	}

	if fs.Ledger.Path == "" {
		fs.Ledger.Path = "data/output/performance_over_time.csv"
	}
	if fs.Ledger.ClickHouse.Database == "" {
		fs.Ledger.ClickHouse.Database = "flowsentry"
	}
	if fs.Ledger.ClickHouse.Table == "" {
		fs.Ledger.ClickHouse.Table = "model_performance"
	}

	if fs.Metrics.Listen == "" {
		fs.Metrics.Listen = ":9320"
	}

	if fs.Logging.Level == "" {
		fs.Logging.Level = "info"
	}
}

func loadRuntimeConfig(configArg string) (*config.Config, string) {
	configPath := findConfigFile(configArg)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)
	return cfg, configPath
}

func newPoisoningMachine(fs *config.FlowSentryConfig) *poisoning.Machine {
	var store poisoning.Store
	switch fs.Poisoning.State.Mode {
	case "redis":
		s, err := poisoning.NewRedisStore(poisoning.RedisConfig{
			Addr:     fs.Poisoning.State.Redis.Addr,
			Password: fs.Poisoning.State.Redis.Password,
			DB:       fs.Poisoning.State.Redis.DB,
			Key:      fs.Poisoning.State.Redis.Key,
		})
		if err != nil {
			log.Fatalf("Failed to create poisoning redis store: %v", err)
		}
		store = s
	default:
		s, err := poisoning.NewFileStore(fs.Poisoning.State.File.Path)
		if err != nil {
			log.Fatalf("Failed to create poisoning file store: %v", err)
		}
		store = s
	}

	machine, err := poisoning.NewMachine(store, fs.Poisoning.Seed)
	if err != nil {
		log.Fatalf("Failed to restore poisoning state: %v", err)
	}
	return machine
}

func cycleConfigProvider(configArg string, fallback *config.Config) retrain.ConfigProvider {
	return func() retrain.CycleConfig {
		cfg := fallback
		if fresh, err := config.LoadConfig(findConfigFile(configArg)); err == nil {
			applyDefaults(fresh)
			cfg = fresh
		} else {
			logger.Warnf("Config reload failed, using previous snapshot: %v", err)
		}
		fs := cfg.FlowSentry
		return retrain.CycleConfig{
			MinSamples: fs.Retraining.MinSamples,
			Thresholds: models.Thresholds{
				ZScore:          fs.Detection.ZScoreThreshold,
				DetectionFrac:   fs.Detection.DetectionFraction,
				AlertConfidence: fs.Detection.AlertConfidence,
			},
			Poisoning: fs.Poisoning.PoisoningConfig,
		}
	}
}

func runService(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}
	cfg, configPath := loadRuntimeConfig(configArg)
	fs := &cfg.FlowSentry

	if err := logger.Init(fs.Logging.Enabled, fs.Logging.Level, fs.Logging.File, fs.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("FlowSentry starting")
	logger.Infof("Config loaded from: %s", configPath)

	base, err := dataset.Load(fs.Datasets.BasePath)
	if err != nil {
		log.Fatalf("Failed to load base corpus: %v", err)
	}
	logger.Infof("Base corpus loaded: path=%s rows=%d", fs.Datasets.BasePath, len(base))

	evalRecords, training, err := evalset.Bootstrap(fs.Datasets.EvalSetPath, base, fs.Datasets.EvalSize, fs.Datasets.Seed)
	if err != nil {
		log.Fatalf("Failed to bootstrap evaluation set: %v", err)
	}
	logger.Infof("Evaluation holdout: eval=%d training=%d", len(evalRecords), len(training))

	accum, err := accumstore.NewStore(fs.Datasets.AccumDir)
	if err != nil {
		log.Fatalf("Failed to open accumulation store: %v", err)
	}
	logger.Infof("Accumulation store opened: dir=%s partitions=%d rows=%d",
		fs.Datasets.AccumDir, accum.PartitionCount(), accum.Len())

	machine := newPoisoningMachine(fs)
	if _, err := machine.Reconfigure(fs.Poisoning.PoisoningConfig); err != nil {
		logger.Errorf("Poisoning config rejected at startup: %v", err)
	}

	var ledgerSink perftrack.Sink
	if fs.Ledger.ClickHouse.Enabled {
		w, err := perfclickhouse.NewWriter(perfclickhouse.Config{
			URL:      fs.Ledger.ClickHouse.URL,
			Database: fs.Ledger.ClickHouse.Database,
			Table:    fs.Ledger.ClickHouse.Table,
			Username: fs.Ledger.ClickHouse.Username,
			Password: fs.Ledger.ClickHouse.Password,
			Timeout:  fs.Ledger.ClickHouse.Timeout,
			Headers:  fs.Ledger.ClickHouse.Headers,
		})
		if err != nil {
			log.Fatalf("Failed to create ledger ClickHouse writer: %v", err)
		}
		ledgerSink = w
		logger.Infof("Ledger mirror: clickhouse (%s/%s.%s)",
			fs.Ledger.ClickHouse.URL, fs.Ledger.ClickHouse.Database, fs.Ledger.ClickHouse.Table)
	}

	tracker, err := perftrack.NewTracker(fs.Ledger.Path, ledgerSink)
	if err != nil {
		log.Fatalf("Failed to open performance ledger: %v", err)
	}

	modelDir, err := modelstore.NewStore(fs.Datasets.ModelDir)
	if err != nil {
		log.Fatalf("Failed to open model store: %v", err)
	}

	mset := metrics.New()
	hooks := retrain.Hooks{
		OnOutcome: func(out retrain.Outcome) {
			switch out {
			case retrain.OutcomeCompleted:
				mset.CyclesCompleted.Inc()
			case retrain.OutcomeSkipped:
				mset.CyclesSkipped.Inc()
			case retrain.OutcomeFailed:
				mset.CyclesFailed.Inc()
			case retrain.OutcomeDropped:
				mset.CyclesDropped.Inc()
			}
			if machine.State().IsActive {
				mset.PoisoningActive.Set(1)
			} else {
				mset.PoisoningActive.Set(0)
			}
			mset.AccumulatedRows.Set(float64(accum.Len()))
		},
		OnMetrics: mset.ObserveEval,
	}

	orch, err := retrain.New(training, accum, machine, tracker, modelDir, evalRecords,
		cycleConfigProvider(configArg, cfg), hooks)
	if err != nil {
		log.Fatalf("Failed to create retraining orchestrator: %v", err)
	}
	if err := orch.Bootstrap(); err != nil {
		log.Fatalf("Failed to train initial model: %v", err)
	}

	var engine rules.Engine
	if fs.Rules.Enabled {
		if strings.TrimSpace(fs.Rules.Path) == "" {
			logger.Warnf("Rules enabled but rules.path is empty; rule tagging disabled")
		} else {
			sigmaEngine, stats, err := rules.NewSigmaEngine(fs.Rules.Path)
			if err != nil {
				logger.Errorf("Failed to load Sigma rules from %s: %v", fs.Rules.Path, err)
				log.Fatalf("Failed to load Sigma rules: %v", err)
			}
			engine = sigmaEngine
			logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_datasource=%d skipped_invalid=%d files=%d",
				stats.Loaded,
				stats.SkippedComplex,
				stats.SkippedDatasource,
				stats.SkippedInvalid,
				stats.TotalFiles,
			)
			if stats.Loaded == 0 {
				logger.Warnf("No compatible Sigma rules loaded; rule tagging is effectively disabled")
			}
		}
	}

	var alertWriter pipeline.AlertWriter
	if fs.Alerts.Enabled {
		switch fs.Alerts.Output.Mode {
		case "file":
			w, err := alertjson.NewWriter(fs.Alerts.Output.File.Path)
			if err != nil {
				log.Fatalf("Failed to create alert file writer: %v", err)
			}
			alertWriter = w
			logger.Infof("Alert output mode: file (%s)", fs.Alerts.Output.File.Path)
		case "http":
			w, err := alerthttp.NewWriter(alerthttp.Config{
				URL:     fs.Alerts.Output.HTTP.URL,
				Timeout: fs.Alerts.Output.HTTP.Timeout,
				Headers: fs.Alerts.Output.HTTP.Headers,
			})
			if err != nil {
				log.Fatalf("Failed to create alert HTTP writer: %v", err)
			}
			alertWriter = w
			logger.Infof("Alert output mode: http (%s)", fs.Alerts.Output.HTTP.URL)
		default:
			log.Fatalf("Unknown alert output mode: %s", fs.Alerts.Output.Mode)
		}
	}
	builder := alerts.NewBuilder(alerts.Config{
		Cooldown:    fs.Alerts.Cooldown,
		MaxFeatures: fs.Alerts.MaxFeatures,
	})

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         fs.Input.Redis.Addr,
		Password:     fs.Input.Redis.Password,
		DB:           fs.Input.Redis.DB,
		Key:          fs.Input.Redis.Key,
		BlockTimeout: fs.Input.Redis.BlockTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	in := intake.New(machine, accum, func(n int) {
		mset.PoisonedSamples.Add(float64(n))
	})

	pipe := pipeline.NewDetectPipeline(
		consumer,
		engine,
		orch,
		in,
		builder,
		alertWriter,
		mset,
		fs.Pipeline.Workers,
		fs.Pipeline.BatchSize,
		fs.Pipeline.FlushInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if fs.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", mset.Handler())
		srv := &http.Server{Addr: fs.Metrics.Listen, Handler: mux}
		go func() {
			logger.Infof("Metrics endpoint listening on %s", fs.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
		defer srv.Close()
	}

	go func() {
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(fs.Retraining.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := orch.RunCycle(ctx); err != nil && ctx.Err() == nil {
					logger.Errorf("Retraining cycle failed: %v", err)
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	logger.Infof("FlowSentry stopped")
}

// runTrain fits one model from the base corpus plus whatever has accumulated
// and exits, without consuming live traffic.
func runTrain(args []string) int {
	fset := flag.NewFlagSet("train", flag.ContinueOnError)
	configArg := fset.String("config", "", "Config file path")
	if err := fset.Parse(args); err != nil {
		return 2
	}

	cfg, configPath := loadRuntimeConfig(*configArg)
	fs := &cfg.FlowSentry

	if err := logger.Init(fs.Logging.Enabled, fs.Logging.Level, fs.Logging.File, true); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Infof("Config loaded from: %s", configPath)

	base, err := dataset.Load(fs.Datasets.BasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base corpus: %v\n", err)
		return 1
	}
	evalRecords, training, err := evalset.Bootstrap(fs.Datasets.EvalSetPath, base, fs.Datasets.EvalSize, fs.Datasets.Seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap evaluation set: %v\n", err)
		return 1
	}
	accum, err := accumstore.NewStore(fs.Datasets.AccumDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open accumulation store: %v\n", err)
		return 1
	}
	machine := newPoisoningMachine(fs)
	tracker, err := perftrack.NewTracker(fs.Ledger.Path, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open performance ledger: %v\n", err)
		return 1
	}
	modelDir, err := modelstore.NewStore(fs.Datasets.ModelDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open model store: %v\n", err)
		return 1
	}

	orch, err := retrain.New(training, accum, machine, tracker, modelDir, evalRecords,
		cycleConfigProvider(*configArg, cfg), retrain.Hooks{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create orchestrator: %v\n", err)
		return 1
	}
	if err := orch.Bootstrap(); err != nil {
		fmt.Fprintf(os.Stderr, "initial training failed: %v\n", err)
		return 1
	}

	outcome, err := orch.RunCycle(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "retraining cycle failed: %v\n", err)
		return 1
	}
	fmt.Printf("trained: outcome=%s cycles=%d model=%s\n", outcome, orch.CompletedCycles(), orch.CurrentModel().ID)
	return 0
}

// runAnalyze reads the performance ledger and reports degradation against
// the pre-poisoning baseline.
func runAnalyze(args []string) int {
	fset := flag.NewFlagSet("analyze", flag.ContinueOnError)
	ledgerPath := fset.String("ledger", "data/output/performance_over_time.csv", "Performance ledger CSV path")
	statePath := fset.String("poisoning-state", "data/poisoning/poisoning_state.json", "Poisoning state JSON path (for the baseline cycle)")
	threshold := fset.Float64("recall-drop", 0.10, "Recall drop marking the model as degraded")
	jsonOut := fset.String("json", "", "Optional JSON report output path")
	if err := fset.Parse(args); err != nil {
		return 2
	}

	records, err := perftrack.LoadLedger(*ledgerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load ledger: %v\n", err)
		return 1
	}

	poisonStart := 0
	if store, err := poisoning.NewFileStore(*statePath); err == nil {
		if state, ok, err := store.Load(); err == nil && ok && state.StartedAtCycleSet {
			poisonStart = state.StartedAtCycle
		}
	}

	report, err := analyzer.Analyze(records, analyzer.Config{
		PoisonStartCycle:    poisonStart,
		RecallDropThreshold: *threshold,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		return 1
	}

	if strings.TrimSpace(*jsonOut) != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
			return 1
		}
		dir := filepath.Dir(*jsonOut)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				fmt.Fprintf(os.Stderr, "failed to create report directory: %v\n", err)
				return 1
			}
		}
		if err := os.WriteFile(*jsonOut, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			return 1
		}
	}

	if err := analyzer.WriteText(os.Stdout, report); err != nil {
		fmt.Fprintf(os.Stderr, "failed to render report: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runService(os.Args[2:])
			return
		case "train":
			os.Exit(runTrain(os.Args[2:]))
		case "analyze":
			os.Exit(runAnalyze(os.Args[2:]))
		default:
			// Backward-compatible mode: first arg is config path.
			runService(os.Args[1:])
			return
		}
	}

	runService(nil)
}

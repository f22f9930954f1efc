package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/quill/internal/config"
	"github.com/ShayCichocki/quill/internal/intent"
	"github.com/ShayCichocki/quill/internal/llm"
	"github.com/ShayCichocki/quill/internal/lock"
	"github.com/ShayCichocki/quill/internal/logging"
	"github.com/ShayCichocki/quill/internal/orchestrator"
	"github.com/ShayCichocki/quill/internal/queue"
	"github.com/ShayCichocki/quill/internal/skill"
	"github.com/ShayCichocki/quill/internal/skill/builtin"
	"github.com/ShayCichocki/quill/internal/store"
	"github.com/ShayCichocki/quill/internal/telemetry"
	"github.com/ShayCichocki/quill/internal/version"
)

// services is the wired application graph shared by the commands.
type services struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	model  *llm.AnthropicClient
	skills *skill.Registry
	locks  *lock.Coordinator
	queue  *queue.Queue
	orch   *orchestrator.Orchestrator

	telemetry *telemetry.Provider
	logFile   *os.File
}

type serviceOptions struct {
	// offline skips the model client and built-in skills. Commands that only
	// inspect or abandon persisted tasks work without credentials.
	offline bool
	// logOut receives log output; nil writes to the log file.
	logOut io.Writer
}

// loadConfig loads --config if given, otherwise the layered configuration.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFromPath(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// resolveAPIKey returns the validated Anthropic key, or "" for Bedrock, which
// authenticates through the AWS credential chain.
func resolveAPIKey(cfg *config.Config) (string, error) {
	if cfg.Anthropic.UseBedrock {
		return "", nil
	}
	key, err := config.GetAPIKey(cfg)
	if err == nil {
		err = config.ValidateAPIKey(key)
	}
	if err != nil {
		return "", fmt.Errorf("%w\n\nSet ANTHROPIC_API_KEY or run: quill config anthropic.api_key <key>", err)
	}
	return key, nil
}

// defaultLogPath keeps logs next to the default database.
func defaultLogPath() string {
	return filepath.Join(filepath.Dir(store.DefaultPath()), "quill.log")
}

func newServices(ctx context.Context, cfg *config.Config, opts serviceOptions) (svc *services, err error) {
	svc = &services{cfg: cfg}
	defer func() {
		if err != nil {
			svc.closeResources()
		}
	}()

	logOut := opts.logOut
	if logOut == nil {
		path := defaultLogPath()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		svc.logFile = f
		logOut = f
	}
	svc.logger = logging.New(cfg.Log, logOut)
	slog.SetDefault(svc.logger)

	svc.telemetry, err = telemetry.Setup(ctx, cfg.Telemetry, version.Get(), svc.logger)
	if err != nil {
		return nil, fmt.Errorf("set up telemetry: %w", err)
	}

	svc.store, err = store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	svc.skills = skill.NewRegistry()
	var model llm.Client
	if !opts.offline {
		apiKey, err := resolveAPIKey(cfg)
		if err != nil {
			return nil, err
		}
		svc.model, err = llm.NewAnthropicClient(ctx, llm.AnthropicConfig{
			Model:             cfg.Anthropic.Model,
			APIKey:            apiKey,
			UseBedrock:        cfg.Anthropic.UseBedrock,
			AWSRegion:         cfg.Anthropic.AWSRegion,
			AWSProfile:        cfg.Anthropic.AWSProfile,
			MaxTokens:         cfg.Anthropic.MaxTokens,
			RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
			Retry:             cfg.Retry,
			Logger:            svc.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create model client: %w", err)
		}
		model = svc.model
		if err := builtin.Register(svc.skills, builtin.Deps{Model: model, ContentDir: cfg.Content.Dir}); err != nil {
			return nil, fmt.Errorf("register skills: %w", err)
		}
	}

	var rules []intent.Rule
	if cfg.Intent.RulesFile != "" {
		rules, err = intent.LoadRules(cfg.Intent.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("load intent rules: %w", err)
		}
	}
	classifier := intent.NewClassifier(intent.Options{
		Rules:  rules,
		Skills: svc.skills,
		Model:  model,
		Logger: svc.logger,
	})

	svc.locks = lock.NewCoordinator(lock.Options{
		TTL:           cfg.Locks.TTL,
		SweepInterval: cfg.Locks.SweepInterval,
		Logger:        svc.logger,
	})
	svc.queue = queue.New(queue.Options{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		Logger:        svc.logger,
	})

	svc.orch, err = orchestrator.New(orchestrator.Deps{
		Classifier: classifier,
		Skills:     svc.skills,
		Locks:      svc.locks,
		Queue:      svc.queue,
		Store:      svc.store,
		Logger:     svc.logger,
	}, orchestrator.Options{
		ConfidenceThreshold: cfg.Orchestrator.ConfidenceThreshold,
		CheckpointMaxAge:    cfg.Orchestrator.CheckpointMaxAge,
		HistoryLimit:        cfg.Orchestrator.HistoryLimit,
		WatchdogTimeout:     cfg.Watchdog.Timeout,
		TokenBudget:         cfg.Orchestrator.TokenBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	return svc, nil
}

// close pauses running work, stops the queue and releases resources.
func (s *services) close(ctx context.Context) error {
	var err error
	if s.orch != nil {
		err = s.orch.Shutdown(ctx)
	}
	if s.locks != nil {
		reportLeakedLocks(s.logger, s.locks)
	}
	s.shutdownTelemetry(ctx)
	s.closeResources()
	return err
}

// reportLeakedLocks logs every lock still live after shutdown and returns
// the count.
func reportLeakedLocks(logger *slog.Logger, locks *lock.Coordinator) int {
	held := locks.Snapshot()
	for _, l := range held {
		logger.Warn("lock still held at shutdown",
			"resource", l.Resource,
			"owner", l.Owner,
			"held_for", time.Since(l.AcquiredAt).Round(time.Second))
	}
	return len(held)
}

// shutdownTelemetry flushes exporters; ctx bounds the flush.
func (s *services) shutdownTelemetry(ctx context.Context) {
	if s.telemetry == nil {
		return
	}
	if err := s.telemetry.Shutdown(ctx); err != nil && s.logger != nil {
		s.logger.Warn("shutdown telemetry", "error", err)
	}
	s.telemetry = nil
}

func (s *services) closeResources() {
	s.shutdownTelemetry(context.Background())
	if s.store != nil {
		if err := s.store.Close(); err != nil && s.logger != nil {
			s.logger.Warn("close store", "error", err)
		}
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
}

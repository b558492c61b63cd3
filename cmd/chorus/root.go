package main

import (
	"context"
	"fmt"
	"os"

	"chorus/internal/config"
	"chorus/internal/embedding"
	"chorus/internal/extract"
	"chorus/internal/history"
	"chorus/internal/llm"
	"chorus/internal/logging"
	"chorus/internal/memory"
	"chorus/internal/pipeline"
	"chorus/internal/prompts"
	"chorus/internal/search"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagConfig  string
	flagVerbose bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chorus",
		Short:         "Chorus is a web-research assistant with conversational memory",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config.json (default: <data dir>/config.json)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug-level process logging")

	root.AddCommand(newChatCmd())
	root.AddCommand(newAskCmd())
	root.AddCommand(newMemoryCmd())
	return root
}

// app is the wired process: config, collaborators, orchestrator.
type app struct {
	cfg     config.Config
	zlog    *zap.SugaredLogger
	mem     *memory.Store
	hist    *history.Store
	library *prompts.Library
	orch    *pipeline.Orchestrator
}

func buildApp() (*app, error) {
	zcfg := zap.NewProductionConfig()
	if flagVerbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	zlogger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zlog := zlogger.Sugar()

	cfg := config.DefaultConfig()
	path := flagConfig
	if path == "" {
		path = cfg.ConfigPath()
	}
	cfg, err = config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnvOverrides()

	if err := logging.Initialize(cfg.DataDir); err != nil {
		zlog.Warnw("category logging unavailable", "error", err)
	}

	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding engine: %w", err)
	}
	zlog.Debugw("embedding engine ready", "engine", engine.Name())

	library, err := prompts.Load(cfg.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	if err := library.Watch(); err != nil {
		zlog.Warnw("prompt hot reload unavailable", "error", err)
	}

	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	mem := memory.NewStore(engine)
	rehydrate(cfg, mem, hist, zlog)

	client := llm.NewOllamaClient(cfg.Models.Endpoint, cfg.Timeouts.LLMDefault)
	provider := search.NewDuckDuckGo(cfg.Extract.FetchTimeout, cfg.Extract.UserAgent)
	extractor := extract.NewExtractor(cfg.Extract)

	orch := pipeline.NewOrchestrator(cfg, pipeline.Deps{
		Client:    client,
		Provider:  provider,
		Extractor: extractor,
		Memory:    mem,
		History:   hist,
		Library:   library,
		Sink: pipeline.SinkFunc(func(message string, severity pipeline.Severity) {
			switch severity {
			case pipeline.SeverityError:
				zlog.Errorw(message)
			case pipeline.SeverityWarn:
				zlog.Warnw(message)
			default:
				fmt.Fprintf(os.Stderr, "  · %s\n", message)
			}
		}),
	})

	return &app{cfg: cfg, zlog: zlog, mem: mem, hist: hist, library: library, orch: orch}, nil
}

// rehydrate reloads persisted conversation turns into semantic memory.
func rehydrate(cfg config.Config, mem *memory.Store, hist *history.Store, zlog *zap.SugaredLogger) {
	records, err := hist.LoadAll(context.Background())
	if err != nil {
		zlog.Warnw("failed to load conversation history", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	entries := make([]memory.Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, memory.Entry{
			Role:           memory.Role(r.Role),
			DisplayContent: r.DisplayContent,
			RecallContent:  r.RecallContent,
			Timestamp:      r.CreatedAt,
		})
	}
	mem.LoadAll(context.Background(), entries)
	zlog.Infow("conversation memory rehydrated", "turns", len(records))
}

func (a *app) close() {
	a.library.Close()
	a.hist.Close()
	logging.CloseAll()
	a.zlog.Sync()
}

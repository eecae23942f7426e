// Package application wires the dependency graph and owns the
// start/stop lifecycle.
package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/magpiebot/magpie/internal/application/usecase"
	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/memory"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/internal/domain/service"
	domaintool "github.com/magpiebot/magpie/internal/domain/tool"
	"github.com/magpiebot/magpie/internal/infrastructure/browser"
	"github.com/magpiebot/magpie/internal/infrastructure/config"
	"github.com/magpiebot/magpie/internal/infrastructure/llm/openai"
	"github.com/magpiebot/magpie/internal/infrastructure/persistence"
	"github.com/magpiebot/magpie/internal/infrastructure/search"
	toolpkg "github.com/magpiebot/magpie/internal/infrastructure/tool"
	httpServer "github.com/magpiebot/magpie/internal/interfaces/http"
	"github.com/magpiebot/magpie/internal/interfaces/telegram"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the dependency-injection container.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	summaryRepo   repository.SummaryRepository
	historyRepo   repository.HistoryRepository
	knowledgeRepo repository.KnowledgeRepository
	processedRepo repository.ProcessedMessageRepository
	profileRepo   repository.ProfileRepository

	provider *openai.Provider
	searcher *search.Client
	contexts *memory.ContextStore
	kb       *knowledge.Base
	browser  *browser.Browser
	queue    *service.ActionQueue
	agent    *service.Agent
	sched    *service.Scheduler

	pipeline *usecase.ProcessMessageUseCase
	adapter  *telegram.Adapter
	httpSrv  *httpServer.Server
}

// NewApp builds the full graph. Construction order follows dependency
// order: infrastructure, stores, domain services, interfaces.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	app.initProviders()
	app.initMemory()
	app.initDomainServices()
	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}
	return app, nil
}

func (a *App) initRepositories() error {
	db, err := persistence.NewDBConnection(&a.config.Database)
	if err != nil {
		return err
	}
	a.db = db

	a.summaryRepo = persistence.NewGormSummaryRepository(db)
	a.historyRepo = persistence.NewGormHistoryRepository(db)
	a.knowledgeRepo = persistence.NewGormKnowledgeRepository(db)
	a.processedRepo = persistence.NewGormProcessedRepository(db)
	a.profileRepo = persistence.NewGormProfileRepository(db)
	return nil
}

func (a *App) initProviders() {
	a.provider = openai.New(openai.Config{
		BaseURL:     a.config.LLM.BaseURL,
		APIKey:      a.config.LLM.APIKey,
		ChatModel:   a.config.LLM.ChatModel,
		EmbedModel:  a.config.LLM.EmbedModel,
		VisionModel: a.config.LLM.VisionModel,
		SpeechModel: a.config.LLM.SpeechModel,
		Voice:       a.config.LLM.Voice,
		Timeout:     a.config.LLM.Timeout,
	}, a.logger)

	a.searcher = search.NewClient(a.config.Search.BaseURL, a.config.Search.Timeout, a.logger)
}

func (a *App) initMemory() {
	analyzer := memory.NewDeepInterestAnalyzer(a.provider, a.logger)
	archiver := memory.NewSummaryArchiver(a.provider, a.summaryRepo, a.logger)

	a.contexts = memory.NewContextStore(
		a.config.Memory.ContextTTL,
		a.config.Memory.AnalysisInterval,
		analyzer,
		archiver,
		filepath.Join(a.config.DataDir, "context_state.json"),
		a.logger,
	)

	a.kb = knowledge.NewBase(
		a.knowledgeRepo,
		a.provider,
		a.config.Knowledge.SimilarityThreshold,
		time.Duration(a.config.Knowledge.FreshnessBoostHours)*time.Hour,
		a.logger,
	)
}

func (a *App) initDomainServices() {
	a.browser = browser.New(a.kb, a.provider, a.searcher, browser.Config{
		MaxPagesPerHour: a.config.Browser.MaxPagesPerHour,
		HubCooldown:     a.config.Browser.HubCooldown,
		LinkStale:       a.config.Browser.LinkStale,
		FetchTimeout:    a.config.Browser.FetchTimeout,
		DataDir:         a.config.DataDir,
	}, a.logger)

	a.queue = service.NewActionQueue(service.ActionQueueConfig{
		RateLimitDelay:    a.config.Queue.RateLimitDelay,
		MaxRetries:        a.config.Queue.MaxRetries,
		ProactiveCooldown: a.config.Queue.ProactiveCooldown,
	}, a.logger)

	registryFor := func(userID string) *domaintool.Registry {
		registry := domaintool.NewRegistry()
		registry.Register(toolpkg.NewWebSearchTool(a.searcher, a.logger))
		registry.Register(toolpkg.NewRecallHistoryTool(a.historyRepo, userID, a.logger))
		registry.Register(toolpkg.NewScrapeNewsTool(a.kb, a.logger))
		registry.Register(toolpkg.NewDeepResearchTool(a.browser, a.kb, a.logger))
		return registry
	}

	a.agent = service.NewAgent(
		a.contexts,
		a.kb,
		a.summaryRepo,
		a.profileRepo,
		a.provider,
		a.provider,
		registryFor,
		service.AgentConfig{
			MaxToolRounds: a.config.Agent.MaxToolRounds,
			MobileWordCap: a.config.Agent.MobileWordCap,
			ToolTimeout:   a.config.Agent.ToolTimeout,
		},
		a.logger,
	)

	a.sched = service.NewScheduler(
		a.contexts,
		a.kb,
		a.queue,
		a.agent,
		a.browser,
		a.summaryRepo,
		service.SchedulerConfig{
			TickInterval:        a.config.Scheduler.TickInterval,
			MaintenanceInterval: a.config.Scheduler.MaintenanceInterval,
			BatchFlushTicks:     a.config.Scheduler.BatchFlushTicks,
			KnowledgeMaxAgeDays: a.config.Knowledge.MaxAgeDays,
			SummaryKeep:         a.config.Memory.SummaryMaxPerUser,
		},
		a.logger,
	)
}

func (a *App) initInterfaces() error {
	a.pipeline = usecase.NewProcessMessageUseCase(
		a.processedRepo,
		a.historyRepo,
		a.agent,
		a.queue,
		a.sched,
		a.provider,
		a.provider,
		a.provider,
		filepath.Join(a.config.DataDir, "media"),
		a.logger,
	)

	adapter, err := telegram.NewAdapter(&telegram.Config{
		BotToken:       a.config.Telegram.BotToken,
		AllowedUserIDs: a.config.Telegram.AllowIDs,
		Debug:          a.config.Telegram.Debug,
	}, a.pipeline, a.contexts, a.kb, a.queue, a.logger)
	if err != nil {
		return err
	}
	a.adapter = adapter

	a.httpSrv = httpServer.NewServer(httpServer.Config{
		Host: a.config.HTTP.Host,
		Port: a.config.HTTP.Port,
		Mode: "release",
	}, a.contexts, a.kb, a.queue, a.browser, a.logger)
	return nil
}

// Start launches the queue worker, scheduler, Telegram polling, and the
// HTTP surface.
func (a *App) Start(ctx context.Context) error {
	a.queue.Start(ctx)
	a.sched.Start(ctx)

	if err := a.adapter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telegram adapter: %w", err)
	}
	if err := a.httpSrv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	a.logger.Info("Application started")
	return nil
}

// Stop shuts components down in reverse order and flushes durable state.
func (a *App) Stop(ctx context.Context) {
	a.adapter.Stop()
	if err := a.httpSrv.Stop(ctx); err != nil {
		a.logger.Warn("HTTP shutdown failed", zap.Error(err))
	}
	a.sched.Stop()
	a.queue.Stop()

	a.browser.Checkpoint()
	a.contexts.Flush()

	if db, err := a.db.DB(); err == nil {
		_ = db.Close()
	}
	a.logger.Info("Application stopped")
}

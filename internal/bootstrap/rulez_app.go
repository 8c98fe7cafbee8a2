package bootstrap

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	apihttp "mailrulez/adapter/in/http"
	"mailrulez/adapter/out/imapmail"
	"mailrulez/adapter/out/trashmeta"
	"mailrulez/config"
	"mailrulez/core/port/out"
	"mailrulez/core/service/lists"
	"mailrulez/core/service/pipeline"
	"mailrulez/core/service/processor"
	"mailrulez/core/service/retention"
	"mailrulez/core/service/rules"
	"mailrulez/pkg/logger"
	"mailrulez/pkg/response"
)

// App is the assembled engine: every service is container-owned, nothing
// lives in package singletons.
type App struct {
	Cfg       *config.Config
	Lists     *lists.Store
	Rules     *rules.Engine
	Policies  *retention.PolicyStore
	Audit     *retention.AuditLogger
	Trash     *retention.TrashManager
	Executor  *retention.Executor
	Scheduler *retention.Scheduler
	Manager   *processor.Manager

	meta out.TrashMetaStore
}

// New wires the whole engine.
func New(cfg *config.Config) (*App, func(), error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	audit := retention.NewAuditLogger(cfg.AuditLogPath())
	policies, err := retention.NewPolicyStore(cfg.RetentionPoliciesPath(), audit)
	if err != nil {
		return nil, nil, fmt.Errorf("retention policies: %w", err)
	}
	ruleEngine, err := rules.NewEngine(cfg.RulesPath())
	if err != nil {
		return nil, nil, fmt.Errorf("rules: %w", err)
	}

	var meta out.TrashMetaStore
	if store, err := trashmeta.Open(cfg.TrashMetaPath()); err != nil {
		// Trash metadata is an enrichment; the engine degrades to message
		// dates without it.
		logger.Default().WithError(err).Warn("trash metadata store unavailable")
	} else {
		meta = store
	}

	dialer := imapmail.NewDialer()
	listStore := lists.NewStore(cfg)
	trash := retention.NewTrashManager(policies, audit, meta)
	executor := retention.NewExecutor(policies, trash, audit, dialer)
	scheduler := retention.NewScheduler(cfg, policies, executor, audit)
	pipe := pipeline.NewService(cfg, listStore, ruleEngine, policies)
	manager := processor.NewManager(cfg, dialer, pipe)

	app := &App{
		Cfg:       cfg,
		Lists:     listStore,
		Rules:     ruleEngine,
		Policies:  policies,
		Audit:     audit,
		Trash:     trash,
		Executor:  executor,
		Scheduler: scheduler,
		Manager:   manager,
		meta:      meta,
	}

	cleanup := func() {
		app.Scheduler.Stop()
		app.Manager.Shutdown()
		if app.meta != nil {
			app.meta.Close()
		}
	}
	return app, cleanup, nil
}

// StartEngine loads accounts and launches the background loops.
func (a *App) StartEngine() {
	a.Manager.LoadAccountsFromConfig()
	a.Manager.Run()
	if a.Policies.Global().SchedulerEnabled {
		a.Scheduler.Start()
	}
	logger.Info("engine started with %d accounts", len(a.Cfg.AllAccounts()))
}

// NewAPI builds the control-plane fiber app.
func (a *App) NewAPI() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "mailrulez",
		DisableStartupMessage: !a.Cfg.IsDevelopment(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return response.FromError(c, err)
		},
	})
	app.Use(recover.New())

	apihttp.NewHealthHandler(a.Manager.Initialized).Register(app)
	apihttp.NewAccountHandler(a.Manager).Register(app)
	apihttp.NewListHandler(a.Lists).Register(app)
	apihttp.NewRuleHandler(a.Rules).Register(app)
	apihttp.NewRetentionHandler(a.Cfg, a.Policies, a.Executor, a.Scheduler, a.Audit).Register(app)
	return app
}

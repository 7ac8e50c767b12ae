package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"outreach/config"
	controller "outreach/controllers"
	"outreach/dispatch"
	"outreach/mail"
	"outreach/middleware"
	"outreach/routes"
	"outreach/selection"
	"outreach/store"
	"outreach/templates"
	"outreach/threads"
	"outreach/utils"
	"outreach/worker"
)

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig
	if cfg.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	if err := utils.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.Warnf("Sentry disabled: %v", err)
	}
	defer utils.FlushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.ConnectRedis(ctx); err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}

	// Contact sheet and template catalog
	var (
		contacts store.ContactStore
		catalog  templates.Source
	)
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("Using the in-memory contact store, nothing survives a restart")
		contacts = store.NewMemoryStore()
		catalog = templates.StaticSource{Catalog: templates.NewCatalog(cfg.Dispatch.DefaultStepCeiling)}
	default:
		if err := config.ConnectDB(); err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		contacts = store.NewGormStore(config.DB)
		catalog = templates.NewGormSource(config.DB, cfg.Dispatch.DefaultStepCeiling)
	}

	if cfg.SequencesFile != "" {
		logger.Infof("Loading sequences from %s", cfg.SequencesFile)
		catalog = templates.NewFileSource(cfg.SequencesFile, cfg.Dispatch.DefaultStepCeiling)
	}

	// Selection baselines and the daily send counter
	var (
		baselines selection.BaselineStore
		counter   mail.QuotaCounter
	)
	if config.Redis != nil {
		baselines = selection.NewRedisBaselineStore(config.Redis, cfg.BaselineTTL)
		counter = mail.NewRedisQuota(config.Redis, cfg.Sender.Email)
	} else {
		baselines = selection.NewMemoryBaselineStore(cfg.BaselineTTL)
		counter = mail.NewMemoryQuota()
	}

	// Mailbox
	var tokens oauth2.TokenSource
	if cfg.MailAuth == "oauth" {
		tokens = mail.NewTokenSource(ctx, mail.OAuthConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RefreshToken: cfg.Google.RefreshToken,
		})
	}
	imapClient := mail.NewIMAPClient(mail.IMAPConfig{
		Host:          cfg.IMAP.Host,
		Port:          cfg.IMAP.Port,
		Encryption:    cfg.IMAP.Encryption,
		Username:      cfg.IMAP.Username,
		Password:      cfg.IMAP.Password,
		SentMailbox:   cfg.SentMailbox,
		DraftsMailbox: cfg.DraftsMailbox,
	}, tokens, logger)
	smtpSender := mail.NewSMTPSender(mail.SMTPConfig{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Encryption: cfg.SMTP.Encryption,
		Username:   cfg.SMTP.Username,
		Password:   cfg.SMTP.Password,
		MaxRetries: 3,
	}, tokens)
	mailbox := mail.NewMailbox(imapClient, smtpSender,
		&mail.Quota{Limit: cfg.Dispatch.DailySendLimit, Counter: counter},
		mail.MailboxOptions{
			Composer: mail.Composer{Sender: cfg.Sender},
			SaveSent: cfg.SaveSentCopy,
			Logger:   logger,
		})

	mode, err := dispatch.ParseMode(cfg.Dispatch.Mode)
	if err != nil {
		logger.Fatalf("Invalid dispatch mode: %v", err)
	}
	finder := threads.NewFinder(mailbox, logger)
	pipeline := dispatch.NewPipeline(contacts, catalog, mailbox, finder, dispatch.Config{
		Mode:          mode,
		GlobalCC:      cfg.Dispatch.GlobalCC,
		DelayDays:     cfg.Dispatch.DelayDays,
		Sender:        cfg.Sender,
		Signature:     templates.Signature{HTML: cfg.Dispatch.SignatureHTML},
		DemoMarker:    cfg.Dispatch.DemoEmailMarker,
		CheckVersions: cfg.StrictRowVersions,
	}, logger)

	// Background thread cache
	threadWorker := worker.NewThreadWorker(contacts, finder, cfg.ThreadWorkerInterval, cfg.ThreadWorkerBudget, logger)
	threadWorker.CheckVersions = cfg.StrictRowVersions
	go threadWorker.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      "outreach",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	})
	app.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins...)))

	reconciler := selection.NewReconciler(baselines)
	hub := controller.NewProgressHub()
	routes.SetupRoutes(app, routes.Handlers{
		Dispatch:  controller.NewDispatchController(pipeline, reconciler, hub, logger),
		Selection: controller.NewSelectionController(reconciler),
		Contacts: controller.NewContactController(contacts, catalog, cfg.Dispatch.DelayDays,
			cfg.Dispatch.DemoEmailMarker, cfg.StrictRowVersions, logger),
		Sequences:         controller.NewSequenceController(catalog),
		Progress:          hub,
		DispatchRateLimit: cfg.Dispatch.RateLimitPerMinute,
		Redis:             config.Redis,
		Logger:            logger,
	})

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
			"mode":    mode,
		})
	})

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down...")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			logger.Errorf("Shutdown failed: %v", err)
		}
	}()

	logger.Infof("🚀 Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
	if config.Redis != nil {
		_ = config.Redis.Close()
	}
}

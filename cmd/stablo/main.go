package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/stablofi/stablo/app/controllers"
	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/app/repository"
	"github.com/stablofi/stablo/internal/pkg/audit"
	"github.com/stablofi/stablo/internal/pkg/auditarchive"
	"github.com/stablofi/stablo/internal/pkg/cache"
	"github.com/stablofi/stablo/internal/pkg/chain"
	"github.com/stablofi/stablo/internal/pkg/database"
	"github.com/stablofi/stablo/internal/pkg/env"
	"github.com/stablofi/stablo/internal/pkg/exchange"
	"github.com/stablofi/stablo/internal/pkg/gateway"
	"github.com/stablofi/stablo/internal/pkg/payout"
	"github.com/stablofi/stablo/internal/pkg/reconcile"
	"github.com/stablofi/stablo/internal/pkg/router"
	"github.com/stablofi/stablo/internal/pkg/transfer"
	"github.com/stablofi/stablo/internal/pkg/webhook"
)

func main() {
	app, manager, dispatcher := NewApplication()

	manager.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("[App] Shutting down")
		manager.Stop()
		dispatcher.Wait()
		if err := app.Shutdown(); err != nil {
			log.Errorf("[App] Shutdown error: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatalf("[App] Listen failed: %v", err)
	}
}

// NewApplication wires storage, external adapters, background loops and
// the HTTP surface.
func NewApplication() (*fiber.App, *reconcile.Manager, *webhook.Dispatcher) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	if err := models.LoadSettings(db); err != nil {
		log.Fatalf("[App] Failed to load settings: %v", err)
	}
	settings := models.GetAppSettings()

	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	var archiver audit.Archiver
	if cfg, err := auditarchive.LoadConfig(); err != nil {
		log.Warnf("[App] Audit archive disabled: %v", err)
	} else if cfg.IsEnabled() {
		client, err := auditarchive.NewClient(cfg)
		if err != nil {
			log.Fatalf("[App] Failed to init audit archive: %v", err)
		}
		archiver = client
	}
	recorder := audit.NewRecorder(repos.Audit, archiver, settings.GetAuditRetentionMaxEntries())

	dispatcher := webhook.NewDispatcher(repos.Webhook,
		webhook.WithTimeout(time.Duration(settings.GetWebhookTimeoutSeconds())*time.Second),
	)

	bundler := chain.NewClientFromEnv()
	fiatGateway := gateway.NewClientFromEnv()
	rates := exchange.NewCachedProvider(exchange.NewClientFromEnv())

	transferService := transfer.NewService(repos, bundler, recorder)
	payoutService := payout.NewService(repos, rates, fiatGateway, recorder, dispatcher)
	controllers.Initialize(transferService, payoutService, rates, recorder)

	reconcileCfg := reconcile.ConfigFromSettings(settings)
	manager := reconcile.NewManager(reconcileCfg,
		reconcile.NewTransferReconciler(repos.Transfer, bundler, recorder, dispatcher, reconcileCfg),
		reconcile.NewPayoutReconciler(repos.Payout, fiatGateway, recorder, dispatcher, reconcileCfg),
	)

	app := fiber.New(fiber.Config{
		AppName: settings.GetSiteTitle(),
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	router.InstallRouter(app)

	return app, manager, dispatcher
}

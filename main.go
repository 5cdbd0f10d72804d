package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/catalog"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/config"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/db"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/handlers"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/lifecycle"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/metrics"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform"
)

func main() {
	appConfig := config.Load()      // reads every setting from the environment
	logger := appConfig.NewLogger() // slog logger, json or text depending on LOG_FORMAT

	if err := appConfig.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("corvus release manager starting",
		"port", appConfig.Port,
		"db_path", appConfig.DBPath,
		"log_format", appConfig.LogFormat,
		"package_dir", appConfig.PackageDir,
		"release_root", appConfig.ReleaseRoot,
	)

	// cancelled on SIGINT / SIGTERM, which starts the graceful shutdown below
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.OpenDatabase(appConfig.DBPath, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.CloseDatabase()

	appMetrics := metrics.New()

	packageCatalog := catalog.New(database, logger, catalog.Config{})
	if len(appConfig.PackageIndexes) > 0 {
		// a broken index is logged, the server still starts with whatever did sync
		if _, err := packageCatalog.Sync(ctx, appConfig.PackageIndexes...); err != nil {
			logger.Warn("package index sync incomplete", "error", err)
		}
	}

	accounts := platform.DefaultAccounts()
	if appConfig.PlatformsFile != "" {
		accounts, err = platform.LoadAccounts(appConfig.PlatformsFile)
		if err != nil {
			logger.Error("failed to load platform accounts", "path", appConfig.PlatformsFile, "error", err)
			os.Exit(1)
		}
	}

	platformFactories := newPlatformFactories(ctx, appConfig, logger)
	defer platformFactories.close()

	registry, err := platform.BuildRegistry(accounts, platformFactories.factories())
	if err != nil {
		logger.Error("failed to set up platforms", "error", err)
		os.Exit(1)
	}
	logger.Info("platforms registered", "platforms", registry.Names())

	manager := lifecycle.NewManager(database, packageCatalog, registry, logger, lifecycle.Config{
		DeployTimeout: appConfig.DeployTimeout,
		RetryAttempts: appConfig.DeployRetryAttempts,
		RetryDelay:    appConfig.DeployRetryDelay,
		StaleAfter:    appConfig.StaleDeployingAfter,
		LogRoot:       appConfig.LogRoot,
		Metrics:       appMetrics,
	})

	// releases left in DEPLOYING by a previous crash are failed on the first tick
	go manager.StartStaleReleaseReaper(ctx, appConfig.ReaperInterval)

	router := handlers.CreateAndSetupRouter(handlers.RouterDependencies{
		Logger:            logger,
		Releases:          manager,
		Packages:          packageCatalog,
		Metrics:           appMetrics.Handler(),
		PlatformNames:     registry.Names,
		CORSAllowedOrigin: appConfig.CORSAllowedOrigin,
	})

	server := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// in flight deploys get up to one deploy timeout to finish and record their outcome
	shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), appConfig.DeployTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownContext); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("corvus release manager stopped")
}

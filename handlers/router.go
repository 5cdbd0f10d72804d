package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterDependencies is everything the routes need, built in main.go.
type RouterDependencies struct {
	Logger   *slog.Logger
	Releases ReleaseOperations
	Packages PackageCatalog

	// Metrics serves GET /metrics, nil leaves the route out
	Metrics http.Handler

	// PlatformNames lists the configured platform accounts for /health
	PlatformNames func() []string

	CORSAllowedOrigin string
}

// CreateAndSetupRouter wires middleware and routes into one http.Handler.
func CreateAndSetupRouter(dependencies RouterDependencies) http.Handler {
	router := chi.NewRouter() // type is *chi.Mux, implements http.Handler interface

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	if dependencies.CORSAllowedOrigin != "" {
		router.Use(CORSMiddleware(dependencies.CORSAllowedOrigin))
	}

	healthHandler := NewHealthHandler(dependencies.Logger, dependencies.PlatformNames)
	packageHandler := NewPackageHandler(dependencies.Releases, dependencies.Packages, dependencies.Logger)
	releaseHandler := NewReleaseHandler(dependencies.Releases, dependencies.Logger)

	router.Get("/health", healthHandler.Health)
	if dependencies.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", dependencies.Metrics)
	}

	router.Route("/package", func(packageRouter chi.Router) {
		packageRouter.Get("/", packageHandler.ListPackages)
		packageRouter.Post("/", packageHandler.PublishPackage)
		packageRouter.Get("/search", packageHandler.SearchPackages)

		packageRouter.Post("/{packageId}/deploy", packageHandler.Deploy)
		packageRouter.Post("/update", packageHandler.Update)
		packageRouter.Post("/undeploy", packageHandler.Undeploy)
	})

	router.Route("/release", func(releaseRouter chi.Router) {
		releaseRouter.Get("/", releaseHandler.List)
		releaseRouter.Get("/status/{name}", releaseHandler.Status)
		releaseRouter.Get("/status/{name}/{version}", releaseHandler.Status)
		releaseRouter.Get("/history/{name}", releaseHandler.History)
	})

	return router
}

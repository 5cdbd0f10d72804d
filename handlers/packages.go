package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

// ReleaseOperations is what the HTTP layer needs from the lifecycle manager.
type ReleaseOperations interface {
	Deploy(ctx context.Context, packageID string, properties models.DeployProperties) (*models.Release, error)
	Update(ctx context.Context, properties models.UpdateProperties) (*models.Release, error)
	Undeploy(ctx context.Context, properties models.UndeployProperties) (*models.Release, error)
	Status(ctx context.Context, releaseName, version string) (*models.Release, error)
	History(ctx context.Context, releaseName string) ([]*models.Release, error)
	List(ctx context.Context) ([]*models.Release, error)
}

// PackageCatalog is what the HTTP layer needs from the package catalog.
type PackageCatalog interface {
	List(ctx context.Context) ([]*models.PackageMetadata, error)
	Search(ctx context.Context, term string) ([]*models.PackageMetadata, error)
	Publish(ctx context.Context, metadata models.PackageMetadata) (*models.PackageMetadata, error)
}

// PackageHandler serves the /package routes: catalog browsing and the three release operations.
type PackageHandler struct {
	releases ReleaseOperations
	packages PackageCatalog
	logger   *slog.Logger
}

func NewPackageHandler(releases ReleaseOperations, packages PackageCatalog, logger *slog.Logger) *PackageHandler {
	return &PackageHandler{
		releases: releases,
		packages: packages,
		logger:   logger,
	}
}

// Deploy handles POST /package/{packageId}/deploy with a DeployProperties body.
func (handler *PackageHandler) Deploy(responseWriter http.ResponseWriter, request *http.Request) {
	packageID := chi.URLParam(request, "packageId")

	var properties models.DeployProperties
	if err := decodeJsonBody(responseWriter, request, &properties); err != nil {
		writeLifecycleError(responseWriter, err, nil, handler.logger)
		return
	}

	release, err := handler.releases.Deploy(request.Context(), packageID, properties)
	if err != nil {
		writeLifecycleError(responseWriter, err, release, handler.logger)
		return
	}

	handler.logger.Info("release deployed",
		"release", release.Name,
		"version", release.Version,
		"platform", release.PlatformName,
		"package_id", packageID,
	)
	writeJsonAndRespond(responseWriter, http.StatusCreated, release)
}

// Update handles POST /package/update with an UpdateProperties body.
func (handler *PackageHandler) Update(responseWriter http.ResponseWriter, request *http.Request) {
	var properties models.UpdateProperties
	if err := decodeJsonBody(responseWriter, request, &properties); err != nil {
		writeLifecycleError(responseWriter, err, nil, handler.logger)
		return
	}

	release, err := handler.releases.Update(request.Context(), properties)
	if err != nil {
		writeLifecycleError(responseWriter, err, release, handler.logger)
		return
	}

	handler.logger.Info("release updated",
		"release", release.Name,
		"old_version", properties.OldVersion,
		"new_version", release.Version,
	)
	writeJsonAndRespond(responseWriter, http.StatusCreated, release)
}

// Undeploy handles POST /package/undeploy with an UndeployProperties body.
func (handler *PackageHandler) Undeploy(responseWriter http.ResponseWriter, request *http.Request) {
	var properties models.UndeployProperties
	if err := decodeJsonBody(responseWriter, request, &properties); err != nil {
		writeLifecycleError(responseWriter, err, nil, handler.logger)
		return
	}

	release, err := handler.releases.Undeploy(request.Context(), properties)
	if err != nil {
		writeLifecycleError(responseWriter, err, release, handler.logger)
		return
	}

	handler.logger.Info("release undeployed", "release", release.Name, "version", release.Version)
	writeJsonAndRespond(responseWriter, http.StatusCreated, release)
}

// ListPackages handles GET /package.
func (handler *PackageHandler) ListPackages(responseWriter http.ResponseWriter, request *http.Request) {
	packages, err := handler.packages.List(request.Context())
	if err != nil {
		handler.logger.Error("failed to list packages", "error", err)
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to retrieve packages", handler.logger)
		return
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, nonNil(packages))
}

// SearchPackages handles GET /package/search?name=<term>. an empty term lists everything.
func (handler *PackageHandler) SearchPackages(responseWriter http.ResponseWriter, request *http.Request) {
	term := request.URL.Query().Get("name")

	packages, err := handler.packages.Search(request.Context(), term)
	if err != nil {
		handler.logger.Error("failed to search packages", "term", term, "error", err)
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to search packages", handler.logger)
		return
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, nonNil(packages))
}

// PublishPackage handles POST /package with package metadata. the id is always assigned by the server.
func (handler *PackageHandler) PublishPackage(responseWriter http.ResponseWriter, request *http.Request) {
	var metadata models.PackageMetadata
	if err := decodeJsonBody(responseWriter, request, &metadata); err != nil {
		writeLifecycleError(responseWriter, err, nil, handler.logger)
		return
	}
	metadata.ID = ""

	published, err := handler.packages.Publish(request.Context(), metadata)
	if errors.Is(err, models.ErrRecordExists) {
		writeErrorJsonAndLogIt(responseWriter, http.StatusConflict, "package "+metadata.Name+"-"+metadata.Version+" already exists", handler.logger)
		return
	}
	if err != nil {
		writeLifecycleError(responseWriter, err, nil, handler.logger)
		return
	}
	writeJsonAndRespond(responseWriter, http.StatusCreated, published)
}

// nonNil turns a nil slice into an empty one so the JSON body is [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

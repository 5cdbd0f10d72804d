package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ReleaseHandler serves the read only /release routes.
type ReleaseHandler struct {
	releases ReleaseOperations
	logger   *slog.Logger
}

func NewReleaseHandler(releases ReleaseOperations, logger *slog.Logger) *ReleaseHandler {
	return &ReleaseHandler{releases: releases, logger: logger}
}

// List handles GET /release.
func (handler *ReleaseHandler) List(responseWriter http.ResponseWriter, request *http.Request) {
	releases, err := handler.releases.List(request.Context())
	if err != nil {
		writeLifecycleError(responseWriter, err, nil, handler.logger)
		return
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, nonNil(releases))
}

// Status handles GET /release/status/{name} (latest version) and GET /release/status/{name}/{version}.
func (handler *ReleaseHandler) Status(responseWriter http.ResponseWriter, request *http.Request) {
	releaseName := chi.URLParam(request, "name")
	version := chi.URLParam(request, "version") // empty on the route without {version}

	release, err := handler.releases.Status(request.Context(), releaseName, version)
	if err != nil {
		writeLifecycleError(responseWriter, err, nil, handler.logger)
		return
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, release)
}

// History handles GET /release/history/{name}.
func (handler *ReleaseHandler) History(responseWriter http.ResponseWriter, request *http.Request) {
	releases, err := handler.releases.History(request.Context(), chi.URLParam(request, "name"))
	if err != nil {
		writeLifecycleError(responseWriter, err, nil, handler.logger)
		return
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, releases)
}

package handlers

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers liveness probes.
type HealthHandler struct {
	logger    *slog.Logger
	platforms func() []string
}

func NewHealthHandler(inputLogger *slog.Logger, platformNames func() []string) *HealthHandler {
	return &HealthHandler{logger: inputLogger, platforms: platformNames}
}

type healthResponse struct {
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	Platforms []string `json:"platforms"`
}

// Health always answers 200 while the process serves requests, together with the configured platform accounts.
func (handler *HealthHandler) Health(responseWriter http.ResponseWriter, request *http.Request) {
	platforms := []string{}
	if handler.platforms != nil {
		platforms = append(platforms, handler.platforms()...)
	}

	response := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Platforms: platforms,
	}

	writeJsonAndRespond(responseWriter, http.StatusOK, response)
}

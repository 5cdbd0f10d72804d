package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/lifecycle"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

// maxRequestBodyBytes caps JSON request bodies, none of the payloads come anywhere near it
const maxRequestBodyBytes = 1 << 20

// writeJsonAndRespond serializes dataPayload and writes it with the status code.
// the status line can only be written once, so the payload is marshalled before WriteHeader.
func writeJsonAndRespond(responseWriter http.ResponseWriter, statusCode int, dataPayload any) {
	responseWriter.Header().Set("Content-Type", "application/json")

	serializedData, err := json.Marshal(dataPayload)
	if err != nil {
		http.Error(responseWriter, `{"error":"internal encoding error"}`, http.StatusInternalServerError)
		return
	}

	responseWriter.WriteHeader(statusCode)
	responseWriter.Write(serializedData) // nolint:errcheck -- write errors are not actionable on the server side
}

// errorResponse is the body of every non 2xx answer.
// Release is set when a platform failure left a FAILED release behind.
type errorResponse struct {
	Error   string          `json:"error"`
	Release *models.Release `json:"release,omitempty"`
}

// writeErrorJsonAndLogIt logs the failure (5xx at error level, 4xx at warn) and writes the error body.
func writeErrorJsonAndLogIt(
	responseWriter http.ResponseWriter,
	statusCode int,
	message string,
	logger *slog.Logger,
) {
	writeErrorResponse(responseWriter, statusCode, errorResponse{Error: message}, logger)
}

func writeErrorResponse(responseWriter http.ResponseWriter, statusCode int, body errorResponse, logger *slog.Logger) {
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", "status", statusCode, "message", body.Error)
	} else {
		logger.Warn("request rejected", "status", statusCode, "message", body.Error)
	}
	writeJsonAndRespond(responseWriter, statusCode, body)
}

// writeLifecycleError maps the lifecycle error taxonomy onto HTTP status codes.
// release may be nil. internal errors are not echoed to the client.
func writeLifecycleError(responseWriter http.ResponseWriter, err error, release *models.Release, logger *slog.Logger) {
	statusCode := statusCodeFor(err)
	body := errorResponse{Error: err.Error()}

	switch statusCode {
	case http.StatusServiceUnavailable:
		body.Release = release
	case http.StatusInternalServerError:
		logger.Error("release operation failed", "error", err)
		body.Error = "internal server error"
	}
	writeErrorResponse(responseWriter, statusCode, body, logger)
}

func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrPackageNotFound), errors.Is(err, lifecycle.ErrReleaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrDuplicateRelease), errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, models.ErrRecordExists):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrPlatformUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJsonBody reads one JSON document from the request body into target.
// a malformed body is reported as a validation error so it maps to 400.
func decodeJsonBody(responseWriter http.ResponseWriter, request *http.Request, target any) error {
	request.Body = http.MaxBytesReader(responseWriter, request.Body, maxRequestBodyBytes)

	decoder := json.NewDecoder(request.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", models.ErrValidation)
		}
		return fmt.Errorf("%w: malformed JSON body: %v", models.ErrValidation, err)
	}
	if decoder.More() {
		return fmt.Errorf("%w: request body must contain a single JSON document", models.ErrValidation)
	}
	return nil
}

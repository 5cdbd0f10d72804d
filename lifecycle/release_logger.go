package lifecycle

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

// releaseLogger writes every lifecycle event twice: to the structured process log,
// and as a plain timestamped line to <logRoot>/<release name>.log so the history of
// one release can be read without grepping the whole server log.
type releaseLogger struct {
	logger  *slog.Logger
	logRoot string // empty disables the per release files
	now     func() time.Time

	mu sync.Mutex // serialises appends, two versions of one release share a file
}

func (releaseLog *releaseLogger) info(release *models.Release, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	releaseLog.logger.Info("release lifecycle",
		"release", release.Name,
		"version", release.Version,
		"status", release.StatusCode(),
		"detail", message,
	)
	releaseLog.appendLine(release, message)
}

func (releaseLog *releaseLogger) warn(release *models.Release, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	releaseLog.logger.Warn("release lifecycle",
		"release", release.Name,
		"version", release.Version,
		"status", release.StatusCode(),
		"detail", message,
	)
	releaseLog.appendLine(release, "WARNING: "+message)
}

func (releaseLog *releaseLogger) appendLine(release *models.Release, message string) {
	if releaseLog.logRoot == "" {
		return
	}

	releaseLog.mu.Lock()
	defer releaseLog.mu.Unlock()

	logFile, err := releaseLog.openLogFile(release.Name)
	if err != nil {
		// the file is a convenience copy, the slog line above already went out
		releaseLog.logger.Error("failed to open release log file", "release", release.Name, "error", err)
		return
	}
	defer logFile.Close()

	line := fmt.Sprintf("[%s] %s %s: %s\n",
		releaseLog.now().UTC().Format(time.RFC3339),
		release.Version,
		release.StatusCode(),
		message,
	)
	if _, err := logFile.WriteString(line); err != nil {
		releaseLog.logger.Error("failed to write release log file", "release", release.Name, "error", err)
	}
}

func (releaseLog *releaseLogger) openLogFile(releaseName string) (*os.File, error) {
	if err := os.MkdirAll(releaseLog.logRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.OpenFile(ReleaseLogPath(releaseLog.logRoot, releaseName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// ReleaseLogPath returns the per release log file of releaseName below logRoot.
func ReleaseLogPath(logRoot, releaseName string) string {
	return filepath.Join(logRoot, releaseName+".log")
}

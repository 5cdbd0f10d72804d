/*
Package config handles loading and validating application configuration
from environment variables. All values have sensible defaults so the
release manager can start with zero environment setup during local development.
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting of the release manager.
type Config struct {
	// Port is the HTTP listen port
	Port string

	// DBPath is the SQLite database file, ":memory:" keeps everything in memory
	DBPath string

	// PackageDir holds package archives (<name>-<version>.zip) and unpacked package directories
	PackageDir string

	// LogRoot holds one log file per release name
	LogRoot string

	// LogFormat is "json" (default) or "text"
	LogFormat string

	// ReleaseRoot is where the local platform installs release versions
	ReleaseRoot string

	// PackageIndexes are repository index files or URLs synced into the catalog at startup
	PackageIndexes []string

	// PlatformsFile is a YAML list of platform accounts, empty means the built in "test" and "local" accounts
	PlatformsFile string

	// CORSAllowedOrigin is sent as Access-Control-Allow-Origin
	CORSAllowedOrigin string

	// DockerNetwork is the network docker platform containers join unless the account overrides it
	DockerNetwork string

	DeployTimeout       time.Duration
	DeployRetryAttempts int
	DeployRetryDelay    time.Duration

	// ReaperInterval is how often releases stuck in DEPLOYING are looked for
	ReaperInterval time.Duration

	// StaleDeployingAfter is how long a release may stay DEPLOYING before it is failed
	StaleDeployingAfter time.Duration

	// parseErrors collects malformed numeric and duration values, reported by Validate
	parseErrors []error
}

// Load reads the configuration from the environment.
// malformed numbers and durations fall back to their defaults and are reported by Validate.
func Load() *Config {
	config := &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./corvus-releases.db"),
		PackageDir:        getEnv("PACKAGE_DIR", "./data/packages"),
		LogRoot:           getEnv("LOG_ROOT", "./data/logs"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		ReleaseRoot:       getEnv("RELEASE_ROOT", "./data/releases"),
		PackageIndexes:    splitList(getEnv("PACKAGE_INDEXES", "")),
		PlatformsFile:     getEnv("PLATFORMS_FILE", ""),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "*"),
		DockerNetwork:     getEnv("DOCKER_NETWORK", ""),
	}

	config.DeployTimeout = config.getDuration("DEPLOY_TIMEOUT", 5*time.Minute)
	config.DeployRetryAttempts = config.getInt("DEPLOY_RETRY_ATTEMPTS", 3)
	config.DeployRetryDelay = config.getDuration("DEPLOY_RETRY_DELAY", time.Second)
	config.ReaperInterval = config.getDuration("REAPER_INTERVAL", time.Minute)
	config.StaleDeployingAfter = config.getDuration("STALE_DEPLOYING_AFTER", 30*time.Minute)

	return config
}

// Validate reports every malformed or inconsistent setting at once.
func (config *Config) Validate() error {
	problems := append([]error(nil), config.parseErrors...)

	if config.Port == "" {
		problems = append(problems, errors.New("PORT must not be empty"))
	}
	if config.LogFormat != "json" && config.LogFormat != "text" {
		problems = append(problems, fmt.Errorf("LOG_FORMAT must be json or text, got %q", config.LogFormat))
	}
	if config.DeployTimeout <= 0 {
		problems = append(problems, errors.New("DEPLOY_TIMEOUT must be positive"))
	}
	if config.DeployRetryAttempts < 1 {
		problems = append(problems, errors.New("DEPLOY_RETRY_ATTEMPTS must be at least 1"))
	}
	if config.DeployRetryDelay <= 0 {
		problems = append(problems, errors.New("DEPLOY_RETRY_DELAY must be positive"))
	}
	if config.ReaperInterval <= 0 {
		problems = append(problems, errors.New("REAPER_INTERVAL must be positive"))
	}
	// a deploy that is still legitimately running must never look stale
	if config.StaleDeployingAfter <= config.DeployTimeout {
		problems = append(problems, fmt.Errorf("STALE_DEPLOYING_AFTER (%s) must be longer than DEPLOY_TIMEOUT (%s)",
			config.StaleDeployingAfter, config.DeployTimeout))
	}
	return errors.Join(problems...)
}

func getEnv(key, fallbackValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallbackValue
}

func (config *Config) getDuration(key string, fallbackValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallbackValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		config.parseErrors = append(config.parseErrors, fmt.Errorf("%s: invalid duration %q", key, raw))
		return fallbackValue
	}
	return value
}

func (config *Config) getInt(key string, fallbackValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallbackValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		config.parseErrors = append(config.parseErrors, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallbackValue
	}
	return value
}

// splitList splits a comma separated value, dropping empty items.
func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// NewLogger returns a slog logger writing to stdout, JSON unless LogFormat is "text".
func (config *Config) NewLogger() *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	}

	if config.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

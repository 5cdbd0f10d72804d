package config

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

var allKeys = []string{
	"PORT", "DB_PATH", "PACKAGE_DIR", "LOG_ROOT", "LOG_FORMAT", "RELEASE_ROOT",
	"PACKAGE_INDEXES", "PLATFORMS_FILE", "CORS_ALLOWED_ORIGIN", "DOCKER_NETWORK",
	"DEPLOY_TIMEOUT", "DEPLOY_RETRY_ATTEMPTS", "DEPLOY_RETRY_DELAY",
	"REAPER_INTERVAL", "STALE_DEPLOYING_AFTER",
}

func clearEnv(c *qt.C) {
	for _, key := range allKeys {
		c.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	c := qt.New(t)
	clearEnv(c)

	config := Load()
	c.Assert(config.Port, qt.Equals, "8080")
	c.Assert(config.LogFormat, qt.Equals, "json")
	c.Assert(config.PackageIndexes, qt.IsNil)
	c.Assert(config.CORSAllowedOrigin, qt.Equals, "*")
	c.Assert(config.DeployTimeout, qt.Equals, 5*time.Minute)
	c.Assert(config.DeployRetryAttempts, qt.Equals, 3)
	c.Assert(config.StaleDeployingAfter, qt.Equals, 30*time.Minute)
	c.Assert(config.Validate(), qt.IsNil)
}

func TestLoadFromEnvironment(t *testing.T) {
	c := qt.New(t)
	clearEnv(c)
	c.Setenv("PORT", "7577")
	c.Setenv("DB_PATH", ":memory:")
	c.Setenv("LOG_FORMAT", "text")
	c.Setenv("PACKAGE_INDEXES", " ./index.yml, https://repo.example.com/index.yml ,,")
	c.Setenv("DEPLOY_TIMEOUT", "90s")
	c.Setenv("DEPLOY_RETRY_ATTEMPTS", "5")
	c.Setenv("STALE_DEPLOYING_AFTER", "1h")

	config := Load()
	c.Assert(config.Port, qt.Equals, "7577")
	c.Assert(config.DBPath, qt.Equals, ":memory:")
	c.Assert(config.PackageIndexes, qt.DeepEquals, []string{"./index.yml", "https://repo.example.com/index.yml"})
	c.Assert(config.DeployTimeout, qt.Equals, 90*time.Second)
	c.Assert(config.DeployRetryAttempts, qt.Equals, 5)
	c.Assert(config.StaleDeployingAfter, qt.Equals, time.Hour)
	c.Assert(config.Validate(), qt.IsNil)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	c := qt.New(t)
	clearEnv(c)
	c.Setenv("LOG_FORMAT", "xml")
	c.Setenv("DEPLOY_TIMEOUT", "soon")
	c.Setenv("DEPLOY_RETRY_ATTEMPTS", "0")
	c.Setenv("STALE_DEPLOYING_AFTER", "1m")

	err := Load().Validate()
	c.Assert(err, qt.ErrorMatches, `(?s)DEPLOY_TIMEOUT: invalid duration "soon".*`+
		`LOG_FORMAT must be json or text, got "xml".*`+
		`DEPLOY_RETRY_ATTEMPTS must be at least 1.*`+
		`STALE_DEPLOYING_AFTER \(1m0s\) must be longer than DEPLOY_TIMEOUT \(5m0s\)`)
}

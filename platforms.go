package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/config"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform/docker"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform/inmemory"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform/local"
)

// platformFactories builds deployers for the platform types this binary supports
// and keeps the ones holding connections so they can be closed on shutdown.
type platformFactories struct {
	ctx       context.Context
	appConfig *config.Config
	logger    *slog.Logger

	dockerDeployers []*docker.Deployer
}

func newPlatformFactories(ctx context.Context, appConfig *config.Config, logger *slog.Logger) *platformFactories {
	return &platformFactories{ctx: ctx, appConfig: appConfig, logger: logger}
}

func (builder *platformFactories) factories() map[string]platform.Factory {
	return map[string]platform.Factory{
		"inmemory": builder.newInmemory,
		"local":    builder.newLocal,
		"docker":   builder.newDocker,
	}
}

func (builder *platformFactories) newInmemory(platform.Account) (platform.Deployer, error) {
	return inmemory.New(), nil
}

// newLocal accepts the properties "root" and "packageDir", defaulting to RELEASE_ROOT and PACKAGE_DIR.
func (builder *platformFactories) newLocal(account platform.Account) (platform.Deployer, error) {
	localConfig := local.Config{
		Root:       propertyOr(account, "root", builder.appConfig.ReleaseRoot),
		PackageDir: propertyOr(account, "packageDir", builder.appConfig.PackageDir),
	}
	return local.New(localConfig, builder.logger.With("platform", account.Name))
}

// newDocker accepts the properties "network" (default DOCKER_NETWORK) and "stopTimeout" (a Go duration).
func (builder *platformFactories) newDocker(account platform.Account) (platform.Deployer, error) {
	dockerConfig := docker.Config{
		Network: propertyOr(account, "network", builder.appConfig.DockerNetwork),
	}
	if raw := account.Properties["stopTimeout"]; raw != "" {
		stopTimeout, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid stopTimeout %q: %w", raw, err)
		}
		dockerConfig.StopTimeout = stopTimeout
	}

	deployer, err := docker.New(builder.ctx, dockerConfig, builder.logger.With("platform", account.Name))
	if err != nil {
		return nil, err
	}
	builder.dockerDeployers = append(builder.dockerDeployers, deployer)
	return deployer, nil
}

func (builder *platformFactories) close() {
	for _, deployer := range builder.dockerDeployers {
		if err := deployer.Close(); err != nil {
			builder.logger.Warn("failed to close docker client", "error", err)
		}
	}
}

func propertyOr(account platform.Account, key, fallback string) string {
	if value := account.Properties[key]; value != "" {
		return value
	}
	return fallback
}

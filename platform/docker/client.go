// Package docker is the platform deployer that runs each release version as a
// docker container. all Docker SDK calls are isolated here so no other package
// imports the SDK directly.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerSDKclient "github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ContainerAPI is the slice of the Docker SDK client the deployer uses.
// *client.Client satisfies it, tests swap in a fake.
type ContainerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Config configures a docker deployer.
type Config struct {
	// Network is the docker network release containers join. empty means the default bridge.
	Network string

	// StopTimeout is how long a container gets to shut down before it is killed
	StopTimeout time.Duration
}

// Deployer runs release versions as containers.
// safe to share across goroutines, the SDK client handles concurrency internally.
type Deployer struct {
	sdk         ContainerAPI
	logger      *slog.Logger
	network     string
	stopTimeout time.Duration
}

// New connects to the docker daemon from the environment (DOCKER_HOST etc,
// default /var/run/docker.sock) and pings it before returning, so an unreachable
// daemon fails at startup instead of on the first deploy.
func New(ctx context.Context, config Config, logger *slog.Logger) (*Deployer, error) {
	sdkClient, err := dockerSDKclient.NewClientWithOpts(
		dockerSDKclient.FromEnv,
		dockerSDKclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker sdk client: %w", err)
	}

	deployer := NewWithAPI(sdkClient, config, logger)

	pingContext, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if _, err := deployer.sdk.Ping(pingContext); err != nil {
		_ = sdkClient.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	logger.Info("docker client connected", "host", sdkClient.DaemonHost(), "network", config.Network)
	return deployer, nil
}

// NewWithAPI wraps an existing container API client.
func NewWithAPI(api ContainerAPI, config Config, logger *slog.Logger) *Deployer {
	stopTimeout := config.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &Deployer{
		sdk:         api,
		logger:      logger,
		network:     config.Network,
		stopTimeout: stopTimeout,
	}
}

// Close releases the connection to the daemon.
func (deployer *Deployer) Close() error {
	return deployer.sdk.Close()
}

package docker

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerSDKclient "github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform"
)

// labels put on every release container, so `docker ps --filter label=corvus.release=...` finds them
const (
	labelManaged        = "corvus.managed"
	labelRelease        = "corvus.release"
	labelReleaseVersion = "corvus.release.version"
	labelPackage        = "corvus.package"
	labelPackageVersion = "corvus.package.version"
	labelPlatform       = "corvus.platform"
)

// docker container names allow [a-zA-Z0-9][a-zA-Z0-9_.-]*
var invalidNameCharacters = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

var _ platform.Deployer = (*Deployer)(nil)
var _ platform.StatusReporter = (*Deployer)(nil)

// ContainerName is the deterministic container name of a release version.
// being deterministic lets a retried deploy find and replace the leftovers of a failed attempt.
func ContainerName(releaseName, version string) string {
	return "release-" + releaseName + "-" + invalidNameCharacters.ReplaceAllString(version, "-")
}

// Deploy pulls the package's image (its resource), then creates and starts the release container.
// the container is reported ready by Status once docker says it is running (and healthy, if it has a healthcheck).
func (deployer *Deployer) Deploy(ctx context.Context, request platform.DeployRequest) (platform.Handle, error) {
	imageName := request.Package.Resource
	if imageName == "" {
		return "", fmt.Errorf("package %s-%s has no resource (docker image) to run", request.Package.Name, request.Package.Version)
	}
	containerName := ContainerName(request.ReleaseName, request.Version)

	if err := deployer.pullImage(ctx, imageName); err != nil {
		return "", err
	}

	// leftovers of an earlier failed attempt would make the create fail with a name conflict
	if err := deployer.stopAndRemove(ctx, containerName); err != nil {
		return "", err
	}

	containerConfig := &container.Config{
		Image:  imageName,
		Env:    envFromValues(request.Values),
		Labels: releaseLabels(request),
	}
	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	var networkingConfig *network.NetworkingConfig
	if deployer.network != "" {
		networkingConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				deployer.network: {},
			},
		}
	}

	// nil platform lets the daemon pick the image variant matching the host
	var imagePlatform *ocispec.Platform

	created, err := deployer.sdk.ContainerCreate(ctx, containerConfig, hostConfig, networkingConfig, imagePlatform, containerName)
	if err != nil {
		return "", fmt.Errorf("failed to create container %q: %w", containerName, err)
	}
	deployer.logger.Info("release container created",
		"container_id", shortID(created.ID),
		"container_name", containerName,
		"image", imageName,
	)

	if err := deployer.sdk.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// no handle is returned on failure, so nothing would ever tear this container down
		cleanupContext, cancelCleanup := context.WithTimeout(context.WithoutCancel(ctx), deployer.stopTimeout+10*time.Second)
		defer cancelCleanup()
		if removeErr := deployer.stopAndRemove(cleanupContext, containerName); removeErr != nil {
			deployer.logger.Warn("failed to remove container after start failure", "container_name", containerName, "error", removeErr)
		}
		return "", fmt.Errorf("failed to start container %q: %w", containerName, err)
	}
	deployer.logger.Info("release container started", "container_name", containerName, "release", request.ReleaseName)

	return platform.Handle(containerName), nil
}

// Status maps the container state onto the platform states.
func (deployer *Deployer) Status(ctx context.Context, handle platform.Handle) (platform.Status, error) {
	inspected, err := deployer.sdk.ContainerInspect(ctx, string(handle))
	if err != nil {
		if dockerSDKclient.IsErrNotFound(err) {
			return platform.Status{State: platform.StateFailed, Message: "container not found"}, nil
		}
		return platform.Status{}, fmt.Errorf("failed to inspect container %q: %w", handle, err)
	}
	if inspected.ContainerJSONBase == nil || inspected.State == nil {
		return platform.Status{State: platform.StatePending, Message: "no state reported"}, nil
	}
	return statusFromState(inspected.State), nil
}

func statusFromState(state *container.State) platform.Status {
	var health string
	if state.Health != nil {
		health = string(state.Health.Status)
	}
	status := string(state.Status)

	switch {
	case state.Running && health == "starting":
		return platform.Status{State: platform.StatePending, Message: "running, health check starting"}
	case state.Running && health == "unhealthy":
		return platform.Status{State: platform.StateFailed, Message: "running, unhealthy"}
	case state.Running:
		return platform.Status{State: platform.StateReady, Message: "running"}
	case status == "created" || status == "restarting":
		return platform.Status{State: platform.StatePending, Message: status}
	}

	message := fmt.Sprintf("%s (exit code %d)", status, state.ExitCode)
	if state.Error != "" {
		message += ": " + state.Error
	}
	return platform.Status{State: platform.StateFailed, Message: message}
}

// Undeploy stops and removes the release container. an already removed container is not an error.
func (deployer *Deployer) Undeploy(ctx context.Context, handle platform.Handle) error {
	return deployer.stopAndRemove(ctx, string(handle))
}

func (deployer *Deployer) stopAndRemove(ctx context.Context, containerName string) error {
	inspected, err := deployer.sdk.ContainerInspect(ctx, containerName)
	if dockerSDKclient.IsErrNotFound(err) {
		deployer.logger.Debug("container not found, nothing to remove", "container_name", containerName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect container %q: %w", containerName, err)
	}

	timeoutSeconds := int(deployer.stopTimeout.Seconds())
	if err := deployer.sdk.ContainerStop(ctx, inspected.ID, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		return fmt.Errorf("failed to stop container %q: %w", containerName, err)
	}
	if err := deployer.sdk.ContainerRemove(ctx, inspected.ID, container.RemoveOptions{}); err != nil {
		if dockerSDKclient.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %q: %w", containerName, err)
	}

	deployer.logger.Info("release container stopped and removed", "container_name", containerName)
	return nil
}

// pullImage pulls the image and drains the progress stream, the daemon blocks if nobody reads it.
func (deployer *Deployer) pullImage(ctx context.Context, imageName string) error {
	deployer.logger.Info("pulling docker image", "image", imageName)

	progress, err := deployer.sdk.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %q: %w", imageName, err)
	}
	defer progress.Close()

	if _, err := io.Copy(io.Discard, progress); err != nil {
		return fmt.Errorf("failed to read image pull progress for %q: %w", imageName, err)
	}
	return nil
}

// envFromValues turns the release values into KEY=VALUE entries, sorted for a stable container config.
func envFromValues(values map[string]string) []string {
	if len(values) == 0 {
		return nil
	}
	env := make([]string, 0, len(values))
	for key, value := range values {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)
	return env
}

func releaseLabels(request platform.DeployRequest) map[string]string {
	return map[string]string{
		labelManaged:        "true",
		labelRelease:        request.ReleaseName,
		labelReleaseVersion: request.Version,
		labelPackage:        request.Package.Name,
		labelPackageVersion: request.Package.Version,
		labelPlatform:       request.PlatformName,
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

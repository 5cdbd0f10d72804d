// Package platform defines the contract between the release lifecycle and the
// concrete deployment targets, plus the registry that maps platform account
// names (eg "test", "local", "docker") to deployer instances.
//
// the lifecycle never knows what a platform does with a release: it hands over a
// DeployRequest and keeps the opaque Handle it gets back for the later teardown.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

// ErrUnknownPlatform is returned by Registry.Lookup for names that were never registered.
var ErrUnknownPlatform = errors.New("unknown platform")

// Handle identifies a deployed release on a platform. its content is platform specific.
type Handle string

// State is the coarse state an asynchronous platform reports for a handle.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Status is what a StatusReporter says about a handle.
type Status struct {
	State State

	// Message is free form platform output, stored as the release's platformStatus
	Message string
}

// DeployRequest is everything a platform needs to install one release version.
type DeployRequest struct {
	PlatformName string
	ReleaseName  string
	Version      string
	Package      models.PackageMetadata
	Values       map[string]string
}

// Deployer installs and removes releases on one platform.
// Deploy and Undeploy must honour ctx cancellation. Undeploy of a handle that is
// already gone must succeed, the lifecycle relies on that for retried teardowns.
type Deployer interface {
	Deploy(ctx context.Context, request DeployRequest) (Handle, error)
	Undeploy(ctx context.Context, handle Handle) error
}

// StatusReporter is implemented by platforms whose Deploy returns before the
// release is actually up. the lifecycle polls Status until it leaves StatePending.
type StatusReporter interface {
	Status(ctx context.Context, handle Handle) (Status, error)
}

// Registry maps platform account names to deployers. safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	deployers map[string]Deployer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{deployers: make(map[string]Deployer)}
}

// Register adds a deployer under name. registering the same name twice is an error.
func (registry *Registry) Register(name string, deployer Deployer) error {
	if name == "" {
		return fmt.Errorf("platform name is required")
	}
	if deployer == nil {
		return fmt.Errorf("platform %q: deployer is nil", name)
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.deployers[name]; exists {
		return fmt.Errorf("platform %q is already registered", name)
	}
	registry.deployers[name] = deployer
	return nil
}

// Lookup returns the deployer registered under name.
func (registry *Registry) Lookup(name string) (Deployer, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	deployer, ok := registry.deployers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
	return deployer, nil
}

// Names returns the registered platform names in sorted order.
func (registry *Registry) Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.deployers))
	for name := range registry.deployers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

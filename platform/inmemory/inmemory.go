// Package inmemory is a platform deployer that only records what it was asked to do.
// it backs the "test" platform account and lets tests script failures, hangs and
// asynchronous (pending) installs.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform"
)

// Deployer records deployments keyed by handle.
type Deployer struct {
	mu sync.Mutex

	deployed map[platform.Handle]platform.DeployRequest

	// scripted behaviour, keyed by release name
	deployFailures map[string]error
	failuresLeft   map[string]int
	hanging        map[string]bool
	pendingPolls   map[platform.Handle]int
	failedStatus   map[string]string

	undeployFailure  error
	pendingPerDeploy int

	deployCalls   int
	undeployCalls int
}

var _ platform.Deployer = (*Deployer)(nil)
var _ platform.StatusReporter = (*Deployer)(nil)

// New returns an empty deployer.
func New() *Deployer {
	return &Deployer{
		deployed:       make(map[platform.Handle]platform.DeployRequest),
		deployFailures: make(map[string]error),
		failuresLeft:   make(map[string]int),
		hanging:        make(map[string]bool),
		pendingPolls:   make(map[platform.Handle]int),
		failedStatus:   make(map[string]string),
	}
}

// HandleFor is the handle Deploy returns for a release version.
func HandleFor(releaseName, version string) platform.Handle {
	return platform.Handle("inmemory/" + releaseName + "/" + version)
}

// FailDeploys makes every following Deploy of releaseName return err. nil clears it.
func (deployer *Deployer) FailDeploys(releaseName string, err error) {
	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	delete(deployer.failuresLeft, releaseName)
	if err == nil {
		delete(deployer.deployFailures, releaseName)
		return
	}
	deployer.deployFailures[releaseName] = err
}

// FailNextDeploys makes the next `times` deploys of releaseName return err, later deploys succeed.
func (deployer *Deployer) FailNextDeploys(releaseName string, times int, err error) {
	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	deployer.deployFailures[releaseName] = err
	deployer.failuresLeft[releaseName] = times
}

// Hang makes Deploy of releaseName block until its context is done.
func (deployer *Deployer) Hang(releaseName string) {
	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	deployer.hanging[releaseName] = true
}

// FailUndeploys makes every following Undeploy return err. nil clears it.
func (deployer *Deployer) FailUndeploys(err error) {
	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	deployer.undeployFailure = err
}

// ReportPending makes every following deploy answer Status with StatePending polls times before turning ready.
func (deployer *Deployer) ReportPending(polls int) {
	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	deployer.pendingPerDeploy = polls
}

// ReportFailed makes Status of releaseName's deployments answer StateFailed with message.
func (deployer *Deployer) ReportFailed(releaseName, message string) {
	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	deployer.failedStatus[releaseName] = message
}

// Deploy records the request and returns its handle.
func (deployer *Deployer) Deploy(ctx context.Context, request platform.DeployRequest) (platform.Handle, error) {
	deployer.mu.Lock()
	deployer.deployCalls++
	hang := deployer.hanging[request.ReleaseName]
	failure := deployer.deployFailures[request.ReleaseName]
	if left, counted := deployer.failuresLeft[request.ReleaseName]; counted && failure != nil {
		if left <= 1 {
			delete(deployer.failuresLeft, request.ReleaseName)
			delete(deployer.deployFailures, request.ReleaseName)
		} else {
			deployer.failuresLeft[request.ReleaseName] = left - 1
		}
	}
	deployer.mu.Unlock()

	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if failure != nil {
		return "", failure
	}

	handle := HandleFor(request.ReleaseName, request.Version)

	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	deployer.deployed[handle] = request
	if deployer.pendingPerDeploy > 0 {
		deployer.pendingPolls[handle] = deployer.pendingPerDeploy
	}
	return handle, nil
}

// Undeploy forgets the handle. unknown handles are not an error.
func (deployer *Deployer) Undeploy(ctx context.Context, handle platform.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	deployer.undeployCalls++

	if deployer.undeployFailure != nil {
		return deployer.undeployFailure
	}
	delete(deployer.deployed, handle)
	delete(deployer.pendingPolls, handle)
	return nil
}

// Status reports pending for the scripted number of polls, then ready.
func (deployer *Deployer) Status(ctx context.Context, handle platform.Handle) (platform.Status, error) {
	if err := ctx.Err(); err != nil {
		return platform.Status{}, err
	}

	deployer.mu.Lock()
	defer deployer.mu.Unlock()

	request, ok := deployer.deployed[handle]
	if !ok {
		return platform.Status{}, fmt.Errorf("handle %q is not deployed", handle)
	}
	if message, failed := deployer.failedStatus[request.ReleaseName]; failed {
		return platform.Status{State: platform.StateFailed, Message: message}, nil
	}
	if remaining := deployer.pendingPolls[handle]; remaining > 0 {
		deployer.pendingPolls[handle] = remaining - 1
		return platform.Status{State: platform.StatePending, Message: "starting"}, nil
	}
	return platform.Status{State: platform.StateReady, Message: "running"}, nil
}

// Deployed returns the currently deployed requests ordered by release name then version.
func (deployer *Deployer) Deployed() []platform.DeployRequest {
	deployer.mu.Lock()
	defer deployer.mu.Unlock()

	requests := make([]platform.DeployRequest, 0, len(deployer.deployed))
	for _, request := range deployer.deployed {
		requests = append(requests, request)
	}
	sort.Slice(requests, func(i, j int) bool {
		if requests[i].ReleaseName != requests[j].ReleaseName {
			return requests[i].ReleaseName < requests[j].ReleaseName
		}
		return requests[i].Version < requests[j].Version
	})
	return requests
}

// IsDeployed reports whether handle is currently deployed.
func (deployer *Deployer) IsDeployed(handle platform.Handle) bool {
	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	_, ok := deployer.deployed[handle]
	return ok
}

// Calls returns how many times Deploy and Undeploy were invoked.
func (deployer *Deployer) Calls() (deploys int, undeploys int) {
	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	return deployer.deployCalls, deployer.undeployCalls
}

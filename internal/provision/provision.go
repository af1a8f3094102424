// Package provision makes sure the environment, lifecycle and channel of a
// feature branch exist. Every Ensure* call looks the resource up by exact
// name first and creates it only when it is missing, so running a create
// twice never duplicates anything.
package provision

import (
	"context"
	"fmt"

	"octobranch/internal/config"
	"octobranch/internal/octopus"
	"octobranch/pkg/logging"
)

const subsystem = "Provisioner"

// API is the part of the Octopus client the provisioner writes through.
type API interface {
	CreateEnvironment(ctx context.Context, spaceID string, env octopus.Environment) (octopus.Environment, error)
	CreateLifecycle(ctx context.Context, spaceID string, lc octopus.Lifecycle) (octopus.Lifecycle, error)
	CreateChannel(ctx context.Context, spaceID string, ch octopus.Channel) (octopus.Channel, error)
	GetDeploymentProcess(ctx context.Context, spaceID, projectID string) (octopus.DeploymentProcess, error)
}

// Resolver finds existing resources by name.
type Resolver interface {
	ResolveID(ctx context.Context, spaceID, collection, name string) (string, bool, error)
	ResolveChannel(ctx context.Context, spaceID, projectID, name string) (string, bool, error)
}

// Provisioner creates (or finds) the per-branch environment, lifecycle and channel.
type Provisioner struct {
	api      API
	resolver Resolver
}

// New creates a Provisioner.
func New(api API, resolver Resolver) *Provisioner {
	return &Provisioner{api: api, resolver: resolver}
}

// EnsureEnvironment returns the id of the environment named branch, creating it if needed.
func (p *Provisioner) EnsureEnvironment(ctx context.Context, spaceID, branch string) (string, error) {
	if config.IsBlank(spaceID) || config.IsBlank(branch) {
		return "", nil
	}

	id, found, err := p.resolver.ResolveID(ctx, spaceID, octopus.CollectionEnvironments, branch)
	if err != nil {
		return "", fmt.Errorf("failed to look up environment %s: %w", branch, err)
	}
	if found {
		logging.Info(subsystem, "Found environment %s", id)
		return id, nil
	}

	created, err := p.api.CreateEnvironment(ctx, spaceID, octopus.Environment{Name: branch})
	if err != nil {
		return "", fmt.Errorf("failed to create environment %s: %w", branch, err)
	}
	logging.Info(subsystem, "Created environment %s", created.ID)
	return created.ID, nil
}

// EnsureLifecycle returns the id of the lifecycle named branch, creating it with
// a single phase targeting envID if needed.
func (p *Provisioner) EnsureLifecycle(ctx context.Context, spaceID, envID, branch string) (string, error) {
	if config.IsBlank(spaceID) || config.IsBlank(envID) || config.IsBlank(branch) {
		return "", nil
	}

	id, found, err := p.resolver.ResolveID(ctx, spaceID, octopus.CollectionLifecycles, branch)
	if err != nil {
		return "", fmt.Errorf("failed to look up lifecycle %s: %w", branch, err)
	}
	if found {
		logging.Info(subsystem, "Found lifecycle %s", id)
		return id, nil
	}

	created, err := p.api.CreateLifecycle(ctx, spaceID, BuildLifecycle(spaceID, envID, branch))
	if err != nil {
		return "", fmt.Errorf("failed to create lifecycle %s: %w", branch, err)
	}
	logging.Info(subsystem, "Created lifecycle %s", created.GetID())
	return created.GetID(), nil
}

// ChannelRequest describes the channel to ensure.
type ChannelRequest struct {
	SpaceID     string
	ProjectID   string
	LifecycleID string
	Branch      string

	// Step and Package narrow the channel to one step. When Step is blank a
	// rule is generated for every step/package pair of the deployment process.
	Step    string
	Package string
}

// EnsureChannel returns the id of the project channel named after the branch, creating it if needed.
func (p *Provisioner) EnsureChannel(ctx context.Context, req ChannelRequest) (string, error) {
	if config.IsBlank(req.SpaceID) || config.IsBlank(req.ProjectID) || config.IsBlank(req.LifecycleID) || config.IsBlank(req.Branch) {
		return "", nil
	}

	id, found, err := p.resolver.ResolveChannel(ctx, req.SpaceID, req.ProjectID, req.Branch)
	if err != nil {
		return "", fmt.Errorf("failed to look up channel %s: %w", req.Branch, err)
	}
	if found {
		logging.Info(subsystem, "Found channel %s", id)
		return id, nil
	}

	var discovered []octopus.ActionPackage
	if config.IsBlank(req.Step) {
		process, err := p.api.GetDeploymentProcess(ctx, req.SpaceID, req.ProjectID)
		if err != nil {
			return "", fmt.Errorf("failed to read deployment process of project %s: %w", req.ProjectID, err)
		}
		discovered = PackagesFromProcess(process)
		logging.Debug(subsystem, "Discovered %d step/package pairs in project %s", len(discovered), req.ProjectID)
	}

	channel := octopus.Channel{
		ProjectID:   req.ProjectID,
		Name:        req.Branch,
		SpaceID:     req.SpaceID,
		IsDefault:   false,
		LifecycleID: req.LifecycleID,
		Rules:       ChannelRules(req.Branch, req.Step, req.Package, discovered),
	}

	created, err := p.api.CreateChannel(ctx, req.SpaceID, channel)
	if err != nil {
		return "", fmt.Errorf("failed to create channel %s: %w", req.Branch, err)
	}
	logging.Info(subsystem, "Created channel %s", created.ID)
	return created.ID, nil
}

// Package featurebranch runs the create and delete workflows for a feature
// branch. Create provisions the branch environment, lifecycle and channel
// and attaches deployment targets. Delete cancels running deployments and
// then removes everything create added, in reverse dependency order.
//
// Both workflows are idempotent and are retried as a whole by a retry.Policy.
package featurebranch

import (
	"context"
	"errors"
	"fmt"

	"octobranch/internal/config"
	"octobranch/internal/octopus"
	"octobranch/internal/provision"
	"octobranch/internal/resolver"
	"octobranch/internal/retry"
	"octobranch/internal/targets"
	"octobranch/internal/tasks"
	"octobranch/pkg/logging"
)

const subsystem = "FeatureBranch"

var (
	// ErrMissingInput is returned when a resource the workflow cannot do
	// without (the space, or the project on create) does not resolve.
	ErrMissingInput = errors.New("missing required input")

	// ErrUnknownAction is returned by Run for anything but create or delete.
	ErrUnknownAction = errors.New("unknown action")
)

// API is everything the workflows need from the Octopus client.
type API interface {
	resolver.API
	provision.API
	targets.API
	tasks.API

	ListReleases(ctx context.Context, spaceID, projectID string) ([]octopus.Release, error)
	DeleteRelease(ctx context.Context, spaceID, releaseID string) error
	DeleteChannel(ctx context.Context, spaceID, projectID, channelID string) error
	DeleteLifecycle(ctx context.Context, spaceID, lifecycleID string) error
	DeleteEnvironment(ctx context.Context, spaceID, envID string) error
}

// Orchestrator wires the components for one run.
type Orchestrator struct {
	run      config.Run
	settings config.Settings

	api         API
	resolver    *resolver.Resolver
	provisioner *provision.Provisioner
	targets     *targets.Engine
	monitor     *tasks.Monitor
	policy      retry.Policy
}

// Option configures an Orchestrator.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	policy      *retry.Policy
	monitorOpts []tasks.Option
}

// WithPolicy replaces the retry policy derived from settings.
func WithPolicy(p retry.Policy) Option {
	return func(o *orchestratorOptions) { o.policy = &p }
}

// WithSleeper replaces the sleep between task polls.
func WithSleeper(s tasks.Sleeper) Option {
	return func(o *orchestratorOptions) { o.monitorOpts = append(o.monitorOpts, tasks.WithSleeper(s)) }
}

// New creates an Orchestrator for run.
func New(run config.Run, settings config.Settings, api API, opts ...Option) *Orchestrator {
	var o orchestratorOptions
	for _, opt := range opts {
		opt(&o)
	}

	res := resolver.New(api)
	orch := &Orchestrator{
		run:         run,
		settings:    settings,
		api:         api,
		resolver:    res,
		provisioner: provision.New(api, res),
		targets:     targets.New(api, res),
		monitor:     tasks.New(api, res, settings.Polling, o.monitorOpts...),
		policy:      retry.NewPolicy(settings.Retry),
	}
	if o.policy != nil {
		orch.policy = *o.policy
	}
	return orch
}

// Run performs the configured action.
func (o *Orchestrator) Run(ctx context.Context) error {
	switch o.run.Action {
	case config.ActionCreate:
		return o.Create(ctx)
	case config.ActionDelete:
		return o.Delete(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, o.run.Action)
	}
}

// Create provisions the branch. Protected branches are skipped.
func (o *Orchestrator) Create(ctx context.Context) error {
	if o.skip() {
		return nil
	}
	return o.policy.Do(ctx, "create", o.create)
}

// Delete tears the branch down. Protected branches are skipped.
func (o *Orchestrator) Delete(ctx context.Context) error {
	if o.skip() {
		return nil
	}
	return o.policy.Do(ctx, "delete", o.delete)
}

func (o *Orchestrator) skip() bool {
	if o.settings.IsProtected(o.run.Branch) {
		logging.Debug(subsystem, "Branch %s is protected, nothing to do", o.run.Branch)
		return true
	}
	return false
}

func (o *Orchestrator) resolveSpace(ctx context.Context) (string, error) {
	spaceID, found, err := o.resolver.ResolveSpace(ctx, o.run.Space)
	if err != nil {
		return "", fmt.Errorf("failed to resolve space %s: %w", o.run.Space, err)
	}
	if !found {
		return "", fmt.Errorf("%w: space %s not found", ErrMissingInput, o.run.Space)
	}
	return spaceID, nil
}

func (o *Orchestrator) resolveProject(ctx context.Context, spaceID string) (string, bool, error) {
	projectID, found, err := o.resolver.ResolveID(ctx, spaceID, octopus.CollectionProjects, o.run.Project)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve project %s: %w", o.run.Project, err)
	}
	return projectID, found, nil
}

func (o *Orchestrator) create(ctx context.Context) error {
	logging.Info(subsystem, "Creating feature branch %s", o.run.Branch)

	spaceID, err := o.resolveSpace(ctx)
	if err != nil {
		return err
	}
	projectID, found, err := o.resolveProject(ctx, spaceID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: project %s not found", ErrMissingInput, o.run.Project)
	}

	envID, err := o.provisioner.EnsureEnvironment(ctx, spaceID, o.run.Branch)
	if err != nil {
		return err
	}
	lifecycleID, err := o.provisioner.EnsureLifecycle(ctx, spaceID, envID, o.run.Branch)
	if err != nil {
		return err
	}
	if _, err := o.provisioner.EnsureChannel(ctx, provision.ChannelRequest{
		SpaceID:     spaceID,
		ProjectID:   projectID,
		LifecycleID: lifecycleID,
		Branch:      o.run.Branch,
		Step:        o.run.DeploymentStep,
		Package:     o.run.DeploymentPackage,
	}); err != nil {
		return err
	}

	return o.targets.Assign(ctx, spaceID, envID, targets.SelectorFromRun(o.run))
}

func (o *Orchestrator) delete(ctx context.Context) error {
	logging.Info(subsystem, "Deleting feature branch %s", o.run.Branch)

	spaceID, err := o.resolveSpace(ctx)
	if err != nil {
		return err
	}
	// A missing project only skips the project-scoped steps; the lifecycle,
	// targets and environment still belong to the branch.
	projectID, _, err := o.resolveProject(ctx, spaceID)
	if err != nil {
		return err
	}

	t := teardown{o: o, spaceID: spaceID, projectID: projectID}
	return t.run(ctx)
}

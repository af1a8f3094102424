package featurebranch

import (
	"context"
	"fmt"

	"octobranch/internal/octopus"
	"octobranch/internal/targets"
	"octobranch/pkg/logging"
)

// DeleteState is a step of the delete workflow. The states are entered in
// declaration order.
type DeleteState int

const (
	StateCancelling DeleteState = iota
	StateReleasesDeleted
	StateChannelDeleted
	StateLifecycleDeleted
	StateTargetsUnassigned
	StateEnvironmentDeleted
)

func (s DeleteState) String() string {
	switch s {
	case StateCancelling:
		return "CANCELLING"
	case StateReleasesDeleted:
		return "RELEASES_DELETED"
	case StateChannelDeleted:
		return "CHANNEL_DELETED"
	case StateLifecycleDeleted:
		return "LIFECYCLE_DELETED"
	case StateTargetsUnassigned:
		return "TARGETS_UNASSIGNED"
	case StateEnvironmentDeleted:
		return "ENVIRONMENT_DELETED"
	default:
		return fmt.Sprintf("DeleteState(%d)", int(s))
	}
}

// teardown walks the delete states for one attempt.
type teardown struct {
	o         *Orchestrator
	spaceID   string
	projectID string
}

func (t teardown) run(ctx context.Context) error {
	steps := []struct {
		state DeleteState
		fn    func(context.Context) error
	}{
		{StateCancelling, t.cancelTasks},
		{StateReleasesDeleted, t.deleteReleases},
		{StateChannelDeleted, t.deleteChannel},
		{StateLifecycleDeleted, t.deleteLifecycle},
		{StateTargetsUnassigned, t.unassignTargets},
		{StateEnvironmentDeleted, t.deleteEnvironment},
	}

	for _, step := range steps {
		logging.Debug(subsystem, "Entering %s", step.state)
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.state, err)
		}
		logging.Info(subsystem, "Branch %s is %s", t.o.run.Branch, step.state)
	}
	return nil
}

func (t teardown) cancelTasks(ctx context.Context) error {
	return t.o.monitor.WaitForQuiescence(ctx, t.spaceID, t.projectID, t.o.run.Branch)
}

func (t teardown) branchChannel(ctx context.Context) (string, bool, error) {
	if t.projectID == "" {
		return "", false, nil
	}
	return t.o.resolver.ResolveChannel(ctx, t.spaceID, t.projectID, t.o.run.Branch)
}

func (t teardown) deleteReleases(ctx context.Context) error {
	channelID, found, err := t.branchChannel(ctx)
	if err != nil || !found {
		return err
	}

	releases, err := t.o.api.ListReleases(ctx, t.spaceID, t.projectID)
	if err != nil {
		return fmt.Errorf("failed to list releases: %w", err)
	}
	for _, r := range releases {
		if r.ChannelID != channelID {
			continue
		}
		if err := t.o.api.DeleteRelease(ctx, t.spaceID, r.ID); err != nil {
			return fmt.Errorf("failed to delete release %s: %w", r.ID, err)
		}
		logging.Info(subsystem, "Deleted release %s", r.ID)
	}
	return nil
}

func (t teardown) deleteChannel(ctx context.Context) error {
	channelID, found, err := t.branchChannel(ctx)
	if err != nil || !found {
		return err
	}
	if err := t.o.api.DeleteChannel(ctx, t.spaceID, t.projectID, channelID); err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", channelID, err)
	}
	logging.Info(subsystem, "Deleted channel %s", channelID)
	return nil
}

func (t teardown) deleteLifecycle(ctx context.Context) error {
	lifecycleID, found, err := t.o.resolver.ResolveID(ctx, t.spaceID, octopus.CollectionLifecycles, t.o.run.Branch)
	if err != nil || !found {
		return err
	}
	if err := t.o.api.DeleteLifecycle(ctx, t.spaceID, lifecycleID); err != nil {
		return fmt.Errorf("failed to delete lifecycle %s: %w", lifecycleID, err)
	}
	logging.Info(subsystem, "Deleted lifecycle %s", lifecycleID)
	return nil
}

func (t teardown) unassignTargets(ctx context.Context) error {
	return t.o.targets.Unassign(ctx, t.spaceID, t.o.run.Branch, targets.SelectorFromRun(t.o.run))
}

func (t teardown) deleteEnvironment(ctx context.Context) error {
	envID, found, err := t.o.resolver.ResolveID(ctx, t.spaceID, octopus.CollectionEnvironments, t.o.run.Branch)
	if err != nil || !found {
		return err
	}
	if err := t.o.api.DeleteEnvironment(ctx, t.spaceID, envID); err != nil {
		return fmt.Errorf("failed to delete environment %s: %w", envID, err)
	}
	logging.Info(subsystem, "Deleted environment %s", envID)
	return nil
}

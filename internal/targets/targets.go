// Package targets attaches existing deployment targets to a branch
// environment and detaches them again on teardown.
//
// Every change writes the complete target record back with a PUT. There is
// no optimistic concurrency: if two branches edit the same target at the
// same moment, the last write wins.
package targets

import (
	"context"
	"fmt"

	"octobranch/internal/config"
	"octobranch/internal/octopus"
	"octobranch/pkg/logging"
)

const subsystem = "Targets"

// API is the part of the Octopus client used for targets.
type API interface {
	GetMachine(ctx context.Context, spaceID, machineID string) (octopus.Machine, error)
	ListMachines(ctx context.Context, spaceID string) ([]octopus.Machine, error)
	UpdateMachine(ctx context.Context, spaceID string, m octopus.Machine) error
	DeleteMachine(ctx context.Context, spaceID, machineID string) error
}

// Resolver finds targets and environments by name.
type Resolver interface {
	ResolveID(ctx context.Context, spaceID, collection, name string) (string, bool, error)
}

// Strategy is the way targets are selected.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyByName
	StrategyByRole
	StrategyByRoleAndEnvironment
)

func (s Strategy) String() string {
	switch s {
	case StrategyByName:
		return "by-name"
	case StrategyByRole:
		return "by-role"
	case StrategyByRoleAndEnvironment:
		return "by-role-and-environment"
	default:
		return "none"
	}
}

// Selector holds the optional target inputs of a run.
type Selector struct {
	Name        string
	Role        string
	Environment string // existing environment that narrows a role selection
}

// SelectorFromRun extracts the target selector from run inputs.
func SelectorFromRun(r config.Run) Selector {
	return Selector{Name: r.TargetName, Role: r.TargetRole, Environment: r.TargetEnvironment}
}

// Strategy picks the assignment strategy. A name wins over a role; a role
// with an existing environment narrows to targets already in it.
func (s Selector) Strategy() Strategy {
	switch {
	case !config.IsBlank(s.Name):
		return StrategyByName
	case config.IsBlank(s.Role):
		return StrategyNone
	case !config.IsBlank(s.Environment):
		return StrategyByRoleAndEnvironment
	default:
		return StrategyByRole
	}
}

// Engine assigns and unassigns targets.
type Engine struct {
	api      API
	resolver Resolver
}

// New creates an Engine.
func New(api API, resolver Resolver) *Engine {
	return &Engine{api: api, resolver: resolver}
}

// Assign adds envID to the targets chosen by sel.
func (e *Engine) Assign(ctx context.Context, spaceID, envID string, sel Selector) error {
	strategy := sel.Strategy()
	logging.Debug(subsystem, "Assigning targets %s", strategy)

	switch strategy {
	case StrategyByName:
		return e.AssignByName(ctx, spaceID, envID, sel.Name)
	case StrategyByRoleAndEnvironment:
		return e.AssignByRoleAndEnvironment(ctx, spaceID, envID, sel.Role, sel.Environment)
	case StrategyByRole:
		return e.AssignByRole(ctx, spaceID, envID, sel.Role)
	default:
		return nil
	}
}

// AssignByName adds envID to the target named name.
func (e *Engine) AssignByName(ctx context.Context, spaceID, envID, name string) error {
	if config.IsBlank(spaceID) || config.IsBlank(envID) || config.IsBlank(name) {
		return nil
	}

	targetID, found, err := e.resolver.ResolveID(ctx, spaceID, octopus.CollectionMachines, name)
	if err != nil || !found {
		return err
	}

	target, err := e.api.GetMachine(ctx, spaceID, targetID)
	if err != nil {
		return fmt.Errorf("failed to read target %s: %w", targetID, err)
	}
	return e.addEnvironment(ctx, spaceID, envID, target)
}

// AssignByRole adds envID to every target carrying role.
func (e *Engine) AssignByRole(ctx context.Context, spaceID, envID, role string) error {
	if config.IsBlank(spaceID) || config.IsBlank(envID) || config.IsBlank(role) {
		return nil
	}

	targets, err := e.targetsWithRole(ctx, spaceID, role)
	if err != nil {
		return err
	}
	for _, target := range targets {
		if err := e.addEnvironment(ctx, spaceID, envID, target); err != nil {
			return err
		}
	}
	return nil
}

// AssignByRoleAndEnvironment adds envID to every target carrying role that
// is already assigned to the environment named existingEnv.
func (e *Engine) AssignByRoleAndEnvironment(ctx context.Context, spaceID, envID, role, existingEnv string) error {
	if config.IsBlank(spaceID) || config.IsBlank(envID) || config.IsBlank(role) || config.IsBlank(existingEnv) {
		return nil
	}

	existingID, found, err := e.resolver.ResolveID(ctx, spaceID, octopus.CollectionEnvironments, existingEnv)
	if err != nil || !found {
		return err
	}

	targets, err := e.targetsWithRole(ctx, spaceID, role)
	if err != nil {
		return err
	}
	for _, target := range targets {
		if !target.InEnvironment(existingID) {
			continue
		}
		if err := e.addEnvironment(ctx, spaceID, envID, target); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) targetsWithRole(ctx context.Context, spaceID, role string) ([]octopus.Machine, error) {
	all, err := e.api.ListMachines(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	var matched []octopus.Machine
	for _, m := range all {
		if m.HasRole(role) {
			matched = append(matched, m)
		}
	}
	return matched, nil
}

func (e *Engine) addEnvironment(ctx context.Context, spaceID, envID string, target octopus.Machine) error {
	if !target.AddEnvironment(envID) {
		logging.Info(subsystem, "Environment %s already assigned to target %s", envID, target.ID)
		return nil
	}
	if err := e.api.UpdateMachine(ctx, spaceID, target); err != nil {
		return fmt.Errorf("failed to update target %s: %w", target.ID, err)
	}
	logging.Info(subsystem, "Added environment %s to target %s", envID, target.ID)
	return nil
}

// Unassign removes the branch environment from every target in the space.
// A target named in sel is handled first; the sweep over all targets always
// follows so that no target keeps a reference to the environment.
func (e *Engine) Unassign(ctx context.Context, spaceID, branch string, sel Selector) error {
	if !config.IsBlank(sel.Name) {
		if err := e.UnassignByName(ctx, spaceID, branch, sel.Name); err != nil {
			return err
		}
	}
	return e.UnassignAll(ctx, spaceID, branch)
}

// UnassignByName removes the branch environment from the target named name.
func (e *Engine) UnassignByName(ctx context.Context, spaceID, branch, name string) error {
	if config.IsBlank(spaceID) || config.IsBlank(branch) || config.IsBlank(name) {
		return nil
	}

	envID, found, err := e.resolver.ResolveID(ctx, spaceID, octopus.CollectionEnvironments, branch)
	if err != nil || !found {
		return err
	}
	targetID, found, err := e.resolver.ResolveID(ctx, spaceID, octopus.CollectionMachines, name)
	if err != nil || !found {
		return err
	}

	target, err := e.api.GetMachine(ctx, spaceID, targetID)
	if err != nil {
		return fmt.Errorf("failed to read target %s: %w", targetID, err)
	}
	return e.removeEnvironment(ctx, spaceID, envID, target)
}

// UnassignAll removes the branch environment from every target in the space.
func (e *Engine) UnassignAll(ctx context.Context, spaceID, branch string) error {
	if config.IsBlank(spaceID) || config.IsBlank(branch) {
		return nil
	}

	envID, found, err := e.resolver.ResolveID(ctx, spaceID, octopus.CollectionEnvironments, branch)
	if err != nil || !found {
		return err
	}

	all, err := e.api.ListMachines(ctx, spaceID)
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}
	for _, target := range all {
		if err := e.removeEnvironment(ctx, spaceID, envID, target); err != nil {
			return err
		}
	}
	return nil
}

// removeEnvironment drops envID from target. A target left without any
// environment is deleted, since it can no longer be deployed to.
func (e *Engine) removeEnvironment(ctx context.Context, spaceID, envID string, target octopus.Machine) error {
	if !target.RemoveEnvironment(envID) {
		logging.Debug(subsystem, "Environment %s not assigned to target %s", envID, target.ID)
		return nil
	}

	if len(target.EnvironmentIDs) == 0 {
		if err := e.api.DeleteMachine(ctx, spaceID, target.ID); err != nil {
			return fmt.Errorf("failed to delete target %s: %w", target.ID, err)
		}
		logging.Info(subsystem, "Removed target %s because it was only assigned to the environment %s", target.ID, envID)
		return nil
	}

	if err := e.api.UpdateMachine(ctx, spaceID, target); err != nil {
		return fmt.Errorf("failed to update target %s: %w", target.ID, err)
	}
	logging.Info(subsystem, "Removed environment %s from target %s", envID, target.ID)
	return nil
}

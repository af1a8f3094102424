// Package tasks cancels deployment tasks still running in a branch channel
// and waits until none are left. Teardown must not delete a channel while
// one of its deployments is executing.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"octobranch/internal/config"
	"octobranch/internal/octopus"
	"octobranch/pkg/logging"
)

const subsystem = "Tasks"

// ErrNotQuiescent is returned when active tasks remain after MaxPolls polls.
var ErrNotQuiescent = errors.New("tasks still active after maximum number of polls")

// API is the part of the Octopus client used to find and cancel tasks.
type API interface {
	ListDeployments(ctx context.Context, spaceID, projectID, channelID string) ([]octopus.Deployment, error)
	GetTask(ctx context.Context, spaceID, taskID string) (octopus.Task, error)
	CancelTask(ctx context.Context, spaceID, taskID string) error
}

// Resolver finds the branch channel of a project.
type Resolver interface {
	ResolveChannel(ctx context.Context, spaceID, projectID, name string) (string, bool, error)
}

// Sleeper pauses between polls. It returns early with ctx.Err() when the
// context is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Monitor cancels the active tasks of a branch channel.
type Monitor struct {
	api      API
	resolver Resolver
	interval time.Duration
	maxPolls int
	sleep    Sleeper
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSleeper replaces the sleep between polls.
func WithSleeper(s Sleeper) Option {
	return func(m *Monitor) { m.sleep = s }
}

// New creates a Monitor polling with the given settings.
func New(api API, resolver Resolver, settings config.PollSettings, opts ...Option) *Monitor {
	m := &Monitor{
		api:      api,
		resolver: resolver,
		interval: settings.Interval,
		maxPolls: settings.MaxPolls,
		sleep:    ContextSleep,
	}
	if m.interval <= 0 {
		m.interval = config.DefaultPollInterval
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CancelActive requests cancellation of every incomplete task deployed to the
// branch channel and returns how many were found. A missing channel counts as
// zero.
func (m *Monitor) CancelActive(ctx context.Context, spaceID, projectID, branch string) (int, error) {
	if config.IsBlank(spaceID) || config.IsBlank(projectID) || config.IsBlank(branch) {
		return 0, nil
	}

	channelID, found, err := m.resolver.ResolveChannel(ctx, spaceID, projectID, branch)
	if err != nil {
		return 0, fmt.Errorf("failed to look up channel %s: %w", branch, err)
	}
	if !found {
		return 0, nil
	}

	deployments, err := m.api.ListDeployments(ctx, spaceID, projectID, channelID)
	if err != nil {
		return 0, fmt.Errorf("failed to list deployments of channel %s: %w", channelID, err)
	}

	active := 0
	for _, d := range deployments {
		if d.TaskID == "" {
			continue
		}
		task, err := m.api.GetTask(ctx, spaceID, d.TaskID)
		if err != nil {
			return active, fmt.Errorf("failed to read task %s: %w", d.TaskID, err)
		}
		if task.IsCompleted {
			continue
		}
		active++
		if err := m.api.CancelTask(ctx, spaceID, d.TaskID); err != nil {
			return active, fmt.Errorf("failed to cancel task %s: %w", d.TaskID, err)
		}
		logging.Info(subsystem, "Cancelled task %s", d.TaskID)
	}
	return active, nil
}

// WaitForQuiescence cancels active tasks and sleeps between polls until a
// poll finds none.
func (m *Monitor) WaitForQuiescence(ctx context.Context, spaceID, projectID, branch string) error {
	for poll := 1; ; poll++ {
		active, err := m.CancelActive(ctx, spaceID, projectID, branch)
		if err != nil {
			return err
		}
		if active == 0 {
			return nil
		}
		if m.maxPolls > 0 && poll >= m.maxPolls {
			return fmt.Errorf("%w: %d active after %d polls", ErrNotQuiescent, active, poll)
		}

		logging.Info(subsystem, "Waiting for %d cancelled tasks to stop", active)
		if err := m.sleep(ctx, m.interval); err != nil {
			return err
		}
	}
}

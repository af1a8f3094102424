package octopus

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

// Collection names used under /api/{spaceId}/.
const (
	CollectionEnvironments = "environments"
	CollectionLifecycles   = "lifecycles"
	CollectionProjects     = "projects"
	CollectionMachines     = "machines"
	CollectionChannels     = "channels"
)

// Path joins escaped segments into an API-relative path.
func Path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

func (c *Client) take() url.Values {
	return url.Values{"take": []string{strconv.Itoa(c.pageSize)}}
}

// SearchByPartialName lists resources under path whose name contains name.
// The server-side match is partial; callers narrow it to an exact match.
func (c *Client) SearchByPartialName(ctx context.Context, path, name string) ([]NamedResource, error) {
	q := c.take()
	q.Set("partialName", strings.TrimSpace(name))

	var page Collection[NamedResource]
	if err := c.Get(ctx, path, q, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) CreateEnvironment(ctx context.Context, spaceID string, env Environment) (Environment, error) {
	var created Environment
	err := c.Post(ctx, Path(spaceID, CollectionEnvironments), env, &created)
	return created, err
}

func (c *Client) DeleteEnvironment(ctx context.Context, spaceID, envID string) error {
	return c.Delete(ctx, Path(spaceID, CollectionEnvironments, envID))
}

func (c *Client) CreateLifecycle(ctx context.Context, spaceID string, lc Lifecycle) (Lifecycle, error) {
	var created Lifecycle
	err := c.Post(ctx, Path(spaceID, CollectionLifecycles), lc, &created)
	return created, err
}

func (c *Client) DeleteLifecycle(ctx context.Context, spaceID, lifecycleID string) error {
	return c.Delete(ctx, Path(spaceID, CollectionLifecycles, lifecycleID))
}

// ChannelsPath is the project-scoped channel collection.
func ChannelsPath(spaceID, projectID string) string {
	return Path(spaceID, CollectionProjects, projectID, CollectionChannels)
}

func (c *Client) CreateChannel(ctx context.Context, spaceID string, ch Channel) (Channel, error) {
	var created Channel
	err := c.Post(ctx, ChannelsPath(spaceID, ch.ProjectID), ch, &created)
	return created, err
}

func (c *Client) DeleteChannel(ctx context.Context, spaceID, projectID, channelID string) error {
	return c.Delete(ctx, Path(spaceID, CollectionProjects, projectID, CollectionChannels, channelID))
}

func (c *Client) GetDeploymentProcess(ctx context.Context, spaceID, projectID string) (DeploymentProcess, error) {
	var process DeploymentProcess
	err := c.Get(ctx, Path(spaceID, CollectionProjects, projectID, "deploymentprocesses"), nil, &process)
	return process, err
}

// ListMachines returns every deployment target in the space, up to the page size.
func (c *Client) ListMachines(ctx context.Context, spaceID string) ([]Machine, error) {
	var page Collection[Machine]
	if err := c.Get(ctx, Path(spaceID, CollectionMachines), c.take(), &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) GetMachine(ctx context.Context, spaceID, machineID string) (Machine, error) {
	var m Machine
	err := c.Get(ctx, Path(spaceID, CollectionMachines, machineID), nil, &m)
	return m, err
}

// UpdateMachine writes the whole target record back (last writer wins).
func (c *Client) UpdateMachine(ctx context.Context, spaceID string, m Machine) error {
	return c.Put(ctx, Path(spaceID, CollectionMachines, m.ID), m, nil)
}

func (c *Client) DeleteMachine(ctx context.Context, spaceID, machineID string) error {
	return c.Delete(ctx, Path(spaceID, CollectionMachines, machineID))
}

// ListDeployments returns the deployments of a project restricted to one channel.
func (c *Client) ListDeployments(ctx context.Context, spaceID, projectID, channelID string) ([]Deployment, error) {
	q := c.take()
	q.Set("projects", projectID)
	q.Set("channels", channelID)

	var page Collection[Deployment]
	if err := c.Get(ctx, Path(spaceID, "deployments"), q, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) GetTask(ctx context.Context, spaceID, taskID string) (Task, error) {
	var task Task
	err := c.Get(ctx, Path(spaceID, "tasks", taskID), nil, &task)
	return task, err
}

// CancelTask requests cancellation. The platform stops the task asynchronously.
func (c *Client) CancelTask(ctx context.Context, spaceID, taskID string) error {
	return c.Post(ctx, Path(spaceID, "tasks", taskID, "cancel"), nil, nil)
}

func (c *Client) ListReleases(ctx context.Context, spaceID, projectID string) ([]Release, error) {
	var page Collection[Release]
	if err := c.Get(ctx, Path(spaceID, CollectionProjects, projectID, "releases"), c.take(), &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) DeleteRelease(ctx context.Context, spaceID, releaseID string) error {
	return c.Delete(ctx, Path(spaceID, "releases", releaseID))
}

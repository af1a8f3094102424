// Package resolver turns human-readable Octopus resource names into ids.
//
// Lookups use the server's partial-name search and then keep only the
// items whose name matches exactly (after trimming). A name with no exact
// match is reported as "not found" (ok == false, err == nil); callers decide
// whether that matters. Only failed API calls are returned as errors.
package resolver

import (
	"context"
	"strings"

	"octobranch/internal/config"
	"octobranch/internal/octopus"
	"octobranch/pkg/logging"
)

const subsystem = "Resolver"

// API is the part of the Octopus client the resolver needs.
type API interface {
	SearchByPartialName(ctx context.Context, path, name string) ([]octopus.NamedResource, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Resolver resolves names to ids.
type Resolver struct {
	api API
}

// New creates a Resolver backed by api.
func New(api API) *Resolver {
	return &Resolver{api: api}
}

// ResolveSpace resolves a space by name. When no space has that name the
// input is tried as a literal space id.
func (r *Resolver) ResolveSpace(ctx context.Context, nameOrID string) (string, bool, error) {
	if config.IsBlank(nameOrID) {
		return "", false, nil
	}

	items, err := r.api.SearchByPartialName(ctx, "spaces", nameOrID)
	if err != nil {
		return "", false, err
	}
	if id, ok := exactMatch(items, nameOrID); ok {
		return id, true, nil
	}

	trimmed := strings.TrimSpace(nameOrID)
	exists, err := r.api.Exists(ctx, octopus.Path("spaces", trimmed))
	if err != nil {
		return "", false, err
	}
	if !exists {
		logging.Warn(subsystem, "The space called %s could not be found.", nameOrID)
		return "", false, nil
	}
	logging.Debug(subsystem, "Treating %s as a space id", trimmed)
	return trimmed, true, nil
}

// ResolveID resolves a resource of the given space-scoped collection
// (environments, lifecycles, projects, machines, ...) by exact name.
func (r *Resolver) ResolveID(ctx context.Context, spaceID, collection, name string) (string, bool, error) {
	if config.IsBlank(spaceID) || config.IsBlank(collection) || config.IsBlank(name) {
		return "", false, nil
	}
	return r.resolve(ctx, octopus.Path(spaceID, collection), spaceID, collection, name)
}

// ResolveChannel resolves a channel of a project by exact name.
func (r *Resolver) ResolveChannel(ctx context.Context, spaceID, projectID, name string) (string, bool, error) {
	if config.IsBlank(spaceID) || config.IsBlank(projectID) || config.IsBlank(name) {
		return "", false, nil
	}
	return r.resolve(ctx, octopus.ChannelsPath(spaceID, projectID), spaceID, octopus.CollectionChannels, name)
}

func (r *Resolver) resolve(ctx context.Context, path, spaceID, collection, name string) (string, bool, error) {
	items, err := r.api.SearchByPartialName(ctx, path, name)
	if err != nil {
		return "", false, err
	}
	id, ok := exactMatch(items, name)
	if !ok {
		logging.Warn(subsystem, "The resource called %s of type %s could not be found in space %s.", name, collection, spaceID)
		return "", false, nil
	}
	return id, true, nil
}

// exactMatch returns the id of the first item named exactly name (trimmed).
func exactMatch(items []octopus.NamedResource, name string) (string, bool) {
	want := strings.TrimSpace(name)
	for _, item := range items {
		if item.Name == want {
			return item.ID, true
		}
	}
	return "", false
}

package octopus

import (
	"encoding/json"
	"fmt"
)

// Collection is the paged envelope of every Octopus list endpoint.
type Collection[T any] struct {
	Items        []T `json:"Items"`
	TotalResults int `json:"TotalResults"`
	ItemsPerPage int `json:"ItemsPerPage"`
}

// NamedResource is the subset of fields shared by every named resource.
type NamedResource struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

type Space struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

type Environment struct {
	ID   string `json:"Id,omitempty"`
	Name string `json:"Name"`
}

// Lifecycle mirrors the Octopus lifecycle resource. ID and Links are
// pointers/maps so a new lifecycle serializes them as JSON null.
type Lifecycle struct {
	ID                      *string           `json:"Id"`
	Name                    string            `json:"Name"`
	SpaceID                 string            `json:"SpaceId"`
	Phases                  []Phase           `json:"Phases"`
	ReleaseRetentionPolicy  RetentionPolicy   `json:"ReleaseRetentionPolicy"`
	TentacleRetentionPolicy RetentionPolicy   `json:"TentacleRetentionPolicy"`
	Links                   map[string]string `json:"Links"`
}

// GetID returns the lifecycle id or "" for an unsaved lifecycle.
func (l Lifecycle) GetID() string {
	if l.ID == nil {
		return ""
	}
	return *l.ID
}

type Phase struct {
	Name                               string   `json:"Name"`
	OptionalDeploymentTargets          []string `json:"OptionalDeploymentTargets"`
	AutomaticDeploymentTargets         []string `json:"AutomaticDeploymentTargets"`
	MinimumEnvironmentsBeforePromotion int      `json:"MinimumEnvironmentsBeforePromotion"`
	IsOptionalPhase                    bool     `json:"IsOptionalPhase"`
}

type RetentionPolicy struct {
	ShouldKeepForever bool   `json:"ShouldKeepForever"`
	QuantityToKeep    int    `json:"QuantityToKeep"`
	Unit              string `json:"Unit"`
}

type Channel struct {
	ID          string        `json:"Id,omitempty"`
	ProjectID   string        `json:"ProjectId"`
	Name        string        `json:"Name"`
	SpaceID     string        `json:"SpaceId"`
	IsDefault   bool          `json:"IsDefault"`
	LifecycleID string        `json:"LifecycleId"`
	Rules       []ChannelRule `json:"Rules"`
}

// ChannelRule restricts the release versions (Tag regex) allowed for the listed steps.
type ChannelRule struct {
	Tag            string          `json:"Tag"`
	Actions        []string        `json:"Actions"`
	ActionPackages []ActionPackage `json:"ActionPackages"`
}

// ActionPackage pairs a step with one of its packages. PackageReference is
// sent as null when the step has no package.
type ActionPackage struct {
	DeploymentAction string  `json:"DeploymentAction"`
	PackageReference *string `json:"PackageReference"`
}

type DeploymentProcess struct {
	ID    string           `json:"Id"`
	Steps []DeploymentStep `json:"Steps"`
}

type DeploymentStep struct {
	Name    string             `json:"Name"`
	Actions []DeploymentAction `json:"Actions"`
}

type DeploymentAction struct {
	Name     string             `json:"Name"`
	Packages []PackageReference `json:"Packages"`
}

type PackageReference struct {
	Name      string `json:"Name"`
	PackageID string `json:"PackageId,omitempty"`
}

type Deployment struct {
	ID        string `json:"Id"`
	TaskID    string `json:"TaskId"`
	ProjectID string `json:"ProjectId"`
	ChannelID string `json:"ChannelId"`
}

type Task struct {
	ID          string `json:"Id"`
	State       string `json:"State,omitempty"`
	IsCompleted bool   `json:"IsCompleted"`
}

type Release struct {
	ID        string `json:"Id"`
	ChannelID string `json:"ChannelId"`
	Version   string `json:"Version,omitempty"`
}

// Machine is a deployment target. Only the fields octobranch touches are
// modelled; every other property of the record is kept verbatim so a
// GET followed by a PUT never drops data.
type Machine struct {
	ID             string
	Name           string
	Roles          []string
	EnvironmentIDs []string

	extra map[string]json.RawMessage
}

const (
	machineFieldID   = "Id"
	machineFieldName = "Name"
	machineFieldRole = "Roles"
	machineFieldEnvs = "EnvironmentIds"
)

func (m *Machine) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	fields := []struct {
		key string
		dst interface{}
	}{
		{machineFieldID, &m.ID},
		{machineFieldName, &m.Name},
		{machineFieldRole, &m.Roles},
		{machineFieldEnvs, &m.EnvironmentIDs},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("machine field %s: %w", f.key, err)
		}
		delete(raw, f.key)
	}

	m.extra = raw
	return nil
}

func (m Machine) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.extra)+4)
	for k, v := range m.extra {
		out[k] = v
	}
	out[machineFieldID] = m.ID
	out[machineFieldName] = m.Name
	out[machineFieldRole] = nonNil(m.Roles)
	out[machineFieldEnvs] = nonNil(m.EnvironmentIDs)
	return json.Marshal(out)
}

// HasRole reports whether the target carries role.
func (m Machine) HasRole(role string) bool {
	return contains(m.Roles, role)
}

// InEnvironment reports whether envID is in the target's environment set.
func (m Machine) InEnvironment(envID string) bool {
	return contains(m.EnvironmentIDs, envID)
}

// AddEnvironment adds envID to the environment set. It returns false if it was already present.
func (m *Machine) AddEnvironment(envID string) bool {
	if m.InEnvironment(envID) {
		return false
	}
	m.EnvironmentIDs = append(m.EnvironmentIDs, envID)
	return true
}

// RemoveEnvironment drops every occurrence of envID. It returns false if nothing was removed.
func (m *Machine) RemoveEnvironment(envID string) bool {
	kept := make([]string, 0, len(m.EnvironmentIDs))
	for _, id := range m.EnvironmentIDs {
		if id != envID {
			kept = append(kept, id)
		}
	}
	removed := len(kept) != len(m.EnvironmentIDs)
	m.EnvironmentIDs = kept
	return removed
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

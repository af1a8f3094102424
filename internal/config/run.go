package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Action is the workflow requested for a branch.
type Action string

const (
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

// ParseAction validates an --action value.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionCreate:
		return ActionCreate, nil
	case ActionDelete:
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("unknown action %q (expected create or delete)", s)
	}
}

// Run holds the inputs of a single invocation. It is built once from flags
// and never modified afterwards.
type Run struct {
	Action    Action
	ServerURL string
	APIKey    string
	Space     string
	Project   string
	Branch    string

	// Optional channel rule inputs.
	DeploymentStep    string
	DeploymentPackage string

	// Optional target selectors. Name wins over role.
	TargetName        string
	TargetRole        string
	TargetEnvironment string
}

// Validate checks the inputs every workflow needs.
func (r Run) Validate() error {
	var errs []error
	if IsBlank(r.ServerURL) {
		errs = append(errs, errors.New("octopus server URL is required"))
	} else if u, err := url.Parse(r.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("octopus server URL %q is not an absolute URL", r.ServerURL))
	}
	if IsBlank(r.APIKey) {
		errs = append(errs, errors.New("octopus API key is required"))
	}
	if IsBlank(r.Space) {
		errs = append(errs, errors.New("octopus space is required"))
	}
	if IsBlank(r.Project) {
		errs = append(errs, errors.New("octopus project is required"))
	}
	if IsBlank(r.Branch) {
		errs = append(errs, errors.New("branch name is required"))
	}
	return errors.Join(errs...)
}

// IsBlank reports whether s is empty or only whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

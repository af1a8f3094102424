package provision

import (
	"octobranch/internal/config"
	"octobranch/internal/octopus"
)

// RetentionUnitDays is the unit used by the keep-forever retention policies.
const RetentionUnitDays = "Days"

// keepForever never purges releases or tentacle files. The branch's channel
// and lifecycle are deleted explicitly on teardown instead.
func keepForever() octopus.RetentionPolicy {
	return octopus.RetentionPolicy{
		ShouldKeepForever: true,
		QuantityToKeep:    0,
		Unit:              RetentionUnitDays,
	}
}

// BuildLifecycle returns the lifecycle payload for a branch: one mandatory
// phase named after the branch whose only (optional) target is envID.
func BuildLifecycle(spaceID, envID, branch string) octopus.Lifecycle {
	return octopus.Lifecycle{
		ID:      nil,
		Name:    branch,
		SpaceID: spaceID,
		Phases: []octopus.Phase{{
			Name:                               branch,
			OptionalDeploymentTargets:          []string{envID},
			AutomaticDeploymentTargets:         []string{},
			MinimumEnvironmentsBeforePromotion: 0,
			IsOptionalPhase:                    false,
		}},
		ReleaseRetentionPolicy:  keepForever(),
		TentacleRetentionPolicy: keepForever(),
		Links:                   nil,
	}
}

// TagPattern is the channel version rule for a branch: any version starting with the branch name.
func TagPattern(branch string) string {
	return "^" + branch + ".*$"
}

// ChannelRules builds the channel rule set. With a step, exactly one rule
// covering that step (and package, if given) is produced; otherwise one rule
// per discovered step/package pair.
func ChannelRules(branch, step, pkg string, discovered []octopus.ActionPackage) []octopus.ChannelRule {
	packages := discovered
	if !config.IsBlank(step) {
		packages = []octopus.ActionPackage{{DeploymentAction: step, PackageReference: packageRef(pkg)}}
	}

	rules := make([]octopus.ChannelRule, 0, len(packages))
	for _, p := range packages {
		rules = append(rules, octopus.ChannelRule{
			Tag:            TagPattern(branch),
			Actions:        []string{p.DeploymentAction},
			ActionPackages: []octopus.ActionPackage{p},
		})
	}
	return rules
}

// packageRef returns nil for a blank package name.
func packageRef(name string) *string {
	if config.IsBlank(name) {
		return nil
	}
	return &name
}

// PackagesFromProcess lists every (step, package) pair referenced by a deployment process.
func PackagesFromProcess(process octopus.DeploymentProcess) []octopus.ActionPackage {
	var out []octopus.ActionPackage
	for _, step := range process.Steps {
		for _, action := range step.Actions {
			for _, pkg := range action.Packages {
				out = append(out, octopus.ActionPackage{DeploymentAction: step.Name, PackageReference: packageRef(pkg.Name)})
			}
		}
	}
	return out
}

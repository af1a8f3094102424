// Package config provides configuration management for octobranch.
//
// Two kinds of configuration exist:
//
//   - Settings: tunables loaded from YAML files (protected branches, retry
//     policy, polling cadence, API client limits).
//   - Run: the per-invocation inputs taken from command line flags (server
//     URL, API key, space, project, branch and target selectors).
//
// Both are built once at startup and passed by value into every component.
// Nothing in this package is global mutable state.
//
// # Configuration Layers
//
// Settings are loaded and merged in the following order, later sources
// overriding earlier ones:
//
//  1. Default settings (compiled in)
//  2. User configuration (~/.config/octobranch/config.yaml)
//  3. Project configuration (./.octobranch/config.yaml)
//
// LoadSettingsFromPath skips the layering and reads a single directory.
//
// # Configuration Structure
//
//	protectedBranches: ["main", "master", "release"]
//	retry:
//	  maxAttempts: 3
//	  maxElapsed: 60s
//	  backoff: 400ms
//	polling:
//	  interval: 10s
//	  maxPolls: 0        # 0 waits until every task has settled
//	client:
//	  pageSize: 1000
//	  timeout: 30s
//
// # Environment Variable Expansion
//
// Values support environment variable expansion before parsing:
//
//	protectedBranches: ["${TRUNK_BRANCH:-main}"]
package config

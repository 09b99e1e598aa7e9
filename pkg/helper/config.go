// Package helper implements the privileged sidecar: a Unix domain socket
// server that re-validates every request against its own allowlist copy
// before executing the underlying systemctl/docker command (spec.md
// §4.5). Ported from original_source/python-backend/privileged_helper.py's
// PrivilegedApi/ThreadedUnixServer/Handler.
package helper

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Allowlist is the helper's own copy of the target/action allowlist,
// loaded independently of the control-plane's JSON config so the
// split-privilege trust boundary is a separate deployment artifact
// (SPEC_FULL.md §4.5). Expressed in YAML, unlike the control-plane's JSON,
// to make that independence textually obvious.
type Allowlist struct {
	Targets struct {
		Services   []string `yaml:"services"`
		Containers []string `yaml:"containers"`
	} `yaml:"targets"`
	Actions struct {
		Service   []string `yaml:"service"`
		Container []string `yaml:"container"`
	} `yaml:"actions"`
}

// LoadAllowlist reads and parses the YAML allowlist file at path.
func LoadAllowlist(path string) (*Allowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read helper allowlist %s: %w", path, err)
	}
	var a Allowlist
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse helper allowlist %s: %w", path, err)
	}
	return &a, nil
}

func (a *Allowlist) servicesSet() map[string]struct{}   { return toSet(a.Targets.Services) }
func (a *Allowlist) containersSet() map[string]struct{} { return toSet(a.Targets.Containers) }

func toSet(xs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}

func (a *Allowlist) allowedActions(targetType string) map[string]struct{} {
	if targetType == "container" {
		return toSet(a.Actions.Container)
	}
	return toSet(a.Actions.Service)
}

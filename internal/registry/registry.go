// Package registry is the Tool Registry (C6): it turns a registry
// reference (a ToolInvocation's `name`) into a fully-assembled command
// template for the current host OS, per §4.6.
package registry

import (
	"sort"
	"strings"

	"github.com/dfir-sleuth/sleuthctl/internal/config"
	"github.com/dfir-sleuth/sleuthctl/internal/errs"
)

// Registry resolves tool names against a loaded ToolConfig.
type Registry struct {
	cfg  *config.ToolConfig
	goos string
}

func New(cfg *config.ToolConfig, goos string) *Registry {
	return &Registry{cfg: cfg, goos: goos}
}

// ResolvedTemplate is the command template assembled for one invocation,
// plus whether the tool is a disabled no-op.
type ResolvedTemplate struct {
	Template string
	Disabled bool
}

// Resolve looks up name and assembles cmd + args + the args_extra
// fragments selected by extra. Unknown extra-arg keys are a
// Configuration error; args_extra keys not present in extra are simply
// omitted. A disabled ToolDef resolves to a no-op the Dispatcher treats
// as success.
func (r *Registry) Resolve(name string, extra map[string]string) (ResolvedTemplate, error) {
	def, ok := r.cfg.Find(name)
	if !ok {
		return ResolvedTemplate{}, errs.New(errs.Configuration, "unknown tool %q", name)
	}
	if !def.Enabled {
		return ResolvedTemplate{Disabled: true}, nil
	}

	base, ok := def.Cmd.ForOS(r.goos)
	if !ok {
		return ResolvedTemplate{}, errs.New(errs.Configuration, "tool %q has no command for OS %q", name, r.goos)
	}

	for key := range extra {
		if _, known := def.ArgsExtra[key]; !known {
			return ResolvedTemplate{}, errs.New(errs.Configuration, "tool %q: unknown extra argument %q", name, key)
		}
	}

	parts := []string{base}
	parts = append(parts, def.Args...)

	keys := make([]string, 0, len(def.ArgsExtra))
	for k := range def.ArgsExtra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, present := extra[key]; present {
			parts = append(parts, def.ArgsExtra[key])
		}
	}

	return ResolvedTemplate{Template: strings.Join(parts, " ")}, nil
}

// AllowFailDefault returns the ToolDef's default allow_fail, used when
// the invocation itself doesn't override it.
func (r *Registry) AllowFailDefault(name string) bool {
	def, ok := r.cfg.Find(name)
	if !ok {
		return false
	}
	return def.AllowFail
}

// Directories exposes the DIR_<TOOL> bindings for every configured tool
// directory.
func (r *Registry) Directories() map[string]string {
	return r.cfg.Directories
}

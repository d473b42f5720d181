// Package config loads the tool-config YAML (§6: "tools" + "directories")
// into typed records per the Design Notes' "dynamic configuration →
// typed records" rule: CmdTemplate is Single(string) | PerOS{...},
// validated once at load time so later code never re-checks shape.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/dfir-sleuth/sleuthctl/internal/errs"
)

// CmdTemplate is either a single template shared by every host OS, or a
// per-OS mapping (§3's ToolDef.cmd).
type CmdTemplate struct {
	Single string
	PerOS  map[string]string // keys: windows, linux, macos
}

// IsPerOS reports whether this template was given as a per-OS mapping.
func (c CmdTemplate) IsPerOS() bool { return c.PerOS != nil }

// ForOS resolves the template for goos, falling back macos → linux per
// §4.6, and returns false if nothing applies. Go's "darwin" is treated
// as "macos".
func (c CmdTemplate) ForOS(goos string) (string, bool) {
	if !c.IsPerOS() {
		return c.Single, c.Single != ""
	}
	if goos == "darwin" {
		goos = "macos"
	}
	if t, ok := c.PerOS[goos]; ok {
		return t, true
	}
	if goos == "macos" {
		if t, ok := c.PerOS["linux"]; ok {
			return t, true
		}
	}
	return "", false
}

// UnmarshalYAML accepts either a bare scalar (Single) or a mapping with
// windows/linux/macos keys (PerOS).
func (c *CmdTemplate) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		c.Single = single
		return nil
	}

	var perOS map[string]string
	if err := unmarshal(&perOS); err != nil {
		return errors.Wrap(err, "cmd must be a string or a windows/linux/macos mapping")
	}
	c.PerOS = perOS
	return nil
}

// rawToolDef mirrors ToolDef's YAML shape before the enabled/disabled
// precedence rule and cmd-template decoding are resolved.
type rawToolDef struct {
	Name      string            `yaml:"name"`
	Cmd       CmdTemplate       `yaml:"cmd"`
	Args      []string          `yaml:"args"`
	ArgsExtra map[string]string `yaml:"args_extra"`
	AllowFail bool              `yaml:"allow_fail"`
	Enabled   *bool             `yaml:"enabled"`
	Disabled  *bool             `yaml:"disabled"`
}

// ToolDef is a registry entry (§3). Enabled reflects the resolved
// enabled/disabled precedence: disabled=true always wins over
// enabled=true, defaulting to enabled when neither is set (§9's Open
// Question resolution).
type ToolDef struct {
	Name      string
	Cmd       CmdTemplate
	Args      []string
	ArgsExtra map[string]string
	AllowFail bool
	Enabled   bool
}

func (t *ToolDef) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw rawToolDef
	if err := unmarshal(&raw); err != nil {
		return err
	}
	t.Name = raw.Name
	t.Cmd = raw.Cmd
	t.Args = raw.Args
	t.ArgsExtra = raw.ArgsExtra
	t.AllowFail = raw.AllowFail

	enabled := true
	if raw.Enabled != nil {
		enabled = *raw.Enabled
	}
	if raw.Disabled != nil && *raw.Disabled {
		enabled = false
	}
	t.Enabled = enabled

	if t.Name == "" {
		return errs.New(errs.Configuration, "tool definition missing a name")
	}
	return nil
}

// ToolConfig is the top-level shape of the tool-config YAML (§6).
type ToolConfig struct {
	Tools       []ToolDef         `yaml:"tools"`
	Directories map[string]string `yaml:"directories"`
}

// Load reads and parses a tool-config YAML file.
func Load(path string) (*ToolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(errs.Configuration, err, "reading tool config %q", path)
	}

	var cfg ToolConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Wrapf(errs.Configuration, err, "parsing tool config %q", path)
	}

	seen := map[string]bool{}
	for _, t := range cfg.Tools {
		if seen[t.Name] {
			return nil, errs.New(errs.Configuration, "duplicate tool name %q in %q", t.Name, path)
		}
		seen[t.Name] = true
	}

	return &cfg, nil
}

// Find looks up a tool definition by name.
func (c *ToolConfig) Find(name string) (ToolDef, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDef{}, false
}

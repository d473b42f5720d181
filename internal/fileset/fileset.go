// Package fileset loads the file-list YAML (§6: top-level "files") into
// the FileSpec/ToolInvocation records the Driver and Dispatcher consume,
// including the tagged-union shapes from the Design Notes
// (FileSpecEntry = Shorthand(String) | Full(FileSpec), ToolOutput =
// Inherit | Path(String) | Detailed{...}) and the load-time
// requires-cycle check that supplements the original source's
// FileSpec ordering.
package fileset

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/dfir-sleuth/sleuthctl/internal/errs"
	"github.com/dfir-sleuth/sleuthctl/internal/pathmodel"
)

// AllowFailOverride is the invocation-level tri-state override for
// allow_fail: inherit (unset) | force-true | force-false.
type AllowFailOverride struct {
	Set   bool
	Value bool
}

func (a *AllowFailOverride) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v bool
	if err := unmarshal(&v); err != nil {
		return err
	}
	a.Set = true
	a.Value = v
	return nil
}

// ToolOutput is §4.7's output union: absent (inherit), a bare string
// path, or a detailed mapping with path/append/stderr.
type ToolOutput struct {
	Inherit bool
	Path    string
	Append  bool
	Stderr  bool
}

func (o *ToolOutput) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var path string
	if err := unmarshal(&path); err == nil {
		o.Path = path
		return nil
	}

	var detailed struct {
		Path   string `yaml:"path"`
		Append bool   `yaml:"append"`
		Stderr bool   `yaml:"stderr"`
	}
	if err := unmarshal(&detailed); err != nil {
		return err
	}
	o.Path = detailed.Path
	o.Append = detailed.Append
	o.Stderr = detailed.Stderr
	return nil
}

// ToolInvocation is one entry in a FileSpec's tools list (§3).
type ToolInvocation struct {
	Name      string            `yaml:"name"`
	Cmd       string            `yaml:"cmd"`
	Extra     map[string]string `yaml:"extra"`
	Filter    string            `yaml:"filter"`
	Output    ToolOutput        `yaml:"output"`
	Requires  []string          `yaml:"requires"`
	AllowFail AllowFailOverride `yaml:"allow_fail"`
	RunOnce   bool              `yaml:"run_once"`
}

func (t ToolInvocation) validate() error {
	if t.Name == "" && t.Cmd == "" {
		return errs.New(errs.Configuration, "tool invocation requires at least one of name or cmd")
	}
	return nil
}

// FileSpec is a pattern plus the tools to run against its matches (§3).
// A bare YAML string is shorthand for {path: it, tools: [], overwrite: true}.
type FileSpec struct {
	Path      string
	Pattern   pathmodel.PathPattern
	Tools     []ToolInvocation
	Overwrite bool
	Adhoc     bool // true for a -f command-line pattern, never for a YAML-loaded FileSpec
}

type rawFileSpec struct {
	Path      string           `yaml:"path"`
	Tool      *ToolInvocation  `yaml:"tool"`
	Tools     []ToolInvocation `yaml:"tools"`
	Overwrite *bool            `yaml:"overwrite"`
}

// UnmarshalYAML implements the FileSpecEntry union. When both `tool` and
// `tools` are present, `tool` is appended before `tools` (§9's Open
// Question resolution: declaration order, not rejection).
func (f *FileSpec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var shorthand string
	if err := unmarshal(&shorthand); err == nil {
		pattern, perr := pathmodel.Normalize(shorthand)
		if perr != nil {
			return errs.Wrapf(errs.Configuration, perr, "file spec %q", shorthand)
		}
		f.Path = shorthand
		f.Pattern = pattern
		f.Overwrite = true
		return nil
	}

	var raw rawFileSpec
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.Path == "" {
		return errs.New(errs.Configuration, "file spec missing path")
	}
	pattern, err := pathmodel.Normalize(raw.Path)
	if err != nil {
		return errs.Wrapf(errs.Configuration, err, "file spec %q", raw.Path)
	}

	f.Path = raw.Path
	f.Pattern = pattern
	f.Overwrite = true
	if raw.Overwrite != nil {
		f.Overwrite = *raw.Overwrite
	}

	if raw.Tool != nil {
		f.Tools = append(f.Tools, *raw.Tool)
	}
	f.Tools = append(f.Tools, raw.Tools...)

	for _, t := range f.Tools {
		if err := t.validate(); err != nil {
			return err
		}
	}
	return nil
}

// FileList is the top-level shape of the file-list YAML (§6).
type FileList struct {
	Files []FileSpec `yaml:"files"`
}

// Load reads, parses, and validates one file-list YAML. Requires-cycle
// validation across the whole merged set happens separately via
// ValidateRequiresAcyclic once every YAML has been loaded, since cycles
// may span files.
func Load(path string) (*FileList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(errs.Configuration, err, "reading file list %q", path)
	}

	var list FileList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, errs.Wrapf(errs.Configuration, err, "parsing file list %q", path)
	}
	return &list, nil
}

// patternKey canonicalizes a pattern's normalized segments for use as a
// requires-graph node, matching runctx.KeyForPattern's convention
// without importing that package (fileset is loaded before any
// partition-scoped run context exists).
func patternKey(p pathmodel.PathPattern) string {
	return pathmodel.Join(p.Segments)
}

// ValidateRequiresAcyclic performs the load-time cycle check over the
// declared requires edges: FileSpec A's tool requiring pattern B's
// FileSpec creates an edge A→B. A cycle means no run ordering could ever
// satisfy every requires gate, so it is rejected as a Configuration
// error; declaration order itself is never reordered (§4.7's ordering
// rule remains the only evaluation order used at dispatch time).
func ValidateRequiresAcyclic(specs []FileSpec) error {
	produces := map[string]bool{}
	for _, s := range specs {
		produces[patternKey(s.Pattern)] = true
	}

	edges := map[string][]string{}
	for _, s := range specs {
		from := patternKey(s.Pattern)
		for _, tool := range s.Tools {
			for _, reqRaw := range tool.Requires {
				reqPattern, err := pathmodel.Normalize(reqRaw)
				if err != nil {
					return errs.Wrapf(errs.Configuration, err, "requires pattern %q", reqRaw)
				}
				to := patternKey(reqPattern)
				if !produces[to] {
					// Nothing in this run ever produces the required
					// pattern; the requires gate will simply never be
					// satisfied, which is a diagnostic at dispatch time,
					// not a load-time error.
					continue
				}
				edges[from] = append(edges[from], to)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}

	var visit func(node string, stack []string) error
	visit = func(node string, stack []string) error {
		switch state[node] {
		case done:
			return nil
		case visiting:
			return errs.New(errs.Configuration, "requires cycle detected: %v", append(stack, node))
		}
		state[node] = visiting
		for _, next := range edges[node] {
			if err := visit(next, append(stack, node)); err != nil {
				return err
			}
		}
		state[node] = done
		return nil
	}

	for node := range edges {
		if err := visit(node, nil); err != nil {
			return err
		}
	}
	return nil
}

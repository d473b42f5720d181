// Package dispatcher is the Dispatcher (C7): for each Artifact and each
// ToolInvocation in its owning FileSpec, it runs the enablement, filter,
// requires-gate, run-once, template-build, output-routing, execution and
// failure-policy pipeline from §4.7, grounded on the process-spawn shape
// of vql/common/shell.go generalized from a long-lived VQL plugin call
// to a one-shot per-invocation subprocess.
package dispatcher

import (
	"context"
	"os/exec"
	"runtime"
	"strings"

	"github.com/dfir-sleuth/sleuthctl/internal/errs"
	"github.com/dfir-sleuth/sleuthctl/internal/expand"
	"github.com/dfir-sleuth/sleuthctl/internal/fileset"
	"github.com/dfir-sleuth/sleuthctl/internal/pathmodel"
	"github.com/dfir-sleuth/sleuthctl/internal/registry"
	"github.com/dfir-sleuth/sleuthctl/internal/rlog"
	"github.com/dfir-sleuth/sleuthctl/internal/runctx"
)

// Dispatcher runs tool invocations against extracted artifacts.
type Dispatcher struct {
	Registry      *registry.Registry
	Logger        *rlog.Logger
	CaseSensitive bool
	Silent        bool
	GOOS          string // defaults to runtime.GOOS; overridable for tests
}

func New(reg *registry.Registry, logger *rlog.Logger, caseSensitive, silent bool) *Dispatcher {
	return &Dispatcher{
		Registry:      reg,
		Logger:        logger,
		CaseSensitive: caseSensitive,
		Silent:        silent,
		GOOS:          runtime.GOOS,
	}
}

// Dispatch runs every ToolInvocation in spec against artifact, in
// declaration order, honoring the full per-invocation pipeline. The first
// error stops this artifact's remaining tools and is returned; it is
// either a Configuration error (e.g. an unknown tool name, found only
// here at dispatch time) or a Dispatch error. The driver records either
// kind for the exit code and goes on with the remaining entries; neither
// stops the run early.
func (d *Dispatcher) Dispatch(ctx context.Context, rc *runctx.Context, fileSpecIndex int, spec fileset.FileSpec, artifact *runctx.Artifact, outdir string) error {
	for toolIndex, inv := range spec.Tools {
		if err := d.dispatchOne(ctx, rc, fileSpecIndex, toolIndex, inv, artifact, outdir); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, rc *runctx.Context, fileSpecIndex, toolIndex int, inv fileset.ToolInvocation, artifact *runctx.Artifact, outdir string) error {
	// 1. Enablement.
	var template string
	var allowFailDefault bool
	if inv.Name != "" {
		resolved, err := d.Registry.Resolve(inv.Name, inv.Extra)
		if err != nil {
			return err
		}
		if resolved.Disabled {
			d.Logger.Debug("tool %q is disabled, skipping", inv.Name)
			return nil
		}
		template = resolved.Template
		allowFailDefault = d.Registry.AllowFailDefault(inv.Name)
	} else {
		template = inv.Cmd
	}

	// 2. Filter.
	if inv.Filter != "" {
		ok, err := pathmodel.MatchLeaf(inv.Filter, artifact.Leaf, d.CaseSensitive)
		if err != nil {
			return errs.Wrapf(errs.Configuration, err, "invalid filter for tool")
		}
		if !ok {
			d.Logger.Debug("artifact %q does not match filter %q, skipping tool", artifact.Leaf, inv.Filter)
			return nil
		}
	}

	// 3. Requires gate.
	for _, reqRaw := range inv.Requires {
		reqPattern, err := pathmodel.Normalize(reqRaw)
		if err != nil {
			return errs.Wrapf(errs.Configuration, err, "invalid requires pattern %q", reqRaw)
		}
		if !rc.HasSucceeded(runctx.KeyForPattern(reqPattern)) {
			d.Logger.Warn("requires %q unsatisfied, skipping tool for %q", reqRaw, artifact.EntryPath)
			return nil
		}
	}

	// 4. Run-once.
	if inv.RunOnce {
		if !rc.RunOnceFire(fileSpecIndex, toolIndex) {
			d.Logger.Debug("run_once tool already fired, skipping")
			return nil
		}
	}

	// 5. Template build.
	env := d.buildEnvironment(artifact, outdir, inv.Extra)
	command, err := env.Expand(template)
	if err != nil {
		return errs.Wrapf(errs.Configuration, err, "expanding template for %q", artifact.EntryPath)
	}
	d.Logger.Debug("running command: %s", command)

	// 6 & 7. Output routing and execution.
	output := inv.Output
	if output.Path != "" {
		output.Path, err = env.Expand(output.Path)
		if err != nil {
			return errs.Wrapf(errs.Configuration, err, "expanding output path for %q", artifact.EntryPath)
		}
	}
	exitErr := d.run(ctx, rc, command, outdir, output)

	// 8. Failure policy.
	if exitErr == nil {
		return nil
	}
	allowFail := allowFailDefault
	if inv.AllowFail.Set {
		allowFail = inv.AllowFail.Value
	}
	if allowFail {
		d.Logger.Warn("tool for %q exited non-zero (allowed): %v", artifact.EntryPath, exitErr)
		return nil
	}
	return errs.Wrapf(errs.Dispatch, exitErr, "tool for %q exited non-zero", artifact.EntryPath)
}

func (d *Dispatcher) buildEnvironment(artifact *runctx.Artifact, outdir string, extra map[string]string) *expand.Environment {
	env := expand.NewEnvironment()
	env.SeedDispatchVars(artifact.HostPath, outdir, artifact.ParentHostPath, artifact.EntryPath, artifact.Leaf, artifact.Username)
	for name, path := range d.Registry.Directories() {
		env.Set("DIR_"+strings.ToUpper(name), path)
	}
	for name, value := range extra {
		env.Set(name, value)
	}
	return env
}

// run spawns command through the host shell (the Design Notes preserve
// "the source always shells out" for compatibility with templates that
// rely on shell features like >&2, ;, and pipelines), wiring stdout and
// stderr per the output policy.
func (d *Dispatcher) run(ctx context.Context, rc *runctx.Context, command, outdir string, output fileset.ToolOutput) error {
	shellName, shellFlag := "/bin/sh", "-c"
	if d.GOOS == "windows" {
		shellName, shellFlag = "cmd", "/C"
	}

	cmd := exec.CommandContext(ctx, shellName, shellFlag, command)
	cmd.Dir = outdir

	if output.Path == "" {
		if !d.Silent {
			cmd.Stdout = stdoutSink()
		}
		cmd.Stderr = stderrSink()
		return cmd.Run()
	}

	f, err := openOutput(rc, output)
	if err != nil {
		return errs.Wrapf(errs.Extraction, err, "opening output %q", output.Path)
	}
	defer f.Close()

	if !d.Silent {
		cmd.Stdout = f
	}
	if output.Stderr {
		cmd.Stderr = f
	} else {
		cmd.Stderr = stderrSink()
	}
	return cmd.Run()
}

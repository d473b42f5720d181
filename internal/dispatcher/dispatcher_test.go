package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfir-sleuth/sleuthctl/internal/config"
	"github.com/dfir-sleuth/sleuthctl/internal/fileset"
	"github.com/dfir-sleuth/sleuthctl/internal/registry"
	"github.com/dfir-sleuth/sleuthctl/internal/rlog"
	"github.com/dfir-sleuth/sleuthctl/internal/runctx"
)

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on /bin/sh")
	}
}

func newDispatcher() *Dispatcher {
	reg := registry.New(&config.ToolConfig{}, "linux")
	return New(reg, rlog.New(rlog.Silent), true, false)
}

func sampleArtifact(outdir string) *runctx.Artifact {
	return &runctx.Artifact{
		HostPath:       filepath.Join(outdir, "Users", "Bob", "Desktop", "notes.ini"),
		EntryPath:      "Users/Bob/Desktop/notes.ini",
		Leaf:           "notes.ini",
		ParentHostPath: filepath.Join(outdir, "Users", "Bob", "Desktop"),
		Username:       "Bob",
	}
}

func TestDispatchWritesOutputFile(t *testing.T) {
	skipOnWindows(t)
	d := newDispatcher()
	rc := runctx.New()
	outdir := t.TempDir()
	outPath := filepath.Join(outdir, "out.txt")

	spec := fileset.FileSpec{Tools: []fileset.ToolInvocation{
		{Cmd: "echo hello", Output: fileset.ToolOutput{Path: outPath}},
	}}

	err := d.Dispatch(context.Background(), rc, 0, spec, sampleArtifact(outdir), outdir)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestDispatchTruncatesOnFirstWriteThenAppends(t *testing.T) {
	skipOnWindows(t)
	d := newDispatcher()
	rc := runctx.New()
	outdir := t.TempDir()
	outPath := filepath.Join(outdir, "out.txt")
	require.NoError(t, os.WriteFile(outPath, []byte("stale\n"), 0o644))

	spec := fileset.FileSpec{Tools: []fileset.ToolInvocation{
		{Cmd: "echo one", Output: fileset.ToolOutput{Path: outPath}},
	}}
	require.NoError(t, d.Dispatch(context.Background(), rc, 0, spec, sampleArtifact(outdir), outdir))
	require.NoError(t, d.Dispatch(context.Background(), rc, 0, spec, sampleArtifact(outdir), outdir))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "one\none\n", string(data), "first write truncates stale content, later writes append")
}

func TestDispatchFilterSkipsNonMatchingArtifact(t *testing.T) {
	skipOnWindows(t)
	d := newDispatcher()
	rc := runctx.New()
	outdir := t.TempDir()
	outPath := filepath.Join(outdir, "out.txt")

	spec := fileset.FileSpec{Tools: []fileset.ToolInvocation{
		{Cmd: "echo hit", Filter: "*.log", Output: fileset.ToolOutput{Path: outPath}},
	}}
	err := d.Dispatch(context.Background(), rc, 0, spec, sampleArtifact(outdir), outdir)
	require.NoError(t, err)
	assert.NoFileExists(t, outPath)
}

func TestDispatchRequiresGateSkipsUnsatisfied(t *testing.T) {
	skipOnWindows(t)
	d := newDispatcher()
	rc := runctx.New()
	outdir := t.TempDir()
	outPath := filepath.Join(outdir, "out.txt")

	spec := fileset.FileSpec{Tools: []fileset.ToolInvocation{
		{Cmd: "echo hit", Requires: []string{"Users/*/Desktop"}, Output: fileset.ToolOutput{Path: outPath}},
	}}
	err := d.Dispatch(context.Background(), rc, 0, spec, sampleArtifact(outdir), outdir)
	require.NoError(t, err)
	assert.NoFileExists(t, outPath)
}

func TestDispatchRunOnceFiresExactlyOnce(t *testing.T) {
	skipOnWindows(t)
	d := newDispatcher()
	rc := runctx.New()
	outdir := t.TempDir()
	outPath := filepath.Join(outdir, "out.txt")

	spec := fileset.FileSpec{Tools: []fileset.ToolInvocation{
		{Cmd: "echo fired", RunOnce: true, Output: fileset.ToolOutput{Path: outPath, Append: true}},
	}}
	require.NoError(t, d.Dispatch(context.Background(), rc, 0, spec, sampleArtifact(outdir), outdir))
	require.NoError(t, d.Dispatch(context.Background(), rc, 0, spec, sampleArtifact(outdir), outdir))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "fired\n", string(data))
}

func TestDispatchAllowFailOverrideTrue(t *testing.T) {
	skipOnWindows(t)
	d := newDispatcher()
	rc := runctx.New()
	outdir := t.TempDir()

	spec := fileset.FileSpec{Tools: []fileset.ToolInvocation{
		{Cmd: "exit 42", AllowFail: fileset.AllowFailOverride{Set: true, Value: true}},
	}}
	err := d.Dispatch(context.Background(), rc, 0, spec, sampleArtifact(outdir), outdir)
	assert.NoError(t, err)
}

func TestDispatchAllowFailOverrideFalseAborts(t *testing.T) {
	skipOnWindows(t)
	d := newDispatcher()
	rc := runctx.New()
	outdir := t.TempDir()

	spec := fileset.FileSpec{Tools: []fileset.ToolInvocation{
		{Cmd: "exit 42", AllowFail: fileset.AllowFailOverride{Set: true, Value: false}},
	}}
	err := d.Dispatch(context.Background(), rc, 0, spec, sampleArtifact(outdir), outdir)
	assert.Error(t, err)
}

func TestDispatchVariableExpansionInCommand(t *testing.T) {
	skipOnWindows(t)
	d := newDispatcher()
	rc := runctx.New()
	outdir := t.TempDir()
	outPath := filepath.Join(outdir, "out.txt")

	spec := fileset.FileSpec{Tools: []fileset.ToolInvocation{
		{Cmd: "echo $USERNAME:$FILENAME", Output: fileset.ToolOutput{Path: outPath}},
	}}
	require.NoError(t, d.Dispatch(context.Background(), rc, 0, spec, sampleArtifact(outdir), outdir))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "Bob:notes.ini\n", string(data))
}

package fileset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfir-sleuth/sleuthctl/internal/pathmodel"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filelist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestShorthandStringFileSpec(t *testing.T) {
	path := writeTemp(t, "files:\n  - \"$MFT\"\n")
	list, err := Load(path)
	require.NoError(t, err)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "$MFT", list.Files[0].Path)
	assert.True(t, list.Files[0].Overwrite)
	assert.Empty(t, list.Files[0].Tools)
}

func TestFullFileSpecWithToolAndTools(t *testing.T) {
	yaml := `
files:
  - path: "Users/*/Desktop"
    overwrite: false
    tool:
      cmd: "echo first"
    tools:
      - cmd: "echo second"
`
	path := writeTemp(t, yaml)
	list, err := Load(path)
	require.NoError(t, err)
	require.Len(t, list.Files, 1)

	spec := list.Files[0]
	assert.False(t, spec.Overwrite)
	require.Len(t, spec.Tools, 2)
	assert.Equal(t, "echo first", spec.Tools[0].Cmd)
	assert.Equal(t, "echo second", spec.Tools[1].Cmd)
}

func TestToolOutputShapes(t *testing.T) {
	yaml := `
files:
  - path: "$MFT"
    tools:
      - cmd: "echo a"
        output: "out/a.txt"
      - cmd: "echo b"
        output:
          path: "out/b.txt"
          append: true
          stderr: true
`
	path := writeTemp(t, yaml)
	list, err := Load(path)
	require.NoError(t, err)

	tools := list.Files[0].Tools
	assert.Equal(t, "out/a.txt", tools[0].Output.Path)
	assert.False(t, tools[0].Output.Append)

	assert.Equal(t, "out/b.txt", tools[1].Output.Path)
	assert.True(t, tools[1].Output.Append)
	assert.True(t, tools[1].Output.Stderr)
}

func TestToolInvocationRequiresNameOrCmd(t *testing.T) {
	yaml := `
files:
  - path: "$MFT"
    tools:
      - filter: "*.ini"
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestAllowFailTriState(t *testing.T) {
	yaml := `
files:
  - path: "$MFT"
    tools:
      - cmd: "true"
        allow_fail: true
      - cmd: "false"
`
	path := writeTemp(t, yaml)
	list, err := Load(path)
	require.NoError(t, err)

	tools := list.Files[0].Tools
	assert.True(t, tools[0].AllowFail.Set)
	assert.True(t, tools[0].AllowFail.Value)
	assert.False(t, tools[1].AllowFail.Set)
}

func TestValidateRequiresAcyclicDetectsCycle(t *testing.T) {
	a := FileSpec{Path: "A", Tools: []ToolInvocation{{Cmd: "x", Requires: []string{"B"}}}}
	b := FileSpec{Path: "B", Tools: []ToolInvocation{{Cmd: "y", Requires: []string{"A"}}}}
	var err error
	a.Pattern, err = pathmodel.Normalize("A")
	require.NoError(t, err)
	b.Pattern, err = pathmodel.Normalize("B")
	require.NoError(t, err)

	err = ValidateRequiresAcyclic([]FileSpec{a, b})
	assert.Error(t, err)
}

func TestValidateRequiresAcyclicAllowsDag(t *testing.T) {
	a := FileSpec{Path: "A"}
	b := FileSpec{Path: "B", Tools: []ToolInvocation{{Cmd: "y", Requires: []string{"A"}}}}
	var err error
	a.Pattern, err = pathmodel.Normalize("A")
	require.NoError(t, err)
	b.Pattern, err = pathmodel.Normalize("B")
	require.NoError(t, err)

	assert.NoError(t, ValidateRequiresAcyclic([]FileSpec{a, b}))
}

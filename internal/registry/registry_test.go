package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfir-sleuth/sleuthctl/internal/config"
)

func sampleConfig() *config.ToolConfig {
	return &config.ToolConfig{
		Tools: []config.ToolDef{
			{
				Name:      "reg",
				Cmd:       config.CmdTemplate{PerOS: map[string]string{"windows": "reg.exe load $FILE", "linux": "hivexregedit $FILE"}},
				Args:      []string{"--quiet"},
				ArgsExtra: map[string]string{"hive": "--hive=$HIVE"},
				Enabled:   true,
			},
			{
				Name:    "rm",
				Cmd:     config.CmdTemplate{Single: "rm -f $PATH"},
				Enabled: false,
			},
		},
		Directories: map[string]string{"reg": "/opt/reg"},
	}
}

func TestResolveAssemblesArgsAndExtra(t *testing.T) {
	r := New(sampleConfig(), "windows")
	resolved, err := r.Resolve("reg", map[string]string{"hive": "SYSTEM"})
	require.NoError(t, err)
	assert.False(t, resolved.Disabled)
	assert.Equal(t, "reg.exe load $FILE --quiet --hive=$HIVE", resolved.Template)
}

func TestResolveOmitsUnsuppliedExtra(t *testing.T) {
	r := New(sampleConfig(), "windows")
	resolved, err := r.Resolve("reg", nil)
	require.NoError(t, err)
	assert.Equal(t, "reg.exe load $FILE --quiet", resolved.Template)
}

func TestResolveRejectsUnknownExtraKey(t *testing.T) {
	r := New(sampleConfig(), "windows")
	_, err := r.Resolve("reg", map[string]string{"bogus": "x"})
	assert.Error(t, err)
}

func TestResolveDisabledToolIsNoOp(t *testing.T) {
	r := New(sampleConfig(), "linux")
	resolved, err := r.Resolve("rm", nil)
	require.NoError(t, err)
	assert.True(t, resolved.Disabled)
}

func TestResolveUnknownToolIsConfigurationError(t *testing.T) {
	r := New(sampleConfig(), "linux")
	_, err := r.Resolve("does-not-exist", nil)
	assert.Error(t, err)
}

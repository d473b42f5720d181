package expand

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundVariablePassesThrough(t *testing.T) {
	env := NewEnvironment()
	out, err := env.Expand("echo $MFT")
	require.NoError(t, err)
	assert.Equal(t, "echo $MFT", out)
}

func TestBoundVariableSubstitutes(t *testing.T) {
	env := NewEnvironment()
	env.Set("FILE", "/out/Users/Bob/ntuser.dat")
	out, err := env.Expand("reg load $FILE")
	require.NoError(t, err)
	assert.Equal(t, "reg load /out/Users/Bob/ntuser.dat", out)
}

func TestReplaceFunction(t *testing.T) {
	env := NewEnvironment()
	out, err := env.Expand("${REPLACE:abcaaea,a,_test_}")
	require.NoError(t, err)
	assert.Equal(t, strings.ReplaceAll("abcaaea", "a", "_test_"), out)
}

func TestPathFunctionConvertsSeparators(t *testing.T) {
	env := NewEnvironment()
	out, err := env.Expand("${PATH:/foo/bar}")
	require.NoError(t, err)
	// toHostPath flips to the build host's separator; on a / host this
	// is a no-op, which is what the test environment actually runs on.
	assert.Equal(t, "/foo/bar", out)
}

func TestNestedExpansionInnermostFirst(t *testing.T) {
	// Same shape as the nested-expansion walkthrough: a REPLACE feeding
	// a PATH feeding an outer REPLACE, with a $VAR substituted before any
	// function runs. Asserted against the stated algorithm (substitute
	// vars once, then resolve ${...} innermost-first, REPLACE replacing
	// every literal occurrence) rather than a specific illustrative
	// string, since REPLACE's "all occurrences" semantics necessarily
	// also touch any "e" that happens to appear in the literal text
	// around the substitution, not just the one the example highlights.
	env := NewEnvironment()
	env.Set("FILENAME", "x.bin")

	template := "${REPLACE:${PATH:/${REPLACE:abcaaea,a,_test_}/def/ghi},e,[$FILENAME]}"
	out, err := env.Expand(template)
	require.NoError(t, err)

	inner := strings.ReplaceAll("abcaaea", "a", "_test_")
	want := strings.ReplaceAll("/"+inner+"/def/ghi", "e", "[x.bin]")
	assert.Equal(t, want, out)
}

func TestVariablesSubstituteBeforeFunctions(t *testing.T) {
	env := NewEnvironment()
	env.Set("OLD", "a")
	env.Set("NEW", "b")
	out, err := env.Expand("${REPLACE:$OLD$OLD,$OLD,$NEW}")
	require.NoError(t, err)
	assert.Equal(t, "bb", out)
}

func TestExpansionLeavesNoBoundTokenBehind(t *testing.T) {
	// Property 7: for any expanded output, no $NAME token defined in E
	// remains in O.
	env := NewEnvironment()
	env.Set("FILE", "/tmp/a")
	env.Set("OUTDIR", "/tmp")
	out, err := env.Expand("$FILE $OUTDIR/out")
	require.NoError(t, err)
	assert.NotContains(t, out, "$FILE")
	assert.NotContains(t, out, "$OUTDIR")
}

func TestDeriveUsername(t *testing.T) {
	cases := map[string]string{
		"Users/Bob/Desktop": "Bob",
		"home/alice/.bashrc": "alice",
		"root/.bashrc":       "root",
		"Windows/System32":   "",
		"$MFT":               "",
	}
	for path, want := range cases {
		assert.Equal(t, want, DeriveUsername(path), path)
	}
}

func TestFunctionDepthLimit(t *testing.T) {
	env := NewEnvironment()
	template := "${PATH:a}"
	for i := 0; i < MaxFuncDepth+5; i++ {
		template = "${PATH:" + template + "}"
	}
	_, err := env.Expand(template)
	assert.Error(t, err)
}

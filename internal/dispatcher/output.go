package dispatcher

import (
	"io"
	"os"
	"path/filepath"

	"github.com/dfir-sleuth/sleuthctl/internal/fileset"
	"github.com/dfir-sleuth/sleuthctl/internal/runctx"
)

// openOutput opens output.Path per §4.7 step 6: append mode opens in
// append-exclusive-writer mode; truncate mode truncates on the first
// write of the run (tracked in rc) and appends on every subsequent write
// to the same path within the run.
func openOutput(rc *runctx.Context, output fileset.ToolOutput) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(output.Path), 0o755); err != nil {
		return nil, err
	}

	flags := os.O_WRONLY | os.O_CREATE
	if output.Append {
		flags |= os.O_APPEND
	} else if rc.ClaimTruncate(output.Path) {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	return os.OpenFile(output.Path, flags, 0o644)
}

func stdoutSink() io.Writer { return os.Stdout }
func stderrSink() io.Writer { return os.Stderr }

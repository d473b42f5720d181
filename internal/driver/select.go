package driver

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/dfir-sleuth/sleuthctl/internal/backend"
	"github.com/dfir-sleuth/sleuthctl/internal/errs"
)

// ttyFder is the subset of *os.File this package needs from an stdin
// handle to check interactivity without importing os directly into the
// signature (keeps selectInteractive testable against a plain io.Reader).
type ttyFder interface {
	io.Reader
	Fd() uintptr
}

// selectInteractive prints the partition table to w and prompts on in
// for a space-separated list of slot numbers, refusing to prompt when in
// isn't a terminal (a headless invocation of -P is a configuration
// error, not a hang).
func selectInteractive(table *backend.PartitionTable, in ttyFder, w io.Writer) ([]*backend.Partition, error) {
	if !isatty.IsTerminal(in.Fd()) {
		return nil, errs.New(errs.Configuration, "-P requires an interactive terminal on stdin")
	}

	fmt.Fprintln(w, table.String())
	fmt.Fprint(w, "Select partition slot(s) (space-separated): ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return nil, errs.New(errs.Configuration, "no partition selection entered")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 {
		return nil, errs.New(errs.Configuration, "no partition selection entered")
	}

	slots := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, errs.Wrapf(errs.Configuration, err, "invalid partition slot %q", f)
		}
		slots = append(slots, n)
	}
	return selectBySlot(table, slots)
}

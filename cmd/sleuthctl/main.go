// Command sleuthctl is the CLI entry point: it wires spec §6's flag
// surface onto internal/driver, the same thin-command-layer role the
// teacher's bin/main.go plays over its own service packages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/google/shlex"

	"github.com/dfir-sleuth/sleuthctl/internal/backend"
	"github.com/dfir-sleuth/sleuthctl/internal/driver"
	"github.com/dfir-sleuth/sleuthctl/internal/errs"
	"github.com/dfir-sleuth/sleuthctl/internal/rlog"
)

// cli bundles the kingpin application and every flag pointer it fills
// in. Building it through a constructor (rather than a package-level
// var block of one-shot initializers) lets tests rebuild a clean flag
// set per case instead of accumulating state in shared globals across
// repeated Parse calls.
type cli struct {
	app *kingpin.Application

	toolDir    *string
	vsType     *string
	imgType    *string
	sectorSize *int
	offset     *int

	slots       *[]string
	interactive *bool

	listOnly *bool
	saveAll  *bool

	adhoc     *[]string
	fileLists *[]string

	outDir *string
	config *string

	caseSensitive *bool
	silent        *bool
	verbose       *int

	images *[]string
}

func newCLI() *cli {
	app := kingpin.New("sleuthctl", "Forensic disk-image acquisition and post-processing pipeline.")
	c := &cli{app: app}

	c.toolDir = app.Flag("tooldir", "Directory containing mmls/fls/icat.").Short('T').String()
	c.vsType = app.Flag("vstype", "Volume system type.").Short('t').Enum("bsd", "mac", "list", "gpt", "dos", "sun")
	c.imgType = app.Flag("imgtype", "Image format.").Short('i').Enum("afm", "list", "vhd", "vmdk", "aff", "afflib", "ewf", "afd", "raw")
	c.sectorSize = app.Flag("sectorsize", "Sector size in bytes (multiple of 512).").Short('b').Int()
	c.offset = app.Flag("offset", "Offset in sectors.").Short('o').Int()

	c.slots = app.Flag("partition", "Partition slot numbers (repeatable or space-separated).").Short('p').Strings()
	c.interactive = app.Flag("interactive", "Interactive partition selection.").Short('P').Bool()

	c.listOnly = app.Flag("list", "List-only: print resolved entries, extract nothing.").Short('l').Bool()
	c.saveAll = app.Flag("saveall", "Save-all: extract every entry, run no tools.").Short('a').Bool()

	c.adhoc = app.Flag("pattern", "Ad-hoc pattern(s); no tools run.").Short('f').Strings()
	c.fileLists = app.Flag("filelist", "YAML file-list path(s).").Short('F').Strings()

	c.outDir = app.Flag("outdir", "Output root directory.").Short('d').Default("extracted").String()
	c.config = app.Flag("config", "Tool-config YAML path.").Short('c').Default("config.yaml").String()

	c.caseSensitive = app.Flag("case-sensitive", "Case-sensitive pattern matching.").Short('S').Bool()
	c.silent = app.Flag("silent", "Suppress child tool stdout.").Short('s').Bool()
	c.verbose = app.Flag("verbose", "Increase verbosity (repeatable, caps at debug).").Short('v').Counter()

	c.images = app.Arg("images", "Disk image path(s).").Strings()
	return c
}

var theCLI = newCLI()

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	c := theCLI
	kingpin.MustParse(c.app.Parse(argv))

	if *c.vsType == "list" {
		printCatalog(backend.VsTypeDescriptions)
		return 0
	}
	if *c.imgType == "list" {
		printCatalog(backend.ImgTypeDescriptions)
		return 0
	}

	slots, err := parseIntList(*c.slots)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errs.ExitCode(errs.New(errs.Configuration, "%v", err))
	}
	if len(slots) > 0 && *c.interactive {
		fmt.Fprintln(os.Stderr, "-p and -P are mutually exclusive")
		return 2
	}
	if *c.listOnly && *c.saveAll {
		fmt.Fprintln(os.Stderr, "-l and -a are mutually exclusive")
		return 2
	}
	if *c.sectorSize != 0 && *c.sectorSize%512 != 0 {
		fmt.Fprintln(os.Stderr, "-b must be a multiple of 512")
		return 2
	}
	if len(*c.images) == 0 {
		fmt.Fprintln(os.Stderr, "at least one image path is required")
		return 2
	}

	adhoc, err := expandSpaceSeparated(*c.adhoc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	fileLists, err := expandSpaceSeparated(*c.fileLists)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	verbosity := rlog.Verbosity(*c.verbose)
	if *c.silent {
		verbosity = rlog.Silent
	}
	logger := rlog.New(verbosity)

	adapter := backend.NewAdapter(*c.toolDir)
	drv := driver.New(adapter, logger, runtime.GOOS)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	opts := driver.Options{
		VsType:         backend.PartTableType(*c.vsType),
		ImgType:        *c.imgType,
		SectorSize:     *c.sectorSize,
		Offset:         *c.offset,
		Images:         *c.images,
		Slots:          slots,
		Interactive:    *c.interactive,
		ListOnly:       *c.listOnly,
		SaveAll:        *c.saveAll,
		AdhocPatterns:  adhoc,
		FileListPaths:  fileLists,
		OutDir:         *c.outDir,
		ToolConfigPath: *c.config,
		CaseSensitive:  *c.caseSensitive,
		Silent:         *c.silent,
	}

	err = drv.Run(ctx, opts)
	return errs.ExitCode(err)
}

func printCatalog(descriptions map[string]string) {
	for name, desc := range descriptions {
		fmt.Printf("%-8s %s\n", name, desc)
	}
}

// parseIntList flattens -p's repeated/space-separated values into slot
// numbers, per the Design Notes' shlex-based "-p '1 2 3'" == "-p 1 -p 2
// -p 3" equivalence.
func parseIntList(raw []string) ([]int, error) {
	tokens, err := splitEach(raw)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("invalid partition slot %q", tok)
		}
		out = append(out, n)
	}
	return out, nil
}

// expandSpaceSeparated applies the same shlex flattening to -f/-F so a
// single space-separated argument parses the same as repeating the flag.
func expandSpaceSeparated(raw []string) ([]string, error) {
	return splitEach(raw)
}

func splitEach(raw []string) ([]string, error) {
	var out []string
	for _, item := range raw {
		tokens, err := shlex.Split(item)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", item, err)
		}
		out = append(out, tokens...)
	}
	return out, nil
}

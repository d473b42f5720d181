// Package driver is the Driver (C8): it sequences everything else in
// the engine — open the backend, list partitions, filter/select them,
// then for each partition stream (resolve → extract → dispatch) over
// the declared FileSpecs — the way the teacher's bin/main.go sequences
// flag parsing, config loading and server startup into one top-level
// Run, except here the "server" is a single forensic pass over one or
// more partitions.
package driver

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dfir-sleuth/sleuthctl/internal/backend"
	"github.com/dfir-sleuth/sleuthctl/internal/config"
	"github.com/dfir-sleuth/sleuthctl/internal/dispatcher"
	"github.com/dfir-sleuth/sleuthctl/internal/errs"
	"github.com/dfir-sleuth/sleuthctl/internal/extractor"
	"github.com/dfir-sleuth/sleuthctl/internal/fileset"
	"github.com/dfir-sleuth/sleuthctl/internal/pathmodel"
	"github.com/dfir-sleuth/sleuthctl/internal/registry"
	"github.com/dfir-sleuth/sleuthctl/internal/resolver"
	"github.com/dfir-sleuth/sleuthctl/internal/rlog"
	"github.com/dfir-sleuth/sleuthctl/internal/runctx"
)

// DefaultFilesystemTypes is the default filesystem-type set considered
// "eligible" for defaulted-all-partitions mode, per the Glossary: "only
// NTFS-class partitions are default-eligible."
var DefaultFilesystemTypes = []string{"ntfs"}

// Options bundles every knob the CLI surface (spec §6) exposes to the
// Driver.
type Options struct {
	VsType     backend.PartTableType
	ImgType    string
	SectorSize int
	Offset     int
	Images     []string

	Slots       []int // -p: explicit partition slots; empty + !Interactive means "all eligible"
	Interactive bool  // -P

	ListOnly bool // -l
	SaveAll  bool // -a

	AdhocPatterns []string // -f: ad-hoc patterns, no tools run
	FileListPaths []string // -F: YAML file-list paths

	OutDir         string // -d
	ToolConfigPath string // -c

	CaseSensitive bool // -S
	Silent        bool // -s

	FilesystemTypes []string // default-eligible filesystem substrings; defaults to DefaultFilesystemTypes
	Parallel        bool     // process selected partitions concurrently
}

// Driver wires the backend adapter and a logger through the resolve →
// extract → dispatch pipeline for every selected partition.
type Driver struct {
	Adapter *backend.Adapter
	Logger  *rlog.Logger
	GOOS    string
}

func New(adapter *backend.Adapter, logger *rlog.Logger, goos string) *Driver {
	return &Driver{Adapter: adapter, Logger: logger, GOOS: goos}
}

// Run executes one end-to-end pass: list partitions, select them, load
// configuration and file specs, then process every selected partition.
// It returns an error suitable for errs.ExitCode.
func (d *Driver) Run(ctx context.Context, opts Options) error {
	if ctx.Err() != nil {
		return errs.New(errs.Cancelled, "cancelled before start")
	}

	table, err := d.Adapter.ListPartitions(ctx, opts.Images, opts.VsType, opts.ImgType, opts.SectorSize, opts.Offset)
	if err != nil {
		return errs.Wrap(errs.Backend, err, "listing partitions")
	}

	selected, err := d.selectPartitions(table, opts)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return errs.New(errs.Configuration, "no partitions selected")
	}

	cfg, err := config.Load(opts.ToolConfigPath)
	if err != nil {
		return err
	}

	specs, err := d.loadFileSpecs(opts)
	if err != nil {
		return err
	}
	if err := fileset.ValidateRequiresAcyclic(specs); err != nil {
		return err
	}

	reg := registry.New(cfg, d.GOOS)
	disp := dispatcher.New(reg, d.Logger, opts.CaseSensitive, opts.Silent)
	multi := len(selected) > 1

	if opts.Parallel && multi {
		return d.runParallel(ctx, selected, specs, disp, opts, multi)
	}
	return d.runSequential(ctx, selected, specs, disp, opts, multi)
}

func (d *Driver) runSequential(ctx context.Context, partitions []*backend.Partition, specs []fileset.FileSpec, disp *dispatcher.Dispatcher, opts Options, multi bool) error {
	var firstErr error
	for _, partition := range partitions {
		if ctx.Err() != nil {
			return errs.New(errs.Cancelled, "cancelled")
		}
		if err := d.runPartition(ctx, partition, specs, disp, opts, multi); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Driver) runParallel(ctx context.Context, partitions []*backend.Partition, specs []fileset.FileSpec, disp *dispatcher.Dispatcher, opts Options, multi bool) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, partition := range partitions {
		wg.Add(1)
		go func(p *backend.Partition) {
			defer wg.Done()
			err := d.runPartition(ctx, p, specs, disp, opts, multi)
			if err == nil {
				return
			}
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}(partition)
	}
	wg.Wait()
	return firstErr
}

// runPartition streams resolve → extract → dispatch over every FileSpec
// for one partition, entirely within its own runctx.Context so parallel
// workers never share state (§5: "no guard state crosses workers").
func (d *Driver) runPartition(ctx context.Context, partition *backend.Partition, specs []fileset.FileSpec, disp *dispatcher.Dispatcher, opts Options, multi bool) error {
	log := d.Logger.ForPartition(partition.ID)

	outdir := opts.OutDir
	if multi {
		outdir = fmt.Sprintf("%s_%s", opts.OutDir, partition.Slot)
	}
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return errs.Wrap(errs.Extraction, err, "creating output directory")
	}

	rc := runctx.New()
	res := resolver.New(d.Adapter, opts.CaseSensitive)
	ext := extractor.New(d.Adapter)

	var firstErr error
	for specIndex, spec := range specs {
		if ctx.Err() != nil {
			return errs.New(errs.Cancelled, "cancelled")
		}

		entries, err := res.Resolve(ctx, rc, partition, spec.Pattern)
		if err != nil {
			log.Warnf("resolving %q: %v", spec.Pattern, err)
			if firstErr == nil {
				firstErr = errs.Wrap(errs.Backend, err, "resolving pattern")
			}
			continue
		}
		if len(entries) == 0 {
			if spec.Adhoc {
				log.Warnf("%v", errs.New(errs.Pattern, "ad-hoc pattern %q matched nothing", spec.Pattern))
			} else {
				log.Debugf("pattern %q matched nothing", spec.Pattern)
			}
		}

		if opts.ListOnly {
			for _, entry := range entries {
				fmt.Fprintln(os.Stdout, entry.Path())
			}
			continue
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				return errs.New(errs.Cancelled, "cancelled")
			}

			artifact, err := ext.Extract(ctx, rc, outdir, entry, spec.Overwrite)
			if err != nil {
				log.Warnf("extracting %q: %v", entry.Path(), err)
				if firstErr == nil {
					firstErr = errs.Wrap(errs.Extraction, err, "extracting entry")
				}
				continue
			}
			rc.RecordSuccess(runctx.KeyForPattern(spec.Pattern))
			log.Infof("extracted %q -> %q", artifact.EntryPath, artifact.HostPath)

			if opts.SaveAll {
				continue
			}
			if err := disp.Dispatch(ctx, rc, specIndex, spec, artifact, outdir); err != nil {
				log.Errorf("dispatch for %q: %v", artifact.EntryPath, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// selectPartitions applies -p/-P/default-eligible selection (spec §6)
// against the parsed PartitionTable.
func (d *Driver) selectPartitions(table *backend.PartitionTable, opts Options) ([]*backend.Partition, error) {
	if opts.Interactive {
		return selectInteractive(table, os.Stdin, os.Stderr)
	}
	if len(opts.Slots) > 0 {
		return selectBySlot(table, opts.Slots)
	}

	types := opts.FilesystemTypes
	if len(types) == 0 {
		types = DefaultFilesystemTypes
	}
	return eligibleFilesystems(table, types), nil
}

func selectBySlot(table *backend.PartitionTable, slots []int) ([]*backend.Partition, error) {
	want := map[int]bool{}
	for _, s := range slots {
		want[s] = true
	}
	var out []*backend.Partition
	for _, p := range table.Partitions {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errs.New(errs.Configuration, "no partition matched the requested slots %v", slots)
	}
	return out, nil
}

// eligibleFilesystems picks the numbered filesystem partitions whose
// description contains one of types (case-insensitive), the closest
// approximation available from mmls's text output to a real filesystem
// type tag (the adapter never parses the filesystem itself).
func eligibleFilesystems(table *backend.PartitionTable, types []string) []*backend.Partition {
	var out []*backend.Partition
	for _, p := range table.FilesystemPartitions() {
		desc := strings.ToLower(p.Description)
		for _, t := range types {
			if strings.Contains(desc, strings.ToLower(t)) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// loadFileSpecs merges -f ad-hoc patterns (no tools) with every -F
// file-list YAML, in the order given on the command line, matching
// §4.7's "FileSpecs are processed in declaration order across the union
// of loaded YAMLs."
func (d *Driver) loadFileSpecs(opts Options) ([]fileset.FileSpec, error) {
	var specs []fileset.FileSpec

	for _, raw := range opts.AdhocPatterns {
		pattern, err := pathmodel.Normalize(raw)
		if err != nil {
			return nil, errs.Wrapf(errs.Configuration, err, "ad-hoc pattern %q", raw)
		}
		specs = append(specs, fileset.FileSpec{Path: raw, Pattern: pattern, Overwrite: true, Adhoc: true})
	}

	for _, path := range opts.FileListPaths {
		list, err := fileset.Load(path)
		if err != nil {
			return nil, err
		}
		specs = append(specs, list.Files...)
	}

	return specs, nil
}

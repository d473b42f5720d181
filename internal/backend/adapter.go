package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Tool names the adapter shells out to, resolved against ToolDir (-T)
// when set, or the host PATH otherwise.
const (
	toolMmls = "mmls"
	toolFls  = "fls"
	toolIcat = "icat"
)

// Adapter is the Image Backend Adapter (C3): it runs mmls/fls/icat
// against one or more image files and turns their text output into the
// Partition/Entry trees the rest of the engine walks. It never inspects
// the image bytes itself; every answer comes from a subprocess, which is
// the whole reason the engine doesn't need its own NTFS/EWF/VMDK parser.
type Adapter struct {
	ToolDir string

	cacheMu sync.Mutex
	// entryCache memoizes one fls invocation's result by (partition,
	// directory-address): "the adapter memoizes list_entries per
	// partition for the run" — listing the same directory twice (once
	// for a glob's own match, once for one of its siblings' requires
	// check) must run fls only once.
	entryCache map[entryCacheKey][]*Entry
}

type entryCacheKey struct {
	partitionID int
	dirAddress  string
}

// NewAdapter constructs an Adapter; toolDir may be empty to resolve
// mmls/fls/icat from PATH.
func NewAdapter(toolDir string) *Adapter {
	return &Adapter{
		ToolDir:    toolDir,
		entryCache: map[entryCacheKey][]*Entry{},
	}
}

func (a *Adapter) toolPath(name string) string {
	if a.ToolDir == "" {
		return name
	}
	return filepath.Join(a.ToolDir, name)
}

func (a *Adapter) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, a.toolPath(name), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), stderr.String())
	}
	return stdout.Bytes(), nil
}

// ListPartitions runs mmls against imageFiles and parses its output into
// a PartitionTable, grounded on mmls_wrapper.mmls/PartitionTable.from_str.
func (a *Adapter) ListPartitions(ctx context.Context, imageFiles []string, vsType PartTableType, imgType string, sectorSize, offset int) (*PartitionTable, error) {
	var args []string
	if vsType != "" && vsType != PartTableUnknown {
		args = append(args, "-t", string(vsType))
	}
	if imgType != "" {
		args = append(args, "-i", imgType)
	}
	if sectorSize > 0 {
		args = append(args, "-b", strconv.Itoa(sectorSize))
	}
	if offset > 0 {
		args = append(args, "-o", strconv.Itoa(offset))
	}
	args = append(args, imageFiles...)

	out, err := a.run(ctx, toolMmls, args...)
	if err != nil {
		return nil, errors.Wrap(err, "mmls")
	}
	table, err := parsePartitionTable(string(out), imageFiles, imgType)
	if err != nil {
		return nil, errors.Wrap(err, "parsing mmls output")
	}
	return table, nil
}

var (
	reOffset     = regexp.MustCompile(`^\s*Offset Sector: (\d+)\s*$`)
	reSectorSize = regexp.MustCompile(`^\s*Units are in (\d+)-byte sectors\s*$`)
	rePartition  = regexp.MustCompile(`^\s*(\d+):\s*(\S+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(.+)$`)
)

// parsePartitionTable mirrors PartitionTable.from_str: the first line
// names the volume-system type, the second and third carry the sector
// offset and size, and every remaining line that matches RE_PARTITION is
// a row; lines that don't match (blank separators, headers) are skipped
// rather than treated as fatal, exactly like the original's try/except.
func parsePartitionTable(out string, imageFiles []string, imgType string) (*PartitionTable, error) {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	if len(lines) < 3 {
		return nil, errors.Errorf("mmls output too short: %q", out)
	}

	table := &PartitionTable{
		ImageFiles: imageFiles,
		Type:       PartTableTypeFromDescription(lines[0]),
		ImgType:    imgType,
	}

	m := reOffset.FindStringSubmatch(lines[1])
	if m == nil {
		return nil, errors.Errorf("could not find partition table offset in %q", lines[1])
	}
	offset, _ := strconv.ParseInt(m[1], 10, 64)
	table.Offset = offset

	m = reSectorSize.FindStringSubmatch(lines[2])
	if m == nil {
		return nil, errors.Errorf("could not find sector size in %q", lines[2])
	}
	sectorSize, _ := strconv.Atoi(m[1])
	table.SectorSize = sectorSize

	for _, line := range lines[3:] {
		m := rePartition.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1])
		start, _ := strconv.ParseInt(m[3], 10, 64)
		end, _ := strconv.ParseInt(m[4], 10, 64)
		length, _ := strconv.ParseInt(m[5], 10, 64)
		table.Partitions = append(table.Partitions, &Partition{
			ID:          id,
			Slot:        m[2],
			Start:       start,
			End:         end,
			Length:      length,
			Description: m[6],
			Table:       table,
		})
	}

	if len(table.Partitions) == 0 {
		return nil, ErrNoPartitions
	}
	return table, nil
}

var reEntry = regexp.MustCompile(`^(.)/(.) (?:(\*) )?([^*]+?)(\(realloc\))?:\t(.+)$`)

// ListEntries runs fls against partition, either at its root (dir == nil)
// or inside dir (dir must be a directory entry previously returned by
// this method), and parses each output line into an Entry. Results are
// memoized per (partition, directory) for the lifetime of the Adapter.
func (a *Adapter) ListEntries(ctx context.Context, partition *Partition, dir *Entry) ([]*Entry, error) {
	key := entryCacheKey{partitionID: partition.ID, dirAddress: ""}
	if dir != nil {
		key.dirAddress = dir.Address
	}

	a.cacheMu.Lock()
	if cached, ok := a.entryCache[key]; ok {
		a.cacheMu.Unlock()
		return cached, nil
	}
	a.cacheMu.Unlock()

	args := []string{"-o", strconv.FormatInt(partition.Start, 10)}
	if partition.Table.ImgType != "" {
		args = append(args, "-i", partition.Table.ImgType)
	}
	args = append(args, partition.Table.ImageFiles...)
	if dir != nil {
		args = append(args, dir.Address)
	}

	out, err := a.run(ctx, toolFls, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "fls partition %d", partition.ID)
	}

	entries, err := parseEntries(string(out), partition, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing fls output for partition %d", partition.ID)
	}

	a.cacheMu.Lock()
	a.entryCache[key] = entries
	a.cacheMu.Unlock()
	return entries, nil
}

// parseEntries mirrors FsEntry.from_str applied line by line; lines fls
// emits that don't match RE_ENTRY (blank lines, summary footers on some
// builds) are skipped rather than aborting the whole listing.
func parseEntries(out string, partition *Partition, parent *Entry) ([]*Entry, error) {
	var entries []*Entry
	for _, line := range strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n") {
		if line == "" {
			continue
		}
		m := reEntry.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		typeFilename := m[1][0]
		typeMetadata := m[2][0]
		entries = append(entries, &Entry{
			Name:          m[6],
			Address:       m[4],
			Kind:          kindFromTypeByte(firstNonDashType(typeFilename, typeMetadata)),
			TypeFilename:  typeFilename,
			TypeMetadata:  typeMetadata,
			IsDeleted:     m[3] != "",
			IsReallocated: m[5] != "",
			Parent:        parent,
			Partition:     partition,
		})
	}
	return entries, nil
}

// firstNonDashType mirrors FsEntry.is_directory's "either field says
// directory" rule by preferring the filename-type byte, falling back to
// the metadata-type byte when the filename type is unknown ("-").
func firstNonDashType(typeFilename, typeMetadata byte) byte {
	if directoryTypes[typeFilename] {
		return typeFilename
	}
	if directoryTypes[typeMetadata] {
		return typeMetadata
	}
	if typeFilename != '-' {
		return typeFilename
	}
	return typeMetadata
}

// Extract runs icat against a single entry and returns its raw content,
// grounded on icat_wrapper.icat ("-r" recovers deleted files so the
// adapter can extract entries fls reports as deleted).
func (a *Adapter) Extract(ctx context.Context, entry *Entry) ([]byte, error) {
	if entry.Kind == KindDirectory {
		return nil, errors.Errorf("%q is a directory", entry.Path())
	}
	partition := entry.Partition
	args := []string{"-r", "-o", strconv.FormatInt(partition.Start, 10)}
	if partition.Table.ImgType != "" {
		args = append(args, "-i", partition.Table.ImgType)
	}
	args = append(args, partition.Table.ImageFiles...)
	args = append(args, entry.Address)

	out, err := a.run(ctx, toolIcat, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "icat %s (%s)", entry.Path(), entry.Address)
	}
	return out, nil
}

// Describe renders a one-line identification string for diagnostics:
// the partition row followed by its table type, e.g. "001: 01 ... ".
func Describe(p *Partition) string {
	return fmt.Sprintf("%s — %s", p, p.Table.Type.Description())
}

// Package backend is the Image Backend Adapter (C3): a thin facade over
// TheSleuthKit's mmls/fls/icat command-line trio, grounded line-for-line
// on original_source/sleuthlib/*_wrapper.py and *_types.py. The engine
// never parses NTFS/EWF/VMDK itself (spec Non-goals); this package only
// shells out to the external tools and parses their text output, the
// same separation the teacher's glob package keeps from the live
// FileSystemAccessor it walks.
package backend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PartTableType mirrors original_source/sleuthlib/types.py's PartTableType.
type PartTableType string

const (
	PartTableDOS     PartTableType = "dos"
	PartTableMac     PartTableType = "mac"
	PartTableBSD     PartTableType = "bsd"
	PartTableSun     PartTableType = "sun"
	PartTableGPT     PartTableType = "gpt"
	PartTableUnknown PartTableType = "unknown"
)

var partTableDescriptions = map[PartTableType]string{
	PartTableDOS: "DOS Partition Table",
	PartTableMac: "MAC Partition Map",
	PartTableBSD: "BSD Disk Label",
	PartTableSun: "Sun Volume Table of Contents (Solaris)",
	PartTableGPT: "GUID Partition Table (EFI)",
}

// PartTableTypeFromDescription reverses mmls's human-readable volume
// system line back into the short flag value -t accepts.
func PartTableTypeFromDescription(s string) PartTableType {
	s = strings.TrimSpace(s)
	for t, desc := range partTableDescriptions {
		if desc == s {
			return t
		}
	}
	return PartTableUnknown
}

func (t PartTableType) Description() string {
	if d, ok := partTableDescriptions[t]; ok {
		return d
	}
	return "Unknown"
}

// ImgTypeDescriptions backs the CLI's "-i list" catalog, per
// original_source/sleuthlib/types.py's IMG_TYPES.
var ImgTypeDescriptions = map[string]string{
	"raw":    "Single or split raw file (dd)",
	"aff":    "Advanced Forensic Format",
	"afd":    "AFF Multiple File",
	"afm":    "AFF with external metadata",
	"afflib": "All AFFLIB image formats (including beta ones)",
	"ewf":    "Expert Witness Format (EnCase)",
	"vmdk":   "Virtual Machine Disk (VmWare, Virtual Box)",
	"vhd":    "Virtual Hard Drive (Microsoft)",
}

// VsTypeDescriptions backs "-t list", per partTableDescriptions above but
// keyed by the flag value rather than the type, for catalog printing.
var VsTypeDescriptions = map[string]string{
	"dos": partTableDescriptions[PartTableDOS],
	"mac": partTableDescriptions[PartTableMac],
	"bsd": partTableDescriptions[PartTableBSD],
	"sun": partTableDescriptions[PartTableSun],
	"gpt": partTableDescriptions[PartTableGPT],
}

// EntryKind classifies an Entry's fls type byte, collapsed to the
// file/directory distinction the spec's data model needs; the raw type
// bytes are kept for diagnostics.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
	KindOther
)

var directoryTypes = map[byte]bool{
	'd': true, // Directory
	'V': true, // TSK Virtual directory
}

func kindFromTypeByte(b byte) EntryKind {
	if directoryTypes[b] {
		return KindDirectory
	}
	if b == '-' {
		return KindOther
	}
	return KindFile
}

// Entry is a name inside a partition's filesystem tree as surfaced by
// fls, with inode-equivalent identifier, kind, and parent linkage
// forming a tree rooted at the partition root (spec §3's Entry).
type Entry struct {
	Name          string
	Address       string // fls meta-address, e.g. "128-3" or "128"
	Kind          EntryKind
	TypeFilename  byte
	TypeMetadata  byte
	IsDeleted     bool
	IsReallocated bool
	Parent        *Entry
	Partition     *Partition
}

// Path renders the entry's full partition-relative path by walking its
// parent chain, mirroring FsEntry.path.
func (e *Entry) Path() string {
	if e.Parent == nil || e.Parent.Name == "" {
		return e.Name
	}
	return e.Parent.Path() + "/" + e.Name
}

func (e *Entry) String() string {
	attrs := []string{}
	if e.IsDeleted {
		attrs = append(attrs, "deleted")
	}
	if e.IsReallocated {
		attrs = append(attrs, "reallocated")
	}
	suffix := ""
	if len(attrs) > 0 {
		suffix = " (" + strings.Join(attrs, ", ") + ")"
	}
	return fmt.Sprintf("%c/%c %s: %s%s (%s)",
		e.TypeFilename, e.TypeMetadata, e.Address, e.Name, suffix, e.Path())
}

// Inode extracts the leading numeric inode from a meta-address like
// "128-3-1", for callers that only need the bare inode number (icat
// accepts the full address string, so this is purely informational).
func (e *Entry) Inode() (int64, error) {
	head := e.Address
	if i := strings.IndexByte(head, '-'); i >= 0 {
		head = head[:i]
	}
	return strconv.ParseInt(head, 10, 64)
}

// Partition identifies a slot within the image's volume system, per
// spec §3's Partition: filesystem type (only as mmls's free-text
// Description; no separate type field is parsed), offset, size, and a
// handle (its sector offset) usable by the backend.
type Partition struct {
	ID          int
	Slot        string
	Start       int64 // sectors
	End         int64
	Length      int64
	Description string
	Table       *PartitionTable
}

// IsFilesystem reports whether the slot is a numbered filesystem
// partition (as opposed to the synthetic "Unallocated"/"Meta" rows mmls
// also emits), mirroring Partition.is_filesystem.
func (p *Partition) IsFilesystem() bool {
	_, err := strconv.Atoi(strings.TrimSpace(p.Slot))
	return err == nil
}

func (p *Partition) StartBytes() int64  { return p.Start * int64(p.Table.SectorSize) }
func (p *Partition) LengthBytes() int64 { return p.Length * int64(p.Table.SectorSize) }

func (p *Partition) String() string {
	return fmt.Sprintf("%03d: %-7s %11d %11d %11d  %s",
		p.ID, p.Slot, p.Start, p.End, p.Length, p.Description)
}

// PartitionTable is the parsed result of one mmls invocation, per
// original_source/sleuthlib/mmls_types.py's PartitionTable.
type PartitionTable struct {
	ImageFiles    []string
	Type          PartTableType
	Partitions    []*Partition
	Offset        int64
	SectorSize    int
	ImgType       string
}

// FilesystemPartitions returns only the numbered, filesystem-bearing
// partitions, i.e. those eligible for defaulted-all-partitions mode once
// filtered by filesystem-type (spec §3).
func (t *PartitionTable) FilesystemPartitions() []*Partition {
	var out []*Partition
	for _, p := range t.Partitions {
		if p.IsFilesystem() {
			out = append(out, p)
		}
	}
	return out
}

func (t *PartitionTable) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "* Type: %s [%s]\n", t.Type.Description(), t.Type)
	fmt.Fprintf(&b, "* Offset: %d sectors\n", t.Offset)
	fmt.Fprintf(&b, "* Sector size: %d B\n", t.SectorSize)
	b.WriteString("* Partitions:\n")
	for _, p := range t.Partitions {
		fmt.Fprintf(&b, "  * %s\n", p)
	}
	return b.String()
}

// ErrNoPartitions is returned when mmls parses a table with zero rows,
// which almost always means the volume-system type guess was wrong.
var ErrNoPartitions = errors.New("no partitions found in image")

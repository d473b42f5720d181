package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMmls = `DOS Partition Table
Offset Sector: 0
Units are in 512-byte sectors

     Slot    Start        End          Length       Description
000:  Meta    0000000000   0000000000   0000000001   Primary Table (#0)
001:  -----   0000000000   0000002047   0000002048   Unallocated
002:  000     0000002048   0002097151   0002095104   Linux (0x83)
003:  -----   0002097152   0002099199   0000002048   Unallocated
`

func TestParsePartitionTable(t *testing.T) {
	table, err := parsePartitionTable(sampleMmls, []string{"disk.img"}, "raw")
	require.NoError(t, err)
	assert.Equal(t, PartTableDOS, table.Type)
	assert.Equal(t, int64(0), table.Offset)
	assert.Equal(t, 512, table.SectorSize)
	require.Len(t, table.Partitions, 4)

	fsParts := table.FilesystemPartitions()
	require.Len(t, fsParts, 1)
	assert.Equal(t, "000", fsParts[0].Slot)
	assert.Equal(t, int64(2048), fsParts[0].Start)
	assert.Equal(t, "Linux (0x83)", fsParts[0].Description)
}

func TestParsePartitionTableNoRows(t *testing.T) {
	bad := "DOS Partition Table\nOffset Sector: 0\nUnits are in 512-byte sectors\n"
	_, err := parsePartitionTable(bad, nil, "")
	assert.ErrorIs(t, err, ErrNoPartitions)
}

const sampleFls = "d/d 2:	.\n" +
	"d/d 2:	..\n" +
	"r/r 128-128-1:	ntuser.dat\n" +
	"r/r * 256-128-3:	deleted.txt\n" +
	"d/d 64:	Desktop\n"

func TestParseEntries(t *testing.T) {
	partition := &Partition{ID: 2, Table: &PartitionTable{SectorSize: 512}}
	entries, err := parseEntries(sampleFls, partition, nil)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	assert.Equal(t, ".", entries[0].Name)
	assert.Equal(t, KindDirectory, entries[0].Kind)

	assert.Equal(t, "ntuser.dat", entries[2].Name)
	assert.Equal(t, KindFile, entries[2].Kind)
	assert.False(t, entries[2].IsDeleted)

	assert.Equal(t, "deleted.txt", entries[3].Name)
	assert.True(t, entries[3].IsDeleted)
	assert.Equal(t, "256-128-3", entries[3].Address)

	assert.Equal(t, "Desktop", entries[4].Name)
	assert.Equal(t, KindDirectory, entries[4].Kind)
}

func TestEntryPathWalksParentChain(t *testing.T) {
	partition := &Partition{ID: 1, Table: &PartitionTable{SectorSize: 512}}
	root := &Entry{Name: "", Partition: partition}
	desktop := &Entry{Name: "Desktop", Parent: root, Partition: partition, Kind: KindDirectory}
	notes := &Entry{Name: "notes.ini", Parent: desktop, Partition: partition}

	assert.Equal(t, "Desktop", desktop.Path())
	assert.Equal(t, "Desktop/notes.ini", notes.Path())
}

func TestEntryInode(t *testing.T) {
	e := &Entry{Address: "128-128-1"}
	inode, err := e.Inode()
	require.NoError(t, err)
	assert.Equal(t, int64(128), inode)
}

func TestPartitionIsFilesystem(t *testing.T) {
	table := &PartitionTable{SectorSize: 512}
	assert.True(t, (&Partition{Slot: "02", Table: table}).IsFilesystem())
	assert.False(t, (&Partition{Slot: "-----", Table: table}).IsFilesystem())
	assert.False(t, (&Partition{Slot: "Meta", Table: table}).IsFilesystem())
}

func TestPartTableTypeFromDescription(t *testing.T) {
	assert.Equal(t, PartTableDOS, PartTableTypeFromDescription("DOS Partition Table"))
	assert.Equal(t, PartTableUnknown, PartTableTypeFromDescription("Something else"))
}

// Package runctx bundles the per-partition run-wide state the spec
// calls out explicitly rather than letting hide behind a singleton: the
// resolver cache, the extraction cache, the run-once guard, and the
// successful-extraction set. One Context is created per partition
// worker and threaded through the resolver, extractor and dispatcher so
// that running partitions in parallel needs no locking beyond what each
// Context itself does — no state crosses workers.
package runctx

import (
	"sync"

	"github.com/dfir-sleuth/sleuthctl/internal/backend"
	"github.com/dfir-sleuth/sleuthctl/internal/pathmodel"
)

// Artifact is the product of extracting one Entry: a host path plus the
// metadata templates bind to ($FILE, $ENTRYPATH, $FILENAME, $PARENT,
// $USERNAME).
type Artifact struct {
	HostPath       string
	EntryPath      string // partition-relative, "/"-joined
	Leaf           string
	ParentHostPath string
	Username       string
}

// PatternKey canonicalizes a PathPattern for use as a cache/requires key:
// its normalized, "/"-joined segment text. Two patterns that normalize
// to the same segments are the same key regardless of how they were
// originally spelled (backslashes, drive letter, trailing slash).
type PatternKey string

// KeyForPattern derives the canonical key for a pattern.
func KeyForPattern(p pathmodel.PathPattern) PatternKey {
	return PatternKey(pathmodel.Join(p.Segments))
}

type resolveKey struct {
	partitionID int
	pattern     PatternKey
}

type extractKey struct {
	partitionID int
	address     string
}

type runOnceKey struct {
	fileSpecIndex int
	toolIndex     int
}

// Context holds all partition-local caches and guards for one run.
type Context struct {
	mu sync.Mutex

	resolveCache map[resolveKey][]*backend.Entry
	extractCache map[extractKey]*Artifact
	runOnceFired map[runOnceKey]bool
	succeeded    map[PatternKey]int
	truncated    map[string]bool
}

// New creates an empty, partition-scoped Context.
func New() *Context {
	return &Context{
		resolveCache: map[resolveKey][]*backend.Entry{},
		extractCache: map[extractKey]*Artifact{},
		runOnceFired: map[runOnceKey]bool{},
		succeeded:    map[PatternKey]int{},
		truncated:    map[string]bool{},
	}
}

// ResolveCacheGet/ResolveCachePut implement "results are cached per
// (partition, pattern)" from §4.4.
func (c *Context) ResolveCacheGet(partitionID int, pattern PatternKey) ([]*backend.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.resolveCache[resolveKey{partitionID, pattern}]
	return v, ok
}

func (c *Context) ResolveCachePut(partitionID int, pattern PatternKey, entries []*backend.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveCache[resolveKey{partitionID, pattern}] = entries
}

// ExtractCacheGet/ExtractCachePut implement "every extracted Artifact
// corresponds to exactly one backend content-extraction call per unique
// (partition, entry-id)" from §3's invariants.
func (c *Context) ExtractCacheGet(partitionID int, address string) (*Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.extractCache[extractKey{partitionID, address}]
	return v, ok
}

func (c *Context) ExtractCachePut(partitionID int, address string, artifact *Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extractCache[extractKey{partitionID, address}] = artifact
}

// RunOnceFire reports whether this is the first call for key, and marks
// it fired regardless of outcome: "the guard is set before process
// launch; a failure still counts as fired" (§4.7 step 4).
func (c *Context) RunOnceFire(fileSpecIndex, toolIndex int) (first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := runOnceKey{fileSpecIndex, toolIndex}
	if c.runOnceFired[key] {
		return false
	}
	c.runOnceFired[key] = true
	return true
}

// RecordSuccess marks pattern as having produced one more successful
// artifact, feeding the requires gate (§4.7 step 3) and the
// successful-extraction set from the Glossary.
func (c *Context) RecordSuccess(pattern PatternKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.succeeded[pattern]++
}

// HasSucceeded reports whether pattern has produced at least one
// successful artifact so far in the run.
func (c *Context) HasSucceeded(pattern PatternKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.succeeded[pattern] > 0
}

// ClaimTruncate reports whether this is the first write to hostPath in
// this run: true means the caller should open in truncate mode, false
// means every subsequent write (even across separate invocations) must
// append, per §4.7 step 6's "truncation mode truncates on the first
// write of the run and appends thereafter".
func (c *Context) ClaimTruncate(hostPath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated[hostPath] {
		return false
	}
	c.truncated[hostPath] = true
	return true
}

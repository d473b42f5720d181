// Package resolver is the Selector Resolver (C4): it turns a PathPattern
// into the concrete set of backend Entries it matches within one
// partition, walking the pattern segment-by-segment the way the
// teacher's glob.Globber walks a live filesystem tree one directory
// level at a time rather than doing a single recursive descent.
package resolver

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/dfir-sleuth/sleuthctl/internal/backend"
	"github.com/dfir-sleuth/sleuthctl/internal/pathmodel"
	"github.com/dfir-sleuth/sleuthctl/internal/runctx"
)

// Resolver resolves patterns against partitions via an Adapter, caching
// per (partition, pattern) in the supplied run Context.
type Resolver struct {
	Adapter       *backend.Adapter
	CaseSensitive bool
}

func New(adapter *backend.Adapter, caseSensitive bool) *Resolver {
	return &Resolver{Adapter: adapter, CaseSensitive: caseSensitive}
}

// Resolve walks pattern segment-by-segment from partition's root,
// returning every matching Entry in deterministic order (sorted by
// partition-relative path, per §4.7's ordering rule for artifacts within
// a resolved pattern).
func (r *Resolver) Resolve(ctx context.Context, rc *runctx.Context, partition *backend.Partition, pattern pathmodel.PathPattern) ([]*backend.Entry, error) {
	key := runctx.KeyForPattern(pattern)
	if cached, ok := rc.ResolveCacheGet(partition.ID, key); ok {
		return cached, nil
	}

	entries, err := r.walk(ctx, partition, pattern)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path() < entries[j].Path() })
	entries = dedupeByAddress(entries)

	rc.ResolveCachePut(partition.ID, key, entries)
	return entries, nil
}

// walk implements §4.4's algorithm: literal segments look a name up
// directly in the current directory's listing; glob segments keep every
// child whose name matches. Only directories are carried forward to the
// next segment; at the final segment both files and directories that
// match are kept as results (a pattern ending in a directory yields the
// directory entry itself, not its contents).
func (r *Resolver) walk(ctx context.Context, partition *backend.Partition, pattern pathmodel.PathPattern) ([]*backend.Entry, error) {
	if len(pattern.Segments) == 0 {
		return nil, nil
	}

	frontier := []*backend.Entry{nil} // nil denotes the partition root
	var results []*backend.Entry

	for i, seg := range pattern.Segments {
		last := i == len(pattern.Segments)-1
		var next []*backend.Entry

		for _, dir := range frontier {
			children, err := r.Adapter.ListEntries(ctx, partition, dir)
			if err != nil {
				return nil, errors.Wrapf(err, "listing entries for pattern %q", pattern.String())
			}
			for _, child := range children {
				if child.Name == "." || child.Name == ".." {
					continue
				}
				if !pathmodel.MatchSegment(seg, child.Name, r.CaseSensitive) {
					continue
				}
				if last {
					results = append(results, child)
				} else if child.Kind == backend.KindDirectory {
					next = append(next, child)
				}
			}
		}
		frontier = next
	}

	return results, nil
}

func dedupeByAddress(entries []*backend.Entry) []*backend.Entry {
	seen := map[string]bool{}
	out := make([]*backend.Entry, 0, len(entries))
	for _, e := range entries {
		if seen[e.Address] {
			continue
		}
		seen[e.Address] = true
		out = append(out, e)
	}
	return out
}

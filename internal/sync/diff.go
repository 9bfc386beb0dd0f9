package sync

import (
	"context"
	"sort"

	"github.com/biswanathroul/filesync-guardian/internal/manifest"
	mapset "github.com/deckarep/golang-set/v2"
)

type ChangeKind string

const (
	ChangeAdd       ChangeKind = "Add"
	ChangeModify    ChangeKind = "Modify"
	ChangeRemove    ChangeKind = "Remove"
	ChangeAddDir    ChangeKind = "AddDir"
	ChangeRemoveDir ChangeKind = "RemoveDir"
)

// Change is a single required transformation of the target tree.
// RenamedFrom, when set on an Add, points at an orphaned target path whose
// content already matches; the applier copies locally instead of from the
// source. Treating the pair as independent Add and Remove stays correct.
type Change struct {
	Kind        ChangeKind
	Path        string
	Source      *Entry
	Target      *Entry
	RenamedFrom string
}

func (c *Change) Depth() int {
	if c.Source != nil {
		return c.Source.Depth()
	}
	if c.Target != nil {
		return c.Target.Depth()
	}
	return 0
}

// ChangeSet is a dependency-ordered list of changes: directory creations
// before their descendants' writes, removals of descendants before their
// ancestors' directory removals.
type ChangeSet struct {
	Changes   []*Change
	Unchanged int
	Skipped   int
	Failures  []*PathError
}

func (cs *ChangeSet) Empty() bool {
	return len(cs.Changes) == 0
}

// FileCounts returns the file-level add/modify/remove tally.
func (cs *ChangeSet) FileCounts() (added, modified, removed int) {
	for _, c := range cs.Changes {
		switch c.Kind {
		case ChangeAdd:
			added++
		case ChangeModify:
			modified++
		case ChangeRemove:
			removed++
		}
	}
	return
}

// Differ compares two snapshots and the prior manifest into a ChangeSet.
type Differ struct {
	srcRoot       string
	dstRoot       string
	hasher        *Hasher
	deleteOrphans bool
	strictCompare bool
}

func NewDiffer(cfg *Config, hasher *Hasher) *Differ {
	return &Differ{
		srcRoot:       cfg.SourcePath,
		dstRoot:       cfg.TargetPath,
		hasher:        hasher,
		deleteOrphans: cfg.DeleteOrphans,
		strictCompare: cfg.StrictCompare,
	}
}

// Diff computes the changes that transform target to match source.
// A partial source snapshot suppresses every implied deletion; a prior
// manifest, when available, supplies target hashes without re-reading.
func (d *Differ) Diff(ctx context.Context, source, target *Snapshot, prior *manifest.Manifest) (*ChangeSet, error) {
	cs := &ChangeSet{}

	paths := mapset.NewThreadUnsafeSet[string]()
	for p := range source.Entries {
		paths.Add(p)
	}
	for p := range target.Entries {
		paths.Add(p)
	}

	sorted := paths.ToSlice()
	sort.Strings(sorted)

	var addCandidates []*Change
	orphanHashes := make(map[string][]string) // content hash -> orphaned target paths

	for _, p := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src, inSrc := source.Entries[p]
		dst, inDst := target.Entries[p]

		// entries the scanner could not read are reported by the engine;
		// they never produce changes
		if inSrc && src.ScanErr != "" {
			continue
		}
		if inDst && dst.ScanErr != "" {
			continue
		}

		switch {
		case inSrc && !inDst:
			c := d.addChange(src)
			cs.Changes = append(cs.Changes, c)
			if c.Kind == ChangeAdd && src.Kind == KindFile {
				addCandidates = append(addCandidates, c)
			}

		case !inSrc && inDst:
			if !d.deleteOrphans || source.Partial {
				cs.Skipped++
				continue
			}
			cs.Changes = append(cs.Changes, d.removeChange(dst))
			if dst.Kind == KindFile {
				if hash := priorHash(prior, dst); hash != "" {
					orphanHashes[hash] = append(orphanHashes[hash], p)
				}
			}

		default:
			d.diffBoth(cs, src, dst, prior)
		}
	}

	d.detectRenames(addCandidates, orphanHashes)
	sortChanges(cs.Changes)
	return cs, nil
}

func (d *Differ) addChange(src *Entry) *Change {
	if src.Kind == KindDir {
		return &Change{Kind: ChangeAddDir, Path: src.Path, Source: src}
	}
	return &Change{Kind: ChangeAdd, Path: src.Path, Source: src}
}

func (d *Differ) removeChange(dst *Entry) *Change {
	if dst.Kind == KindDir {
		return &Change{Kind: ChangeRemoveDir, Path: dst.Path, Target: dst}
	}
	return &Change{Kind: ChangeRemove, Path: dst.Path, Target: dst}
}

// diffBoth handles a path present in both trees.
func (d *Differ) diffBoth(cs *ChangeSet, src, dst *Entry, prior *manifest.Manifest) {
	// type change: the old kind is removed, then the new kind is created,
	// never an in-place modify. Emitted as a single change carrying both
	// entries; the applier clears the old object before creating the new.
	if src.Kind != dst.Kind {
		c := d.addChange(src)
		c.Target = dst
		cs.Changes = append(cs.Changes, c)
		return
	}

	switch src.Kind {
	case KindDir:
		cs.Unchanged++

	case KindSymlink:
		if src.LinkTarget != dst.LinkTarget {
			cs.Changes = append(cs.Changes, &Change{Kind: ChangeModify, Path: src.Path, Source: src, Target: dst})
		} else {
			cs.Unchanged++
		}

	case KindFile:
		// the fast path only applies to manifest-confirmed target state;
		// anything the last run did not commit (including checksum
		// quarantine exclusions) is re-compared by content
		if !d.strictCompare && sameFastPath(src, dst) && priorConfirms(prior, dst) {
			cs.Unchanged++
			return
		}

		srcHash, err := d.hasher.EntryHash(d.srcRoot, src)
		if err != nil {
			cs.Failures = append(cs.Failures, newPathError(src.Path, err))
			return
		}
		dstHash := d.targetHash(dst, prior)

		if dstHash != "" && srcHash == dstHash {
			cs.Unchanged++
			return
		}
		cs.Changes = append(cs.Changes, &Change{Kind: ChangeModify, Path: src.Path, Source: src, Target: dst})
	}
}

// targetHash resolves a target entry's hash, reusing the manifest row when
// its size and mtime still match; empty string when the file is unreadable.
func (d *Differ) targetHash(dst *Entry, prior *manifest.Manifest) string {
	if hash := priorHash(prior, dst); hash != "" {
		dst.Hash = hash
		return hash
	}
	hash, err := d.hasher.EntryHash(d.dstRoot, dst)
	if err != nil {
		return ""
	}
	return hash
}

// priorConfirms reports whether a committed manifest has a row for the
// entry whose size and mtime still match the on-disk state. Rows from an
// interrupted run may serve as a hash cache but never suppress a compare.
func priorConfirms(prior *manifest.Manifest, e *Entry) bool {
	if prior == nil || !prior.Completed || e == nil {
		return false
	}
	row, ok := prior.Entries[e.Path]
	return ok && row.Size == e.Size && row.ModTime.Equal(e.ModTime)
}

// priorHash returns the manifest-recorded hash for an entry when the
// on-disk size and mtime still match the manifest row.
func priorHash(prior *manifest.Manifest, e *Entry) string {
	if prior == nil || e == nil {
		return ""
	}
	row, ok := prior.Entries[e.Path]
	if !ok || row.Hash == "" {
		return ""
	}
	if row.Size == e.Size && row.ModTime.Equal(e.ModTime) {
		return row.Hash
	}
	return ""
}

// detectRenames rewrites an Add as a local copy when an orphan's content
// hash matches exactly one add candidate. Purely an optimization; the
// Remove stays in the set and runs after all writes.
func (d *Differ) detectRenames(adds []*Change, orphanHashes map[string][]string) {
	if len(adds) == 0 || len(orphanHashes) == 0 {
		return
	}
	for _, add := range adds {
		hash, err := d.hasher.EntryHash(d.srcRoot, add.Source)
		if err != nil {
			continue
		}
		orphans, ok := orphanHashes[hash]
		if !ok || len(orphans) != 1 {
			continue
		}
		add.RenamedFrom = orphans[0]
		delete(orphanHashes, hash)
	}
}

// phase order within the change set: directory creation, file writes,
// file removals, directory removals.
func changePhase(k ChangeKind) int {
	switch k {
	case ChangeAddDir:
		return 0
	case ChangeAdd, ChangeModify:
		return 1
	case ChangeRemove:
		return 2
	default: // ChangeRemoveDir
		return 3
	}
}

// sortChanges orders changes so that every operation's dependencies precede
// it: AddDirs shallow-first, then writes, then removes, then RemoveDirs
// deep-first.
func sortChanges(changes []*Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		pi, pj := changePhase(changes[i].Kind), changePhase(changes[j].Kind)
		if pi != pj {
			return pi < pj
		}
		di, dj := changes[i].Depth(), changes[j].Depth()
		if di != dj {
			if pi == 3 {
				return di > dj // remove deepest directories first
			}
			return di < dj
		}
		return changes[i].Path < changes[j].Path
	})
}

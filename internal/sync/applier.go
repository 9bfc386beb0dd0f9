package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/biswanathroul/filesync-guardian/internal/manifest"
	"github.com/biswanathroul/filesync-guardian/internal/queue"
	"github.com/biswanathroul/filesync-guardian/internal/utils"
	"github.com/dustin/go-humanize"
)

const (
	// tmpFileMarker names in-flight copy temp files; scans exclude it.
	tmpFileMarker = ".fsg.tmp."

	maxAttempts    = 3
	retryBaseDelay = 100 * time.Millisecond

	checkpointBatchSize = 100
	checkpointInterval  = 2 * time.Second

	// dispatch priorities: all directory creations before any file write
	writePhaseBias = 1 << 20
)

// appliedChange is a successfully applied file write plus the content hash
// observed while streaming the copy.
type appliedChange struct {
	change *Change
	hash   string
}

type applyOutcome struct {
	appliedFiles []*appliedChange
	appliedDirs  []*Change
	removedPaths []string
	failures     []*PathError
	stopped      bool
}

type opResult struct {
	change *Change
	hash   string
	err    error
}

// Applier executes a ChangeSet against the target root on a bounded worker
// pool. Every operation is atomic and independently retryable; one bad
// path degrades the result, not the run.
type Applier struct {
	srcRoot  string
	dstRoot  string
	workers  int
	store    *manifest.Store // nil disables checkpointing
	counts   *liveCounts
	stopFlag *atomic.Bool
}

func NewApplier(cfg *Config, store *manifest.Store, counts *liveCounts, stopFlag *atomic.Bool) *Applier {
	return &Applier{
		srcRoot:  cfg.SourcePath,
		dstRoot:  cfg.TargetPath,
		workers:  cfg.MaxParallelOps,
		store:    store,
		counts:   counts,
		stopFlag: stopFlag,
	}
}

// Apply runs the change set in three phases: directory creations and file
// writes (gated per directory), file removals, directory removals deepest
// first. Completed writes are checkpointed to the manifest store so a
// crash loses at most the uncheckpointed tail.
func (a *Applier) Apply(ctx context.Context, cs *ChangeSet) *applyOutcome {
	outcome := &applyOutcome{}

	var dirAdds, writes, removes, removeDirs []*Change
	for _, c := range cs.Changes {
		switch c.Kind {
		case ChangeAddDir:
			dirAdds = append(dirAdds, c)
		case ChangeAdd, ChangeModify:
			writes = append(writes, c)
		case ChangeRemove:
			removes = append(removes, c)
		case ChangeRemoveDir:
			removeDirs = append(removeDirs, c)
		}
	}

	gate := newDirGate(dirAdds)
	ckpt := newCheckpointer(a.store)
	defer ckpt.flush()

	pq := queue.NewPriorityQueue[*Change]()
	for _, c := range dirAdds {
		pq.Enqueue(c, c.Depth())
	}
	for _, c := range writes {
		pq.Enqueue(c, writePhaseBias+c.Depth())
	}
	a.runPool(ctx, pq, gate, ckpt, outcome)
	if outcome.stopped {
		return outcome
	}

	pq = queue.NewPriorityQueue[*Change]()
	for _, c := range removes {
		pq.Enqueue(c, c.Depth())
	}
	a.runPool(ctx, pq, nil, ckpt, outcome)
	if outcome.stopped {
		return outcome
	}

	// directory removals are cheap and order-sensitive; sorted deepest
	// first by the differ
	for _, c := range removeDirs {
		if a.stopRequested(ctx) {
			outcome.stopped = true
			return outcome
		}
		_, err := a.applyWithRetry(ctx, c)
		a.record(outcome, ckpt, &opResult{change: c, err: err})
	}

	return outcome
}

// runPool drains the priority queue through the worker pool. The feeder
// stops dispatching once a stop is requested; in-flight operations finish,
// preserving the atomic-rename guarantee.
func (a *Applier) runPool(ctx context.Context, pq *queue.PriorityQueue[*Change], gate *dirGate, ckpt *checkpointer, outcome *applyOutcome) {
	total := pq.Len()
	if total == 0 {
		return
	}

	jobs := make(chan *Change, total)
	results := make(chan *opResult, total)

	var wg sync.WaitGroup
	wg.Add(a.workers)
	for range a.workers {
		go func() {
			defer wg.Done()
			for c := range jobs {
				res := &opResult{change: c}
				if gate != nil && (c.Kind == ChangeAdd || c.Kind == ChangeModify) {
					if err := gate.wait(ctx, path.Dir(c.Path)); err != nil {
						res.err = err
						results <- res
						continue
					}
				}
				res.hash, res.err = a.applyWithRetry(ctx, c)
				if gate != nil && c.Kind == ChangeAddDir {
					// signal even on failure so dependents fail with
					// their own error instead of blocking
					gate.markReady(c.Path)
				}
				results <- res
			}
		}()
	}

	go func() {
		defer close(jobs)
		for {
			if a.stopRequested(ctx) {
				return
			}
			c, ok := pq.Dequeue()
			if !ok {
				return
			}
			jobs <- c
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		a.record(outcome, ckpt, res)
	}

	if a.stopRequested(ctx) {
		outcome.stopped = true
	}
}

// record tallies one finished operation. Runs on a single goroutine.
func (a *Applier) record(outcome *applyOutcome, ckpt *checkpointer, res *opResult) {
	c := res.change
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			return
		}
		outcome.failures = append(outcome.failures, newPathError(c.Path, res.err))
		a.counts.failed.Add(1)
		slog.Error("sync apply", "op", c.Kind, "path", c.Path, "error", res.err)
		return
	}

	switch c.Kind {
	case ChangeAddDir:
		outcome.appliedDirs = append(outcome.appliedDirs, c)

	case ChangeAdd, ChangeModify:
		outcome.appliedFiles = append(outcome.appliedFiles, &appliedChange{change: c, hash: res.hash})
		if c.Kind == ChangeAdd {
			a.counts.added.Add(1)
		} else {
			a.counts.modified.Add(1)
		}
		ckpt.add(toManifestEntry(c.Source, res.hash))
		slog.Info("sync apply", "op", c.Kind, "path", c.Path, "size", humanize.Bytes(uint64(c.Source.Size)))

	case ChangeRemove:
		outcome.removedPaths = append(outcome.removedPaths, c.Path)
		a.counts.removed.Add(1)
		slog.Info("sync apply", "op", c.Kind, "path", c.Path)

	case ChangeRemoveDir:
		outcome.removedPaths = append(outcome.removedPaths, c.Path)
	}
}

func (a *Applier) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return a.stopFlag != nil && a.stopFlag.Load()
}

// applyWithRetry retries transient failures with bounded exponential
// backoff. Permanent errors return immediately.
func (a *Applier) applyWithRetry(ctx context.Context, c *Change) (string, error) {
	var hash string
	var err error
	delay := retryBaseDelay

	for attempt := 1; ; attempt++ {
		hash, err = a.applyOnce(c)
		if err == nil || !isTransientErr(err) || attempt == maxAttempts {
			return hash, err
		}
		slog.Debug("sync apply retry", "op", c.Kind, "path", c.Path, "attempt", attempt, "error", err)

		jitter := time.Duration(rand.Int63n(int64(delay)))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		delay *= 2
	}
}

func (a *Applier) applyOnce(c *Change) (string, error) {
	dst := absJoin(a.dstRoot, c.Path)

	switch c.Kind {
	case ChangeAddDir:
		// clear a file or link occupying the path on a type change
		if c.Target != nil && c.Target.Kind != KindDir {
			if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", err
			}
		}
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return "", err
		}
		if c.Source != nil && c.Source.Mode != 0 {
			if err := os.Chmod(dst, c.Source.Mode.Perm()); err != nil {
				return "", err
			}
		}
		return "", nil

	case ChangeRemove:
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		return "", nil

	case ChangeRemoveDir:
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		return "", nil

	case ChangeAdd, ChangeModify:
		// a directory occupying the path on a type change must go first
		if c.Target != nil && c.Target.Kind == KindDir {
			if err := os.RemoveAll(dst); err != nil {
				return "", err
			}
		}
		if c.Source.Kind == KindSymlink {
			return "", replaceSymlink(c.Source.LinkTarget, dst)
		}
		src := absJoin(a.srcRoot, c.Path)
		if c.RenamedFrom != "" {
			src = absJoin(a.dstRoot, c.RenamedFrom)
		}
		return copyFileAtomic(src, dst, c.Source)

	default:
		return "", fmt.Errorf("unknown change kind %q", c.Kind)
	}
}

// copyFileAtomic streams src into a temp sibling of dst, restores the
// source permissions and mtime, then renames it over dst. The target is
// never observable half-written. Returns the hash of the copied bytes.
func copyFileAtomic(src, dst string, meta *Entry) (string, error) {
	if err := utils.EnsureParent(dst); err != nil {
		return "", fmt.Errorf("ensure parent: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+tmpFileMarker+"*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), in); err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if meta.Mode != 0 {
		if err := os.Chmod(tmpPath, meta.Mode.Perm()); err != nil {
			return "", fmt.Errorf("chmod: %w", err)
		}
	}
	if err := os.Chtimes(tmpPath, time.Now(), meta.ModTime); err != nil {
		return "", fmt.Errorf("restore mtime: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", fmt.Errorf("rename temp file to %s: %w", dst, err)
	}

	success = true
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func replaceSymlink(linkTarget, dst string) error {
	if err := utils.EnsureParent(dst); err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Symlink(linkTarget, dst)
}

func toManifestEntry(e *Entry, hash string) *manifest.Entry {
	if hash == "" {
		hash = e.Hash
	}
	return &manifest.Entry{
		Path:    e.Path,
		Kind:    string(e.Kind),
		Size:    e.Size,
		Mode:    uint32(e.Mode),
		ModTime: e.ModTime,
		Hash:    hash,
	}
}

// checkpointer batches applied entries into periodic manifest writes.
type checkpointer struct {
	store     *manifest.Store
	batch     []*manifest.Entry
	lastFlush time.Time
}

func newCheckpointer(store *manifest.Store) *checkpointer {
	return &checkpointer{store: store, lastFlush: time.Now()}
}

func (cp *checkpointer) add(e *manifest.Entry) {
	if cp.store == nil {
		return
	}
	cp.batch = append(cp.batch, e)
	if len(cp.batch) >= checkpointBatchSize || time.Since(cp.lastFlush) >= checkpointInterval {
		cp.flush()
	}
}

func (cp *checkpointer) flush() {
	if cp.store == nil || len(cp.batch) == 0 {
		return
	}
	if err := cp.store.Checkpoint(cp.batch); err != nil {
		slog.Warn("manifest checkpoint failed", "entries", len(cp.batch), "error", err)
	}
	cp.batch = cp.batch[:0]
	cp.lastFlush = time.Now()
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/biswanathroul/filesync-guardian/internal/manifest"
	"github.com/biswanathroul/filesync-guardian/internal/utils"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State of the engine's run lifecycle.
type State string

const (
	StateIdle      State = "Idle"
	StateScanning  State = "Scanning"
	StateDiffing   State = "Diffing"
	StateApplying  State = "Applying"
	StateVerifying State = "Verifying"
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
	StateStopping  State = "Stopping"
	StateStopped   State = "Stopped"
)

// Engine orchestrates one sync pass: scan both trees, diff, apply, verify,
// commit. A single instance permits one active run at a time; a concurrent
// Start is a no-op that reports the live result.
type Engine struct {
	cfg     *Config
	exclude *ExcludeList
	hasher  *Hasher
	counts  *liveCounts

	mu         sync.Mutex
	state      State
	lastResult *SyncResult

	muSync   sync.Mutex
	stopFlag atomic.Bool
}

// New validates the config and returns an idle engine.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Engine{
		cfg:     cfg,
		exclude: NewExcludeList(cfg.ExcludePatterns),
		hasher:  NewHasher(),
		counts:  &liveCounts{},
		state:   StateIdle,
	}, nil
}

// Start runs one full sync pass and blocks until it completes, fails or is
// stopped. If a run is already in flight the call is a no-op returning the
// live result. The returned result is valid even when err is non-nil.
func (e *Engine) Start(ctx context.Context) (*SyncResult, error) {
	if !e.muSync.TryLock() {
		slog.Debug("start ignored", "reason", ErrSyncRunning)
		return e.liveResult(), nil
	}
	defer e.muSync.Unlock()

	e.stopFlag.Store(false)
	e.counts.reset()

	result := &SyncResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		DryRun:    e.cfg.DryRun,
	}
	slog.Info("sync start", "run", result.RunID, "source", e.cfg.SourcePath, "target", e.cfg.TargetPath, "dryRun", e.cfg.DryRun)

	err := e.run(ctx, result)

	result.EndedAt = time.Now()
	counts := e.counts.snapshot()
	result.Added = counts.Added
	result.Modified = counts.Modified
	result.Removed = counts.Removed
	result.Skipped = counts.Skipped
	result.Failed = counts.Failed

	e.mu.Lock()
	e.lastResult = result
	e.mu.Unlock()

	if err != nil {
		e.setState(StateFailed)
		slog.Error("sync failed", "run", result.RunID, "error", err)
		return result, err
	}

	slog.Info("sync done", "run", result.RunID, "result", result.String())
	return result, nil
}

// Stop requests a graceful stop and returns immediately. No new operations
// are dispatched; in-flight ones finish and a checkpoint is written.
func (e *Engine) Stop() {
	e.stopFlag.Store(true)
	e.mu.Lock()
	if e.state == StateApplying {
		e.state = StateStopping
	}
	e.mu.Unlock()
}

// Status returns the current state and live counts.
func (e *Engine) Status() Status {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	return Status{State: state, Counts: e.counts.snapshot()}
}

// LastResult returns the result of the most recent run, or nil.
func (e *Engine) LastResult() *SyncResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) liveResult() *SyncResult {
	c := e.counts.snapshot()
	return &SyncResult{
		Added:    c.Added,
		Modified: c.Modified,
		Removed:  c.Removed,
		Skipped:  c.Skipped,
		Failed:   c.Failed,
	}
}

func (e *Engine) addFailure(result *SyncResult, pe *PathError) {
	result.Failures = append(result.Failures, pe)
	e.counts.failed.Add(1)
}

// run executes the full state machine. The returned error is a run-level
// fatal; per-path failures land in the result instead.
func (e *Engine) run(ctx context.Context, result *SyncResult) error {
	cfg := e.cfg

	if !utils.DirExists(cfg.SourcePath) {
		return fmt.Errorf("%w: %s", ErrSourceMissing, cfg.SourcePath)
	}
	if err := utils.EnsureDir(cfg.TargetPath); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTargetNotWritable, cfg.TargetPath, err)
	}
	if !utils.IsWritable(cfg.TargetPath) {
		return fmt.Errorf("%w: %s", ErrTargetNotWritable, cfg.TargetPath)
	}

	store := manifest.NewStore(cfg.TargetPath)
	if err := store.Open(); err != nil {
		if !errors.Is(err, manifest.ErrCorrupt) {
			return fmt.Errorf("open manifest store: %w", err)
		}
		// corrupt manifest falls back to a full rescan, never aborts
		slog.Warn("manifest corrupt, rebuilding", "error", err)
		e.addFailure(result, &PathError{Path: manifest.DirName, Kind: ErrKindManifestCorrupt, Err: err})
		if rerr := store.Reset(); rerr != nil {
			return fmt.Errorf("reset corrupt manifest: %w", rerr)
		}
		if rerr := store.Open(); rerr != nil {
			return fmt.Errorf("reopen manifest store: %w", rerr)
		}
	}
	defer store.Close()

	prior, err := store.Load()
	if err != nil {
		slog.Warn("manifest unreadable, falling back to full rescan", "error", err)
		e.addFailure(result, &PathError{Path: manifest.DirName, Kind: ErrKindManifestCorrupt, Err: err})
		prior = nil
	}
	if prior != nil && !prior.Completed {
		slog.Warn("previous sync was interrupted, checkpointed state is advisory only", "run", prior.RunID)
	}

	e.setState(StateScanning)
	e.exclude.LoadIgnoreFile(cfg.SourcePath)

	var srcSnap, dstSnap *Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := NewScanner(cfg.SourcePath, e.exclude, cfg.SymlinkPolicy).Scan(gctx)
		if err != nil {
			return fmt.Errorf("scan source: %w", err)
		}
		srcSnap = snap
		return nil
	})
	// Under SymlinkSkip links are outside the sync universe on both sides,
	// otherwise the target is recorded as-is; links are never followed there.
	targetPolicy := SymlinkCopy
	if cfg.SymlinkPolicy == SymlinkSkip {
		targetPolicy = SymlinkSkip
	}
	g.Go(func() error {
		snap, err := NewScanner(cfg.TargetPath, e.exclude, targetPolicy).Scan(gctx)
		if err != nil {
			return fmt.Errorf("scan target: %w", err)
		}
		dstSnap = snap
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, en := range srcSnap.Entries {
		if en.ScanErr != "" {
			e.addFailure(result, &PathError{Path: en.Path, Kind: ErrKindPartialScan, Err: errors.New(en.ScanErr)})
		}
	}
	for _, en := range dstSnap.Entries {
		if en.ScanErr != "" {
			e.addFailure(result, &PathError{Path: en.Path, Kind: ErrKindIOError, Err: errors.New(en.ScanErr)})
		}
	}
	slog.Debug("scan complete", "source", srcSnap.Len(), "target", dstSnap.Len(), "partialSource", srcSnap.Partial)

	e.setState(StateDiffing)
	cs, err := NewDiffer(cfg, e.hasher).Diff(ctx, srcSnap, dstSnap, prior)
	if err != nil {
		return err
	}
	for _, pe := range cs.Failures {
		e.addFailure(result, pe)
	}
	e.counts.skipped.Add(int64(cs.Skipped))

	added, modified, removed := cs.FileCounts()
	slog.Info("diff complete", "changes", len(cs.Changes), "add", added, "modify", modified, "remove", removed, "unchanged", cs.Unchanged, "skipped", cs.Skipped)

	if cfg.DryRun {
		e.counts.added.Add(int64(added))
		e.counts.modified.Add(int64(modified))
		e.counts.removed.Add(int64(removed))
		e.setState(StateCompleted)
		return nil
	}

	if err := store.Begin(result.RunID); err != nil {
		return fmt.Errorf("begin manifest run: %w", err)
	}

	e.setState(StateApplying)
	applier := NewApplier(cfg, store, e.counts, &e.stopFlag)
	outcome := applier.Apply(ctx, cs)
	result.Failures = append(result.Failures, outcome.failures...)

	if outcome.stopped {
		// applied operations are already checkpointed; the manifest stays
		// uncommitted so the next run rescans before trusting it
		result.Stopped = true
		e.setState(StateStopped)
		slog.Info("sync stopped", "run", result.RunID, "applied", len(outcome.appliedFiles))
		return nil
	}

	var verifyFailures []*PathError
	if cfg.VerifyChecksums && len(outcome.appliedFiles) > 0 {
		e.setState(StateVerifying)
		verifyFailures = NewVerifier(cfg.TargetPath, cfg.VerifySample).Verify(ctx, outcome.appliedFiles)
		for _, pe := range verifyFailures {
			e.addFailure(result, pe)
		}
	}
	result.Verified = cfg.VerifyChecksums && len(verifyFailures) == 0

	if err := store.Commit(e.finalEntries(dstSnap, prior, outcome, verifyFailures)); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}

	e.setState(StateCompleted)
	return nil
}

// finalEntries builds the manifest for the end-of-run target state: the
// scanned target plus everything applied, minus removals and minus any
// path that failed to apply or verify (those are re-compared next run).
func (e *Engine) finalEntries(dstSnap *Snapshot, prior *manifest.Manifest, outcome *applyOutcome, verifyFailures []*PathError) []*manifest.Entry {
	final := make(map[string]*manifest.Entry, dstSnap.Len())
	for p, en := range dstSnap.Entries {
		if en.ScanErr != "" {
			continue
		}
		hash := en.Hash
		if hash == "" {
			hash = priorHash(prior, en)
		}
		final[p] = toManifestEntry(en, hash)
	}
	for _, c := range outcome.appliedDirs {
		final[c.Path] = toManifestEntry(c.Source, "")
	}
	for _, ac := range outcome.appliedFiles {
		final[ac.change.Path] = toManifestEntry(ac.change.Source, ac.hash)
	}
	for _, p := range outcome.removedPaths {
		delete(final, p)
	}
	for _, pe := range outcome.failures {
		delete(final, pe.Path)
	}
	for _, pe := range verifyFailures {
		delete(final, pe.Path)
	}

	entries := make([]*manifest.Entry, 0, len(final))
	for _, en := range final {
		entries = append(entries, en)
	}
	return entries
}

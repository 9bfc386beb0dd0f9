package sync

import "sync/atomic"

// Counts is a point-in-time snapshot of per-run file counters.
type Counts struct {
	Added    int64
	Modified int64
	Removed  int64
	Skipped  int64
	Failed   int64
}

// Status is the pollable engine state returned by Engine.Status.
type Status struct {
	State  State
	Counts Counts
}

// liveCounts is the mutable counter set the applier updates while a run is
// in flight. Directory operations are not counted; counts are file-level.
type liveCounts struct {
	added    atomic.Int64
	modified atomic.Int64
	removed  atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

func (c *liveCounts) reset() {
	c.added.Store(0)
	c.modified.Store(0)
	c.removed.Store(0)
	c.skipped.Store(0)
	c.failed.Store(0)
}

func (c *liveCounts) snapshot() Counts {
	return Counts{
		Added:    c.added.Load(),
		Modified: c.modified.Load(),
		Removed:  c.removed.Load(),
		Skipped:  c.skipped.Load(),
		Failed:   c.failed.Load(),
	}
}

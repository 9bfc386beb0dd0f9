package sync

import (
	"fmt"
	"time"
)

// SyncResult aggregates one run. A run that reached the end with per-path
// failures still counts as completed; Failures is never silently dropped.
type SyncResult struct {
	RunID     string
	Added     int64
	Modified  int64
	Removed   int64
	Skipped   int64
	Failed    int64
	Failures  []*PathError
	StartedAt time.Time
	EndedAt   time.Time
	Verified  bool
	Stopped   bool
	DryRun    bool
}

// Ok reports whether the run finished without per-path failures.
func (r *SyncResult) Ok() bool {
	return r.Failed == 0 && !r.Stopped
}

func (r *SyncResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

func (r *SyncResult) String() string {
	return fmt.Sprintf("added=%d modified=%d removed=%d skipped=%d failed=%d verified=%t duration=%s",
		r.Added, r.Modified, r.Removed, r.Skipped, r.Failed, r.Verified, r.Duration().Round(time.Millisecond))
}

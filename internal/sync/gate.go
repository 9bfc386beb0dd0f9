package sync

import (
	"context"
	"path"
)

// dirGate blocks file writes inside a directory until its creation (and
// that of every ancestor) has been observed. Only directories the run is
// creating have gates; preexisting directories are always ready.
type dirGate struct {
	ready map[string]chan struct{}
}

func newDirGate(dirAdds []*Change) *dirGate {
	ready := make(map[string]chan struct{}, len(dirAdds))
	for _, c := range dirAdds {
		ready[c.Path] = make(chan struct{})
	}
	return &dirGate{ready: ready}
}

// markReady signals that the directory exists. Called exactly once per
// gated directory, also on creation failure so that dependents fail fast
// with their own error instead of blocking.
func (g *dirGate) markReady(dir string) {
	if ch, ok := g.ready[dir]; ok {
		close(ch)
	}
}

// wait blocks until every gated ancestor of dir is ready.
func (g *dirGate) wait(ctx context.Context, dir string) error {
	for p := dir; p != "" && p != "."; p = path.Dir(p) {
		ch, ok := g.ready[p]
		if !ok {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

package sync

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
)

// Verifier re-hashes applied files and compares them against the source
// fingerprint, catching corruption introduced during copy. A mismatch is
// surfaced for caller remediation and keeps the path out of the committed
// manifest; the copy itself is not undone.
type Verifier struct {
	dstRoot string
	sample  float64
}

func NewVerifier(dstRoot string, sample float64) *Verifier {
	if sample <= 0 || sample > 1 {
		sample = 1.0
	}
	return &Verifier{dstRoot: dstRoot, sample: sample}
}

// Verify re-reads each applied Add/Modify target path. With sample < 1.0
// only a fraction of files is checked.
func (v *Verifier) Verify(ctx context.Context, applied []*appliedChange) []*PathError {
	var failures []*PathError

	checked := 0
	for _, ac := range applied {
		if ctx.Err() != nil {
			break
		}
		if v.sample < 1.0 && rand.Float64() >= v.sample {
			continue
		}

		// the expected fingerprint is the source entry's hash when the
		// diff computed one, otherwise the hash streamed during copy
		expected := ac.change.Source.Hash
		if expected == "" {
			expected = ac.hash
		}
		if expected == "" {
			// symlinks and other unhashed objects
			continue
		}
		checked++

		actual, err := FileHash(absJoin(v.dstRoot, ac.change.Path))
		if err != nil {
			failures = append(failures, newPathError(ac.change.Path, err))
			continue
		}
		if actual != expected {
			failures = append(failures, &PathError{
				Path: ac.change.Path,
				Kind: ErrKindChecksumMismatch,
				Err:  fmt.Errorf("checksum mismatch: expected %s got %s", expected, actual),
			})
		}
	}

	slog.Debug("verify", "applied", len(applied), "checked", checked, "failures", len(failures))
	return failures
}

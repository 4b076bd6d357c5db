package round

import "math/bits"

// CumulativeReaches reports whether accumulated/total >= raw/2^64, the
// threshold test that commits a winner. The comparison is done by integer
// cross-multiplication (accumulated * 2^64 against raw * total) so no
// precision is lost to division; raw*total needs the full 128-bit product.
func CumulativeReaches(accumulated, total int64, raw uint64) bool {
	if accumulated <= 0 || total <= 0 {
		return false
	}
	hi, lo := bits.Mul64(raw, uint64(total))
	// accumulated * 2^64 is (hi=accumulated, lo=0) in the same 128-bit space.
	if uint64(accumulated) != hi {
		return uint64(accumulated) > hi
	}
	return lo == 0
}

// ScanStep is the result of advancing the winner scan over a bounded slice
// of the participant list.
type ScanStep struct {
	Cursor      int
	Accumulator int64
	Winner      string
}

// AdvanceScan resumes the cumulative-threshold scan from the round's
// persisted cursor and accumulator, visiting participants up to limit
// (exclusive, clamped to the participant count). It returns the new
// progress markers and, if the threshold was crossed, the winner. The
// outcome for any partition of calls is identical to a single full pass:
// the only state consulted is the committed participant order, the draw,
// and the two progress markers.
func (r *Round) AdvanceScan(limit int) ScanStep {
	step := ScanStep{Cursor: r.ScanCursor, Accumulator: r.ScanAccumulator}
	if r.Draw == nil {
		return step
	}
	if limit > len(r.Participants) {
		limit = len(r.Participants)
	}
	for step.Cursor < limit {
		participant := r.Participants[step.Cursor]
		step.Accumulator += r.Contributions[participant]
		step.Cursor++
		if CumulativeReaches(step.Accumulator, r.TotalDeposited, r.Draw.RawValue) {
			step.Winner = participant
			return step
		}
	}
	return step
}

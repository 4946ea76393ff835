package journalkeeper

import "errors"

// ErrIndexUnderflow is the sentinel a Journal implementation's TermAt must
// return (directly, or wrapped such that errors.Is matches it) when asked
// for the term of an index that has been compacted away. The follower
// treats this specially at the probe point immediately before MinIndex
// (see termProbe): it is the only underflow that is not fatal to the
// request.
var ErrIndexUnderflow = errors.New("journalkeeper: index underflow")

// Journal is the append-only, index-addressed log the follower validates
// and mutates. Indices are monotonically assigned from zero; a prefix up
// to MinIndex may have been compacted into a snapshot. The follower is the
// only writer to a Journal for the lifetime of the follower that owns it.
type Journal interface {
	// MinIndex returns the lowest index still held live in the journal.
	// Entries below this index, if any ever existed, have been compacted.
	MinIndex() uint64
	// MaxIndex returns one past the last live index.
	MaxIndex() uint64
	// CommitIndex returns one past the highest index known to be
	// committed: indices below it are committed, the entry at CommitIndex
	// itself is not yet.
	CommitIndex() uint64
	// TermAt returns the term of the entry at index. It returns
	// ErrIndexUnderflow (wrapped or bare) when index < MinIndex.
	TermAt(index uint64) (uint64, error)
	// CompareOrAppend walks entries against the existing journal positions
	// starting at startIndex. At the first position where the existing
	// entry's term differs from the incoming one, or no entry exists yet,
	// it truncates the journal to that index and appends the remaining
	// suffix. It is a no-op if entries already match what is stored.
	// Truncating below CommitIndex is forbidden and must return an error.
	CompareOrAppend(entries []Entry, startIndex uint64) error
	// Commit advances the journal's commit index to upTo. upTo must never
	// exceed MaxIndex; callers (the follower) are responsible for clamping.
	Commit(upTo uint64) error
}

// SnapshotEntry exposes the one field the follower ever reads off a
// snapshot: the term of the last entry the snapshot absorbed.
type SnapshotEntry interface {
	LastIncludedTerm() uint64
}

// SnapshotMap is a read-only, ordered map from snapshot-boundary index to
// snapshot handle. The follower consults only the first (lowest-index)
// entry, and only when probing the term immediately before the live
// journal's MinIndex.
type SnapshotMap interface {
	// FirstIndex returns the lowest boundary index present, if any.
	FirstIndex() (index uint64, ok bool)
	// FirstEntry returns the snapshot handle at the lowest boundary index.
	FirstEntry() (entry SnapshotEntry, ok bool)
}

// termProbe implements the follower's term_probe(p) from the validate
// step: TermAt(p), except that when the journal reports an underflow and
// p+1 is exactly the first snapshot's boundary index, the snapshot's
// last-included term stands in for it. Any other underflow is fatal to
// the request and comes back as an *IndexUnderflowError.
func termProbe(j Journal, snapshots SnapshotMap, p uint64) (uint64, error) {
	term, err := j.TermAt(p)
	if err == nil {
		return term, nil
	}
	if !errors.Is(err, ErrIndexUnderflow) {
		return 0, err
	}
	if boundary, ok := snapshots.FirstIndex(); ok && p+1 == boundary {
		if entry, ok := snapshots.FirstEntry(); ok {
			return entry.LastIncludedTerm(), nil
		}
	}
	return 0, &IndexUnderflowError{Index: p, Err: err}
}

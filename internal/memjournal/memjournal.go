// Package memjournal is a slice-backed in-memory Journal and SnapshotMap.
// It exists for tests and for cmd/followerdemo; it is not a durable
// store.
package memjournal

import (
	"fmt"
	"sort"
	"sync"

	jk "github.com/joyqueue/journalkeeper"
)

type record struct {
	term uint64
	kind jk.EntryKind
	data []byte
}

// Journal is a slice-backed jk.Journal. entries[i] holds the record at
// index minIndex+i; everything below minIndex is considered compacted.
type Journal struct {
	mu          sync.Mutex
	minIndex    uint64
	entries     []record
	commitIndex uint64
}

// New returns an empty journal starting at index 0.
func New() *Journal {
	return &Journal{}
}

func (j *Journal) MinIndex() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.minIndex
}

func (j *Journal) MaxIndex() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.minIndex + uint64(len(j.entries))
}

func (j *Journal) CommitIndex() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.commitIndex
}

func (j *Journal) TermAt(index uint64) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index < j.minIndex {
		return 0, jk.ErrIndexUnderflow
	}
	offset := index - j.minIndex
	if offset >= uint64(len(j.entries)) {
		return 0, fmt.Errorf("memjournal: index %d is beyond the journal (max %d)", index, j.minIndex+uint64(len(j.entries)))
	}
	return j.entries[offset].term, nil
}

// CompareOrAppend implements the walk-then-truncate-then-append
// contract: entries are compared term-by-term against whatever is
// already stored starting at startIndex, the first mismatch (or missing
// entry) truncates everything from that point on, and the incoming
// suffix is appended from there.
func (j *Journal) CompareOrAppend(entries []jk.Entry, startIndex uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if startIndex < j.minIndex {
		return fmt.Errorf("memjournal: start index %d is below min index %d", startIndex, j.minIndex)
	}

	idx := startIndex
	n := 0
	for ; n < len(entries); n++ {
		offset := idx - j.minIndex
		if offset >= uint64(len(j.entries)) || j.entries[offset].term != entries[n].Term {
			break
		}
		idx++
	}
	if n == len(entries) {
		return nil // already matches; no-op
	}

	if idx < j.commitIndex {
		return fmt.Errorf("memjournal: refusing to truncate committed index %d (commit=%d)", idx, j.commitIndex)
	}

	offset := idx - j.minIndex
	j.entries = j.entries[:offset]
	for ; n < len(entries); n++ {
		e := entries[n]
		j.entries = append(j.entries, record{
			term: e.Term,
			kind: e.Kind,
			data: append([]byte(nil), e.Data...),
		})
	}
	return nil
}

func (j *Journal) Commit(upTo uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if upTo > j.minIndex+uint64(len(j.entries)) {
		return fmt.Errorf("memjournal: commit index %d exceeds max index %d", upTo, j.minIndex+uint64(len(j.entries)))
	}
	if upTo > j.commitIndex {
		j.commitIndex = upTo
	}
	return nil
}

// CompactBefore discards entries below index, simulating a snapshot
// having absorbed them. It does not itself register anything in a
// SnapshotMap; pair it with SnapshotMap.Put for the boundary-probe tests.
func (j *Journal) CompactBefore(index uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index <= j.minIndex {
		return
	}
	cut := index - j.minIndex
	if cut > uint64(len(j.entries)) {
		cut = uint64(len(j.entries))
	}
	j.entries = j.entries[cut:]
	j.minIndex = index
}

// EntryAt exposes a stored entry for assertions in tests.
func (j *Journal) EntryAt(index uint64) (jk.Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index < j.minIndex {
		return jk.Entry{}, false
	}
	offset := index - j.minIndex
	if offset >= uint64(len(j.entries)) {
		return jk.Entry{}, false
	}
	r := j.entries[offset]
	return jk.Entry{Term: r.term, Kind: r.kind, Data: append([]byte(nil), r.data...)}, true
}

// snapshot is a jk.SnapshotEntry holding only the one field the follower
// ever reads off it.
type snapshot struct {
	lastIncludedTerm uint64
}

func (s *snapshot) LastIncludedTerm() uint64 { return s.lastIncludedTerm }

// SnapshotMap is an in-memory jk.SnapshotMap.
type SnapshotMap struct {
	mu      sync.Mutex
	entries map[uint64]*snapshot
	order   []uint64
}

func NewSnapshotMap() *SnapshotMap {
	return &SnapshotMap{entries: map[uint64]*snapshot{}}
}

// Put registers a snapshot boundary: the snapshot covers every index
// below boundaryIndex, and its last absorbed entry had lastIncludedTerm.
func (m *SnapshotMap) Put(boundaryIndex, lastIncludedTerm uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[boundaryIndex]; !ok {
		m.order = append(m.order, boundaryIndex)
		sort.Slice(m.order, func(i, j int) bool { return m.order[i] < m.order[j] })
	}
	m.entries[boundaryIndex] = &snapshot{lastIncludedTerm: lastIncludedTerm}
}

func (m *SnapshotMap) FirstIndex() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return 0, false
	}
	return m.order[0], true
}

func (m *SnapshotMap) FirstEntry() (jk.SnapshotEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return nil, false
	}
	return m.entries[m.order[0]], true
}

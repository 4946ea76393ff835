package journalkeeper

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ugorji/go/codec"
)

// ConfigSnapshot is an opaque, encoded copy of a ConfigManager's state,
// produced by Snapshot and consumed by Restore. The follower never
// inspects its contents; it only holds onto one at a time to support
// rollback of an uncommitted config change.
type ConfigSnapshot []byte

// ConfigManager is the external collaborator that owns cluster membership
// state. The follower applies config entries to it on replication (not on
// commit) and rolls it back through a captured ConfigSnapshot if the
// uncommitted entry that produced it is later truncated away.
type ConfigManager interface {
	// IsConfigEntry reports whether entry carries a configuration change.
	IsConfigEntry(entry Entry) bool
	// Apply decodes entry and installs it as the current configuration.
	Apply(entry Entry) error
	// Snapshot captures the current configuration for later Restore.
	Snapshot() (ConfigSnapshot, error)
	// Restore installs a previously captured snapshot as current.
	Restore(snapshot ConfigSnapshot) error
}

// pendingConfigChange remembers the one uncommitted config entry the
// follower has applied. At most one uncommitted config change is pending
// at any time; this is enforced leader-side and is a prerequisite of the
// rollback hook, not something the follower itself verifies.
type pendingConfigChange struct {
	index    uint64
	snapshot ConfigSnapshot
}

// configReconciler performs no I/O; it only mutates the ConfigManager's
// in-memory state and tracks the one outstanding rollback point. The
// Journal interface has no way to read an entry's content back out
// (only min/max/commit/term_at/compare_or_append/commit), so the
// reconciler cannot re-scan the journal for config entries; it tracks
// the pending change itself at apply time instead.
type configReconciler struct {
	manager ConfigManager

	mu      sync.Mutex
	pending *pendingConfigChange
}

func newConfigReconciler(manager ConfigManager) *configReconciler {
	return &configReconciler{manager: manager}
}

// maybeRollbackConfig is the pre-truncation hook (step B.2). It rolls the
// live config back to its pre-change snapshot if the pending change falls
// within the range about to be truncated, i.e. at or after startIndex and
// still uncommitted.
func (r *configReconciler) maybeRollbackConfig(startIndex uint64, j Journal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return nil
	}
	lower := startIndex
	if commit := j.CommitIndex(); commit > lower {
		lower = commit
	}
	if r.pending.index < lower || r.pending.index >= j.MaxIndex() {
		return nil
	}
	if err := r.manager.Restore(r.pending.snapshot); err != nil {
		return fmt.Errorf("restore snapshot for index %d: %w", r.pending.index, err)
	}
	r.pending = nil
	return nil
}

// maybeUpdateNonLeaderConfig is the post-append hook (step B.4). For each
// config entry in the freshly appended suffix, in order, it snapshots the
// current config, applies the entry, and remembers the snapshot as the
// rollback point for that entry's index.
func (r *configReconciler) maybeUpdateNonLeaderConfig(entries []Entry, startIndex uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range entries {
		if !r.manager.IsConfigEntry(entry) {
			continue
		}
		snapshot, err := r.manager.Snapshot()
		if err != nil {
			return fmt.Errorf("snapshot before applying index %d: %w", startIndex+uint64(i), err)
		}
		if err := r.manager.Apply(entry); err != nil {
			return fmt.Errorf("apply config entry at index %d: %w", startIndex+uint64(i), err)
		}
		r.pending = &pendingConfigChange{index: startIndex + uint64(i), snapshot: snapshot}
	}
	return nil
}

// notifyCommitted drops the pending rollback point once its index has
// been committed: a committed config change can no longer be rolled
// back, and only uncommitted changes are bounded to one at a time.
// commitIndex is exclusive (indices below it are committed), so the
// entry at index == commitIndex is still uncommitted and must not be
// dropped here.
func (r *configReconciler) notifyCommitted(commitIndex uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil && r.pending.index < commitIndex {
		r.pending = nil
	}
}

// ConfigChange is the payload format EntryConfig entries carry: the
// complete desired peer set, replacing whatever came before it.
type ConfigChange struct {
	Peers map[string]string
}

var msgpackHandle codec.MsgpackHandle

func encodeConfigChange(c ConfigChange) (ConfigSnapshot, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, &msgpackHandle).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeConfigChange(data []byte) (ConfigChange, error) {
	var c ConfigChange
	if err := codec.NewDecoderBytes(data, &msgpackHandle).Decode(&c); err != nil {
		return ConfigChange{}, err
	}
	return c, nil
}

// MapConfigManager is the default ConfigManager: cluster membership is a
// flat map of server id to endpoint, encoded with msgpack so that
// Snapshot/Restore is a cheap deep copy rather than an alias of live
// state.
type MapConfigManager struct {
	mu    sync.RWMutex
	peers map[string]string
}

// NewMapConfigManager constructs a MapConfigManager seeded with an
// initial peer set. A nil map starts empty.
func NewMapConfigManager(initial map[string]string) *MapConfigManager {
	peers := make(map[string]string, len(initial))
	for id, endpoint := range initial {
		peers[id] = endpoint
	}
	return &MapConfigManager{peers: peers}
}

func (m *MapConfigManager) IsConfigEntry(entry Entry) bool {
	return entry.Kind == EntryConfig
}

func (m *MapConfigManager) Apply(entry Entry) error {
	change, err := decodeConfigChange(entry.Data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = change.Peers
	return nil
}

func (m *MapConfigManager) Snapshot() (ConfigSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return encodeConfigChange(ConfigChange{Peers: m.peers})
}

func (m *MapConfigManager) Restore(snapshot ConfigSnapshot) error {
	change, err := decodeConfigChange(snapshot)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = change.Peers
	return nil
}

// Peers returns a copy of the current membership map, for queries from
// the surrounding server.
func (m *MapConfigManager) Peers() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.peers))
	for id, endpoint := range m.peers {
		out[id] = endpoint
	}
	return out
}

// EncodeConfigEntry builds an Entry carrying a ConfigChange for the given
// term, suitable for appending to a Journal or handing to CompareOrAppend.
func EncodeConfigEntry(term uint64, change ConfigChange) (Entry, error) {
	data, err := encodeConfigChange(change)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Term: term, Kind: EntryConfig, Data: data}, nil
}

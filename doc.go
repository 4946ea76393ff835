// Package journalkeeper implements the follower replication core of a
// Raft-style replicated log server: the passive replica that receives
// ordered append-entries batches from a leader, validates them against a
// local journal, reconciles conflicts, appends new entries, advances the
// commit point, and applies configuration changes found in the stream.
//
// Election, the journal's on-disk encoding, the state-machine applier and
// snapshot transfer are external collaborators consumed through the
// Journal, SnapshotMap and ThreadRegistry interfaces; this package only
// implements the receiving side of AppendEntries.
package journalkeeper

// Command followerdemo wires a Follower against an in-memory journal and
// drives a handful of append-entries requests through it.
package main

import (
	"fmt"
	"log"

	jk "github.com/joyqueue/journalkeeper"
	"github.com/joyqueue/journalkeeper/internal/memjournal"
	"github.com/joyqueue/journalkeeper/internal/threadpool"
)

func main() {
	journal := memjournal.New()
	snapshots := memjournal.NewSnapshotMap()
	registry := threadpool.New()
	configs := jk.NewMapConfigManager(map[string]string{"n1": "127.0.0.1:9001"})

	// Seed a genesis entry before Start: an entirely empty journal has
	// min_index == max_index == 0 and no representable prev = min_index-1
	// probe point (no snapshot boundary either), so the very first
	// append-entries request could never validate a non-empty prefix.
	// Real deployments arrive at this same state through their initial
	// snapshot transfer; the demo stands in for that with one entry.
	if err := journal.CompareOrAppend([]jk.Entry{
		{Term: 1, Kind: jk.EntryCommand, Data: []byte("genesis")},
	}, 0); err != nil {
		log.Fatalf("seed genesis entry: %v", err)
	}

	follower := jk.NewFollower(jk.NewFollowerParams{
		ServerURI:     "n2",
		CurrentTerm:   1,
		Journal:       journal,
		Snapshots:     snapshots,
		ConfigManager: configs,
		Registry:      registry,
	})

	if err := follower.Start(); err != nil {
		log.Fatalf("start follower: %v", err)
	}
	defer func() {
		if err := follower.Stop(); err != nil {
			log.Printf("stop follower: %v", err)
		}
	}()

	// Bring the follower's journal up to date with two entries from term 1,
	// following directly on from the genesis entry at index 0.
	resp, err := follower.Submit(&jk.AppendEntriesRequest{
		Term:         1,
		Leader:       "n1",
		PrevLogIndex: 0,
		PrevLogTerm:  1,
		Entries: []jk.Entry{
			{Term: 1, Kind: jk.EntryCommand, Data: []byte("set a=1")},
			{Term: 1, Kind: jk.EntryCommand, Data: []byte("set b=2")},
		},
		LeaderCommit:   0,
		LeaderMaxIndex: 2,
	}).Result()
	if err != nil {
		log.Fatalf("append: %v", err)
	}
	fmt.Printf("append: success=%v journal_index=%d\n", resp.Success, resp.JournalIndex)

	// Heartbeat that also advances the commit point.
	resp, err = follower.Submit(&jk.AppendEntriesRequest{
		Term:           1,
		Leader:         "n1",
		PrevLogIndex:   2,
		PrevLogTerm:    1,
		LeaderCommit:   2,
		LeaderMaxIndex: 2,
	}).Result()
	if err != nil {
		log.Fatalf("heartbeat: %v", err)
	}
	fmt.Printf("heartbeat: success=%v commit_index=%d\n", resp.Success, journal.CommitIndex())
	fmt.Printf("replication queue size: %d\n", follower.GetReplicationQueueSize())
	fmt.Printf("leader max index: %d\n", follower.GetLeaderMaxIndex())
}

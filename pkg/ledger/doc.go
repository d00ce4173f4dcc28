// Package ledger persists the audit trail of an active-learning run so it
// can be inspected and resumed.
//
// # Overview
//
// A run produces one UpdateRound per loop iteration. Each round is committed
// together with a State: the pool snapshot and model checkpoint taken after
// the round closed. Rounds are immutable once committed; the State is
// overwritten by every commit, so the ledger always holds the last
// consistent point to resume from.
//
// # Backends
//
// Two backends implement the same operations:
//
//   - BoltStore keeps everything in a local bbolt file, one top-level bucket
//     per run. It is the default and needs no running services.
//   - Client stores the same data in Redis, namespaced by run name, so several
//     runs can share one server and be inspected remotely.
//
// # Usage Example
//
//	store, err := ledger.OpenBolt("sift.db", "baseline")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	round := &ledger.UpdateRound{Index: 1, QueriedSampleIDs: queried}
//	state := &ledger.State{Round: 1, Snapshot: snap, Checkpoint: weights}
//	if err := store.CommitRound(ctx, run, round, state); err != nil {
//		return err
//	}
package ledger

// Package llrb implement a single writer, multiple reader MVCC index
// using a left-leaning-red-black tree. All write operations are copy
// on write, publishing a fresh immutable root per mutation, while
// readers iterate over refcounted snapshots without locks. Every key
// carries a chain of versioned values ordered by sequence number, so
// a snapshot pinned at seqno S answers reads as of S even while newer
// mutations land.
//
// Durability is delegated to an api.Journal collaborator: a mutation
// is appended to the journal before its root is published, and a
// fresh index can be rebuilt by replaying the journal. Sorted-run
// producers consume the seqno-filtered full-table iterator returned
// by Scan.
package llrb

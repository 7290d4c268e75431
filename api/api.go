// Package api define types and interfaces common to the storage
// core and its external collaborators.
package api

// Getter function, given a key, returns the indexed entry. If value
// argument points to a valid buffer it will be re-used to copy the
// entry's value. Also return entry's seqno and whether the entry is
// marked deleted. If ok is false, key is not found.
type Getter func(key, value []byte) (val []byte, seqno uint64, del, ok bool)

// Iterator function to iterate on each indexed entry in sort order.
// Entries are filtered to the seqno of the snapshot backing the
// iterator. Returned key and value are valid only until the next call.
// Iteration ends with io.EOF. If iteration is abandoned before the
// end, call iter(true) to release the underlying snapshot; abandoning
// an iterator has no side effects on the index.
type Iterator func(fin bool) (key, val []byte, seqno uint64, del bool, e error)

// ReplayFn is called by Journal.Replay for every committed mutation,
// in strict seqno order. Returning an error stops the replay and the
// error is returned by Replay.
type ReplayFn func(seqno uint64, key, value []byte, deleted bool) error

// Journal is the write-ahead collaborator. The writer appends every
// mutation to the journal before publishing it; replay rebuilds an
// index from a previous incarnation's journal. Implementations need
// not be safe for concurrent Append, the writer is serialized.
type Journal interface {
	// Append a mutation for durability. Seqnos must arrive in strictly
	// increasing order. An error means the mutation was not made
	// durable and shall not be published.
	Append(seqno uint64, key, value []byte, deleted bool) error

	// Replay committed mutations, oldest first, through fn.
	Replay(fn ReplayFn) error

	// Close the journal. Append and Replay shall not be called after
	// Close.
	Close() error
}

package llrb

import "fmt"
import "sync/atomic"

import "github.com/bnclabs/mvccstore/api"
import "github.com/bnclabs/mvccstore/lib"

// All mutations are serialized through mvcc.rw. Each mutation follows
// the same commit discipline: assign the next seqno, build the
// unpublished copy-on-write tree, append to the journal, and only then
// publish the new root. A journal failure discards the unpublished
// tree and restores the seqno, nothing else ever observed it.

// Set a key, value pair in the index, if key is already present update
// the key with new value by prepending a fresh version to its chain.
// If a non-nil oldvalue buffer is supplied it is used to copy the
// superseded value. Return the superseded value and the seqno at which
// this mutation was committed.
func (mvcc *MVCC) Set(key, value, oldvalue []byte) ([]byte, uint64, error) {
	mvcc.validate(key, value)

	mvcc.rw.Lock()
	defer mvcc.rw.Unlock()

	if mvcc.dead {
		return oldvalue, 0, api.ErrorClosed
	}
	mvcc.mu_nodes, mvcc.mu_clones = 0, 0

	seqno := atomic.AddUint64(&mvcc.seqno, 1)
	snap := mvcc.currsnapshot()
	reclaim := make([]*Llrbnode, 0, 64)

	root, _, oldnd, reclaim :=
		mvcc.upsert(snap.getroot(), 1, key, value, seqno, false, reclaim)
	root.setblack()
	oldvalue = capturevalue(oldnd, oldvalue)

	if err := mvcc.journalappend(seqno, key, value, false); err != nil {
		atomic.StoreUint64(&mvcc.seqno, seqno-1)
		mvcc.abortmutation()
		errorf("%v journal append: %v\n", mvcc.logprefix, err)
		return oldvalue, 0, fmt.Errorf("%w: %v", api.ErrorDurability, err)
	}

	cleardirtytree(root)
	mvcc.upsertcounts(key, value, oldnd)
	mvcc.publish(root, seqno, atomic.LoadInt64(&mvcc.n_count), reclaim)
	mvcc.checkcapacity()
	return oldvalue, seqno, nil
}

// Delete key from the index. The delete policy is fixed per instance
// by the "lsm" setting: tombstone mode prepends a deletion marker to
// the key's chain, physical mode removes the node with red links
// pushed down the delete path. Missing or already tombstoned keys are
// a no-op in either mode, returning ErrorKeyMissing without consuming
// a seqno or touching the journal.
func (mvcc *MVCC) Delete(key, oldvalue []byte) ([]byte, uint64, error) {
	mvcc.rw.Lock()
	defer mvcc.rw.Unlock()

	if mvcc.dead {
		return oldvalue, 0, api.ErrorClosed
	}

	snap := mvcc.currsnapshot()
	oldnd, found := snap.getkey(snap.getroot(), key)
	if found == false || oldnd.isdeleted() {
		if oldvalue != nil {
			oldvalue = lib.Fixbuffer(oldvalue, 0)
		}
		return oldvalue, 0, api.ErrorKeyMissing
	}
	mvcc.mu_nodes, mvcc.mu_clones = 0, 0

	seqno := atomic.AddUint64(&mvcc.seqno, 1)
	reclaim := make([]*Llrbnode, 0, 64)

	var root, deleted *Llrbnode
	if mvcc.lsm {
		root, _, _, reclaim =
			mvcc.upsert(snap.getroot(), 1, key, nil, seqno, true, reclaim)
	} else {
		root, deleted, reclaim = mvcc.delete(snap.getroot(), key, reclaim)
		if deleted == nil {
			panic("Delete(): lost a present key, call the programmer")
		}
	}
	if root != nil {
		root.setblack()
	}
	oldvalue = capturevalue(oldnd, oldvalue)

	if err := mvcc.journalappend(seqno, key, nil, true); err != nil {
		atomic.StoreUint64(&mvcc.seqno, seqno-1)
		mvcc.abortmutation()
		errorf("%v journal append: %v\n", mvcc.logprefix, err)
		return oldvalue, 0, fmt.Errorf("%w: %v", api.ErrorDurability, err)
	}

	cleardirtytree(root)
	mvcc.delcounts(key, oldnd, deleted)
	mvcc.publish(root, seqno, atomic.LoadInt64(&mvcc.n_count), reclaim)
	return oldvalue, seqno, nil
}

// setdeleted install key as a tombstone whether or not the key is
// present, load path only. A scan feed carries tombstoned entries for
// keys the destination instance never saw, Delete cannot reinstate
// those.
func (mvcc *MVCC) setdeleted(key []byte) (uint64, error) {
	mvcc.rw.Lock()
	defer mvcc.rw.Unlock()

	if mvcc.dead {
		return 0, api.ErrorClosed
	}
	mvcc.mu_nodes, mvcc.mu_clones = 0, 0

	seqno := atomic.AddUint64(&mvcc.seqno, 1)
	snap := mvcc.currsnapshot()
	reclaim := make([]*Llrbnode, 0, 64)

	root, _, oldnd, reclaim :=
		mvcc.upsert(snap.getroot(), 1, key, nil, seqno, true, reclaim)
	root.setblack()

	if err := mvcc.journalappend(seqno, key, nil, true); err != nil {
		atomic.StoreUint64(&mvcc.seqno, seqno-1)
		mvcc.abortmutation()
		return 0, fmt.Errorf("%w: %v", api.ErrorDurability, err)
	}

	cleardirtytree(root)
	if oldnd == nil { // an insert immediately deleted, live count unchanged
		mvcc.n_inserts++
		mvcc.n_deletes++
		mvcc.keymemory += int64(len(key))
	} else if oldnd.isdeleted() == false {
		mvcc.n_deletes++
		atomic.AddInt64(&mvcc.n_count, -1)
	}
	mvcc.publish(root, seqno, atomic.LoadInt64(&mvcc.n_count), reclaim)
	return seqno, nil
}

// Replay rebuild the index by reapplying jrnl's committed mutations in
// seqno order, preserving each mutation's original seqno. Meant for
// startup: call on a fresh instance, before attaching a live journal
// with Setjournal, else every replayed mutation would be appended
// again.
func (mvcc *MVCC) Replay(jrnl api.Journal) error {
	return jrnl.Replay(func(seqno uint64, key, value []byte, deleted bool) error {
		if curr := mvcc.Getseqno(); seqno <= curr {
			fmsg := "Replay(): seqno %v after %v, call the programmer"
			panic(fmt.Errorf(fmsg, seqno, curr))
		}
		mvcc.Setseqno(seqno - 1)
		var err error
		if deleted {
			_, _, err = mvcc.Delete(key, nil)
		} else {
			_, _, err = mvcc.Set(key, value, nil)
		}
		return err
	})
}

// Compactversions truncate every key's version chain to the newest
// entry with seqno <= lowwater plus everything newer, releasing the
// memory held by history no pinned view can reach. Caller must
// guarantee lowwater <= the seqno of the oldest pinned view, chains
// are shared with older snapshots and the truncation is in place.
// Return the number of versions dropped.
func (mvcc *MVCC) Compactversions(lowwater uint64) int64 {
	mvcc.rw.Lock()
	defer mvcc.rw.Unlock()

	if mvcc.dead {
		return 0
	}
	snap := mvcc.currsnapshot()
	dropped, bytes := compacttree(snap.getroot(), lowwater)
	mvcc.n_compacted += dropped
	mvcc.valmemory -= bytes
	if dropped > 0 {
		fmsg := "%v compacted %v versions below seqno %v\n"
		infof(fmsg, mvcc.logprefix, dropped, lowwater)
	}
	return dropped
}

func compacttree(nd *Llrbnode, lowwater uint64) (dropped, bytes int64) {
	if nd == nil {
		return 0, 0
	}
	n, b := nd.compactversions(lowwater)
	dropped, bytes = dropped+n, bytes+b
	n, b = compacttree(nd.left, lowwater)
	dropped, bytes = dropped+n, bytes+b
	n, b = compacttree(nd.right, lowwater)
	return dropped + n, bytes + b
}

func (mvcc *MVCC) journalappend(
	seqno uint64, key, value []byte, deleted bool) error {

	if mvcc.journal == nil {
		return nil
	}
	return mvcc.journal.Append(seqno, key, value, deleted)
}

// capturevalue copy the pre-mutation value of oldnd into the caller
// supplied buffer.
func capturevalue(oldnd *Llrbnode, oldvalue []byte) []byte {
	if oldvalue == nil {
		return nil
	}
	if oldnd == nil || oldnd.isdeleted() {
		return lib.Fixbuffer(oldvalue, 0)
	}
	val := oldnd.Value()
	oldvalue = lib.Fixbuffer(oldvalue, int64(len(val)))
	copy(oldvalue, val)
	return oldvalue
}

func (mvcc *MVCC) validate(key, value []byte) {
	if int64(len(key)) > mvcc.maxkeysize || len(key) == 0 {
		fmsg := "validate(): invalid key size %v, call the programmer"
		panic(fmt.Errorf(fmsg, len(key)))
	}
	if int64(len(value)) > mvcc.maxvalsize {
		fmsg := "validate(): invalid value size %v, call the programmer"
		panic(fmt.Errorf(fmsg, len(value)))
	}
}

func (mvcc *MVCC) checkcapacity() {
	footprint := mvcc.keymemory + mvcc.valmemory
	if footprint > mvcc.memcapacity && mvcc.memwarned == false {
		fmsg := "%v footprint %v exceeds capacity %v\n"
		warnf(fmsg, mvcc.logprefix, footprint, mvcc.memcapacity)
		mvcc.memwarned = true
	} else if footprint <= mvcc.memcapacity {
		mvcc.memwarned = false
	}
}

func (mvcc *MVCC) upsertcounts(key, value []byte, oldnd *Llrbnode) {
	mvcc.valmemory += int64(len(value))
	if oldnd == nil {
		atomic.AddInt64(&mvcc.n_count, 1)
		mvcc.n_inserts++
		mvcc.keymemory += int64(len(key))

	} else if oldnd.isdeleted() { // re-insert over a tombstone
		atomic.AddInt64(&mvcc.n_count, 1)
		mvcc.n_inserts++

	} else {
		mvcc.n_updates++
	}
}

func (mvcc *MVCC) delcounts(key []byte, oldnd, deleted *Llrbnode) {
	atomic.AddInt64(&mvcc.n_count, -1)
	mvcc.n_deletes++
	if deleted != nil { // physical removal drops key and chain
		mvcc.keymemory -= int64(len(key))
		mvcc.valmemory -= deleted.chainmemory()
	}
}

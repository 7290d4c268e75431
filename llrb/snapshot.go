package llrb

import "fmt"
import "runtime"
import "sync/atomic"
import "unsafe"

import "github.com/bnclabs/mvccstore/lib"

// mvccsnapshot is one published version of the tree: an immutable
// root, the seqno it was committed at, and a refcount of pinned
// readers. Snapshots form a singly linked chain, next pointing to the
// immediately older snapshot. Nodes superseded while this snapshot
// was current are parked in reclaims and unlinked once this snapshot
// and every older one has been released.
type mvccsnapshot struct {
	// 64-bit aligned
	refcount int64
	id       int64

	seqno    uint64
	root     *Llrbnode
	next     unsafe.Pointer // *mvccsnapshot, older snapshot
	reclaims []*Llrbnode
	n_count  int64
	purged   bool
}

func (snap *mvccsnapshot) initsnapshot(
	id int64, root *Llrbnode, seqno uint64,
	n_count int64, older *mvccsnapshot) *mvccsnapshot {

	snap.id, snap.root, snap.seqno = id, root, seqno
	snap.n_count, snap.purged = n_count, false
	atomic.StoreInt64(&snap.refcount, 0)
	atomic.StorePointer(&snap.next, unsafe.Pointer(older))
	if snap.reclaims == nil {
		snap.reclaims = make([]*Llrbnode, 0, 64)
	}
	snap.reclaims = snap.reclaims[:0]
	return snap
}

func (snap *mvccsnapshot) getroot() *Llrbnode {
	return snap.root
}

func (snap *mvccsnapshot) older() *mvccsnapshot {
	return (*mvccsnapshot)(atomic.LoadPointer(&snap.next))
}

func (snap *mvccsnapshot) getref() int64 {
	return atomic.LoadInt64(&snap.refcount)
}

func (snap *mvccsnapshot) refer() int64 {
	return atomic.AddInt64(&snap.refcount, 1)
}

func (snap *mvccsnapshot) release() int64 {
	refcount := atomic.AddInt64(&snap.refcount, -1)
	if refcount < 0 {
		panic("release(): snapshot refcount gone negative, call the programmer")
	}
	return refcount
}

// getkey walk down the immutable tree.
func (snap *mvccsnapshot) getkey(nd *Llrbnode, k []byte) (*Llrbnode, bool) {
	for nd != nil {
		if nd.gtkey(k, false) {
			nd = nd.left
		} else if nd.ltkey(k, false) {
			nd = nd.right
		} else {
			return nd, true
		}
	}
	return nil, false
}

// get a key as of this snapshot's seqno. Tombstoned and yet-unborn
// keys read as missing.
func (snap *mvccsnapshot) get(
	key, value []byte) (v []byte, seqno uint64, deleted, ok bool) {

	nd, found := snap.getkey(snap.root, key)
	if found {
		if ver := nd.versionat(snap.seqno); ver != nil {
			if value != nil {
				value = lib.Fixbuffer(value, int64(len(ver.value)))
				copy(value, ver.value)
			}
			return value, ver.seqno, ver.deleted, ver.deleted == false
		}
	}
	if value != nil {
		value = lib.Fixbuffer(value, 0)
	}
	return value, 0, false, false
}

//---- latch guarded access to the current snapshot.
//
// The LSB of mvcc.snapshot doubles as a spin latch, so that pinning a
// snapshot (load + refcount increment) and publishing a new one
// (pointer swap) are atomic relative to each other and a reader can
// never observe a torn root.

func (mvcc *MVCC) acquiresnapshot(first *mvccsnapshot) *mvccsnapshot {
	for {
		old := (uintptr)(atomic.LoadPointer(&mvcc.snapshot))
		if first != nil && old == (uintptr)(unsafe.Pointer(nil)) {
			firstptr := unsafe.Pointer((uintptr)(unsafe.Pointer(first)) | 0x1)
			atomic.StorePointer(&mvcc.snapshot, firstptr)
			return first

		} else if old == (uintptr)(unsafe.Pointer(nil)) {
			panic("acquiresnapshot(): no snapshot, call the programmer")

		} else if (old & 1) == 1 { // latch is already acquired, wait for it.
			runtime.Gosched()
			continue
		}
		oldptr := unsafe.Pointer(old)
		newptr := unsafe.Pointer(old | 0x1)
		if atomic.CompareAndSwapPointer(&mvcc.snapshot, oldptr, newptr) {
			return (*mvccsnapshot)(oldptr)
		}
		// some one else acquired the latch.
		runtime.Gosched()
	}
}

func (mvcc *MVCC) releasesnapshot(old, new *mvccsnapshot) {
	oldptr := unsafe.Pointer((uintptr)(unsafe.Pointer(old)) | 1)
	newptr := unsafe.Pointer(new)
	if atomic.CompareAndSwapPointer(&mvcc.snapshot, oldptr, newptr) == false {
		panic(fmt.Errorf("releasesnapshot(): latch lost %p %p", oldptr, newptr))
	}
}

// readsnapshot pin the current snapshot for reading.
func (mvcc *MVCC) readsnapshot() *mvccsnapshot {
	snap := mvcc.acquiresnapshot(nil)
	snap.refer()
	mvcc.releasesnapshot(snap, snap)
	return snap
}

// currsnapshot peek at the current snapshot without pinning it. Safe
// only for the serialized writer, nothing else publishes or purges.
func (mvcc *MVCC) currsnapshot() *mvccsnapshot {
	snap := mvcc.acquiresnapshot(nil)
	mvcc.releasesnapshot(snap, snap)
	return snap
}

// publish a freshly committed root. Superseded nodes are parked on
// the outgoing snapshot, they stay reachable from older roots until
// those snapshots drain. Called from the serialized writer.
func (mvcc *MVCC) publish(
	root *Llrbnode, seqno uint64, n_count int64, reclaim []*Llrbnode) {

	newsnap := mvcc.getsnapshot()
	snapid := atomic.AddInt64(&mvcc.n_snapshots, 1)

	currsnap := mvcc.acquiresnapshot(nil)
	currsnap.reclaims = append(currsnap.reclaims, reclaim...)
	newsnap.initsnapshot(snapid, root, seqno, n_count, currsnap)
	mvcc.releasesnapshot(currsnap, newsnap)

	atomic.AddInt64(&mvcc.n_activess, 1)
	if ln := int64(len(reclaim)); ln > 0 {
		mvcc.n_reclaims += ln
		mvcc.h_reclaims.Add(ln)
	}

	if mvcc.purgesnapshot(newsnap.older()) {
		atomic.StorePointer(&newsnap.next, nil)
	}
}

// purgesnapshot unlink released snapshots oldest first. A snapshot
// can go only after every older snapshot is gone and no reader holds
// it, since its reclaimed nodes may still hang from older roots.
// Called from the serialized writer (and from Destroy). On true the
// caller owns unlinking its own next pointer, the purged descriptor
// goes back to the cache for reuse.
func (mvcc *MVCC) purgesnapshot(snapshot *mvccsnapshot) bool {
	if snapshot == nil {
		return true
	}
	if mvcc.purgesnapshot(snapshot.older()) == false {
		return false
	}
	atomic.StorePointer(&snapshot.next, nil)
	if snapshot.getref() != 0 {
		return false
	}

	mvcc.h_bulkfree.Add(int64(len(snapshot.reclaims)))
	for _, nd := range snapshot.reclaims {
		mvcc.freenode(nd)
	}
	atomic.AddInt64(&mvcc.n_activess, -1)
	atomic.AddInt64(&mvcc.n_purgedss, 1)
	debugf("%v snapshot %v purged ...\n", mvcc.logprefix, snapshot.id)
	mvcc.putsnapshot(snapshot)
	return true
}

func (mvcc *MVCC) getsnapshot() (snapshot *mvccsnapshot) {
	select {
	case snapshot = <-mvcc.snapcache:
	default:
		snapshot = &mvccsnapshot{}
	}
	return
}

func (mvcc *MVCC) putsnapshot(snapshot *mvccsnapshot) {
	snapshot.root, snapshot.purged = nil, true
	snapshot.reclaims = snapshot.reclaims[:0]
	atomic.StorePointer(&snapshot.next, nil)
	select {
	case mvcc.snapcache <- snapshot:
	default: // leave it for GC.
	}
}

// View is a pinned, immutable view of the index as of the seqno it
// was created at. Views are single release: releasing twice panics.
type View struct {
	id       uint64
	snap     *mvccsnapshot
	released int64
	cursors  []*Cursor
}

// ID return the id supplied while creating this view.
func (view *View) ID() uint64 {
	return view.id
}

// Seqno return the sequence number at which this view was pinned.
// Mutations committed after that seqno are invisible to the view.
func (view *View) Seqno() uint64 {
	return view.snap.seqno
}

// Count return the number of live entries as of this view.
func (view *View) Count() int64 {
	return view.snap.n_count
}

// Get value for key as of this view. If value argument points to a
// valid buffer it will be used to copy the entry's value.
func (view *View) Get(
	key, value []byte) (v []byte, seqno uint64, deleted, ok bool) {

	if atomic.LoadInt64(&view.released) == 1 {
		panic("Get(): view already released, call the programmer")
	}
	return view.snap.get(key, value)
}

// Release the view. Nodes exclusively reachable from this view's
// snapshot become eligible for reclamation once every older snapshot
// is drained as well.
func (view *View) Release() {
	if atomic.SwapInt64(&view.released, 1) == 1 {
		panic("Release(): view already released, call the programmer")
	}
	for _, cur := range view.cursors {
		cur.close()
	}
	view.cursors = view.cursors[:0]
	view.snap.release()
	view.snap = nil
}

package llrb

import "fmt"
import "io"
import "strings"
import "sync"
import "sync/atomic"
import "unsafe"

import s "github.com/bnclabs/gosettings"

import "github.com/bnclabs/mvccstore/api"
import "github.com/bnclabs/mvccstore/lib"

// MVCC manage a single instance of in-memory sorted index using a
// left-leaning-red-black tree. All write operations are copy-on-write
// and serialized through a single writer, read operations are
// concurrent and lock free over pinned snapshots.
type MVCC struct {
	llrbstats // 64-bit aligned statistics.

	// can be unaligned fields
	name     string
	seqno    uint64
	rw       sync.Mutex     // serialize the writer
	snapshot unsafe.Pointer // latch tagged *mvccsnapshot
	journal  api.Journal
	dead     bool

	snapcache chan *mvccsnapshot

	// statistics
	h_upsertdepth *lib.HistogramInt64
	h_reclaims    *lib.HistogramInt64
	h_bulkfree    *lib.HistogramInt64
	h_versions    *lib.HistogramInt64

	// settings
	lsm         bool
	minkeysize  int64
	maxkeysize  int64
	minvalsize  int64
	maxvalsize  int64
	memcapacity int64
	snapcachesz int64
	setts       s.Settings
	logprefix   string

	// scratch pad for the in-flight mutation, guarded by rw.
	mu_nodes  int64
	mu_clones int64
	memwarned bool
}

// NewMVCC a new instance of in-memory sorted index.
func NewMVCC(name string, setts s.Settings) *MVCC {
	mvcc := &MVCC{
		name:      name,
		logprefix: fmt.Sprintf("MVCC [%s]", name),
	}

	setts = make(s.Settings).Mixin(Defaultsettings(), setts)
	mvcc.readsettings(setts)
	mvcc.setts = setts
	mvcc.snapcache = make(chan *mvccsnapshot, mvcc.snapcachesz)

	// statistics
	mvcc.h_upsertdepth = lib.NewhistorgramInt64(10, 100, 10)
	mvcc.h_reclaims = lib.NewhistorgramInt64(10, 200, 20)
	mvcc.h_bulkfree = lib.NewhistorgramInt64(100, 1000, 1000)
	mvcc.h_versions = lib.NewhistorgramInt64(1, 30, 10)

	// publish the zero snapshot.
	first := mvcc.getsnapshot()
	first.initsnapshot(atomic.AddInt64(&mvcc.n_snapshots, 1), nil, 0, 0, nil)
	mvcc.acquiresnapshot(first)
	mvcc.releasesnapshot(first, first)
	atomic.AddInt64(&mvcc.n_activess, 1)

	infof("%v started ...\n", mvcc.logprefix)
	return mvcc
}

// LoadMVCC create an MVCC instance and populate it with an initial
// set of entries from iter, preserving each entry's seqno. Scan feeds
// arrive in key order, not seqno order, so after loading the
// instance's seqno is the newest seqno seen.
func LoadMVCC(name string, setts s.Settings, iter api.Iterator) *MVCC {
	mvcc := NewMVCC(name, setts)
	if iter == nil {
		return mvcc
	}
	maxseqno := uint64(0)
	key, value, seqno, deleted, err := iter(false /*fin*/)
	for err == nil {
		mvcc.Setseqno(seqno - 1)
		if deleted {
			mvcc.setdeleted(key)
		} else {
			mvcc.Set(key, value, nil)
		}
		if seqno > maxseqno {
			maxseqno = seqno
		}
		key, value, seqno, deleted, err = iter(false /*fin*/)
	}
	mvcc.Setseqno(maxseqno)

	// the last published root may predate maxseqno in a key-ordered
	// feed, republish it so pins see every loaded entry.
	if maxseqno > 0 {
		mvcc.rw.Lock()
		snap := mvcc.currsnapshot()
		mvcc.publish(snap.getroot(), maxseqno, snap.n_count, nil)
		mvcc.rw.Unlock()
	}
	return mvcc
}

//---- Exported Control methods

// ID is same as the name supplied while creating the MVCC instance.
func (mvcc *MVCC) ID() string {
	return mvcc.name
}

// Count return the number of live entries indexed, tombstoned keys
// excluded.
func (mvcc *MVCC) Count() int64 {
	return atomic.LoadInt64(&mvcc.n_count)
}

// Getseqno return the seqno of the last committed mutation.
func (mvcc *MVCC) Getseqno() uint64 {
	return atomic.LoadUint64(&mvcc.seqno)
}

// Setseqno can be called immediately after creating the MVCC
// instance. All further mutations will count seqno from this value.
func (mvcc *MVCC) Setseqno(seqno uint64) {
	atomic.StoreUint64(&mvcc.seqno, seqno)
}

// Setjournal attach the durability collaborator. Every subsequent
// mutation is appended to the journal before its root is published.
// Pass nil to detach.
func (mvcc *MVCC) Setjournal(jrnl api.Journal) {
	mvcc.rw.Lock()
	mvcc.journal = jrnl
	mvcc.rw.Unlock()
}

// Dotdump convert the current snapshot's tree into dot script that
// can be visualized using graphviz.
func (mvcc *MVCC) Dotdump(buffer io.Writer) {
	lines := []string{
		"digraph llrb {",
		"  node[shape=record];\n",
		"}",
	}
	buffer.Write([]byte(strings.Join(lines[:len(lines)-1], "\n")))
	snap := mvcc.readsnapshot()
	snap.getroot().dotdump(buffer)
	snap.release()
	buffer.Write([]byte(lines[len(lines)-1]))
}

// Close does nothing. The journal collaborator, if attached, is owned
// and closed by the application.
func (mvcc *MVCC) Close() {
}

// Destroy releases all resources held by the tree. Fails with
// ErrorActiveSnapshots while views are still pinned. No other method
// call is allowed after Destroy.
func (mvcc *MVCC) Destroy() error {
	mvcc.rw.Lock()
	defer mvcc.rw.Unlock()

	if mvcc.dead {
		panic("Destroy(): already destroyed, call the programmer")
	}

	snapshot := mvcc.currsnapshot()
	if snapshot.getref() > 0 {
		return api.ErrorActiveSnapshots
	}
	if mvcc.purgesnapshot(snapshot.older()) == false {
		return api.ErrorActiveSnapshots
	}
	atomic.StorePointer(&snapshot.next, nil)

	// count the final snapshot's tree out before dropping it.
	mvcc.h_bulkfree.Add(int64(len(snapshot.reclaims)))
	for _, nd := range snapshot.reclaims {
		mvcc.freenode(nd)
	}
	curr := mvcc.acquiresnapshot(nil)
	mvcc.releasesnapshot(curr, nil)
	atomic.AddInt64(&mvcc.n_activess, -1)
	atomic.AddInt64(&mvcc.n_purgedss, 1)

	mvcc.dead = true
	mvcc.setts, mvcc.snapcache = nil, nil
	infof("%v destroyed\n", mvcc.logprefix)
	return nil
}

//---- Exported Read methods

// Get value for key as of the latest committed mutation. If value
// argument points to a valid buffer it will be used to copy the
// entry's value. Also return the entry's seqno and whether it is
// tombstoned. If ok is false, key is not found.
func (mvcc *MVCC) Get(
	key, value []byte) (v []byte, seqno uint64, deleted, ok bool) {

	snap := mvcc.readsnapshot()
	v, seqno, deleted, ok = snap.get(key, value)
	snap.release()
	return
}

// View pin the current snapshot and return a read handle over it.
// Views must be released exactly once.
func (mvcc *MVCC) View(id uint64) *View {
	atomic.AddInt64(&mvcc.n_views, 1)
	return &View{id: id, snap: mvcc.readsnapshot()}
}

//---- copy-on-write mutation internals. All methods below are called
// with the writer lock held.

func (mvcc *MVCC) newnode(
	key, value []byte, seqno uint64, deleted bool) *Llrbnode {

	k := make([]byte, len(key))
	copy(k, key)
	nd := &Llrbnode{key: k}
	nd.setdirty().setred()
	nd.prependversion(seqno, valuecopy(value), deleted)
	mvcc.n_nodes++
	mvcc.mu_nodes++
	return nd
}

func (mvcc *MVCC) clonenode(nd *Llrbnode) *Llrbnode {
	newnd := &Llrbnode{
		left: nd.left, right: nd.right,
		versions: nd.versions, key: nd.key, black: nd.black,
	}
	newnd.setdirty()
	mvcc.n_clones++
	mvcc.mu_clones++
	return newnd
}

// freenode unlink a reclaimed node to cut the published structure
// loose for GC. The version chain and key stay put, live clones still
// share them.
func (mvcc *MVCC) freenode(nd *Llrbnode) {
	if nd != nil {
		nd.left, nd.right, nd.versions = nil, nil, nil
		atomic.AddInt64(&mvcc.n_frees, 1)
	}
}

// abortmutation roll back allocation statistics for a mutation whose
// tree was discarded before publish.
func (mvcc *MVCC) abortmutation() {
	mvcc.n_nodes -= mvcc.mu_nodes
	mvcc.n_clones -= mvcc.mu_clones
	mvcc.mu_nodes, mvcc.mu_clones = 0, 0
}

// cleardirtytree walk the freshly built path and clear the dirty
// flags before publish. Fresh nodes are reachable from the new root
// through fresh nodes only, so the walk stops at shared subtrees.
func cleardirtytree(nd *Llrbnode) {
	if nd == nil || nd.isdirty() == false {
		return
	}
	nd.cleardirty()
	cleardirtytree(nd.left)
	cleardirtytree(nd.right)
}

func valuecopy(value []byte) []byte {
	if value == nil {
		return nil
	}
	v := make([]byte, len(value))
	copy(v, value)
	return v
}

// upsert build the copy-on-write path to key and prepend a fresh
// version. Return new subtree root, the target node and the node it
// superseded (nil for a fresh key).
func (mvcc *MVCC) upsert(
	nd *Llrbnode, depth int64,
	key, value []byte, seqno uint64, deleted bool,
	reclaim []*Llrbnode) (*Llrbnode, *Llrbnode, *Llrbnode, []*Llrbnode) {

	var oldnd, newnd, ndmvcc *Llrbnode

	if nd == nil {
		newnd := mvcc.newnode(key, value, seqno, deleted)
		mvcc.h_upsertdepth.Add(depth)
		return newnd, newnd, nil, reclaim
	}
	reclaim = append(reclaim, nd)
	ndmvcc = mvcc.clonenode(nd)

	if nd.gtkey(key, false) {
		ndmvcc.left, newnd, oldnd, reclaim =
			mvcc.upsert(ndmvcc.left, depth+1, key, value, seqno, deleted, reclaim)
	} else if nd.ltkey(key, false) {
		ndmvcc.right, newnd, oldnd, reclaim =
			mvcc.upsert(ndmvcc.right, depth+1, key, value, seqno, deleted, reclaim)
	} else {
		oldnd = nd
		ndmvcc.prependversion(seqno, valuecopy(value), deleted)
		newnd = ndmvcc
		mvcc.h_upsertdepth.Add(depth)
		mvcc.h_versions.Add(ndmvcc.nversions())
	}

	ndmvcc, reclaim = mvcc.walkuprot23(ndmvcc, reclaim)
	return ndmvcc, newnd, oldnd, reclaim
}

// delete physically remove key, using the standard llrb algorithm of
// pushing red links downward so removal happens under a red link.
func (mvcc *MVCC) delete(
	nd *Llrbnode, key []byte,
	reclaim []*Llrbnode) (*Llrbnode, *Llrbnode, []*Llrbnode) {

	var newnd, deleted *Llrbnode

	if nd == nil {
		return nil, nil, reclaim
	}
	reclaim = append(reclaim, nd)
	ndmvcc := mvcc.clonenode(nd)

	if ndmvcc.gtkey(key, false) {
		if ndmvcc.left == nil { // key not present. Nothing to delete
			return ndmvcc, nil, reclaim
		}
		if !ndmvcc.left.isred() && !ndmvcc.left.left.isred() {
			ndmvcc, reclaim = mvcc.moveredleft(ndmvcc, reclaim)
		}
		ndmvcc.left, deleted, reclaim = mvcc.delete(ndmvcc.left, key, reclaim)

	} else {
		if ndmvcc.left.isred() {
			ndmvcc, reclaim = mvcc.rotateright(ndmvcc, reclaim)
		}
		// if key equals the node and no right children.
		if !ndmvcc.ltkey(key, false) && ndmvcc.right == nil {
			reclaim = append(reclaim, ndmvcc)
			return nil, ndmvcc, reclaim
		}
		if ndmvcc.right != nil &&
			!ndmvcc.right.isred() && !ndmvcc.right.left.isred() {
			ndmvcc, reclaim = mvcc.moveredright(ndmvcc, reclaim)
		}
		// if key equals the node, and (from above) right child exists.
		if !ndmvcc.ltkey(key, false) {
			var subd *Llrbnode
			ndmvcc.right, subd, reclaim = mvcc.deletemin(ndmvcc.right, reclaim)
			if subd == nil {
				panic("delete(): fatal logic, call the programmer")
			}
			newnd = mvcc.clonenode(subd)
			newnd.left, newnd.right = ndmvcc.left, ndmvcc.right
			newnd.black = ndmvcc.black
			deleted, ndmvcc = ndmvcc, newnd
			reclaim = append(reclaim, deleted)
		} else { // else, key is bigger than the node.
			ndmvcc.right, deleted, reclaim =
				mvcc.delete(ndmvcc.right, key, reclaim)
		}
	}
	ndmvcc, reclaim = mvcc.fixup(ndmvcc, reclaim)
	return ndmvcc, deleted, reclaim
}

// using 2-3 trees, returns root, deleted, reclaim.
func (mvcc *MVCC) deletemin(
	nd *Llrbnode,
	reclaim []*Llrbnode) (*Llrbnode, *Llrbnode, []*Llrbnode) {

	var deleted *Llrbnode

	if nd == nil {
		return nil, nil, reclaim
	}

	reclaim = append(reclaim, nd)
	ndmvcc := mvcc.clonenode(nd)

	if ndmvcc.left == nil {
		reclaim = append(reclaim, ndmvcc)
		return nil, ndmvcc, reclaim
	}

	if !ndmvcc.left.isred() && !ndmvcc.left.left.isred() {
		ndmvcc, reclaim = mvcc.moveredleft(ndmvcc, reclaim)
	}

	ndmvcc.left, deleted, reclaim = mvcc.deletemin(ndmvcc.left, reclaim)
	ndmvcc, reclaim = mvcc.fixup(ndmvcc, reclaim)
	return ndmvcc, deleted, reclaim
}

// llrb rotation routines for 2-3 algorithm

func (mvcc *MVCC) walkuprot23(
	nd *Llrbnode, reclaim []*Llrbnode) (*Llrbnode, []*Llrbnode) {

	if nd.right.isred() && !nd.left.isred() {
		nd, reclaim = mvcc.rotateleft(nd, reclaim)
	}
	if nd.left.isred() && nd.left.left.isred() {
		nd, reclaim = mvcc.rotateright(nd, reclaim)
	}
	if nd.left.isred() && nd.right.isred() {
		reclaim = mvcc.flip(nd, reclaim)
	}

	return nd, reclaim
}

func (mvcc *MVCC) rotateleft(
	nd *Llrbnode, reclaim []*Llrbnode) (*Llrbnode, []*Llrbnode) {

	y, ok := mvcc.cloneifpublished(nd.right)
	if ok {
		reclaim = append(reclaim, nd.right)
	}

	if y.isblack() {
		panic("rotateleft(): rotating a black link ? call the programmer")
	}
	nd.right = y.left
	y.left = nd
	y.black = nd.black
	nd.setred()
	return y, reclaim
}

func (mvcc *MVCC) rotateright(
	nd *Llrbnode, reclaim []*Llrbnode) (*Llrbnode, []*Llrbnode) {

	x, ok := mvcc.cloneifpublished(nd.left)
	if ok {
		reclaim = append(reclaim, nd.left)
	}

	if x.isblack() {
		panic("rotateright(): rotating a black link ? call the programmer")
	}
	nd.left = x.right
	x.right = nd
	x.black = nd.black
	nd.setred()
	return x, reclaim
}

// REQUIRE: left and right children must be present.
func (mvcc *MVCC) flip(nd *Llrbnode, reclaim []*Llrbnode) []*Llrbnode {
	x, ok := mvcc.cloneifpublished(nd.left)
	if ok {
		reclaim = append(reclaim, nd.left)
	}
	y, ok := mvcc.cloneifpublished(nd.right)
	if ok {
		reclaim = append(reclaim, nd.right)
	}

	x.togglelink()
	y.togglelink()
	nd.togglelink()
	nd.left, nd.right = x, y
	return reclaim
}

// REQUIRE: left and right children must be present.
func (mvcc *MVCC) moveredleft(
	nd *Llrbnode, reclaim []*Llrbnode) (*Llrbnode, []*Llrbnode) {

	reclaim = mvcc.flip(nd, reclaim)
	if nd.right.left.isred() {
		nd.right, reclaim = mvcc.rotateright(nd.right, reclaim)
		nd, reclaim = mvcc.rotateleft(nd, reclaim)
		reclaim = mvcc.flip(nd, reclaim)
	}
	return nd, reclaim
}

// REQUIRE: left and right children must be present.
func (mvcc *MVCC) moveredright(
	nd *Llrbnode, reclaim []*Llrbnode) (*Llrbnode, []*Llrbnode) {

	reclaim = mvcc.flip(nd, reclaim)
	if nd.left.left.isred() {
		nd, reclaim = mvcc.rotateright(nd, reclaim)
		reclaim = mvcc.flip(nd, reclaim)
	}
	return nd, reclaim
}

// REQUIRE: left and right children must be present.
func (mvcc *MVCC) fixup(
	nd *Llrbnode, reclaim []*Llrbnode) (*Llrbnode, []*Llrbnode) {

	if nd.right.isred() {
		nd, reclaim = mvcc.rotateleft(nd, reclaim)
	}
	if nd.left.isred() && nd.left.left.isred() {
		nd, reclaim = mvcc.rotateright(nd, reclaim)
	}
	if nd.left.isred() && nd.right.isred() {
		reclaim = mvcc.flip(nd, reclaim)
	}
	return nd, reclaim
}

// cloneifpublished nodes already created by the in-flight mutation
// are dirty and private, everything else is shared and must be cloned
// before a rotation can relink it.
func (mvcc *MVCC) cloneifpublished(nd *Llrbnode) (*Llrbnode, bool) {
	if nd.isdirty() { // already cloned by this mutation.
		return nd, false
	}
	return mvcc.clonenode(nd), true
}

package llrb

import "fmt"
import "math"
import "sync/atomic"

// Validate check tree invariants on the latest snapshot: red-black
// balance, no right-leaning red link, BST ordering, version chains
// strictly decreasing, no dirty node published, and the bookkeeping
// counters against a full walk. Panics on the first violation.
// Diagnostic path, called from tests or a quiesced instance.
func (mvcc *MVCC) Validate() {
	mvcc.rw.Lock()
	defer mvcc.rw.Unlock()

	snap := mvcc.currsnapshot()
	root := snap.getroot()
	if root.isred() {
		panic("Validate(): root node is red")
	}

	v := &validator{seqno: atomic.LoadUint64(&mvcc.seqno), nblacks: -1}
	v.walk(root, false /*fromred*/, 0 /*blacks*/, 1 /*depth*/)

	n := v.n_live + v.n_deleted
	if n > 0 {
		maxheight := int64(2*math.Log2(float64(n+1))) + 1
		if v.maxdepth > maxheight {
			fmsg := "Validate(): height %v exceeds bound %v for %v nodes"
			panic(fmt.Errorf(fmsg, v.maxdepth, maxheight, n))
		}
	}
	mvcc.validatestats(snap, v)
}

type validator struct {
	seqno     uint64
	nblacks   int64 // black count of the first leaf path, -1 until seen
	maxdepth  int64
	n_live    int64
	n_deleted int64
	keymemory int64
	valmemory int64
}

func (v *validator) walk(nd *Llrbnode, fromred bool, blacks, depth int64) {
	if nd == nil {
		if v.nblacks == -1 {
			v.nblacks = blacks
		} else if v.nblacks != blacks {
			fmsg := "Validate(): unbalanced blacks %v, expected %v"
			panic(fmt.Errorf(fmsg, blacks, v.nblacks))
		}
		return
	}
	if nd.isdirty() {
		panic(fmt.Errorf("Validate(): published node %q is dirty", nd.key))
	}
	if fromred && nd.isred() {
		panic(fmt.Errorf("Validate(): red node %q under a red link", nd.key))
	}
	if nd.right.isred() && nd.left.isred() == false {
		panic(fmt.Errorf("Validate(): right-leaning red link at %q", nd.key))
	}
	if nd.left != nil && nd.left.gekey(nd.key, false) {
		fmsg := "Validate(): BST violation %q left of %q"
		panic(fmt.Errorf(fmsg, nd.left.key, nd.key))
	}
	if nd.right != nil && nd.right.lekey(nd.key, false) {
		fmsg := "Validate(): BST violation %q right of %q"
		panic(fmt.Errorf(fmsg, nd.right.key, nd.key))
	}
	v.walkversions(nd)

	if depth > v.maxdepth {
		v.maxdepth = depth
	}
	if nd.isdeleted() {
		v.n_deleted++
	} else {
		v.n_live++
	}
	v.keymemory += int64(len(nd.key))
	v.valmemory += nd.chainmemory()

	if nd.isblack() {
		blacks++
	}
	v.walk(nd.left, nd.isred(), blacks, depth+1)
	v.walk(nd.right, nd.isred(), blacks, depth+1)
}

func (v *validator) walkversions(nd *Llrbnode) {
	if nd.versions == nil {
		panic(fmt.Errorf("Validate(): node %q has no version", nd.key))
	}
	if head := nd.versions.seqno; head > v.seqno {
		fmsg := "Validate(): node %q seqno %v from the future, current %v"
		panic(fmt.Errorf(fmsg, nd.key, head, v.seqno))
	}
	prev := nd.versions
	for ver := prev.next; ver != nil; prev, ver = ver, ver.next {
		if ver.seqno >= prev.seqno {
			fmsg := "Validate(): node %q chain not decreasing, %v after %v"
			panic(fmt.Errorf(fmsg, nd.key, ver.seqno, prev.seqno))
		}
	}
}

func (mvcc *MVCC) validatestats(snap *mvccsnapshot, v *validator) {
	n_count := atomic.LoadInt64(&mvcc.n_count)
	if n_count != v.n_live {
		fmsg := "validatestats(): n_count %v, walked %v live entries"
		panic(fmt.Errorf(fmsg, n_count, v.n_live))
	}
	if snap.n_count != v.n_live {
		fmsg := "validatestats(): snapshot count %v, walked %v"
		panic(fmt.Errorf(fmsg, snap.n_count, v.n_live))
	}
	if x := mvcc.n_inserts - mvcc.n_deletes; x != n_count {
		fmsg := "validatestats(): inserts-deletes %v, n_count %v"
		panic(fmt.Errorf(fmsg, x, n_count))
	}
	if mvcc.keymemory != v.keymemory {
		fmsg := "validatestats(): keymemory %v, walked %v"
		panic(fmt.Errorf(fmsg, mvcc.keymemory, v.keymemory))
	}
	if mvcc.valmemory != v.valmemory {
		fmsg := "validatestats(): valmemory %v, walked %v"
		panic(fmt.Errorf(fmsg, mvcc.valmemory, v.valmemory))
	}
}

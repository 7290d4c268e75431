package llrb

import "io"

import "github.com/bnclabs/mvccstore/api"

// Cursor object for in-order traversal within a pinned view. The
// traversal is lazy, nodes are visited as Next is called, holding at
// most one root-to-leaf path on the stack. Cursors are read-only and
// can be abandoned at any point with no side effects.
type Cursor struct {
	snap   *mvccsnapshot
	stack  []*Llrbnode
	hi     []byte
	closed bool
}

// Range return a cursor over keys in [lo, hi) as of this view's
// seqno. A nil lo starts from the smallest key, a nil hi runs to the
// largest. Keys tombstoned as of the view are skipped. The cursor is
// valid only until the view is released.
func (view *View) Range(lo, hi []byte) *Cursor {
	cur := &Cursor{snap: view.snap, hi: hi}
	cur.stack = make([]*Llrbnode, 0, 16)

	// seed the left spine down to the smallest key >= lo.
	nd := view.snap.getroot()
	for nd != nil {
		if lo == nil || nd.gekey(lo, false) {
			cur.stack = append(cur.stack, nd)
			nd = nd.left
		} else {
			nd = nd.right
		}
	}
	view.cursors = append(view.cursors, cur)
	return cur
}

// Next return the next entry in key order, ending with io.EOF. The
// returned key and value share memory with the index, callers shall
// not modify them.
func (cur *Cursor) Next() (key, value []byte, seqno uint64, err error) {
	for {
		nd, ver := cur.next()
		if nd == nil {
			return nil, nil, 0, io.EOF
		} else if ver.deleted {
			continue
		}
		return nd.key, ver.value, ver.seqno, nil
	}
}

// Close the cursor, further calls to Next return io.EOF. Releasing
// the view closes its cursors as well.
func (cur *Cursor) Close() {
	cur.close()
}

func (cur *Cursor) close() {
	cur.closed, cur.stack, cur.snap = true, nil, nil
}

// next in-order successor visible at the pinned seqno, tombstones
// included.
func (cur *Cursor) next() (*Llrbnode, *version) {
	for cur.closed == false && len(cur.stack) > 0 {
		nd := cur.stack[len(cur.stack)-1]
		cur.stack = cur.stack[:len(cur.stack)-1]
		if cur.hi != nil && nd.gekey(cur.hi, false) {
			cur.close() // in-order is ascending, nothing more to yield
			return nil, nil
		}
		for child := nd.right; child != nil; child = child.left {
			cur.stack = append(cur.stack, child)
		}
		if ver := nd.versionat(cur.snap.seqno); ver != nil {
			return nd, ver
		}
		// key born after the pinned seqno.
	}
	return nil, nil
}

// Scan return a full-range iterator over this view, tombstones
// included, seqnos filtered to the view. This is the feed consumed by
// sorted-run producers.
func (view *View) Scan() api.Iterator {
	return iterateover(view, false /*own*/)
}

// Scan pin the latest snapshot and return a full-range iterator over
// it, tombstones included. The iterator owns its pin, released when
// the scan drains or is abandoned with iter(true).
func (mvcc *MVCC) Scan() api.Iterator {
	return iterateover(mvcc.View(0), true /*own*/)
}

func iterateover(view *View, own bool) api.Iterator {
	cur, done := view.Range(nil, nil), false
	finish := func() {
		done = true
		cur.close()
		if own {
			view.Release()
		}
	}
	return func(fin bool) ([]byte, []byte, uint64, bool, error) {
		if done {
			return nil, nil, 0, false, io.EOF
		} else if fin {
			finish()
			return nil, nil, 0, false, io.EOF
		}
		nd, ver := cur.next()
		if nd == nil {
			finish()
			return nil, nil, 0, false, io.EOF
		}
		return nd.key, ver.value, ver.seqno, ver.deleted, nil
	}
}

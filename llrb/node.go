package llrb

import "fmt"
import "io"

import "github.com/bnclabs/mvccstore/api"

// Llrbnode is a single entry in the tree. Nodes are immutable once
// their root is published; a mutation clones every node along the
// root-to-key path and links the clones over shared, untouched
// subtrees. The dirty flag marks nodes private to the in-flight
// mutation, it is cleared before the new root is published.
type Llrbnode struct {
	left     *Llrbnode
	right    *Llrbnode
	versions *version // head is the newest version
	key      []byte
	black    bool
	dirty    bool
}

func (nd *Llrbnode) getkey() []byte {
	return nd.key
}

//---- color and mutation flags

func (nd *Llrbnode) isred() bool {
	if nd == nil {
		return false
	}
	return nd.black == false
}

func (nd *Llrbnode) isblack() bool {
	if nd == nil {
		return true
	}
	return nd.black
}

func (nd *Llrbnode) setred() *Llrbnode {
	nd.black = false
	return nd
}

func (nd *Llrbnode) setblack() *Llrbnode {
	nd.black = true
	return nd
}

func (nd *Llrbnode) togglelink() *Llrbnode {
	nd.black = !nd.black
	return nd
}

func (nd *Llrbnode) setdirty() *Llrbnode {
	nd.dirty = true
	return nd
}

func (nd *Llrbnode) cleardirty() *Llrbnode {
	nd.dirty = false
	return nd
}

func (nd *Llrbnode) isdirty() bool {
	return nd.dirty
}

//---- key comparison

func (nd *Llrbnode) gtkey(other []byte, partial bool) bool {
	return api.Binarycmp(nd.key, other, partial) > 0
}

func (nd *Llrbnode) gekey(other []byte, partial bool) bool {
	return api.Binarycmp(nd.key, other, partial) >= 0
}

func (nd *Llrbnode) ltkey(other []byte, partial bool) bool {
	return api.Binarycmp(nd.key, other, partial) < 0
}

func (nd *Llrbnode) lekey(other []byte, partial bool) bool {
	return api.Binarycmp(nd.key, other, partial) <= 0
}

//---- version accessors

// getseqno return the seqno of the newest version.
func (nd *Llrbnode) getseqno() uint64 {
	return nd.versions.seqno
}

// isdeleted return whether the newest version is a tombstone.
func (nd *Llrbnode) isdeleted() bool {
	return nd.versions.deleted
}

// Value return the newest version's value.
func (nd *Llrbnode) Value() []byte {
	return nd.versions.value
}

// versionat return the newest version with seqno <= the argument,
// nil if the key was born after seqno.
func (nd *Llrbnode) versionat(seqno uint64) *version {
	for v := nd.versions; v != nil; v = v.next {
		if v.seqno <= seqno {
			return v
		}
	}
	return nil
}

// prependversion link a new version as the head of this node's chain.
// Seqnos are assigned by the serialized writer, a regression here means
// writer serialization was bypassed.
func (nd *Llrbnode) prependversion(seqno uint64, value []byte, deleted bool) {
	if nd.dirty == false {
		panic("prependversion(): published node, call the programmer")
	}
	if head := nd.versions; head != nil && seqno <= head.seqno {
		fmsg := "prependversion(): seqno %v <= head %v, call the programmer"
		panic(fmt.Errorf(fmsg, seqno, head.seqno))
	}
	nd.versions = &version{
		seqno: seqno, value: value, deleted: deleted, next: nd.versions,
	}
}

func (nd *Llrbnode) dotdump(buffer io.Writer) {
	if nd == nil {
		return
	}
	color := "red"
	if nd.isblack() {
		color = "black"
	}
	fmsg := "  %q [color=%v,label=\"{%v|%v}\"];\n"
	key := string(nd.key)
	fmt.Fprintf(buffer, fmsg, key, color, key, nd.getseqno())
	if nd.left != nil {
		fmt.Fprintf(buffer, "  %q -> %q;\n", key, string(nd.left.key))
	}
	if nd.right != nil {
		fmt.Fprintf(buffer, "  %q -> %q;\n", key, string(nd.right.key))
	}
	nd.left.dotdump(buffer)
	nd.right.dotdump(buffer)
}

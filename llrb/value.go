package llrb

// version is one entry in a key's value chain: either a committed
// value or a tombstone, stamped with the seqno that committed it.
// Chains are ordered newest first, seqnos strictly decreasing from
// head. A chain is shared by every node clone of its key, a mutation
// only ever links a fresh head in a cloned node.
type version struct {
	seqno   uint64
	value   []byte
	deleted bool
	next    *version
}

// nversions return chain length.
func (nd *Llrbnode) nversions() int64 {
	n := int64(0)
	for v := nd.versions; v != nil; v = v.next {
		n++
	}
	return n
}

// chainmemory return the bytes held by values in the chain.
func (nd *Llrbnode) chainmemory() int64 {
	bytes := int64(0)
	for v := nd.versions; v != nil; v = v.next {
		bytes += int64(len(v.value))
	}
	return bytes
}

// compactversions drop entries older than lowwater, keeping the single
// newest entry with seqno <= lowwater so that any snapshot pinned at or
// above lowwater remains answerable. Caller must guarantee lowwater is
// <= the oldest pinned seqno; the truncated suffix is unreachable for
// every such snapshot, which is what makes the in-place unlink safe.
// Return the number of versions and value bytes dropped.
func (nd *Llrbnode) compactversions(lowwater uint64) (dropped, bytes int64) {
	for v := nd.versions; v != nil; v = v.next {
		if v.seqno <= lowwater {
			for d := v.next; d != nil; d = d.next {
				dropped++
				bytes += int64(len(d.value))
			}
			v.next = nil
			return dropped, bytes
		}
	}
	return 0, 0
}

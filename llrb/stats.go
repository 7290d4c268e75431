package llrb

import "sync/atomic"

import humanize "github.com/dustin/go-humanize"

// llrbstats counters every MVCC instance maintains. Fields updated by
// concurrent readers are accessed atomically, the rest are owned by
// the serialized writer.
type llrbstats struct {
	n_count     int64 // number of live entries, tombstones excluded
	n_inserts   int64
	n_updates   int64
	n_deletes   int64
	n_nodes     int64
	n_frees     int64
	n_clones    int64
	n_reclaims  int64
	n_compacted int64
	n_snapshots int64
	n_activess  int64
	n_purgedss  int64
	n_views     int64
	keymemory   int64 // memory used by all keys
	valmemory   int64 // memory used by all values, all versions
}

// Stats return a map of data and performance statistics. To be called
// from the writer's go-routine or with the writer quiesced, counters
// owned by the writer are read without synchronization.
func (mvcc *MVCC) Stats() map[string]interface{} {
	m := make(map[string]interface{})
	m["n_count"] = atomic.LoadInt64(&mvcc.n_count)
	m["n_inserts"] = mvcc.n_inserts
	m["n_updates"] = mvcc.n_updates
	m["n_deletes"] = mvcc.n_deletes
	m["n_nodes"] = mvcc.n_nodes
	m["n_frees"] = atomic.LoadInt64(&mvcc.n_frees)
	m["n_clones"] = mvcc.n_clones
	m["n_reclaims"] = mvcc.n_reclaims
	m["n_compacted"] = mvcc.n_compacted
	m["n_snapshots"] = atomic.LoadInt64(&mvcc.n_snapshots)
	m["n_activess"] = atomic.LoadInt64(&mvcc.n_activess)
	m["n_purgedss"] = atomic.LoadInt64(&mvcc.n_purgedss)
	m["n_views"] = atomic.LoadInt64(&mvcc.n_views)
	m["keymemory"] = mvcc.keymemory
	m["valmemory"] = mvcc.valmemory
	m["h_upsertdepth"] = mvcc.h_upsertdepth.Fullstats()
	m["h_reclaims"] = mvcc.h_reclaims.Fullstats()
	m["h_bulkfree"] = mvcc.h_bulkfree.Fullstats()
	m["h_versions"] = mvcc.h_versions.Fullstats()
	return m
}

// Log vital statistics for this instance.
func (mvcc *MVCC) Log() {
	stats := mvcc.Stats()

	fmsg := "%v entries: %v (inserts:%v updates:%v deletes:%v)\n"
	infof(
		fmsg, mvcc.logprefix, humanize.Comma(stats["n_count"].(int64)),
		humanize.Comma(stats["n_inserts"].(int64)),
		humanize.Comma(stats["n_updates"].(int64)),
		humanize.Comma(stats["n_deletes"].(int64)))

	fmsg = "%v snapshots: %v (active:%v purged:%v views:%v)\n"
	infof(
		fmsg, mvcc.logprefix, humanize.Comma(stats["n_snapshots"].(int64)),
		humanize.Comma(stats["n_activess"].(int64)),
		humanize.Comma(stats["n_purgedss"].(int64)),
		humanize.Comma(stats["n_views"].(int64)))

	fmsg = "%v nodes: %v (clones:%v frees:%v reclaims:%v compacted:%v)\n"
	infof(
		fmsg, mvcc.logprefix, humanize.Comma(stats["n_nodes"].(int64)),
		humanize.Comma(stats["n_clones"].(int64)),
		humanize.Comma(stats["n_frees"].(int64)),
		humanize.Comma(stats["n_reclaims"].(int64)),
		humanize.Comma(stats["n_compacted"].(int64)))

	kmem := humanize.Bytes(uint64(stats["keymemory"].(int64)))
	vmem := humanize.Bytes(uint64(stats["valmemory"].(int64)))
	infof("%v memory: keys %v values %v\n", mvcc.logprefix, kmem, vmem)
}

package llrb

import s "github.com/bnclabs/gosettings"
import "github.com/cloudfoundry/gosigar"

import "github.com/bnclabs/mvccstore/api"

// Defaultsettings for llrb instance.
//
// "lsm" (bool, default: true)
//      Delete policy for this instance. When true, Delete appends a
//      tombstone version and leaves the node in the tree, preserving
//      subtree sharing with older snapshots. When false, Delete
//      physically removes the node using red-link push down.
//
// "minkeysize" (int64, default: <api.MinKeysize>)
//      Minimum size allowed for key.
//
// "maxkeysize" (int64, default: <api.MaxKeysize>)
//      Maximum size allowed for key.
//
// "minvalsize" (int64, default: <api.MinValsize>)
//      Minimum size allowed for value.
//
// "maxvalsize" (int64, default: <api.MaxValsize>)
//      Maximum size allowed for value.
//
// "memcapacity" (int64, default: half of free RAM)
//      Soft quota on key + value memory held by the index. Crossing
//      the quota logs a warning, it does not fail writes.
//
// "snapcache.size" (int64, default: 1024)
//      Number of purged snapshot descriptors kept for reuse.
//
func Defaultsettings() s.Settings {
	_, _, free := getsysmem()
	return s.Settings{
		"lsm":            true,
		"minkeysize":     api.MinKeysize,
		"maxkeysize":     api.MaxKeysize,
		"minvalsize":     api.MinValsize,
		"maxvalsize":     api.MaxValsize,
		"memcapacity":    int64(free / 2),
		"snapcache.size": int64(1024),
	}
}

func (mvcc *MVCC) readsettings(setts s.Settings) *MVCC {
	mvcc.lsm = setts.Bool("lsm")
	mvcc.minkeysize = setts.Int64("minkeysize")
	mvcc.maxkeysize = setts.Int64("maxkeysize")
	mvcc.minvalsize = setts.Int64("minvalsize")
	mvcc.maxvalsize = setts.Int64("maxvalsize")
	mvcc.memcapacity = setts.Int64("memcapacity")
	mvcc.snapcachesz = setts.Int64("snapcache.size")
	return mvcc
}

func getsysmem() (total, used, free uint64) {
	mem := sigar.Mem{}
	mem.Get()
	return mem.Total, mem.Used, mem.Free
}

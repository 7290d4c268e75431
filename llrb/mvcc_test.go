package llrb

import "bytes"
import "errors"
import "fmt"
import "reflect"
import "testing"

import s "github.com/bnclabs/gosettings"

import "github.com/bnclabs/mvccstore/api"

func TestMVCCEmpty(t *testing.T) {
	mvcc := NewMVCC("empty", nil)
	defer mvcc.Destroy()

	if mvcc.ID() != "empty" {
		t.Errorf("unexpected %v", mvcc.ID())
	}
	if mvcc.Count() != 0 {
		t.Errorf("unexpected %v", mvcc.Count())
	}
	if _, _, _, ok := mvcc.Get([]byte("missing"), nil); ok {
		t.Errorf("unexpected key")
	}

	mvcc.Validate()
	stats := mvcc.Stats()
	if x := stats["keymemory"].(int64); x != 0 {
		t.Errorf("unexpected %v", x)
	} else if x := stats["valmemory"].(int64); x != 0 {
		t.Errorf("unexpected %v", x)
	} else if x := stats["n_count"].(int64); x != 0 {
		t.Errorf("unexpected %v", x)
	} else if x := stats["n_inserts"].(int64); x != 0 {
		t.Errorf("unexpected %v", x)
	} else if x := stats["n_deletes"].(int64); x != 0 {
		t.Errorf("unexpected %v", x)
	} else if x := stats["n_nodes"].(int64); x != 0 {
		t.Errorf("unexpected %v", x)
	} else if x := stats["n_clones"].(int64); x != 0 {
		t.Errorf("unexpected %v", x)
	}
	mvcc.Log()
}

func TestMVCCSetGet(t *testing.T) {
	mvcc := NewMVCC("setget", nil)
	defer mvcc.Destroy()

	keys, vals := testkeyvalues(100)
	oldvalue := make([]byte, 1024)
	for i := range keys {
		var seqno uint64
		var err error
		oldvalue, seqno, err = mvcc.Set(keys[i], vals[i], oldvalue)
		if err != nil {
			t.Fatalf("unexpected %v", err)
		} else if seqno != uint64(i+1) {
			t.Errorf("unexpected %v, expected %v", seqno, i+1)
		} else if len(oldvalue) != 0 {
			t.Errorf("unexpected oldvalue %q", oldvalue)
		}
		mvcc.Validate()
	}
	if mvcc.Count() != int64(len(keys)) {
		t.Errorf("unexpected %v", mvcc.Count())
	}

	value := make([]byte, 1024)
	for i := range keys {
		var seqno uint64
		var deleted, ok bool
		value, seqno, deleted, ok = mvcc.Get(keys[i], value)
		if ok == false || deleted {
			t.Fatalf("missing %q", keys[i])
		} else if bytes.Compare(value, vals[i]) != 0 {
			t.Errorf("unexpected %q, expected %q", value, vals[i])
		} else if seqno != uint64(i+1) {
			t.Errorf("unexpected %v", seqno)
		}
	}

	// updates prepend a version and return the superseded value.
	oldvalue, seqno, err := mvcc.Set(keys[0], []byte("newvalue"), oldvalue)
	if err != nil {
		t.Fatalf("unexpected %v", err)
	} else if bytes.Compare(oldvalue, vals[0]) != 0 {
		t.Errorf("unexpected %q", oldvalue)
	} else if seqno != uint64(len(keys)+1) {
		t.Errorf("unexpected %v", seqno)
	}
	if mvcc.Count() != int64(len(keys)) {
		t.Errorf("unexpected %v", mvcc.Count())
	}
	mvcc.Validate()

	stats := mvcc.Stats()
	if x := stats["n_inserts"].(int64); x != int64(len(keys)) {
		t.Errorf("unexpected %v", x)
	} else if x := stats["n_updates"].(int64); x != 1 {
		t.Errorf("unexpected %v", x)
	}
}

func TestMVCCSnapshotIsolation(t *testing.T) {
	mvcc := NewMVCC("isolation", nil)
	defer mvcc.Destroy()

	if _, seqno, _ := mvcc.Set([]byte("key-a"), []byte("1"), nil); seqno != 1 {
		t.Errorf("unexpected %v", seqno)
	}
	if _, seqno, _ := mvcc.Set([]byte("key-b"), []byte("2"), nil); seqno != 2 {
		t.Errorf("unexpected %v", seqno)
	}

	view := mvcc.View(0x1234)
	if view.ID() != 0x1234 {
		t.Errorf("unexpected %v", view.ID())
	} else if view.Seqno() != 2 {
		t.Errorf("unexpected %v", view.Seqno())
	} else if view.Count() != 2 {
		t.Errorf("unexpected %v", view.Count())
	}

	if _, seqno, _ := mvcc.Set([]byte("key-a"), []byte("3"), nil); seqno != 3 {
		t.Errorf("unexpected %v", seqno)
	}

	// the pinned view still reads the old value.
	if value, seqno, _, ok := view.Get([]byte("key-a"), nil); ok == false {
		t.Errorf("missing key-a")
	} else if string(value) != "1" {
		t.Errorf("unexpected %q", value)
	} else if seqno != 1 {
		t.Errorf("unexpected %v", seqno)
	}
	// the latest read sees the new value.
	if value, seqno, _, ok := mvcc.Get([]byte("key-a"), nil); ok == false {
		t.Errorf("missing key-a")
	} else if string(value) != "3" {
		t.Errorf("unexpected %q", value)
	} else if seqno != 3 {
		t.Errorf("unexpected %v", seqno)
	}

	view.Release()
	mvcc.Validate()
}

func TestMVCCDelete(t *testing.T) {
	mvcc := NewMVCC("delete", nil) // tombstone mode by default
	defer mvcc.Destroy()

	keys, vals := testkeyvalues(50)
	for i := range keys {
		if _, _, err := mvcc.Set(keys[i], vals[i], nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}
	view := mvcc.View(1) // pinned before the deletes

	oldvalue := make([]byte, 1024)
	oldvalue, seqno, err := mvcc.Delete(keys[0], oldvalue)
	if err != nil {
		t.Fatalf("unexpected %v", err)
	} else if bytes.Compare(oldvalue, vals[0]) != 0 {
		t.Errorf("unexpected %q", oldvalue)
	} else if seqno != uint64(len(keys)+1) {
		t.Errorf("unexpected %v", seqno)
	}
	mvcc.Validate()

	if _, _, _, ok := mvcc.Get(keys[0], nil); ok {
		t.Errorf("unexpected key %q", keys[0])
	}
	// pinned view still sees the entry.
	if value, _, _, ok := view.Get(keys[0], nil); ok == false {
		t.Errorf("missing %q", keys[0])
	} else if bytes.Compare(value, vals[0]) != 0 {
		t.Errorf("unexpected %q", value)
	}
	if mvcc.Count() != int64(len(keys)-1) {
		t.Errorf("unexpected %v", mvcc.Count())
	}

	// deleting a missing or tombstoned key is a no-op.
	curr := mvcc.Getseqno()
	if _, _, err := mvcc.Delete([]byte("no-such-key"), nil); err != api.ErrorKeyMissing {
		t.Errorf("unexpected %v", err)
	}
	if _, _, err := mvcc.Delete(keys[0], nil); err != api.ErrorKeyMissing {
		t.Errorf("unexpected %v", err)
	}
	if x := mvcc.Getseqno(); x != curr {
		t.Errorf("unexpected %v, expected %v", x, curr)
	}

	// re-insert over the tombstone counts as an insert.
	if _, _, err := mvcc.Set(keys[0], []byte("reborn"), nil); err != nil {
		t.Fatalf("unexpected %v", err)
	}
	if value, _, _, ok := mvcc.Get(keys[0], nil); ok == false {
		t.Errorf("missing %q", keys[0])
	} else if string(value) != "reborn" {
		t.Errorf("unexpected %q", value)
	}
	if mvcc.Count() != int64(len(keys)) {
		t.Errorf("unexpected %v", mvcc.Count())
	}
	mvcc.Validate()

	view.Release()
}

func TestMVCCDeletePhysical(t *testing.T) {
	setts := s.Settings{"lsm": false}
	mvcc := NewMVCC("physical", setts)
	defer mvcc.Destroy()

	keys, vals := testkeyvalues(100)
	for i := range keys {
		if _, _, err := mvcc.Set(keys[i], vals[i], nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}

	for i := 0; i < len(keys); i += 2 {
		oldvalue, _, err := mvcc.Delete(keys[i], make([]byte, 0, 1024))
		if err != nil {
			t.Fatalf("unexpected %v", err)
		} else if bytes.Compare(oldvalue, vals[i]) != 0 {
			t.Errorf("unexpected %q", oldvalue)
		}
		mvcc.Validate()
	}
	if mvcc.Count() != int64(len(keys)/2) {
		t.Errorf("unexpected %v", mvcc.Count())
	}

	for i := range keys {
		_, _, _, ok := mvcc.Get(keys[i], nil)
		if i%2 == 0 && ok {
			t.Errorf("unexpected key %q", keys[i])
		} else if i%2 == 1 && ok == false {
			t.Errorf("missing key %q", keys[i])
		}
	}
	if _, _, err := mvcc.Delete(keys[0], nil); err != api.ErrorKeyMissing {
		t.Errorf("unexpected %v", err)
	}

	// drain the whole instance.
	for i := 1; i < len(keys); i += 2 {
		if _, _, err := mvcc.Delete(keys[i], nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
		mvcc.Validate()
	}
	if mvcc.Count() != 0 {
		t.Errorf("unexpected %v", mvcc.Count())
	}
	stats := mvcc.Stats()
	if x := stats["keymemory"].(int64); x != 0 {
		t.Errorf("unexpected %v", x)
	} else if x := stats["valmemory"].(int64); x != 0 {
		t.Errorf("unexpected %v", x)
	}
}

func TestMVCCCompactversions(t *testing.T) {
	mvcc := NewMVCC("compact", nil)
	defer mvcc.Destroy()

	key := []byte("key-versioned")
	for i := 1; i <= 10; i++ {
		value := []byte(fmt.Sprintf("value-%v", i))
		if _, _, err := mvcc.Set(key, value, nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}
	view := mvcc.View(1) // pinned at seqno 10

	for i := 11; i <= 15; i++ {
		value := []byte(fmt.Sprintf("value-%v", i))
		if _, _, err := mvcc.Set(key, value, nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}

	// drop history below the oldest pinned view.
	if dropped := mvcc.Compactversions(view.Seqno()); dropped != 9 {
		t.Errorf("unexpected %v", dropped)
	}
	mvcc.Validate()

	// the pinned view still answers.
	if value, seqno, _, ok := view.Get(key, nil); ok == false {
		t.Errorf("missing %q", key)
	} else if string(value) != "value-10" {
		t.Errorf("unexpected %q", value)
	} else if seqno != 10 {
		t.Errorf("unexpected %v", seqno)
	}
	if value, _, _, ok := mvcc.Get(key, nil); ok == false {
		t.Errorf("missing %q", key)
	} else if string(value) != "value-15" {
		t.Errorf("unexpected %q", value)
	}

	// nothing more to drop at the same watermark.
	if dropped := mvcc.Compactversions(view.Seqno()); dropped != 0 {
		t.Errorf("unexpected %v", dropped)
	}
	view.Release()
}

func TestMVCCLoad(t *testing.T) {
	mvcc := NewMVCC("loadsrc", nil)

	keys, vals := testkeyvalues(64)
	for i := range keys {
		if _, _, err := mvcc.Set(keys[i], vals[i], nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}
	mvcc.Delete(keys[0], nil)

	clone := LoadMVCC("loaddst", nil, mvcc.Scan())
	defer clone.Destroy()

	if clone.Count() != mvcc.Count() {
		t.Errorf("unexpected %v, expected %v", clone.Count(), mvcc.Count())
	} else if clone.Getseqno() != mvcc.Getseqno() {
		t.Errorf("unexpected %v", clone.Getseqno())
	}
	if reflect.DeepEqual(scanall(t, mvcc), scanall(t, clone)) == false {
		t.Errorf("scan mismatch after load")
	}
	clone.Validate()

	if err := mvcc.Destroy(); err != nil {
		t.Errorf("unexpected %v", err)
	}
}

func TestMVCCDestroy(t *testing.T) {
	mvcc := NewMVCC("destroy", nil)
	if _, _, err := mvcc.Set([]byte("key"), []byte("value"), nil); err != nil {
		t.Fatalf("unexpected %v", err)
	}

	view := mvcc.View(1)
	if err := mvcc.Destroy(); errors.Is(err, api.ErrorActiveSnapshots) == false {
		t.Errorf("unexpected %v", err)
	}
	view.Release()
	if err := mvcc.Destroy(); err != nil {
		t.Errorf("unexpected %v", err)
	}
	if _, _, err := mvcc.Set([]byte("key"), []byte("value"), nil); err != api.ErrorClosed {
		t.Errorf("unexpected %v", err)
	}
}

func TestViewDoubleRelease(t *testing.T) {
	mvcc := NewMVCC("doublerelease", nil)
	defer mvcc.Destroy()

	view := mvcc.View(1)
	view.Release()

	defer func() {
		if recover() == nil {
			t.Errorf("expected panic")
		}
	}()
	view.Release()
}

// testkeyvalues deterministic fixture, keys sort in generation order.
func testkeyvalues(n int) (keys, vals [][]byte) {
	keys, vals = make([][]byte, 0, n), make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key%05d", i)))
		vals = append(vals, []byte(fmt.Sprintf("val%05d", i)))
	}
	return keys, vals
}

type scanentry struct {
	key     string
	value   string
	seqno   uint64
	deleted bool
}

func scanall(t *testing.T, mvcc *MVCC) []scanentry {
	t.Helper()
	entries := []scanentry{}
	iter := mvcc.Scan()
	key, value, seqno, deleted, err := iter(false /*fin*/)
	for err == nil {
		entries = append(entries, scanentry{
			key: string(key), value: string(value),
			seqno: seqno, deleted: deleted,
		})
		key, value, seqno, deleted, err = iter(false /*fin*/)
	}
	return entries
}

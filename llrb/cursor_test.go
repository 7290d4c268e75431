package llrb

import "bytes"
import "fmt"
import "io"
import "sort"
import "testing"

func TestCursorFullRange(t *testing.T) {
	mvcc := NewMVCC("cursorfull", nil)
	defer mvcc.Destroy()

	keys, vals := shuffledkeyvalues(256)
	for i := range keys {
		if _, _, err := mvcc.Set(keys[i], vals[i], nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}
	expected := make([]string, 0, len(keys))
	for _, key := range keys {
		expected = append(expected, string(key))
	}
	sort.Strings(expected)

	view := mvcc.View(1)
	defer view.Release()

	cur, off := view.Range(nil, nil), 0
	key, value, seqno, err := cur.Next()
	for err == nil {
		if string(key) != expected[off] {
			t.Fatalf("unexpected %q, expected %q", key, expected[off])
		} else if bytes.HasSuffix(value, key[len(key)-5:]) == false {
			t.Errorf("unexpected %q for %q", value, key)
		} else if seqno == 0 || seqno > view.Seqno() {
			t.Errorf("unexpected %v", seqno)
		}
		off++
		key, value, seqno, err = cur.Next()
	}
	if err != io.EOF {
		t.Errorf("unexpected %v", err)
	} else if off != len(expected) {
		t.Errorf("unexpected %v, expected %v", off, len(expected))
	}
}

func TestCursorSubRange(t *testing.T) {
	mvcc := NewMVCC("cursorsub", nil)
	defer mvcc.Destroy()

	keys, vals := shuffledkeyvalues(200)
	for i := range keys {
		if _, _, err := mvcc.Set(keys[i], vals[i], nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}
	sorted := make([]string, 0, len(keys))
	for _, key := range keys {
		sorted = append(sorted, string(key))
	}
	sort.Strings(sorted)

	view := mvcc.View(1)
	defer view.Release()

	ranges := [][2]string{
		{sorted[10], sorted[50]},
		{"", sorted[20]},
		{sorted[150], ""},
		{sorted[60], sorted[60]}, // empty range, hi is exclusive
		{"zzzzzzzz", ""},         // beyond the largest key
	}
	for _, r := range ranges {
		var lo, hi []byte
		if r[0] != "" {
			lo = []byte(r[0])
		}
		if r[1] != "" {
			hi = []byte(r[1])
		}
		expected := []string{}
		for _, key := range sorted {
			if lo != nil && key < string(lo) {
				continue
			} else if hi != nil && key >= string(hi) {
				continue
			}
			expected = append(expected, key)
		}

		got := []string{}
		cur := view.Range(lo, hi)
		key, _, _, err := cur.Next()
		for err == nil {
			got = append(got, string(key))
			key, _, _, err = cur.Next()
		}
		if len(got) != len(expected) {
			t.Fatalf("range %q: %v entries, expected %v", r, len(got), len(expected))
		}
		for i := range got {
			if got[i] != expected[i] {
				t.Errorf("range %q: unexpected %q, expected %q", r, got[i], expected[i])
			}
		}
	}
}

func TestCursorSkipsTombstones(t *testing.T) {
	mvcc := NewMVCC("cursortomb", nil)
	defer mvcc.Destroy()

	keys, vals := testkeyvalues(40)
	for i := range keys {
		if _, _, err := mvcc.Set(keys[i], vals[i], nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}
	for i := 0; i < len(keys); i += 2 {
		if _, _, err := mvcc.Delete(keys[i], nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}

	view := mvcc.View(1)
	defer view.Release()

	// Range yields only live entries.
	n := 0
	cur := view.Range(nil, nil)
	key, _, _, err := cur.Next()
	for err == nil {
		if idx := indexofkey(keys, key); idx%2 == 0 {
			t.Errorf("unexpected tombstoned key %q", key)
		}
		n++
		key, _, _, err = cur.Next()
	}
	if n != len(keys)/2 {
		t.Errorf("unexpected %v", n)
	}

	// Scan yields tombstones with the deleted flag up.
	live, dead := 0, 0
	iter := view.Scan()
	_, _, _, deleted, err := iter(false /*fin*/)
	for err == nil {
		if deleted {
			dead++
		} else {
			live++
		}
		_, _, _, deleted, err = iter(false /*fin*/)
	}
	if live != len(keys)/2 || dead != len(keys)/2 {
		t.Errorf("unexpected %v live %v dead", live, dead)
	}
}

func TestCursorAbandon(t *testing.T) {
	mvcc := NewMVCC("cursorabandon", nil)

	keys, vals := testkeyvalues(100)
	for i := range keys {
		if _, _, err := mvcc.Set(keys[i], vals[i], nil); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}

	view := mvcc.View(1)
	cur := view.Range(nil, nil)
	for i := 0; i < 10; i++ {
		if _, _, _, err := cur.Next(); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}
	cur.Close() // abandon mid-scan
	if _, _, _, err := cur.Next(); err != io.EOF {
		t.Errorf("unexpected %v", err)
	}
	view.Release()

	// an abandoned full scan releases its own pin.
	iter := mvcc.Scan()
	if _, _, _, _, err := iter(false /*fin*/); err != nil {
		t.Fatalf("unexpected %v", err)
	}
	if _, _, _, _, err := iter(true /*fin*/); err != io.EOF {
		t.Errorf("unexpected %v", err)
	}
	if _, _, _, _, err := iter(false /*fin*/); err != io.EOF {
		t.Errorf("unexpected %v", err)
	}

	if err := mvcc.Destroy(); err != nil {
		t.Errorf("unexpected %v", err)
	}
}

// shuffledkeyvalues fixture keys in a deterministic but non-sorted
// insertion order.
func shuffledkeyvalues(n int) (keys, vals [][]byte) {
	keys, vals = make([][]byte, 0, n), make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		j := (i * 7919) % n
		keys = append(keys, []byte(fmt.Sprintf("key%05d", j)))
		vals = append(vals, []byte(fmt.Sprintf("val%05d", j)))
	}
	return keys, vals
}

func indexofkey(keys [][]byte, key []byte) int {
	for i := range keys {
		if bytes.Compare(keys[i], key) == 0 {
			return i
		}
	}
	return -1
}

package llrb

import "testing"

func testnode(key string) *Llrbnode {
	nd := &Llrbnode{key: []byte(key)}
	nd.setdirty().setred()
	return nd
}

func TestNodeVersionChain(t *testing.T) {
	nd := testnode("key1")
	nd.prependversion(10, []byte("ten"), false)
	nd.prependversion(20, []byte("twenty"), false)
	nd.prependversion(30, nil, true) // tombstone

	if x := nd.nversions(); x != 3 {
		t.Errorf("unexpected %v", x)
	} else if x := nd.getseqno(); x != 30 {
		t.Errorf("unexpected %v", x)
	} else if nd.isdeleted() == false {
		t.Errorf("expected tombstone at head")
	} else if x := nd.chainmemory(); x != int64(len("ten")+len("twenty")) {
		t.Errorf("unexpected %v", x)
	}

	// versionat picks the newest version <= the queried seqno.
	if ver := nd.versionat(9); ver != nil {
		t.Errorf("unexpected %v", ver.seqno)
	}
	if ver := nd.versionat(10); ver == nil || string(ver.value) != "ten" {
		t.Errorf("unexpected %v", ver)
	}
	if ver := nd.versionat(25); ver == nil || string(ver.value) != "twenty" {
		t.Errorf("unexpected %v", ver)
	}
	if ver := nd.versionat(100); ver == nil || ver.deleted == false {
		t.Errorf("unexpected %v", ver)
	}
}

func TestNodeCompactversions(t *testing.T) {
	nd := testnode("key1")
	for i := 1; i <= 10; i++ {
		nd.prependversion(uint64(i*10), []byte("v"), false)
	}

	// keep the newest version <= 55, which is seqno 50, drop 10..40.
	if dropped, bytes := nd.compactversions(55); dropped != 4 {
		t.Errorf("unexpected %v", dropped)
	} else if bytes != 4 {
		t.Errorf("unexpected %v", bytes)
	}
	if x := nd.nversions(); x != 6 {
		t.Errorf("unexpected %v", x)
	}
	if ver := nd.versionat(55); ver == nil || ver.seqno != 50 {
		t.Errorf("unexpected %v", ver)
	}
	if ver := nd.versionat(49); ver != nil {
		t.Errorf("unexpected %v", ver.seqno)
	}

	// watermark below the whole chain drops nothing.
	if dropped, _ := nd.compactversions(5); dropped != 0 {
		t.Errorf("unexpected %v", dropped)
	}
}

func TestNodePrependRegression(t *testing.T) {
	nd := testnode("key1")
	nd.prependversion(10, []byte("ten"), false)

	defer func() {
		if recover() == nil {
			t.Errorf("expected panic")
		}
	}()
	nd.prependversion(10, []byte("again"), false)
}

func TestNodePrependPublished(t *testing.T) {
	nd := testnode("key1")
	nd.prependversion(10, []byte("ten"), false)
	nd.cleardirty()

	defer func() {
		if recover() == nil {
			t.Errorf("expected panic")
		}
	}()
	nd.prependversion(20, []byte("twenty"), false)
}

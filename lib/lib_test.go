package lib

import "testing"

func TestFixbuffer(t *testing.T) {
	buf := Fixbuffer(nil, 10)
	if len(buf) != 10 {
		t.Errorf("unexpected %v", len(buf))
	}
	if buf = Fixbuffer(buf, 5); len(buf) != 5 || cap(buf) != 10 {
		t.Errorf("unexpected %v %v", len(buf), cap(buf))
	}
	if buf = Fixbuffer(buf, 100); len(buf) != 100 {
		t.Errorf("unexpected %v", len(buf))
	}
	if buf = Fixbuffer(buf, 0); len(buf) != 0 {
		t.Errorf("unexpected %v", len(buf))
	}
}

func TestAbsInt64(t *testing.T) {
	if x := AbsInt64(10); x != 10 {
		t.Errorf("unexpected %v", x)
	}
	if x := AbsInt64(-10); x != 10 {
		t.Errorf("unexpected %v", x)
	}
	if x := AbsInt64(0); x != 0 {
		t.Errorf("unexpected %v", x)
	}
}

func TestPrettystats(t *testing.T) {
	stats := map[string]interface{}{"n_count": 10}
	if s := Prettystats(stats, false); s != `{"n_count":10}` {
		t.Errorf("unexpected %v", s)
	}
	if s := Prettystats(stats, true); len(s) == 0 {
		t.Errorf("unexpected %v", s)
	}
}

func TestHistogramInt64(t *testing.T) {
	h := NewhistorgramInt64(1, 256, 8)
	for i := int64(0); i < 512; i++ {
		h.Add(i)
	}
	if x := h.Samples(); x != 512 {
		t.Errorf("unexpected %v", x)
	}
	if x := h.Min(); x != 0 {
		t.Errorf("unexpected %v", x)
	}
	if x := h.Max(); x != 511 {
		t.Errorf("unexpected %v", x)
	}
	if x := h.Mean(); x != 255 {
		t.Errorf("unexpected %v", x)
	}
	if x := h.Sum(); x != 512*511/2 {
		t.Errorf("unexpected %v", x)
	}
	newh := h.Clone()
	if x, y := newh.Samples(), newh.Mean(); x != 512 || y != 255 {
		t.Errorf("unexpected %v %v", x, y)
	}
	stats := h.Fullstats()
	if x := stats["samples"].(int64); x != 512 {
		t.Errorf("unexpected %v", x)
	}
}

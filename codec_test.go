package ckptdb

import "testing"

func TestGobCodecRoundTrip(t *testing.T) {
	var c GobCodec
	values := map[uint32][]float64{
		1: {1.0, 2.0},
		2: {3.0},
	}
	data, err := c.Pack(values)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := c.Unpack(data)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(got) != len(values) {
		t.Fatalf("got %d keys, want %d", len(got), len(values))
	}
	for k, v := range values {
		gv, ok := got[k]
		if !ok {
			t.Fatalf("missing key %d after roundtrip", k)
		}
		if len(gv) != len(v) {
			t.Fatalf("key %d: got %v, want %v", k, gv, v)
		}
		for i := range v {
			if gv[i] != v[i] {
				t.Fatalf("key %d: got %v, want %v", k, gv, v)
			}
		}
	}
}

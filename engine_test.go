package ckptdb

import (
	"path/filepath"
	"testing"
)

func testOptions() *Options {
	opts := DefaultOptions()
	// A zero threshold disables both the small-write skip and the
	// per-candidate overlap-fraction gate, so any overlap at all is
	// extracted — tests exercise the background pass eagerly.
	opts.ExtractThreshold = 0
	return opts
}

func TestJoinAndGetVersionRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	e, err := Open(dir, testOptions(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	values := map[uint32][]float64{1: {1.0}, 2: {2.0}, 3: {3.0}}
	col, err := e.Join(values)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if col != 0 {
		t.Fatalf("got column %d, want 0", col)
	}

	got, err := e.GetVersion(0)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d keys, want 3", len(got))
	}
	if got[1][0] != 1.0 || got[2][0] != 2.0 || got[3][0] != 3.0 {
		t.Fatalf("got %+v", got)
	}
}

func TestExtractionFoldsOverlappingKeysForward(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	e, err := Open(dir, testOptions(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if _, err := e.Join(map[uint32][]float64{1: {1}, 2: {2}, 3: {3}}); err != nil {
		t.Fatalf("join 0: %v", err)
	}
	// column 1 shares only key 2 with column 0, with a new value for it.
	if _, err := e.Join(map[uint32][]float64{2: {22}, 4: {4}}); err != nil {
		t.Fatalf("join 1: %v", err)
	}

	v0, err := e.GetVersion(0)
	if err != nil {
		t.Fatalf("GetVersion(0): %v", err)
	}
	if v0[1][0] != 1 || v0[2][0] != 2 || v0[3][0] != 3 {
		t.Fatalf("old version must keep its own values: %+v", v0)
	}

	v1, err := e.GetVersion(1)
	if err != nil {
		t.Fatalf("GetVersion(1): %v", err)
	}
	want := map[uint32]float64{1: 1, 2: 22, 3: 3, 4: 4}
	if len(v1) != len(want) {
		t.Fatalf("got %d keys, want %d: %+v", len(v1), len(want), v1)
	}
	for k, wv := range want {
		if v1[k][0] != wv {
			t.Fatalf("key %d: got %v, want %v", k, v1[k], wv)
		}
	}
}

func TestThresholdSkipsLowOverlapCandidate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	opts := testOptions()
	opts.ExtractThreshold = 0.5
	e, err := Open(dir, opts, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	base0 := map[uint32][]float64{1: {1}, 2: {2}, 3: {3}, 4: {4}}
	if _, err := e.Join(base0); err != nil {
		t.Fatalf("join 0: %v", err)
	}

	// A new snapshot of 101 keys (clears the >100 small-write skip) that
	// overlaps column 0 in only key 1: 1 <= 0.5*101 (the base snapshot's key
	// count), so the per-candidate re-check must discard the extraction,
	// leaving column 0 untouched.
	join1 := map[uint32][]float64{1: {11}}
	for k := uint32(1000); k < 1100; k++ {
		join1[k] = []float64{float64(k)}
	}
	if _, err := e.Join(join1); err != nil {
		t.Fatalf("join 1: %v", err)
	}

	v0, err := e.GetVersion(0)
	if err != nil {
		t.Fatalf("GetVersion(0): %v", err)
	}
	want := map[uint32]float64{1: 1, 2: 2, 3: 3, 4: 4}
	if len(v0) != len(want) {
		t.Fatalf("got %d keys, want %d: %+v", len(v0), len(want), v0)
	}
	for k, wv := range want {
		if v0[k][0] != wv {
			t.Fatalf("column 0 must be unchanged by the discarded overlap: key %d got %v, want %v", k, v0[k], wv)
		}
	}
}

func TestGetCheckpointFilesOutOfRange(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	e, err := Open(dir, testOptions(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if _, err := e.GetCheckpointFiles(0); err == nil {
		t.Fatalf("expected an error reading from an empty store")
	}
}

func TestCloseRejectsFurtherJoins(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	e, err := Open(dir, testOptions(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := e.Join(map[uint32][]float64{1: {1}}); err != ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}

func TestReopenRecoversFromManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	e, err := Open(dir, testOptions(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.Join(map[uint32][]float64{1: {1}, 2: {2}}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := e.Join(map[uint32][]float64{2: {22}, 3: {3}}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, testOptions(), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	v1, err := reopened.GetVersion(1)
	if err != nil {
		t.Fatalf("GetVersion(1) after reopen: %v", err)
	}
	if v1[1][0] != 1 || v1[2][0] != 22 || v1[3][0] != 3 {
		t.Fatalf("got %+v after recovery", v1)
	}
}

func TestDeleteCheckpointsBefore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	e, err := Open(dir, testOptions(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	for i := 0; i < 3; i++ {
		if _, err := e.Join(map[uint32][]float64{uint32(i): {float64(i)}}); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if err := e.DeleteCheckpointsBefore(0); err != nil {
		t.Fatalf("DeleteCheckpointsBefore: %v", err)
	}
	// Column 1 has one child, so column 0 keeps its only (level-0) fragment:
	// versions 1 and 2 still need it, and no file is removed.
	if v0, err := e.GetVersion(0); err != nil || len(v0) != 1 || len(v0[0]) != 1 || v0[0][0] != 0 {
		t.Fatalf("version 0 should keep its level-0 fragment, got %+v (err %v)", v0, err)
	}
	if _, err := e.GetVersion(2); err != nil {
		t.Fatalf("version 2 should still be reachable: %v", err)
	}
}

func TestDoConcatSharesPhysicalFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	opts := testOptions()
	opts.DoConcat = true
	e, err := Open(dir, opts, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if _, err := e.Join(map[uint32][]float64{1: {1}, 2: {2}}); err != nil {
		t.Fatalf("join 0: %v", err)
	}
	if _, err := e.Join(map[uint32][]float64{1: {11}}); err != nil {
		t.Fatalf("join 1: %v", err)
	}

	v1, err := e.GetVersion(1)
	if err != nil {
		t.Fatalf("GetVersion(1): %v", err)
	}
	if v1[1][0] != 11 || v1[2][0] != 2 {
		t.Fatalf("got %+v", v1)
	}
}

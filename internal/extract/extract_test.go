package extract

import (
	"reflect"
	"testing"

	"github.com/ckptdb/ckptdb/internal/bloom"
)

func TestSplitOverlap(t *testing.T) {
	base := []uint32{2, 4, 6}
	candidate := map[uint32][]float64{
		1: {1},
		2: {2},
		4: {4},
		5: {5},
	}
	extracted, retained := SplitOverlap(base, candidate)

	wantExtracted := map[uint32][]float64{2: {2}, 4: {4}}
	wantRetained := map[uint32][]float64{1: {1}, 5: {5}}
	if !reflect.DeepEqual(extracted, wantExtracted) {
		t.Fatalf("extracted = %+v, want %+v", extracted, wantExtracted)
	}
	if !reflect.DeepEqual(retained, wantRetained) {
		t.Fatalf("retained = %+v, want %+v", retained, wantRetained)
	}
}

func TestSplitOverlapNoOverlap(t *testing.T) {
	base := []uint32{100, 200}
	candidate := map[uint32][]float64{1: {1}, 2: {2}}
	extracted, retained := SplitOverlap(base, candidate)
	if len(extracted) != 0 {
		t.Fatalf("expected no extracted keys, got %+v", extracted)
	}
	if len(retained) != 2 {
		t.Fatalf("expected all keys retained, got %+v", retained)
	}
}

func TestSortedKeysAndKeyRange(t *testing.T) {
	values := map[uint32][]float64{5: {1}, 1: {2}, 3: {3}}
	keys := SortedKeys(values)
	want := []uint32{1, 3, 5}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	smallest, largest := KeyRange(keys)
	if smallest != 1 || largest != 5 {
		t.Fatalf("got range [%d,%d], want [1,5]", smallest, largest)
	}
}

func TestBloomPrecheck(t *testing.T) {
	policy := bloom.NewPolicy(bloom.DefaultBitsPerKey)
	filter := policy.CreateFilter([]uint32{10, 20, 30})

	if !BloomPrecheck([]uint32{5, 20}, filter) {
		t.Fatalf("expected precheck to find key 20 in filter")
	}
	if BloomPrecheck([]uint32{1000, 2000, 3000}, filter) {
		t.Fatalf("expected no match for keys absent from the filter")
	}
}

func TestShouldExtractSkipsSmallWrites(t *testing.T) {
	opts := Options{ExtractThreshold: 0.5}
	if ShouldExtract(100, opts) {
		t.Fatalf("100 keys with a positive threshold must be skipped")
	}
	if !ShouldExtract(101, opts) {
		t.Fatalf("101 keys with a positive threshold must proceed")
	}
}

func TestShouldExtractIgnoresSizeWhenThresholdIsZero(t *testing.T) {
	opts := Options{ExtractThreshold: 0}
	if !ShouldExtract(1, opts) {
		t.Fatalf("a zero threshold must never skip on size alone")
	}
}

func TestShouldExtractCandidateThresholds(t *testing.T) {
	opts := Options{ExtractThreshold: 0.5}
	// S4: base size 4, extracted 1 -> 1 <= 0.5*4 -> discard.
	if ShouldExtractCandidate(1, 4, opts) {
		t.Fatalf("1/4 overlap must not clear a 0.5 threshold")
	}
	// base size 4, extracted 3 -> 3 > 0.5*4 -> accept.
	if !ShouldExtractCandidate(3, 4, opts) {
		t.Fatalf("3/4 overlap must clear a 0.5 threshold")
	}
	// zero threshold: any non-empty extraction is accepted.
	if !ShouldExtractCandidate(1, 100, Options{ExtractThreshold: 0}) {
		t.Fatalf("a zero threshold must accept any non-empty extraction")
	}
	if ShouldExtractCandidate(0, 100, Options{ExtractThreshold: 0}) {
		t.Fatalf("an empty extraction must never be accepted")
	}
}

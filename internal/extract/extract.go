// Package extract implements the pure, file-I/O-free parts of overlap
// extraction: the bloom-filter pre-screen and the two-pointer merge that
// splits a candidate column's keys into the portion absorbed by a newer
// base snapshot and the portion it keeps. The engine package wires these
// against actual fragment files, the codec, and the version index.
package extract

import (
	"sort"

	"github.com/ckptdb/ckptdb/internal/bloom"
)

// Options controls the two threshold checks used by a single
// join-then-extract pass.
type Options struct {
	// ExtractThreshold is the overlap fraction a candidate must exceed
	// (extracted keys > ExtractThreshold × base key count) for its split to
	// be installed. Any positive value also makes ShouldExtract skip
	// snapshots of 100 keys or fewer.
	ExtractThreshold float32
	// DoConcat requests that every candidate's extracted/retained split be
	// appended into one pair of physical files for the whole pass rather
	// than one file pair per candidate.
	DoConcat bool
}

// ShouldExtract is the global pre-check run once per background pass,
// before any candidate is examined: if extraction is gated by a positive
// threshold and the newly joined snapshot is small (100 keys or fewer),
// extraction is skipped entirely to avoid file churn for small writes.
func ShouldExtract(newKeyCount int, opts Options) bool {
	if opts.ExtractThreshold > 0 && newKeyCount <= 100 {
		return false
	}
	return true
}

// ShouldExtractCandidate is the post-split per-candidate re-check: a
// candidate's output is only installed if the count of keys actually
// extracted exceeds extract_thres times the base snapshot's key count.
// Candidates whose overlap doesn't clear that bar keep their keys in
// full at level 0, as if nothing had been extracted.
func ShouldExtractCandidate(extractedCount, baseSize int, opts Options) bool {
	return float32(extractedCount) > opts.ExtractThreshold*float32(baseSize)
}

// BloomPrecheck reports whether any of baseKeys might be present in a
// candidate covered by filter, without decoding the candidate's payload.
// A false result means the candidate is known not to overlap base and can
// be skipped outright; a true result only means the candidate is worth the
// cost of decoding and running SplitOverlap against.
func BloomPrecheck(baseKeys []uint32, filter []byte) bool {
	for _, k := range baseKeys {
		if bloom.KeyMayMatch(k, filter) {
			return true
		}
	}
	return false
}

// SplitOverlap partitions candidate's (key -> row) map into the subset
// whose keys are present in the sorted, deduplicated baseKeys (extracted,
// now redundant because the base snapshot already has the current value)
// and the subset whose keys are not (retained, the candidate still owns
// them). It is a single left-to-right merge over both sorted key sets, the
// Go counterpart of the original two-pointer overlap scan.
func SplitOverlap(baseKeys []uint32, candidate map[uint32][]float64) (extracted, retained map[uint32][]float64) {
	candKeys := make([]uint32, 0, len(candidate))
	for k := range candidate {
		candKeys = append(candKeys, k)
	}
	sort.Slice(candKeys, func(i, j int) bool { return candKeys[i] < candKeys[j] })

	extracted = make(map[uint32][]float64)
	retained = make(map[uint32][]float64)

	i, j := 0, 0
	for i < len(baseKeys) && j < len(candKeys) {
		switch {
		case baseKeys[i] < candKeys[j]:
			i++
		case baseKeys[i] > candKeys[j]:
			retained[candKeys[j]] = candidate[candKeys[j]]
			j++
		default:
			extracted[candKeys[j]] = candidate[candKeys[j]]
			i++
			j++
		}
	}
	for ; j < len(candKeys); j++ {
		retained[candKeys[j]] = candidate[candKeys[j]]
	}
	return extracted, retained
}

// SortedKeys returns the sorted, deduplicated key set of a value map, the
// form SplitOverlap and BloomPrecheck expect for the base side of a merge.
func SortedKeys(values map[uint32][]float64) []uint32 {
	keys := make([]uint32, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// KeyRange returns the smallest and largest key in keys. Callers must pass
// a non-empty slice.
func KeyRange(keys []uint32) (smallest, largest uint32) {
	smallest, largest = keys[0], keys[0]
	for _, k := range keys[1:] {
		if k < smallest {
			smallest = k
		}
		if k > largest {
			largest = k
		}
	}
	return smallest, largest
}

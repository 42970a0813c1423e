// Package ckptdb implements an incremental checkpoint storage engine for
// versioned embedding-table snapshots: every Join appends a new version
// ("column"); a background pass folds each new snapshot's keys out of
// older, still-overlapping columns ("extraction"), so reconstructing any
// past version only ever replays the fragments actually needed for it.
package ckptdb

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/ckptdb/ckptdb/internal/bloom"
	"github.com/ckptdb/ckptdb/internal/extract"
	"github.com/ckptdb/ckptdb/internal/filemeta"
	"github.com/ckptdb/ckptdb/internal/fileutil"
	"github.com/ckptdb/ckptdb/internal/manifest"
	"github.com/ckptdb/ckptdb/internal/versionindex"
	"github.com/ckptdb/ckptdb/internal/xlog"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

// Engine is one checkpoint store. It owns a directory containing fragment
// files, a manifest log, and an in-memory version index rebuilt from that
// log on Open. All exported methods are safe for concurrent use.
type Engine struct {
	dir    string
	opts   *Options
	codec  Codec
	policy *bloom.Policy
	log    xlog.Logger

	idx  *versionindex.Index
	man  *manifest.Manifest
	lock *flock.Flock

	mu     sync.RWMutex
	closed bool

	jobs chan *joinJob
	wg   sync.WaitGroup
}

type joinJob struct {
	column   uint32
	baseKeys []uint32
	done     chan error
}

// Open opens (or creates) a store rooted at dir, replaying its manifest to
// rebuild the version index. opts may be nil for DefaultOptions(). codec
// may be nil for GobCodec{}.
func Open(dir string, opts *Options, codec Codec) (*Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.setDefaults()
	if codec == nil {
		codec = GobCodec{}
	}
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("ckptdb: create %s: %w", dir, err)
	}
	lock, err := fileutil.Lock(dir)
	if err != nil {
		return nil, fmt.Errorf("ckptdb: %w", err)
	}

	builder := versionindex.NewBuilder()
	man, err := manifest.Open(dir, builder)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("ckptdb: %w: %v", ErrCorruptManifest, err)
	}
	idx, err := builder.Build()
	if err != nil {
		man.Close()
		lock.Unlock()
		return nil, fmt.Errorf("ckptdb: %w: %v", ErrCorruptManifest, err)
	}

	e := &Engine{
		dir:    dir,
		opts:   opts,
		codec:  codec,
		policy: bloom.NewPolicy(opts.BitsPerKey),
		log:    opts.Logger,
		idx:    idx,
		man:    man,
		lock:   lock,
		jobs:   make(chan *joinJob, 1),
	}
	e.wg.Add(1)
	go e.worker()

	column, ok := idx.HeadColumn()
	if ok {
		e.log.Info("opened checkpoint store", "dir", dir, "head_column", column)
	} else {
		e.log.Info("opened checkpoint store", "dir", dir, "empty", true)
	}
	return e, nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for job := range e.jobs {
		err := e.runExtraction(job.column, job.baseKeys)
		if err != nil {
			e.log.Crit("background extraction failed", "column", job.column, "err", err)
		}
		job.done <- err
	}
}

// Join writes values as the newest version and blocks until the
// background extraction pass it triggers has completed.
func (e *Engine) Join(values map[uint32][]float64) (column uint32, err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}

	keys := extract.SortedKeys(values)
	payload, err := e.codec.Pack(values)
	if err != nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("ckptdb: pack join payload: %w", err)
	}
	var smallest, largest uint32
	if len(keys) > 0 {
		smallest, largest = extract.KeyRange(keys)
	}
	filterBytes := e.policy.CreateFilter(keys)
	number := e.idx.NextFileNumber()

	if err := writeFragmentFile(fileutil.MakeFileName(e.dir, number), payload, filterBytes); err != nil {
		e.mu.Unlock()
		return 0, err
	}

	desc := &filemeta.Descriptor{
		Tag:          filemeta.TagNew,
		Start:        0,
		Length:       uint64(len(payload)),
		Level:        0,
		Number:       number,
		Smallest:     smallest,
		Largest:      largest,
		FilterStart:  uint64(len(payload)),
		FilterLength: uint64(len(filterBytes)),
	}
	e.idx.AddL0Node(desc)
	if err := e.man.AppendDescriptor(desc); err != nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("ckptdb: append manifest record: %w", err)
	}

	e.opts.WriteMeter.Mark(int64(len(payload) + len(filterBytes)))
	e.opts.SizeGauge.Inc(int64(len(payload) + len(filterBytes)))
	column = desc.Column
	e.log.Info("joined version", "column", column, "keys", len(values), "bytes", len(payload))

	// e.mu stays held until the extraction pass finishes, so a concurrent
	// Join or Close waits for this Join's worker.
	job := &joinJob{column: column, baseKeys: keys, done: make(chan error, 1)}
	e.jobs <- job
	err = <-job.done
	e.mu.Unlock()
	return column, err
}

// runExtraction is the background half of Join: it screens every older
// overlapping column's filter against baseKeys, splits the ones worth
// splitting, installs the results into the version index, and — only if
// anything actually changed — rewrites the manifest from the index's
// current state.
func (e *Engine) runExtraction(column uint32, baseKeys []uint32) error {
	if !extract.ShouldExtract(len(baseKeys), extract.Options{ExtractThreshold: e.opts.ExtractThreshold}) {
		return nil
	}
	candidates := e.idx.GetOverlappedFilesL0()
	if len(candidates) == 0 {
		return nil
	}

	splits, err := e.splitCandidates(candidates, baseKeys)
	if err != nil {
		return err
	}

	var changed bool
	processed := make(map[uint32]struct{})
	var extractedKeys, candidatesAccepted int

	var concat *concatWriter
	if e.opts.DoConcat {
		concat = newConcatWriter(e)
	}
	defer func() {
		if concat != nil {
			concat.close()
		}
	}()

	// Index mutation stays single-threaded and in candidate order: each
	// ExtractOneChild/ReplaceL0Node pair must be applied against the index
	// state left by the previous one.
	for _, s := range splits {
		if s == nil {
			continue
		}
		extractedDesc, retainedDesc, err := e.installExtractionResult(s.cand, s.extracted, s.retained, concat)
		if err != nil {
			return err
		}
		if !e.idx.ExtractOneChild(extractedDesc, s.cand.Column) {
			return fmt.Errorf("ckptdb: extract one child: %w: column %d", ErrNotFound, s.cand.Column)
		}
		if !e.idx.ReplaceL0Node(retainedDesc, s.cand.Column) {
			return fmt.Errorf("ckptdb: replace l0 node: %w: column %d", ErrNotFound, s.cand.Column)
		}

		processed[s.cand.Column] = struct{}{}
		changed = true
		candidatesAccepted++
		extractedKeys += len(s.extracted)
	}

	if changed {
		e.idx.MoveOtherToDeeper(processed)
		e.opts.ExtractMeter.Mark(int64(extractedKeys))
		e.log.Info("background extraction complete", "column", column,
			"candidates", len(candidates), "accepted", candidatesAccepted, "keys_extracted", extractedKeys)
		if err := e.rewriteManifest(); err != nil {
			return err
		}
	}
	return e.maybeMerge()
}

// candidateSplit is the read-and-decode-only outcome of screening one L0
// candidate against baseKeys. A nil entry means the candidate was rejected
// by the bloom precheck, the per-candidate threshold, or had no overlap.
type candidateSplit struct {
	cand      *filemeta.Descriptor
	extracted map[uint32][]float64
	retained  map[uint32][]float64
}

// splitCandidates screens and decodes every candidate concurrently — each
// candidate's filter/payload read and SplitOverlap computation is
// independent of every other's — then returns the outcomes in the same
// order as candidates so runExtraction can apply the index mutations
// single-threaded and deterministically.
func (e *Engine) splitCandidates(candidates []*filemeta.Descriptor, baseKeys []uint32) ([]*candidateSplit, error) {
	results := make([]*candidateSplit, len(candidates))

	var workers errgroup.Group
	workers.SetLimit(runtime.GOMAXPROCS(0))
	for i, cand := range candidates {
		workers.Go(func() error {
			filterBytes, err := e.readFragmentSlice(cand.Number, cand.FilterStart, cand.FilterLength)
			if err != nil {
				return err
			}
			if !extract.BloomPrecheck(baseKeys, filterBytes) {
				return nil
			}
			payload, err := e.readFragmentSlice(cand.Number, cand.Start, cand.Length)
			if err != nil {
				return err
			}
			e.opts.ReadMeter.Mark(int64(len(payload)))
			values, err := e.codec.Unpack(payload)
			if err != nil {
				return fmt.Errorf("ckptdb: unpack candidate %d: %w", cand.Number, err)
			}
			extracted, retained := extract.SplitOverlap(baseKeys, values)
			if !extract.ShouldExtractCandidate(len(extracted), len(baseKeys), extract.Options{ExtractThreshold: e.opts.ExtractThreshold}) {
				return nil
			}
			results[i] = &candidateSplit{cand: cand, extracted: extracted, retained: retained}
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// installExtractionResult writes the extracted/retained payloads (either to
// fresh files, or appended into the pass's shared do_concat files) and
// returns the two descriptors to install in place of cand.
func (e *Engine) installExtractionResult(cand *filemeta.Descriptor, extracted, retained map[uint32][]float64, concat *concatWriter) (extractedDesc, retainedDesc *filemeta.Descriptor, err error) {
	extractedPayload, err := e.codec.Pack(extracted)
	if err != nil {
		return nil, nil, fmt.Errorf("ckptdb: pack extracted split: %w", err)
	}
	retainedPayload, err := e.codec.Pack(retained)
	if err != nil {
		return nil, nil, fmt.Errorf("ckptdb: pack retained split: %w", err)
	}
	extractedFilter := e.policy.CreateFilter(extract.SortedKeys(extracted))
	retainedFilter := e.policy.CreateFilter(extract.SortedKeys(retained))

	if concat != nil {
		eDesc, err := concat.appendExtracted(extractedPayload, extractedFilter, cand.Level+1, cand.Column, extracted)
		if err != nil {
			return nil, nil, err
		}
		rDesc, err := concat.appendRetained(retainedPayload, retainedFilter, cand.Level, cand.Column, retained)
		if err != nil {
			return nil, nil, err
		}
		e.deleteSupersededFragment(cand)
		return eDesc, rDesc, nil
	}

	eNum := e.idx.NextFileNumber()
	if err := writeFragmentFile(fileutil.MakeFileName(e.dir, eNum), extractedPayload, extractedFilter); err != nil {
		return nil, nil, err
	}
	eSmallest, eLargest := rangeOf(extracted)
	eDesc := &filemeta.Descriptor{
		Tag: filemeta.TagNew, Number: eNum, Level: cand.Level + 1, Column: cand.Column,
		Start: 0, Length: uint64(len(extractedPayload)), Smallest: eSmallest, Largest: eLargest,
		FilterStart: uint64(len(extractedPayload)), FilterLength: uint64(len(extractedFilter)),
	}

	rNum := e.idx.NextFileNumber()
	if err := writeFragmentFile(fileutil.MakeFileName(e.dir, rNum), retainedPayload, retainedFilter); err != nil {
		return nil, nil, err
	}
	rSmallest, rLargest := rangeOf(retained)
	rDesc := &filemeta.Descriptor{
		Tag: filemeta.TagNew, Number: rNum, Level: cand.Level, Column: cand.Column,
		Start: 0, Length: uint64(len(retainedPayload)), Smallest: rSmallest, Largest: rLargest,
		FilterStart: uint64(len(retainedPayload)), FilterLength: uint64(len(retainedFilter)),
	}

	e.deleteSupersededFragment(cand)
	return eDesc, rDesc, nil
}

// deleteSupersededFragment retires cand's backing file now that its keys
// have been split into fresh extracted/retained descriptors. A standalone
// (NEW) input is simply unlinked. A MERGED input shares its physical file
// with other live descriptors, so it is only unlinked once its MergedRef
// count drops to zero.
func (e *Engine) deleteSupersededFragment(cand *filemeta.Descriptor) {
	if cand.Tag == filemeta.TagMerged {
		if e.idx.AdjustMergedRef(cand.Number, -1) > 0 {
			return
		}
	}
	if err := fileutil.DeleteFile(fileutil.MakeFileName(e.dir, cand.Number)); err != nil {
		e.log.Warn("failed to delete superseded fragment", "number", cand.Number, "err", err)
	}
}

func rangeOf(values map[uint32][]float64) (smallest, largest uint32) {
	if len(values) == 0 {
		return 0, 0
	}
	return extract.KeyRange(extract.SortedKeys(values))
}

// maybeMerge runs ShouldMerge/MergeColumns and, if any groups come back,
// concatenates each group's files into one physical file per depth,
// replacing the group's descriptors with a single MERGED-tagged one.
func (e *Engine) maybeMerge() error {
	start, end, ok := e.idx.ShouldMerge(e.opts.MergeLength)
	if !ok {
		return nil
	}
	groups, err := e.idx.MergeColumns(start, end)
	if err != nil {
		return fmt.Errorf("ckptdb: merge columns %d..%d: %w", start, end, err)
	}
	if len(groups) == 0 {
		return nil
	}
	return e.mergeGroups(start, end, groups)
}

func (e *Engine) rewriteManifest() error {
	descs, refs := e.idx.Snapshot()
	if err := e.man.Rewrite(manifest.Snapshot{Descriptors: descs, MergedRefs: refs}); err != nil {
		return fmt.Errorf("ckptdb: rewrite manifest: %w", err)
	}
	return nil
}

// GetCheckpointFiles returns the ordered (file number, byte start, byte
// length) triples needed to reconstruct version. Reconstruction reads each
// file's [start,start+length) slice, unpacks it, and lets later (deeper)
// entries fill in only the keys earlier entries didn't already supply.
func (e *Engine) GetCheckpointFiles(version uint32) ([]*filemeta.Descriptor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	descs, err := e.idx.GetVersion(version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return descs, nil
}

// GetVersion reconstructs version by reading and unpacking every fragment
// GetCheckpointFiles names, applying the FLAG/DELETED-skip rule and letting
// the base (depth 0) values win over deeper, extracted-from duplicates.
func (e *Engine) GetVersion(version uint32) (map[uint32][]float64, error) {
	descs, err := e.GetCheckpointFiles(version)
	if err != nil {
		return nil, err
	}
	result := make(map[uint32][]float64)
	for _, d := range descs {
		if d.Tag == filemeta.TagFlag || d.Tag == filemeta.TagDeleted {
			continue
		}
		payload, err := e.readFragmentSlice(d.Number, d.Start, d.Length)
		if err != nil {
			return nil, err
		}
		values, err := e.codec.Unpack(payload)
		if err != nil {
			return nil, fmt.Errorf("ckptdb: unpack fragment %d: %w", d.Number, err)
		}
		for k, v := range values {
			if _, exists := result[k]; !exists {
				result[k] = v
			}
		}
	}
	return result, nil
}

// DeleteCheckpointsBefore prunes every column up to and including version,
// deleting the backing files of any fragment no longer reachable from a
// retained version.
func (e *Engine) DeleteCheckpointsBefore(version uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	toDelete, err := e.idx.DeleteVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	for _, d := range toDelete {
		if err := fileutil.DeleteFile(fileutil.MakeFileName(e.dir, d.Number)); err != nil {
			e.log.Warn("failed to delete pruned fragment", "number", d.Number, "err", err)
		}
	}
	e.log.Info("deleted checkpoints", "before_version", version, "files_removed", len(toDelete))
	return e.rewriteManifest()
}

// Merge administratively forces the same column-concatenation maybeMerge
// performs automatically, for the given column range.
func (e *Engine) Merge(start, end uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	groups, err := e.idx.MergeColumns(start, end)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}
	return e.mergeGroups(start, end, groups)
}

func (e *Engine) mergeGroups(start, end uint32, groups [][]*filemeta.Descriptor) error {
	for _, group := range groups {
		merged := make(map[uint32][]float64)
		for _, d := range group {
			payload, err := e.readFragmentSlice(d.Number, d.Start, d.Length)
			if err != nil {
				return err
			}
			values, err := e.codec.Unpack(payload)
			if err != nil {
				return fmt.Errorf("ckptdb: unpack merge input %d: %w", d.Number, err)
			}
			for k, v := range values {
				merged[k] = v
			}
		}
		payload, err := e.codec.Pack(merged)
		if err != nil {
			return err
		}
		filterBytes := e.policy.CreateFilter(extract.SortedKeys(merged))
		num := e.idx.NextFileNumber()
		if err := writeFragmentFile(fileutil.MakeFileName(e.dir, num), payload, filterBytes); err != nil {
			return err
		}
		smallest, largest := rangeOf(merged)
		mergedDesc := &filemeta.Descriptor{
			Tag: filemeta.TagMerged, Number: num, Level: group[0].Level, Column: group[0].Column,
			Start: 0, Length: uint64(len(payload)), Smallest: smallest, Largest: largest,
			FilterStart: uint64(len(payload)), FilterLength: uint64(len(filterBytes)),
		}
		e.idx.ReplaceL0Node(mergedDesc, group[0].Column)
		for _, d := range group {
			fileutil.DeleteFile(fileutil.MakeFileName(e.dir, d.Number))
		}
	}
	e.log.Info("administrative merge complete", "start", start, "end", end, "groups", len(groups))
	return e.rewriteManifest()
}

// Dump writes a debug rendering of the version index to w.
func (e *Engine) Dump(w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.Dump(w)
}

// Close waits for any in-flight background extraction to finish, then
// closes the manifest. Once Close has begun, Join, GetCheckpointFiles,
// GetVersion, DeleteCheckpointsBefore and Merge return ErrClosed. A second
// Close is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.jobs)
	e.wg.Wait()
	manErr := e.man.Close()
	if err := e.lock.Unlock(); err != nil && manErr == nil {
		return fmt.Errorf("ckptdb: unlock %s: %w", e.dir, err)
	}
	return manErr
}

func (e *Engine) readFragmentSlice(number uint64, start, length uint64) ([]byte, error) {
	f, err := os.Open(fileutil.MakeFileName(e.dir, number))
	if err != nil {
		return nil, fmt.Errorf("ckptdb: open fragment %d: %w", number, err)
	}
	defer f.Close()
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(start)); err != nil {
		return nil, fmt.Errorf("ckptdb: read fragment %d: %w", number, err)
	}
	return buf, nil
}

func writeFragmentFile(path string, payload, filter []byte) error {
	f, err := fileutil.CreateFile(path)
	if err != nil {
		return fmt.Errorf("ckptdb: create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(payload); err != nil {
		return fmt.Errorf("ckptdb: write %s: %w", path, err)
	}
	if _, err := f.Write(filter); err != nil {
		return fmt.Errorf("ckptdb: write %s: %w", path, err)
	}
	return f.Sync()
}

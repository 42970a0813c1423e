package ckptdb

import (
	"fmt"
	"io"

	"github.com/ckptdb/ckptdb/internal/filemeta"
	"github.com/ckptdb/ckptdb/internal/xlog"
)

// MultiEngine dispatches Engine operations across a fixed, index-addressed
// set of stores, mirroring the original implementation's DBManager: one
// process managing many independently checkpointed tables (e.g. one per
// embedding column family), each still fully isolated at the manifest level.
type MultiEngine struct {
	log     xlog.Logger
	engines []*Engine
}

// OpenAll opens one Engine per directory in paths, in order. opts and codec
// are shared across every store. If any Open fails, every Engine already
// opened in this call is closed before the error is returned.
func OpenAll(paths []string, opts *Options, codec Codec) (*MultiEngine, error) {
	m := &MultiEngine{log: xlog.Root()}
	if opts != nil && opts.Logger != nil {
		m.log = opts.Logger
	}
	for i, dir := range paths {
		e, err := Open(dir, opts, codec)
		if err != nil {
			m.CloseAll()
			return nil, fmt.Errorf("ckptdb: open store %d (%s): %w", i, dir, err)
		}
		m.engines = append(m.engines, e)
	}
	m.log.Info("multi-engine opened", "stores", len(m.engines))
	return m, nil
}

func (m *MultiEngine) engine(index int) (*Engine, error) {
	if index < 0 || index >= len(m.engines) {
		return nil, fmt.Errorf("ckptdb: store index %d out of range [0,%d): %w", index, len(m.engines), ErrOutOfBounds)
	}
	return m.engines[index], nil
}

// Join joins values into the store at index, returning the new column.
func (m *MultiEngine) Join(index int, values map[uint32][]float64) (uint32, error) {
	e, err := m.engine(index)
	if err != nil {
		return 0, err
	}
	return e.Join(values)
}

// GetCheckpointFiles returns the fragment descriptors composing version on
// the store at index, without reading or decoding their payloads.
func (m *MultiEngine) GetCheckpointFiles(index int, version uint32) ([]*filemeta.Descriptor, error) {
	e, err := m.engine(index)
	if err != nil {
		return nil, err
	}
	return e.GetCheckpointFiles(version)
}

// GetVersion reconstructs version's full key/value map on the store at index.
func (m *MultiEngine) GetVersion(index int, version uint32) (map[uint32][]float64, error) {
	e, err := m.engine(index)
	if err != nil {
		return nil, err
	}
	return e.GetVersion(version)
}

// DeleteCheckpointsBefore prunes versions up to and including version on
// the store at index. See Engine.DeleteCheckpointsBefore.
func (m *MultiEngine) DeleteCheckpointsBefore(index int, version uint32) error {
	e, err := m.engine(index)
	if err != nil {
		return err
	}
	return e.DeleteCheckpointsBefore(version)
}

// Merge triggers an administrative merge of [start,end] on the store at
// index. See Engine.Merge.
func (m *MultiEngine) Merge(index int, start, end uint32) error {
	e, err := m.engine(index)
	if err != nil {
		return err
	}
	return e.Merge(start, end)
}

// Dump writes a human-readable column/level tree for the store at index to w.
func (m *MultiEngine) Dump(index int, w io.Writer) error {
	e, err := m.engine(index)
	if err != nil {
		return err
	}
	return e.Dump(w)
}

// NextFileNumber reports the file number the store at index would hand out
// to its next fragment, for diagnostics and tests.
func (m *MultiEngine) NextFileNumber(index int) (uint64, error) {
	e, err := m.engine(index)
	if err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.PeekFileNumber() + 1, nil
}

// CloseAll closes every store, continuing past individual errors and
// returning the first one encountered, if any.
func (m *MultiEngine) CloseAll() error {
	var first error
	for i, e := range m.engines {
		if e == nil {
			continue
		}
		if err := e.Close(); err != nil && first == nil {
			first = fmt.Errorf("ckptdb: close store %d: %w", i, err)
		}
	}
	return first
}

// Len reports the number of stores under management.
func (m *MultiEngine) Len() int {
	return len(m.engines)
}

package ckptdb

import (
	"fmt"
	"os"

	"github.com/ckptdb/ckptdb/internal/filemeta"
	"github.com/ckptdb/ckptdb/internal/fileutil"
)

// concatWriter implements the do_concat option: every candidate accepted by
// one background extraction pass has its extracted and retained splits
// appended into one shared pair of physical files instead of getting a
// fresh file each. The pair's numbers are allocated lazily, together, on
// the first candidate that survives the per-candidate re-check, matching
// the original implementation's gate on its concatenated-file handles.
type concatWriter struct {
	e *Engine

	allocated  bool
	eNum, rNum uint64
	eFile      *os.File
	rFile      *os.File
	eOffset    uint64
	rOffset    uint64
}

func newConcatWriter(e *Engine) *concatWriter {
	return &concatWriter{e: e}
}

func (c *concatWriter) ensureAllocated() error {
	if c.allocated {
		return nil
	}
	c.eNum = c.e.idx.NextFileNumber()
	c.rNum = c.e.idx.NextFileNumber()

	eFile, err := fileutil.CreateFile(fileutil.MakeFileName(c.e.dir, c.eNum))
	if err != nil {
		return fmt.Errorf("ckptdb: create concat extracted file: %w", err)
	}
	rFile, err := fileutil.CreateFile(fileutil.MakeFileName(c.e.dir, c.rNum))
	if err != nil {
		eFile.Close()
		return fmt.Errorf("ckptdb: create concat retained file: %w", err)
	}
	c.eFile, c.rFile = eFile, rFile
	c.allocated = true
	return nil
}

func (c *concatWriter) appendExtracted(payload, filter []byte, level, column uint32, values map[uint32][]float64) (*filemeta.Descriptor, error) {
	if err := c.ensureAllocated(); err != nil {
		return nil, err
	}
	start := c.eOffset
	if _, err := c.eFile.Write(payload); err != nil {
		return nil, fmt.Errorf("ckptdb: write concat extracted file: %w", err)
	}
	if _, err := c.eFile.Write(filter); err != nil {
		return nil, fmt.Errorf("ckptdb: write concat extracted file: %w", err)
	}
	smallest, largest := rangeOf(values)
	desc := &filemeta.Descriptor{
		Tag: filemeta.TagMerged, Number: c.eNum, Level: level, Column: column,
		Start: start, Length: uint64(len(payload)), Smallest: smallest, Largest: largest,
		FilterStart: start + uint64(len(payload)), FilterLength: uint64(len(filter)),
	}
	c.eOffset += uint64(len(payload) + len(filter))
	c.e.idx.AdjustMergedRef(c.eNum, 1)
	return desc, nil
}

func (c *concatWriter) appendRetained(payload, filter []byte, level, column uint32, values map[uint32][]float64) (*filemeta.Descriptor, error) {
	if err := c.ensureAllocated(); err != nil {
		return nil, err
	}
	start := c.rOffset
	if _, err := c.rFile.Write(payload); err != nil {
		return nil, fmt.Errorf("ckptdb: write concat retained file: %w", err)
	}
	if _, err := c.rFile.Write(filter); err != nil {
		return nil, fmt.Errorf("ckptdb: write concat retained file: %w", err)
	}
	smallest, largest := rangeOf(values)
	desc := &filemeta.Descriptor{
		Tag: filemeta.TagMerged, Number: c.rNum, Level: level, Column: column,
		Start: start, Length: uint64(len(payload)), Smallest: smallest, Largest: largest,
		FilterStart: start + uint64(len(payload)), FilterLength: uint64(len(filter)),
	}
	c.rOffset += uint64(len(payload) + len(filter))
	c.e.idx.AdjustMergedRef(c.rNum, 1)
	return desc, nil
}

// close syncs and closes whichever of the pair actually got allocated.
// installExtractionResult appends to both sides for every accepted
// candidate (an empty split is still packed), so an allocated file always
// backs at least one descriptor.
func (c *concatWriter) close() {
	if c.eFile != nil {
		c.eFile.Sync()
		c.eFile.Close()
	}
	if c.rFile != nil {
		c.rFile.Sync()
		c.rFile.Close()
	}
}

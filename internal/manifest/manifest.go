// Package manifest implements the append-only, crash-recoverable text log
// that records every fragment descriptor and merged-ref count a store has
// ever produced. Its replay-on-open and rename-based rewrite discipline
// mirrors the repair/rotation logic in core/rawdb/freezer_table.go, adapted
// from chunked binary index files to a line-oriented text log.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ckptdb/ckptdb/internal/filemeta"
	"github.com/ckptdb/ckptdb/internal/fileutil"
)

// Visitor receives every live record during Open's replay. Deleted
// descriptors are never replayed (they aren't written in the first place).
type Visitor interface {
	VisitDescriptor(d *filemeta.Descriptor)
	VisitMergedRef(r filemeta.MergedRef)
}

// Manifest is the append-only log of one store's directory. Appends go
// through AppendDescriptor and AppendMergedRef, which both append to the
// on-disk log and fsync it;
// Rewrite periodically compacts the log to just the current live set via a
// write-fsync-rename sequence so a crash mid-rewrite never leaves the store
// without a readable manifest.
type Manifest struct {
	dir string

	mu   sync.Mutex
	file *os.File
}

// Open replays dir's manifest log (creating an empty one if absent),
// invoking v for every live record in file order, and returns a Manifest
// ready for further appends.
func Open(dir string, v Visitor) (*Manifest, error) {
	path := fileutil.ManifestPath(dir)
	if err := replay(path, v); err != nil {
		return nil, err
	}
	f, err := fileutil.OpenForAppend(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}
	return &Manifest{dir: dir, file: f}, nil
}

func replay(path string, v Visitor) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("manifest: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		desc, ref, err := filemeta.ParseLine(line)
		if err != nil {
			return fmt.Errorf("manifest: %s:%d: %w", path, lineNo, err)
		}
		switch {
		case desc != nil:
			v.VisitDescriptor(desc)
		case ref != nil:
			v.VisitMergedRef(*ref)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("manifest: scan %s: %w", path, err)
	}
	return nil
}

// AppendDescriptor writes one descriptor record and fsyncs the log.
// TagDeleted descriptors are silently dropped: deletions are expressed by
// omission, never by a record of their own.
func (m *Manifest) AppendDescriptor(d *filemeta.Descriptor) error {
	if d.Tag == filemeta.TagDeleted {
		return nil
	}
	line, err := filemeta.EncodeDescriptor(d)
	if err != nil {
		return err
	}
	return m.appendLine(line)
}

// AppendMergedRef writes one merged-ref count record and fsyncs the log.
func (m *Manifest) AppendMergedRef(r filemeta.MergedRef) error {
	return m.appendLine(filemeta.EncodeMergedRef(r))
}

func (m *Manifest) appendLine(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return fmt.Errorf("manifest: closed")
	}
	if _, err := io.WriteString(m.file, line+"\n"); err != nil {
		return fmt.Errorf("manifest: append: %w", err)
	}
	return m.file.Sync()
}

// Snapshot is the full live record set as of a point in time, supplied by
// the caller (typically the version index) to Rewrite.
type Snapshot struct {
	Descriptors []*filemeta.Descriptor
	MergedRefs  []filemeta.MergedRef
}

// Rewrite atomically replaces the manifest log with exactly snap's records:
// write manifest.tmp, fsync, rename over manifest. The live handle used by
// future Append calls is reopened against the new file.
func (m *Manifest) Rewrite(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tmpPath := fileutil.ManifestTempPath(m.dir)
	tmp, err := fileutil.CreateFile(tmpPath)
	if err != nil {
		return fmt.Errorf("manifest: create %s: %w", tmpPath, err)
	}
	w := bufio.NewWriter(tmp)
	for _, d := range snap.Descriptors {
		if d.Tag == filemeta.TagDeleted {
			continue
		}
		line, err := filemeta.EncodeDescriptor(d)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("manifest: write %s: %w", tmpPath, err)
		}
	}
	for _, r := range snap.MergedRefs {
		if r.Count <= 0 {
			continue
		}
		if _, err := io.WriteString(w, filemeta.EncodeMergedRef(r)+"\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("manifest: write %s: %w", tmpPath, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: flush %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("manifest: close %s: %w", tmpPath, err)
	}

	dstPath := fileutil.ManifestPath(m.dir)
	if m.file != nil {
		m.file.Close()
	}
	if err := fileutil.AtomicReplace(tmpPath, dstPath); err != nil {
		return err
	}
	f, err := fileutil.OpenForAppend(dstPath)
	if err != nil {
		return fmt.Errorf("manifest: reopen %s: %w", dstPath, err)
	}
	m.file = f
	return nil
}

// Close flushes and closes the manifest's append handle.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

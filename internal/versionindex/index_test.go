package versionindex

import (
	"testing"

	"github.com/ckptdb/ckptdb/internal/filemeta"
)

func newFile(tag filemeta.Tag, number uint64, smallest, largest uint32) *filemeta.Descriptor {
	return &filemeta.Descriptor{Tag: tag, Number: number, Smallest: smallest, Largest: largest}
}

func TestAddL0NodeAssignsColumns(t *testing.T) {
	idx := New()
	idx.AddL0Node(newFile(filemeta.TagNew, 1, 0, 10))
	idx.AddL0Node(newFile(filemeta.TagNew, 2, 0, 10))
	idx.AddL0Node(newFile(filemeta.TagNew, 3, 0, 10))

	col, ok := idx.HeadColumn()
	if !ok || col != 2 {
		t.Fatalf("got column %d ok=%v, want 2", col, ok)
	}
}

func TestGetOverlappedFilesL0(t *testing.T) {
	idx := New()
	idx.AddL0Node(newFile(filemeta.TagNew, 1, 0, 10))  // column 0
	idx.AddL0Node(newFile(filemeta.TagNew, 2, 20, 30))  // column 1, no overlap with head
	idx.AddL0Node(newFile(filemeta.TagNew, 3, 5, 15)) // column 2 (head), overlaps column 0

	results := idx.GetOverlappedFilesL0()
	if len(results) != 1 || results[0].Number != 1 {
		t.Fatalf("expected exactly file 1 to overlap, got %+v", results)
	}
}

func TestExtractOneChildAndGetVersion(t *testing.T) {
	idx := New()
	idx.AddL0Node(newFile(filemeta.TagNew, 1, 0, 10)) // column 0
	idx.AddL0Node(newFile(filemeta.TagNew, 2, 0, 10)) // column 1 (head)

	extracted := newFile(filemeta.TagNew, 3, 0, 5)
	if !idx.ExtractOneChild(extracted, 0) {
		t.Fatalf("ExtractOneChild(column 0) should succeed")
	}

	version1, err := idx.GetVersion(1)
	if err != nil {
		t.Fatalf("GetVersion(1): %v", err)
	}
	if len(version1) != 2 {
		t.Fatalf("expected version 1 to need 2 files (width 1 x 2 columns), got %d", len(version1))
	}

	version0, err := idx.GetVersion(0)
	if err != nil {
		t.Fatalf("GetVersion(0): %v", err)
	}
	if len(version0) != 2 {
		t.Fatalf("expected version 0 to need 2 files (its own width 2), got %d", len(version0))
	}
	if version0[0].Number != 1 || version0[1].Number != 3 {
		t.Fatalf("expected [1,3] depth order, got %+v %+v", version0[0], version0[1])
	}
}

func TestMoveOtherToDeeperInsertsFlags(t *testing.T) {
	idx := New()
	idx.AddL0Node(newFile(filemeta.TagNew, 1, 0, 10)) // column 0
	idx.AddL0Node(newFile(filemeta.TagNew, 2, 0, 10)) // column 1
	idx.AddL0Node(newFile(filemeta.TagNew, 3, 0, 10)) // column 2 (head)

	keep := map[uint32]struct{}{1: {}}
	created := idx.MoveOtherToDeeper(keep)
	if len(created) != 1 || created[0].Column != 0 {
		t.Fatalf("expected a single flag created for column 0, got %+v", created)
	}

	v0, err := idx.GetVersion(0)
	if err != nil {
		t.Fatalf("GetVersion(0): %v", err)
	}
	if len(v0) != 2 {
		t.Fatalf("column 0 should now have 2 children (original + flag), got %d", len(v0))
	}
	if v0[1].Tag != filemeta.TagFlag {
		t.Fatalf("expected second child of column 0 to be a flag, got %s", v0[1].Tag)
	}
}

func TestShouldMerge(t *testing.T) {
	idx := New()
	for i := 0; i < 10; i++ {
		idx.AddL0Node(newFile(filemeta.TagNew, uint64(i+1), 0, 10))
	}
	start, end, ok := idx.ShouldMerge(9)
	if !ok {
		t.Fatalf("expected a merge to be due at column 9")
	}
	if start != 8 || end != 0 {
		t.Fatalf("got start=%d end=%d, want start=8 end=0", start, end)
	}
}

func TestDeleteVersionPrunesOlderColumns(t *testing.T) {
	idx := New()
	idx.AddL0Node(newFile(filemeta.TagNew, 1, 0, 10)) // column 0
	idx.AddL0Node(newFile(filemeta.TagNew, 2, 0, 10)) // column 1
	idx.AddL0Node(newFile(filemeta.TagNew, 3, 0, 10)) // column 2 (head)
	extracted := newFile(filemeta.TagNew, 4, 0, 5)
	extracted.Level = 1
	if !idx.ExtractOneChild(extracted, 0) { // column 0 now holds files 1 and 4
		t.Fatalf("ExtractOneChild(column 0) should succeed")
	}

	// Column 1 has one child, so column 0 keeps only its level-0 file (still
	// needed by versions 1 and 2) and drops file 4.
	deleted, err := idx.DeleteVersion(0)
	if err != nil {
		t.Fatalf("DeleteVersion(0): %v", err)
	}
	if len(deleted) != 1 || deleted[0].Number != 4 {
		t.Fatalf("expected file 4 to be deleted, got %+v", deleted)
	}
	if v0, err := idx.GetVersion(0); err != nil || len(v0) != 1 || v0[0].Number != 1 {
		t.Fatalf("column 0 should be left with only file 1, got %+v (err %v)", v0, err)
	}
	if _, err := idx.GetVersion(1); err != nil {
		t.Fatalf("column 1 should still be reconstructible: %v", err)
	}
}

func TestBuilderRoundTrip(t *testing.T) {
	idx := New()
	idx.AddL0Node(newFile(filemeta.TagNew, 1, 0, 10))
	idx.AddL0Node(newFile(filemeta.TagNew, 2, 0, 10))
	child := newFile(filemeta.TagNew, 3, 0, 5)
	child.Level = 1 // the level the engine gives an extracted child
	if !idx.ExtractOneChild(child, 0) {
		t.Fatalf("ExtractOneChild failed")
	}

	descs, refs := idx.Snapshot()
	b := NewBuilder()
	for _, d := range descs {
		b.VisitDescriptor(d)
	}
	for _, r := range refs {
		b.VisitMergedRef(r)
	}
	rebuilt, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	col, ok := rebuilt.HeadColumn()
	if !ok || col != 1 {
		t.Fatalf("got column %d ok=%v, want 1", col, ok)
	}
	v0, err := rebuilt.GetVersion(0)
	if err != nil {
		t.Fatalf("GetVersion(0) on rebuilt index: %v", err)
	}
	if len(v0) != 2 {
		t.Fatalf("expected 2 files for version 0, got %d", len(v0))
	}
}

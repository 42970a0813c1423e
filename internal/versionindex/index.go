// Package versionindex implements the two-dimensional linked structure that
// tracks, for every version ("column") ever written, the chain of fragment
// descriptors ("children", one per extraction depth) needed to reconstruct
// it. It is a direct port of the original FileLinkedList: l0_head always
// points at the newest column, and each column's next pointer walks toward
// older columns.
package versionindex

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/ckptdb/ckptdb/internal/filemeta"
)

type childNode struct {
	file *filemeta.Descriptor
	next *childNode
}

type columnNode struct {
	childrenHead     *childNode
	numChildren      int
	numEmptyChildren int
	next             *columnNode // older column, or nil at the oldest
}

func (c *columnNode) column() uint32 { return c.childrenHead.file.Column }

// Index is the in-memory column/level structure for one store. All methods
// are safe for concurrent use. Each call takes the index's own lock, so a
// sequence of calls (e.g. an extraction pass) is not atomic as a whole.
type Index struct {
	mu         sync.RWMutex
	head       *columnNode // newest column, nil if the store is empty
	maxFileNum uint64
	mergedRefs map[uint64]int
}

// New returns an empty Index.
func New() *Index {
	return &Index{mergedRefs: make(map[uint64]int)}
}

// Builder accumulates descriptors and merged-ref records during manifest
// replay (it implements manifest.Visitor's method set structurally) and
// builds the final Index once replay completes, matching the original
// FileLinkedList constructor's requirement to sort the whole record set
// before linking it.
type Builder struct {
	descs []*filemeta.Descriptor
	refs  map[uint64]int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{refs: make(map[uint64]int)}
}

func (b *Builder) VisitDescriptor(d *filemeta.Descriptor) { b.descs = append(b.descs, d) }
func (b *Builder) VisitMergedRef(r filemeta.MergedRef)    { b.refs[r.Number] = r.Count }

// Build sorts the accumulated descriptors by (column, level) and links them
// into an Index, mirroring FileLinkedList's constructor exactly, including
// its max-file-number bookkeeping (computed over every record seen, live or
// not, matching the original's scan before the kDeletedFile skip).
func (b *Builder) Build() (*Index, error) {
	descs := make([]*filemeta.Descriptor, len(b.descs))
	copy(descs, b.descs)
	sort.SliceStable(descs, func(i, j int) bool {
		if descs[i].Column != descs[j].Column {
			return descs[i].Column < descs[j].Column
		}
		return descs[i].Level < descs[j].Level
	})

	idx := &Index{mergedRefs: b.refs}
	var maxNum uint64
	var curColumn uint32
	var curChild *childNode
	first := true

	for _, d := range descs {
		if d.Number > maxNum {
			maxNum = d.Number
		}
		if d.Tag == filemeta.TagDeleted {
			continue
		}
		if !first && d.Column != curColumn {
			if d.Column != curColumn+1 {
				return nil, fmt.Errorf("versionindex: non-contiguous column %d after %d", d.Column, curColumn)
			}
			curColumn = d.Column
		}
		if d.Level == 0 {
			if !first && idx.head.column() == d.Column {
				return nil, fmt.Errorf("versionindex: column %d has more than one level-0 child", d.Column)
			}
			node := &columnNode{
				childrenHead: &childNode{file: d},
				numChildren:  1,
				next:         idx.head,
			}
			idx.head = node
			curColumn = d.Column
			curChild = node.childrenHead
			first = false
			continue
		}
		if curChild == nil {
			return nil, fmt.Errorf("versionindex: level %d child with no preceding level-0 node", d.Level)
		}
		newChild := &childNode{file: d}
		curChild.next = newChild
		curChild = newChild
		if d.Tag == filemeta.TagFlag {
			idx.head.numEmptyChildren++
		}
		idx.head.numChildren++
	}
	idx.maxFileNum = maxNum
	return idx, nil
}

// NextFileNumber allocates and returns the next unused fragment file
// number.
func (idx *Index) NextFileNumber() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.maxFileNum++
	return idx.maxFileNum
}

// PeekFileNumber reports the most recently allocated file number without
// allocating a new one.
func (idx *Index) PeekFileNumber() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.maxFileNum
}

// HeadDescriptor returns the newest column's level-0 descriptor, or nil if
// the store has never been joined.
func (idx *Index) HeadDescriptor() *filemeta.Descriptor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.head == nil {
		return nil
	}
	return idx.head.childrenHead.file
}

// HeadColumn returns the newest column number and whether the store is
// non-empty.
func (idx *Index) HeadColumn() (uint32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.head == nil {
		return 0, false
	}
	return idx.head.column(), true
}

// AddL0Node inserts file as the new head column. file.Column is overwritten:
// 0 if the store was empty, otherwise one more than the current head's
// column.
func (idx *Index) AddL0Node(file *filemeta.Descriptor) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.head == nil {
		file.Column = 0
	} else {
		file.Column = idx.head.column() + 1
	}
	idx.head = &columnNode{
		childrenHead: &childNode{file: file},
		numChildren:  1,
		next:         idx.head,
	}
	if file.Number > idx.maxFileNum {
		idx.maxFileNum = file.Number
	}
}

// ReplaceL0Node overwrites the level-0 descriptor of column, leaving its
// deeper children untouched. Reports whether column was found.
func (idx *Index) ReplaceL0Node(file *filemeta.Descriptor, column uint32) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for cur := idx.head; cur != nil; cur = cur.next {
		if cur.column() == column {
			cur.childrenHead.file = file
			return true
		}
	}
	return false
}

// ExtractOneChild inserts file as the new level-1 child of column, pushing
// every existing non-head child one level deeper. Reports whether column
// was found.
func (idx *Index) ExtractOneChild(file *filemeta.Descriptor, column uint32) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for cur := idx.head; cur != nil; cur = cur.next {
		if cur.column() != column {
			continue
		}
		toMove := cur.childrenHead.next
		newChild := &childNode{file: file, next: toMove}
		cur.childrenHead.next = newChild
		cur.numChildren++
		for c := toMove; c != nil; c = c.next {
			c.file.Level++
		}
		return true
	}
	return false
}

// MoveOtherToDeeper pushes every column other than the head, and not named
// in keepColumns, one level deeper, inserting a synthetic FLAG descriptor
// at level 1 to mark that this round's extraction pass skipped it. It
// returns the newly created FLAG descriptors so the caller can persist them
// to the manifest.
func (idx *Index) MoveOtherToDeeper(keepColumns map[uint32]struct{}) []*filemeta.Descriptor {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.head == nil {
		return nil
	}
	var created []*filemeta.Descriptor
	for cur := idx.head.next; cur != nil; cur = cur.next {
		if _, skip := keepColumns[cur.column()]; skip {
			continue
		}
		created = append(created, idx.moveChildrenToDeeperLevel(cur))
	}
	return created
}

func (idx *Index) moveChildrenToDeeperLevel(cur *columnNode) *filemeta.Descriptor {
	oldChild := cur.childrenHead.next
	flag := &filemeta.Descriptor{
		Tag:    filemeta.TagFlag,
		Column: cur.column(),
		Level:  1,
	}
	newChild := &childNode{file: flag, next: oldChild}
	cur.childrenHead.next = newChild
	cur.numChildren++
	cur.numEmptyChildren++
	for c := oldChild; c != nil; c = c.next {
		c.file.Level++
	}
	return flag
}

// GetVersion returns the (file, depth-ordered) descriptors needed to
// reconstruct startColumn: the first W children of startColumn and every
// older column, where W is startColumn's own child count.
func (idx *Index) GetVersion(startColumn uint32) ([]*filemeta.Descriptor, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.head == nil || startColumn > idx.head.column() {
		return nil, fmt.Errorf("versionindex: no such version %d", startColumn)
	}
	start := idx.head
	for start != nil && start.column() != startColumn {
		start = start.next
	}
	if start == nil {
		return nil, fmt.Errorf("versionindex: no such version %d", startColumn)
	}

	width := start.numChildren
	var results []*filemeta.Descriptor
	for cur := start; cur != nil; cur = cur.next {
		if cur.numChildren < width {
			return nil, fmt.Errorf("versionindex: column %d has fewer than %d children", cur.column(), width)
		}
		child := cur.childrenHead
		for i := 0; i < width; i++ {
			results = append(results, child.file)
			child = child.next
		}
	}
	return results, nil
}

// GetOverlappedFilesL0 returns every non-head, non-FLAG column whose
// level-0 key range intersects the head column's range. This is the
// extraction engine's candidate set.
func (idx *Index) GetOverlappedFilesL0() []*filemeta.Descriptor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.head == nil {
		return nil
	}
	head := idx.head.childrenHead.file
	var results []*filemeta.Descriptor
	for cur := idx.head.next; cur != nil; cur = cur.next {
		f := cur.childrenHead.file
		if f.Tag == filemeta.TagFlag {
			continue
		}
		if f.Overlaps(head.Smallest, head.Largest) {
			results = append(results, f)
		}
	}
	return results
}

// ShouldMerge reports whether the head column triggers a scheduled column
// merge, and if so the inclusive [end, start] column range to merge (start
// is the newest, one below head; end is mergeLength columns further back).
func (idx *Index) ShouldMerge(mergeLength int) (start, end uint32, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.head == nil || mergeLength <= 0 {
		return 0, 0, false
	}
	column := idx.head.column()
	if column > 0 && int(column)%mergeLength == 0 {
		return column - 1, column - uint32(mergeLength), true
	}
	return 0, 0, false
}

// MergeColumns groups, by depth, the NEW-tagged descriptors across columns
// [end, start] (start newer than end) that can be physically concatenated
// together. It returns nil if any depth in range already holds a
// MERGED-tagged descriptor (the range has been merged before).
func (idx *Index) MergeColumns(start, end uint32) ([][]*filemeta.Descriptor, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var heads []*childNode
	var maxDepth int
	cur := idx.head
	for cur != nil && cur.column() != start {
		cur = cur.next
	}
	if cur == nil {
		return nil, fmt.Errorf("versionindex: no such column %d", start)
	}
	for cur != nil {
		heads = append(heads, cur.childrenHead)
		if cur.column() == end {
			maxDepth = cur.numChildren
			break
		}
		cur = cur.next
	}
	if len(heads) == 0 || cur == nil {
		return nil, fmt.Errorf("versionindex: no such column %d", end)
	}

	var groups [][]*filemeta.Descriptor
	for depth := 0; depth < maxDepth; depth++ {
		var group []*filemeta.Descriptor
		for i := range heads {
			if heads[i] == nil {
				continue
			}
			switch heads[i].file.Tag {
			case filemeta.TagNew:
				group = append(group, heads[i].file)
			case filemeta.TagMerged:
				return nil, nil
			}
			heads[i] = heads[i].next
		}
		if len(group) > 1 {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// DeleteVersion prunes column and every older column, keeping only the
// children shallower than the width of the next-newer surviving column
// (i.e. the depth needed to still reconstruct every version from column
// onward). It returns the NEW-tagged descriptors that are no longer
// reachable from any retained version and whose backing files may be
// deleted.
//
// This reimplements the original FileLinkedList::DeleteVersion's intent
// without its prev-pointer bug: each column's child chain is rebuilt from
// scratch rather than spliced in place.
func (idx *Index) DeleteVersion(column uint32) ([]*filemeta.Descriptor, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var prev, target *columnNode
	for cur := idx.head; cur != nil; cur = cur.next {
		if cur.column() == column {
			target = cur
			break
		}
		prev = cur
	}
	if target == nil {
		return nil, fmt.Errorf("versionindex: no such column %d", column)
	}

	width := 0
	if prev != nil {
		width = prev.numChildren
	}

	var toDelete []*filemeta.Descriptor
	before := prev
	node := target
	for node != nil {
		kept, keptCount, dropped := splitChildrenAtWidth(node.childrenHead, width)
		for _, d := range dropped {
			if d.Tag == filemeta.TagNew {
				toDelete = append(toDelete, d)
			}
		}
		next := node.next
		if keptCount == 0 {
			if before == nil {
				idx.head = next
			} else {
				before.next = next
			}
		} else {
			node.childrenHead = kept
			node.numChildren = keptCount
			before = node
		}
		node = next
	}
	return toDelete, nil
}

func splitChildrenAtWidth(head *childNode, width int) (kept *childNode, keptCount int, dropped []*filemeta.Descriptor) {
	if width <= 0 {
		for c := head; c != nil; c = c.next {
			dropped = append(dropped, c.file)
		}
		return nil, 0, dropped
	}
	var keptHead, keptTail *childNode
	i := 0
	c := head
	for ; c != nil && i < width; c, i = c.next, i+1 {
		copyNode := &childNode{file: c.file}
		if keptHead == nil {
			keptHead = copyNode
		} else {
			keptTail.next = copyNode
		}
		keptTail = copyNode
	}
	for ; c != nil; c = c.next {
		dropped = append(dropped, c.file)
	}
	return keptHead, i, dropped
}

// MergedRefCount returns the current reference count for a merged file
// number, or 0 if untracked.
func (idx *Index) MergedRefCount(number uint64) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.mergedRefs[number]
}

// AdjustMergedRef changes number's reference count by delta and returns the
// new count. A count that reaches zero is removed from the tracked set.
func (idx *Index) AdjustMergedRef(number uint64, delta int) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := idx.mergedRefs[number] + delta
	if n <= 0 {
		delete(idx.mergedRefs, number)
		return 0
	}
	idx.mergedRefs[number] = n
	return n
}

// Snapshot returns every live descriptor (column by column, newest first,
// each column's children in depth order) and merged-ref record, suitable
// for a manifest rewrite.
func (idx *Index) Snapshot() ([]*filemeta.Descriptor, []filemeta.MergedRef) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var descs []*filemeta.Descriptor
	for cur := idx.head; cur != nil; cur = cur.next {
		for c := cur.childrenHead; c != nil; c = c.next {
			descs = append(descs, c.file)
		}
	}
	refs := make([]filemeta.MergedRef, 0, len(idx.mergedRefs))
	for num, count := range idx.mergedRefs {
		refs = append(refs, filemeta.MergedRef{Number: num, Count: count})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Number < refs[j].Number })
	return descs, refs
}

// Dump writes one line per column to w: the column number followed by the
// tag of each of its children in depth order. Mirrors
// freezerTable.dumpIndex's debug table and the original PrintList utility.
func (idx *Index) Dump(w io.Writer) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for cur := idx.head; cur != nil; cur = cur.next {
		if _, err := fmt.Fprintf(w, "column %d:", cur.column()); err != nil {
			return err
		}
		for c := cur.childrenHead; c != nil; c = c.next {
			if _, err := fmt.Fprintf(w, " %s", c.file.Tag); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) String() string {
	var sb strings.Builder
	idx.Dump(&sb)
	return sb.String()
}

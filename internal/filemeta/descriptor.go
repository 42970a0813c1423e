// Package filemeta defines the fragment descriptor record and its textual
// manifest encoding. It has no knowledge of the version index or the
// manifest log itself; those build on top of the types defined here.
package filemeta

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Tag identifies the kind of manifest record a line encodes.
type Tag uint8

const (
	TagDeleted   Tag = 0
	TagNew       Tag = 1
	TagFlag      Tag = 2
	TagMerged    Tag = 3
	TagMergedRef Tag = 4
)

func (t Tag) String() string {
	switch t {
	case TagDeleted:
		return "deleted"
	case TagNew:
		return "new"
	case TagFlag:
		return "flag"
	case TagMerged:
		return "merged"
	case TagMergedRef:
		return "merged_ref"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// ErrCorruptRecord is returned when a manifest line cannot be parsed into a
// Descriptor or MergedRef.
var ErrCorruptRecord = errors.New("filemeta: corrupt manifest record")

// Descriptor is the metadata held for one fragment file: its position in the
// version index (column, level), its key range, its byte range within its
// backing file, and the bloom filter slice that covers it.
//
// Zero value is not a valid descriptor; Number 0 is reserved (file numbers
// are allocated from 1, so 000000.tdc is never created).
type Descriptor struct {
	Tag          Tag
	Start        uint64 // byte offset of this fragment's payload within its file
	Length       uint64 // byte length of the payload
	Level        uint32 // depth within the column (0 = head)
	Column       uint32 // version/column index, 0 = oldest (first joined)
	Number       uint64 // backing file number (see fileutil.MakeFileName)
	Smallest     uint32
	Largest      uint32
	FilterStart  uint64 // byte offset of the bloom filter bytes within the backing .tdc file
	FilterLength uint64
}

// Overlaps reports whether d's key range intersects [smallest, largest].
func (d *Descriptor) Overlaps(smallest, largest uint32) bool {
	return !(d.Smallest > largest || d.Largest < smallest)
}

// MergedRef is the reference count kept for a concatenated ".tdc" pair
// produced by an extraction pass run with do_concat enabled. Several MERGED
// descriptors can point into one physical file; the count tracks how many
// still do, so the engine knows when the physical file may be deleted.
type MergedRef struct {
	Number uint64
	Count  int
}

// EncodeDescriptor renders d as a single manifest line. TagDeleted is never
// written to the manifest: the caller should skip those before calling this.
func EncodeDescriptor(d *Descriptor) (string, error) {
	switch d.Tag {
	case TagFlag:
		return fmt.Sprintf("%d %d %d", uint8(d.Tag), d.Level, d.Column), nil
	case TagNew, TagMerged:
		return fmt.Sprintf("%d %d %d %d %d %d %d %d %d %d",
			uint8(d.Tag), d.Start, d.Length, d.Level, d.Column, d.Number,
			d.Smallest, d.Largest, d.FilterStart, d.FilterLength), nil
	default:
		return "", fmt.Errorf("filemeta: cannot encode descriptor with tag %s", d.Tag)
	}
}

// EncodeMergedRef renders a MERGED_REF line.
func EncodeMergedRef(r MergedRef) string {
	return fmt.Sprintf("%d %d %d", uint8(TagMergedRef), r.Number, r.Count)
}

// ParseLine decodes one manifest line. Exactly one of the returned pointers
// is non-nil on success.
func ParseLine(line string) (*Descriptor, *MergedRef, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("%w: empty line", ErrCorruptRecord)
	}
	tagVal, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad tag %q: %v", ErrCorruptRecord, fields[0], err)
	}
	tag := Tag(tagVal)

	nums := make([]uint64, len(fields)-1)
	for i, f := range fields[1:] {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad field %q: %v", ErrCorruptRecord, f, err)
		}
		nums[i] = n
	}

	switch tag {
	case TagFlag:
		if len(nums) != 2 {
			return nil, nil, fmt.Errorf("%w: flag record wants 2 fields, got %d", ErrCorruptRecord, len(nums))
		}
		return &Descriptor{Tag: TagFlag, Level: uint32(nums[0]), Column: uint32(nums[1])}, nil, nil
	case TagNew, TagMerged:
		if len(nums) != 9 {
			return nil, nil, fmt.Errorf("%w: file record wants 9 fields, got %d", ErrCorruptRecord, len(nums))
		}
		return &Descriptor{
			Tag:          tag,
			Start:        nums[0],
			Length:       nums[1],
			Level:        uint32(nums[2]),
			Column:       uint32(nums[3]),
			Number:       nums[4],
			Smallest:     uint32(nums[5]),
			Largest:      uint32(nums[6]),
			FilterStart:  nums[7],
			FilterLength: nums[8],
		}, nil, nil
	case TagMergedRef:
		if len(nums) != 2 {
			return nil, nil, fmt.Errorf("%w: merged_ref record wants 2 fields, got %d", ErrCorruptRecord, len(nums))
		}
		return nil, &MergedRef{Number: nums[0], Count: int(nums[1])}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown tag %d", ErrCorruptRecord, tagVal)
	}
}

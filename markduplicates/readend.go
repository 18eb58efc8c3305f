package markduplicates

import (
	"strconv"
	"strings"

	"github.com/gbcs-embl/Je-sub001/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// ReadEnd is the compact sort key used for duplicate marking (spec.md §3
// "Read-End Record", component C5): library, unclipped 5' coordinate and
// orientation of each end, the originating read group, a base-quality
// score, the file indices of the contributing record(s), and the UMI bytes
// decoded from the read name. A fragment record has its second-end fields
// zeroed and Paired cleared.
type ReadEnd struct {
	LibraryID string
	Name      string // read name, kept for optical-duplicate detection and UMI re-extraction

	Ref1, Coord1 int
	Ref2, Coord2 int
	Orient       Orientation

	ReadGroup string
	Score     int

	FileIndex1, FileIndex2 uint64
	Paired                 bool

	UmiBytes string
}

// less implements the total order the external sort and the positional
// grouper rely on (spec.md §4.5/§4.6): (library_id, ref1, coord1, orient,
// ref2, coord2, file_index_1, file_index_2).
func (r *ReadEnd) less(other *ReadEnd) bool {
	switch {
	case r.LibraryID != other.LibraryID:
		return r.LibraryID < other.LibraryID
	case r.Ref1 != other.Ref1:
		return r.Ref1 < other.Ref1
	case r.Coord1 != other.Coord1:
		return r.Coord1 < other.Coord1
	case r.Orient != other.Orient:
		return r.Orient < other.Orient
	case r.Ref2 != other.Ref2:
		return r.Ref2 < other.Ref2
	case r.Coord2 != other.Coord2:
		return r.Coord2 < other.Coord2
	case r.FileIndex1 != other.FileIndex1:
		return r.FileIndex1 < other.FileIndex1
	default:
		return r.FileIndex2 < other.FileIndex2
	}
}

// compare returns -1, 0, 1 per the same order as less, for use by the
// external sort's merge tree.
func (r *ReadEnd) compare(other *ReadEnd) int {
	if r.less(other) {
		return -1
	}
	if other.less(r) {
		return 1
	}
	return 0
}

// samePosition reports whether r and other share the positional-group key
// (library_id, ref1, coord1, orient), extended to (ref2, coord2) when both
// are paired (spec.md §3 "Positional Group").
func (r *ReadEnd) samePosition(other *ReadEnd) bool {
	if r.LibraryID != other.LibraryID || r.Ref1 != other.Ref1 || r.Coord1 != other.Coord1 || r.Orient != other.Orient {
		return false
	}
	if r.Paired != other.Paired {
		return false
	}
	if r.Paired {
		return r.Ref2 == other.Ref2 && r.Coord2 == other.Coord2
	}
	return true
}

// lessPositionKey orders ReadEnds by (LibraryID, Ref1, Coord1) alone, the
// coarser key the two-stream pipeline (spec.md §4.5) merges the fragment
// and pair positional-group streams on: fragment and pair Orient values
// are disjoint, so samePosition can never consider a fragment and a pair
// equivalent even when they share a coordinate.
func (r *ReadEnd) lessPositionKey(other *ReadEnd) bool {
	if r.LibraryID != other.LibraryID {
		return r.LibraryID < other.LibraryID
	}
	if r.Ref1 != other.Ref1 {
		return r.Ref1 < other.Ref1
	}
	return r.Coord1 < other.Coord1
}

// samePositionKey reports whether r and other share the coarse
// (LibraryID, Ref1, Coord1) key used to suppress a fragment positional
// group in favor of a pair positional group at the same coordinate.
func (r *ReadEnd) samePositionKey(other *ReadEnd) bool {
	return r.LibraryID == other.LibraryID && r.Ref1 == other.Ref1 && r.Coord1 == other.Coord1
}

// NewFragmentEnd builds a ReadEnd for a single, mate-unmapped record.
func NewFragmentEnd(r *sam.Record, library string, fileIdx uint64, umiSlots []int, delimiter string) *ReadEnd {
	return &ReadEnd{
		LibraryID:  library,
		Name:       r.Name,
		Ref1:       r.Ref.ID(),
		Coord1:     bam.UnclippedFivePrimePosition(r),
		Orient:     orientationByteSingle(bam.IsReverse(r)),
		ReadGroup:  mustReadGroup(r),
		Score:      baseQScore(r),
		FileIndex1: fileIdx,
		Paired:     false,
		UmiBytes:   ExtractUmi(r.Name, umiSlots, delimiter),
	}
}

// NewPairEnd builds a ReadEnd for a mapped pair, canonicalising left/right
// by (refid, unclipped position, file index) per spec.md §3.
func NewPairEnd(a, b *sam.Record, aIdx, bIdx uint64, library string, umiSlots []int, delimiter string) *ReadEnd {
	left, right := a, b
	leftIdx, rightIdx := aIdx, bIdx
	if swapPair(a, b, aIdx, bIdx) {
		left, right = b, a
		leftIdx, rightIdx = bIdx, aIdx
	}
	return &ReadEnd{
		LibraryID:  library,
		Name:       left.Name,
		Ref1:       left.Ref.ID(),
		Coord1:     bam.UnclippedFivePrimePosition(left),
		Ref2:       right.Ref.ID(),
		Coord2:     bam.UnclippedFivePrimePosition(right),
		Orient:     orientationBytePair(bam.IsReverse(left), bam.IsReverse(right)),
		ReadGroup:  mustReadGroup(left),
		Score:      baseQScore(a) + baseQScore(b),
		FileIndex1: leftIdx,
		FileIndex2: rightIdx,
		Paired:     true,
		UmiBytes:   ExtractUmi(left.Name, umiSlots, delimiter),
	}
}

func swapPair(a, b *sam.Record, aIdx, bIdx uint64) bool {
	ap, bp := bam.UnclippedFivePrimePosition(a), bam.UnclippedFivePrimePosition(b)
	if a.Ref.ID() != b.Ref.ID() {
		return a.Ref.ID() > b.Ref.ID()
	}
	if ap != bp {
		return ap > bp
	}
	return aIdx > bIdx
}

func mustReadGroup(r *sam.Record) string {
	rg, _ := getReadGroup(r)
	return rg
}

// ExtractUmi decodes UMI bytes from a record name by a configurable slot
// decomposition (spec.md §4.5): split the name on delimiter, select tokens
// at the given 1-based indices (negative counts from the end), and
// concatenate in the order given.
func ExtractUmi(name string, slots []int, delimiter string) string {
	if len(slots) == 0 {
		return ""
	}
	tokens := strings.Split(name, delimiter)
	var b strings.Builder
	for _, s := range slots {
		idx := s
		if idx < 0 {
			idx = len(tokens) + idx
		} else {
			idx--
		}
		if idx < 0 || idx >= len(tokens) {
			continue
		}
		b.WriteString(tokens[idx])
	}
	return b.String()
}

// ParseUmiSlots parses a comma-separated slot-index list, e.g. "-1" or
// "2,-1", as used by the UMI-slot-indices command-line option.
func ParseUmiSlots(spec string) ([]int, error) {
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Package layout parses and represents the declarative slot grammar used to
// describe a read's structure (spec.md §3, §4.1), and extracts slot slices
// from a concrete read string.
package layout

import (
	"regexp"
	"strconv"

	"github.com/gbcs-embl/Je-sub001/jerrors"
)

// Kind identifies the role a slot plays within a read.
type Kind int

const (
	// Barcode slots are sample-encoding and matched against a closed set.
	Barcode Kind = iota
	// Umi slots are random tags, never matched against a set.
	Umi
	// Sample slots carry the retained biological payload.
	Sample
	// Anonymous slots are consumed and discarded (typically spacers).
	Anonymous
)

func (k Kind) String() string {
	switch k {
	case Barcode:
		return "BARCODE"
	case Umi:
		return "UMI"
	case Sample:
		return "SAMPLE"
	case Anonymous:
		return "ANONYMOUS"
	default:
		return "UNKNOWN"
	}
}

// lengthKind distinguishes the three ways a slot's length may be specified.
type lengthKind int

const (
	fixedLength lengthKind = iota
	tailClip               // negative length: consume all but the trailing |length| bases
	toEnd                  // 'x': consume all remaining bases
)

// Slot is one element of a Layout.
type Slot struct {
	Kind Kind
	// ID is a positive slot id, unique within a layout for identity-bearing
	// kinds (Barcode, Umi, Sample). Zero for Anonymous slots.
	ID int

	lenKind lengthKind
	// length is the fixed length (fixedLength) or the magnitude of the
	// clipped tail (tailClip, stored negative as parsed). Unused for toEnd.
	length int
}

// FixedLength returns the slot's fixed byte length and true, or (0, false) if
// the slot's length is variable (tail-clip or to-end).
func (s Slot) FixedLength() (int, bool) {
	if s.lenKind == fixedLength {
		return s.length, true
	}
	return 0, false
}

var tokenRE = regexp.MustCompile(`^<([A-Za-z]*)(\d*):([^>]*)>`)

// Layout is an ordered, immutable sequence of slots describing one input
// read's structure.
type Layout struct {
	slots       []Slot
	minFixedLen int // sum of fixed-length slot lengths (all but a possible final variable slot)
}

// Parse builds a Layout from a textual descriptor (spec.md §4.1):
// a concatenation of literal 'N' runs (anonymous spacers) and
// angle-bracketed descriptors "<KIND[id]:len>".
func Parse(desc string) (*Layout, error) {
	var slots []Slot
	seen := map[Kind]map[int]bool{Barcode: {}, Umi: {}, Sample: {}}

	i := 0
	for i < len(desc) {
		c := desc[i]
		switch {
		case c == 'N':
			j := i
			for j < len(desc) && desc[j] == 'N' {
				j++
			}
			slots = append(slots, Slot{Kind: Anonymous, lenKind: fixedLength, length: j - i})
			i = j
		case c == '<':
			m := tokenRE.FindStringSubmatch(desc[i:])
			if m == nil {
				return nil, jerrors.New(jerrors.InvalidLayout, "malformed slot descriptor at offset %d in %q", i, desc)
			}
			slot, err := parseToken(m[1], m[2], m[3])
			if err != nil {
				return nil, err
			}
			if slot.Kind != Anonymous {
				if seen[slot.Kind][slot.ID] {
					return nil, jerrors.New(jerrors.InvalidLayout, "duplicate slot %s%d in layout %q", slot.Kind, slot.ID, desc)
				}
				seen[slot.Kind][slot.ID] = true
			}
			slots = append(slots, slot)
			i += len(m[0])
		default:
			return nil, jerrors.New(jerrors.InvalidLayout, "unexpected character %q at offset %d in %q", c, i, desc)
		}
	}
	if len(slots) == 0 {
		return nil, jerrors.New(jerrors.InvalidLayout, "empty layout descriptor")
	}

	for idx, s := range slots {
		if s.lenKind != fixedLength && idx != len(slots)-1 {
			return nil, jerrors.New(jerrors.InvalidLayout, "variable-length slot %s%d is not the last slot in %q", s.Kind, s.ID, desc)
		}
		if s.lenKind != fixedLength && s.Kind != Sample {
			return nil, jerrors.New(jerrors.InvalidLayout, "only SAMPLE slots may use clip/to-end length, got %s%d in %q", s.Kind, s.ID, desc)
		}
	}

	l := &Layout{slots: slots}
	for _, s := range slots {
		if n, ok := s.FixedLength(); ok {
			l.minFixedLen += n
		}
	}
	return l, nil
}

func parseToken(kindStr, idStr, lenStr string) (Slot, error) {
	var kind Kind
	switch kindStr {
	case "BARCODE":
		kind = Barcode
	case "UMI":
		kind = Umi
	case "SAMPLE":
		kind = Sample
	default:
		return Slot{}, jerrors.New(jerrors.InvalidLayout, "unknown slot kind %q", kindStr)
	}

	id := 1
	if idStr != "" {
		v, err := strconv.Atoi(idStr)
		if err != nil || v <= 0 {
			return Slot{}, jerrors.New(jerrors.InvalidLayout, "invalid slot id %q", idStr)
		}
		id = v
	}

	if lenStr == "" {
		return Slot{}, jerrors.New(jerrors.InvalidLayout, "missing length for slot %s%s", kindStr, idStr)
	}
	if lenStr == "x" {
		return Slot{Kind: kind, ID: id, lenKind: toEnd}, nil
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return Slot{}, jerrors.New(jerrors.InvalidLayout, "invalid length %q for slot %s%s", lenStr, kindStr, idStr)
	}
	if n == 0 {
		return Slot{}, jerrors.New(jerrors.InvalidLayout, "length must not be zero for slot %s%s", kindStr, idStr)
	}
	if n < 0 {
		return Slot{Kind: kind, ID: id, lenKind: tailClip, length: n}, nil
	}
	return Slot{Kind: kind, ID: id, lenKind: fixedLength, length: n}, nil
}

// Slots returns the ordered list of slots.
func (l *Layout) Slots() []Slot { return l.slots }

// SlotKey identifies one identity-bearing slot within a layout.
type SlotKey struct {
	Kind Kind
	ID   int
}

// SlotSlice is an extracted slot: its definition plus the byte ranges it
// occupies in a specific read's sequence and quality strings.
type SlotSlice struct {
	Slot  Slot
	Seq   string
	Qual  string
	Start int
	End   int
}

// Extraction is the result of extracting every slot of a Layout from one
// read's sequence and quality strings.
type Extraction struct {
	bySlot map[SlotKey]SlotSlice
	order  []SlotKey
}

// Extract computes the byte offsets of every slot in l from seq/qual
// (which must be of equal length) and returns their slices. It returns a
// jerrors.TruncatedRead error if seq is shorter than the layout's fixed
// prefix.
func (l *Layout) Extract(seq, qual string) (*Extraction, error) {
	if len(seq) < l.minFixedLen {
		return nil, jerrors.New(jerrors.TruncatedRead, "read of length %d shorter than layout's fixed length %d", len(seq), l.minFixedLen)
	}

	ext := &Extraction{bySlot: make(map[SlotKey]SlotSlice)}
	offset := 0
	for idx, s := range l.slots {
		var start, end int
		switch s.lenKind {
		case fixedLength:
			start, end = offset, offset+s.length
			offset = end
		case tailClip:
			start = offset
			end = len(seq) + s.length // length is negative
			if end < start {
				return nil, jerrors.New(jerrors.TruncatedRead, "read of length %d too short for tail-clip of %d bases", len(seq), -s.length)
			}
			offset = end
		case toEnd:
			start, end = offset, len(seq)
			offset = end
		}
		_ = idx
		if s.Kind == Anonymous {
			continue
		}
		key := SlotKey{s.Kind, s.ID}
		slice := SlotSlice{Slot: s, Seq: seq[start:end], Qual: qual[start:end], Start: start, End: end}
		ext.bySlot[key] = slice
		ext.order = append(ext.order, key)
	}
	return ext, nil
}

// Get returns the extracted slice for the given slot key.
func (e *Extraction) Get(kind Kind, id int) (SlotSlice, bool) {
	s, ok := e.bySlot[SlotKey{kind, id}]
	return s, ok
}

// Barcodes returns every extracted BARCODE slice, in layout order.
func (e *Extraction) Barcodes() []SlotSlice { return e.byKind(Barcode) }

// UMIs returns every extracted UMI slice, in layout order.
func (e *Extraction) UMIs() []SlotSlice { return e.byKind(Umi) }

// Sample returns the extracted SAMPLE slice, if the layout has one.
func (e *Extraction) Sample() (SlotSlice, bool) {
	all := e.byKind(Sample)
	if len(all) == 0 {
		return SlotSlice{}, false
	}
	return all[0], true
}

func (e *Extraction) byKind(k Kind) []SlotSlice {
	var out []SlotSlice
	for _, key := range e.order {
		if key.Kind == k {
			out = append(out, e.bySlot[key])
		}
	}
	return out
}

// BarcodeSlotIDs returns the distinct BARCODE slot ids present in l, in the
// order they first appear in the layout.
func (l *Layout) BarcodeSlotIDs() []int {
	return l.slotIDs(Barcode)
}

func (l *Layout) slotIDs(k Kind) []int {
	seen := map[int]bool{}
	var ids []int
	for _, s := range l.slots {
		if s.Kind == k && !seen[s.ID] {
			seen[s.ID] = true
			ids = append(ids, s.ID)
		}
	}
	return ids
}

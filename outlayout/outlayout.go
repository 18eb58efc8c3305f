// Package outlayout assembles an output record's name, sequence and quality
// from named slots of one or more read layouts (spec.md §4.2, component C2).
package outlayout

import (
	"fmt"
	"strings"

	"github.com/gbcs-embl/Je-sub001/layout"
)

// Ref is one entry of a name list or sequence list: a reference to a slot of
// a given kind and id, optionally the *matched* barcode rather than the raw
// observed bases (readBar), optionally carrying a quality-in-name encoding.
type Ref struct {
	Kind Kind
	ID   int
	// ReadBar, when true, selects the READBAR<n> form: the matched expected
	// barcode word rather than the raw observed slice. Only meaningful when
	// Kind == layout.Barcode.
	ReadBar bool
	// QualityInName appends a two-digit zero-padded decimal per quality byte
	// after the slot's bases in name-list contexts.
	QualityInName bool
}

// Kind is an alias of layout.Kind, kept distinct so Ref's zero value reads
// naturally (a Ref always names a real slot kind).
type Kind = layout.Kind

// Layout is an ordered assembly recipe: a name list and a sequence list of
// slot references, plus the delimiter used to join name-list tokens and to
// separate the original read name from the appended suffix.
type Layout struct {
	NameList     []Ref
	SequenceList []Ref
	Delimiter    string
}

// Source supplies the raw material Layout.Assemble needs: the original read
// name, the barcode matches resolved for this record (slot id -> matched
// word), and the slot extraction(s) to pull UMI/SAMPLE/BARCODE slices from.
// Multiple read layouts (R1, R2, ...) contribute to the same output, so
// Source looks a slot up across all of them.
type Source struct {
	OriginalName   string
	MatchedBarcode map[int]string // barcode slot id -> matched expected word
	Extractions    []*layout.Extraction
}

func (s Source) find(kind layout.Kind, id int) (layout.SlotSlice, bool) {
	for _, e := range s.Extractions {
		if sl, ok := e.Get(kind, id); ok {
			return sl, true
		}
	}
	return layout.SlotSlice{}, false
}

// Record is an assembled output read.
type Record struct {
	Name, Seq, Qual string
}

// Assemble builds the output record per spec.md §4.2: the name is
// original_name + delimiter + join(delimiter, name-list slots); the
// sequence/quality concatenate the sequence-list slots' bytes in order.
func (l *Layout) Assemble(src Source) (Record, error) {
	nameTokens := make([]string, 0, len(l.NameList))
	for _, ref := range l.NameList {
		tok, err := l.renderName(ref, src)
		if err != nil {
			return Record{}, err
		}
		nameTokens = append(nameTokens, tok)
	}

	var seq, qual strings.Builder
	for _, ref := range l.SequenceList {
		s, q, err := l.renderSequence(ref, src)
		if err != nil {
			return Record{}, err
		}
		seq.WriteString(s)
		qual.WriteString(q)
	}

	name := src.OriginalName
	if len(nameTokens) > 0 {
		name = name + l.Delimiter + strings.Join(nameTokens, l.Delimiter)
	}
	return Record{Name: name, Seq: seq.String(), Qual: qual.String()}, nil
}

func (l *Layout) renderName(ref Ref, src Source) (string, error) {
	seqBytes, qualBytes, err := l.resolve(ref, src)
	if err != nil {
		return "", err
	}
	if !ref.QualityInName {
		return seqBytes, nil
	}
	return seqBytes + qualDigits(qualBytes), nil
}

func (l *Layout) renderSequence(ref Ref, src Source) (string, string, error) {
	return l.resolve(ref, src)
}

// resolve returns the sequence bytes (or the resolved READBAR word) and the
// observed quality bytes for a slot reference.
func (l *Layout) resolve(ref Ref, src Source) (string, string, error) {
	slice, ok := src.find(ref.Kind, ref.ID)
	if !ok {
		return "", "", fmt.Errorf("outlayout: no extracted slot %s%d for source record %q", ref.Kind, ref.ID, src.OriginalName)
	}
	if ref.ReadBar {
		word, ok := src.MatchedBarcode[ref.ID]
		if !ok {
			return "", "", fmt.Errorf("outlayout: READBAR%d referenced but slot %d has no matched barcode", ref.ID, ref.ID)
		}
		// The matched (canonical) barcode word, paired with the observed
		// slot's quality bytes per spec.md §4.2.
		return word, slice.Qual, nil
	}
	return slice.Seq, slice.Qual, nil
}

// qualDigits encodes each quality byte (Phred-scale raw FASTQ byte) as a
// fixed-width two-digit zero-padded decimal of its offset-33 value,
// concatenated in order (spec.md §4.2).
func qualDigits(qual string) string {
	var b strings.Builder
	b.Grow(len(qual) * 2)
	for i := 0; i < len(qual); i++ {
		v := int(qual[i]) - 33
		if v < 0 {
			v = 0
		}
		if v > 99 {
			v = 99
		}
		fmt.Fprintf(&b, "%02d", v)
	}
	return b.String()
}

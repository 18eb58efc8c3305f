package barcode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/gbcs-embl/Je-sub001/biosimd"
	"github.com/gbcs-embl/Je-sub001/jerrors"
)

// Sample is one row of an expected-barcode table (spec.md §6 "Barcode
// table"): a sample name, one or more equivalent words per barcode slot,
// and optional explicit output filenames.
type Sample struct {
	Name string
	// Barcodes maps barcode slot number (n in "BARCODE<n>") to the set of
	// equivalent words declared for that slot.
	Barcodes map[int][]string
	// Outputs maps output layout number (n in "OUT<n>") to an explicit
	// output filename, when the column is present.
	Outputs map[int]string
}

// Table is a validated, parsed barcode table.
type Table struct {
	Samples   []Sample
	SlotOrder []int // distinct BARCODE<n> column numbers, in ascending order
}

const secondaryDelimiter = ","

// invalidTable builds an InvalidBarcodeTable error, using pkg/errors.Errorf
// for the underlying cause so the error carries a stack trace back to the
// exact validation check that failed.
func invalidTable(format string, args ...interface{}) error {
	return jerrors.Wrap(jerrors.InvalidBarcodeTable, pkgerrors.Errorf(format, args...), "invalid barcode table")
}

// LoadTable parses and validates a tab-separated barcode table (spec.md §6).
// lengthConstant, if > 0, is an enforced barcode length; a table whose
// barcode words don't match it fails validation.
func LoadTable(r io.Reader, lengthConstant int) (*Table, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return nil, invalidTable("empty barcode table")
	}
	header := strings.Split(scanner.Text(), "\t")

	sampleCol := -1
	barcodeCols := map[int]int{} // column index -> slot n
	outputCols := map[int]int{}  // column index -> output layout n
	var slotOrder []int

	for col, name := range header {
		switch {
		case name == "SAMPLE":
			sampleCol = col
		case strings.HasPrefix(name, "BARCODE"):
			n, err := strconv.Atoi(name[len("BARCODE"):])
			if err != nil || n < 1 {
				return nil, invalidTable("invalid column header %q", name)
			}
			barcodeCols[col] = n
			slotOrder = append(slotOrder, n)
		case strings.HasPrefix(name, "OUT"):
			n, err := strconv.Atoi(name[len("OUT"):])
			if err != nil || n < 1 {
				return nil, invalidTable("invalid column header %q", name)
			}
			outputCols[col] = n
		default:
			return nil, invalidTable("unrecognised column header %q", name)
		}
	}
	if sampleCol < 0 {
		return nil, invalidTable("missing SAMPLE column")
	}
	if len(barcodeCols) == 0 {
		return nil, invalidTable("table has no BARCODE<n> column")
	}

	var samples []Sample
	seenNames := map[string]bool{}
	seenBarcode := map[int]map[string]string{} // slot -> word -> owning sample
	slotLen := map[int]int{}

	lineNo := 1
	for scanner.Scan() {
		lineNo++
		row := strings.Split(scanner.Text(), "\t")
		if len(row) <= sampleCol {
			return nil, invalidTable("line %d: missing SAMPLE field", lineNo)
		}
		name := row[sampleCol]
		if seenNames[name] {
			return nil, invalidTable("line %d: duplicate sample name %q", lineNo, name)
		}
		seenNames[name] = true

		s := Sample{Name: name, Barcodes: map[int][]string{}, Outputs: map[int]string{}}
		for col, slot := range barcodeCols {
			if col >= len(row) {
				return nil, invalidTable("line %d: missing BARCODE%d field", lineNo, slot)
			}
			words := strings.Split(row[col], secondaryDelimiter)
			for i, w := range words {
				words[i] = strings.ToUpper(strings.TrimSpace(w))
			}
			for _, w := range words {
				if err := validateBarcodeWord(w, slot, lengthConstant, slotLen); err != nil {
					return nil, err
				}
				if seenBarcode[slot] == nil {
					seenBarcode[slot] = map[string]string{}
				}
				if owner, dup := seenBarcode[slot][w]; dup {
					return nil, invalidTable("line %d: barcode %q in slot %d reused by sample %q (already used by %q)", lineNo, w, slot, name, owner)
				}
				seenBarcode[slot][w] = name
			}
			s.Barcodes[slot] = words
		}
		for col, n := range outputCols {
			if col < len(row) && row[col] != "" {
				s.Outputs[n] = row[col]
			}
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, jerrors.Wrap(jerrors.IoError, err, "reading barcode table")
	}

	return &Table{Samples: samples, SlotOrder: dedupSorted(slotOrder)}, nil
}

func validateBarcodeWord(w string, slot, lengthConstant int, slotLen map[int]int) error {
	if w == "" {
		return invalidTable("empty barcode in slot %d", slot)
	}
	if biosimd.IsNonACGTNPresent([]byte(w)) {
		return invalidTable("barcode %q in slot %d contains a base outside {A,C,G,T,N}", w, slot)
	}
	if existing, ok := slotLen[slot]; ok {
		if existing != len(w) {
			return invalidTable("barcode %q in slot %d has length %d, inconsistent with earlier length %d", w, slot, len(w), existing)
		}
	} else {
		slotLen[slot] = len(w)
	}
	if lengthConstant > 0 && len(w) != lengthConstant {
		return invalidTable("barcode %q in slot %d has length %d, expected %d", w, slot, len(w), lengthConstant)
	}
	return nil
}

func dedupSorted(in []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, n := range in {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// ExpectedWords returns the closed set of words declared for a given
// BARCODE<n> slot, suitable for building a Matcher, together with a lookup
// from canonical word to sample name (equivalent words of the same sample
// all map to that sample).
func (t *Table) ExpectedWords(slot int) (words []string, sampleOf map[string]string) {
	sampleOf = map[string]string{}
	for _, s := range t.Samples {
		for _, w := range s.Barcodes[slot] {
			words = append(words, w)
			sampleOf[w] = s.Name
		}
	}
	return words, sampleOf
}

// String implements fmt.Stringer for debugging.
func (s Sample) String() string {
	return fmt.Sprintf("%s%v", s.Name, s.Barcodes)
}

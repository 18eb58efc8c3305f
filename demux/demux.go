// Package demux implements the demultiplex pipeline (spec.md §4.3, component
// C4): per input record tuple, extract barcode slots, match them against the
// expected sample table, assemble output records per configured Output
// Layout, and dispatch to per-sample writers.
package demux

import (
	"sort"
	"strings"

	"github.com/grailbio/base/log"

	"github.com/gbcs-embl/Je-sub001/barcode"
	"github.com/gbcs-embl/Je-sub001/encoding/fastq"
	"github.com/gbcs-embl/Je-sub001/jerrors"
	"github.com/gbcs-embl/Je-sub001/layout"
	"github.com/gbcs-embl/Je-sub001/outlayout"
)

// UnassignedName is the sample-table key used for reads whose composite
// barcode key misses the table, or whose slot extraction failed.
const UnassignedName = "unassigned"

// InputStream pairs a read layout with the raw reads it governs. All streams
// advance in lockstep: pulling record i from every stream forms one input
// tuple.
type InputStream struct {
	Layout *layout.Layout
	Reads  []fastq.Read // whole file, pre-loaded
	pos    int
}

func (s *InputStream) next() (fastq.Read, bool) {
	if s.pos >= len(s.Reads) {
		return fastq.Read{}, false
	}
	r := s.Reads[s.pos]
	s.pos++
	return r, true
}

// SlotMatcher resolves one barcode slot id's observed slice to a matched
// expected word.
type SlotMatcher struct {
	Matcher *barcode.Matcher
}

// SampleIndex maps a composite key (the per-slot matched words concatenated
// in ascending slot-id order) to the sample name declared for that
// combination in the barcode table (spec.md §4.3 step 3). BuildSampleIndex
// constructs one from a barcode.Table.
type SampleIndex map[string]string

// BuildSampleIndex builds the composite-key lookup for a barcode table over
// the given barcode slot ids, taken in ascending order. Every combination of
// one equivalent word per slot for a given sample maps to that sample's
// name; samples with more than one equivalent word per slot thus occupy
// multiple composite keys.
func BuildSampleIndex(tbl *barcode.Table, slotIDs []int) SampleIndex {
	ids := append([]int(nil), slotIDs...)
	sort.Ints(ids)

	idx := SampleIndex{}
	for _, s := range tbl.Samples {
		combos := [][]string{{""}}
		for _, id := range ids {
			words := s.Barcodes[id]
			var next [][]string
			for _, prefix := range combos {
				for _, w := range words {
					c := append(append([]string(nil), prefix...), w)
					next = append(next, c)
				}
			}
			combos = next
		}
		for _, c := range combos {
			idx[strings.Join(c, "")] = s.Name
		}
	}
	return idx
}

// OutputWriter receives assembled records for one configured Output Layout,
// dispatched by resolved sample name.
type OutputWriter interface {
	Write(sample string, rec outlayout.Record) error
}

// OutputConfig pairs an Output Layout with the input stream whose record
// supplies its original_name (spec.md §4.2) and the writer it dispatches to.
type OutputConfig struct {
	Layout       outlayout.Layout
	OriginStream int // index into Pipeline.Streams
	Writer       OutputWriter
}

// Pipeline ties C1-C3 together over N parallel input streams and dispatches
// through M configured Output Layouts (spec.md §4.3).
type Pipeline struct {
	Streams      []*InputStream
	SlotMatchers map[int]*SlotMatcher // barcode slot id -> matcher
	Samples      SampleIndex          // composite matched-word key -> sample name
	Outputs      []OutputConfig

	Unassigned int // count of TruncatedRead/miss records, for diagnostics
}

// Run drives the pipeline to completion over every stream's pre-loaded
// reads. It returns a jerrors.StreamMisaligned error, fatal, if the streams
// don't end together.
func (p *Pipeline) Run() error {
	for {
		tuple, ok, err := p.pullTuple()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := p.processTuple(tuple); err != nil {
			return err
		}
	}
}

// pullTuple reads the next record from every stream. All streams must end
// at the same iteration; a stream ending early or late is StreamMisaligned.
func (p *Pipeline) pullTuple() ([]fastq.Read, bool, error) {
	tuple := make([]fastq.Read, len(p.Streams))
	nDone := 0
	for i, s := range p.Streams {
		r, ok := s.next()
		if !ok {
			nDone++
			continue
		}
		tuple[i] = r
	}
	if nDone == len(p.Streams) {
		return nil, false, nil
	}
	if nDone > 0 {
		return nil, false, jerrors.New(jerrors.StreamMisaligned, "input streams did not end together")
	}
	return tuple, true, nil
}

// processTuple implements spec.md §4.3 steps 1-4 for one input tuple.
func (p *Pipeline) processTuple(tuple []fastq.Read) error {
	extractions := make([]*layout.Extraction, len(tuple))
	truncated := false
	for i, r := range tuple {
		ext, err := p.Streams[i].Layout.Extract(r.Seq, r.Qual)
		if err != nil {
			if jerrors.Sentinel(jerrors.TruncatedRead).Is(err) {
				truncated = true
				continue
			}
			return err
		}
		extractions[i] = ext
	}

	sampleName := UnassignedName
	matched := map[int]string{}
	if !truncated {
		sampleName, matched = p.resolveSample(extractions)
	}
	if sampleName == UnassignedName {
		p.Unassigned++
		logUnassigned(tuple[0].ID, truncatedOrMiss(truncated))
	}

	valid := validExtractions(extractions)
	for _, out := range p.Outputs {
		src := outlayout.Source{
			OriginalName:   tuple[out.OriginStream].ID,
			MatchedBarcode: matched,
			Extractions:    valid,
		}
		rec, err := out.Layout.Assemble(src)
		if err != nil {
			return err
		}
		if err := out.Writer.Write(sampleName, rec); err != nil {
			return jerrors.Wrap(jerrors.IoError, err, "writing output record")
		}
	}
	return nil
}

func validExtractions(in []*layout.Extraction) []*layout.Extraction {
	out := make([]*layout.Extraction, 0, len(in))
	for _, e := range in {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// resolveSample implements steps 2-3 of spec.md §4.3: for each unique
// barcode slot id, match the observed slice against its expected set,
// combine the matched words into a composite key (slot-id order), and look
// the key up in the sample table. A miss on any slot, or no matcher
// configured for a referenced slot, yields "unassigned".
func (p *Pipeline) resolveSample(extractions []*layout.Extraction) (string, map[int]string) {
	ids := make([]int, 0, len(p.SlotMatchers))
	for id := range p.SlotMatchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	matched := map[int]string{}
	var key strings.Builder
	for _, id := range ids {
		sl, ok := findBarcode(extractions, id)
		if !ok {
			return UnassignedName, matched
		}
		sm := p.SlotMatchers[id]
		m := sm.Matcher.Match(sl.Seq, barcode.DecodePhred(sl.Qual))
		if !m.Matched {
			return UnassignedName, matched
		}
		matched[id] = m.Barcode
		key.WriteString(m.Barcode)
	}

	sample, ok := p.Samples[key.String()]
	if !ok {
		return UnassignedName, matched
	}
	return sample, matched
}

func findBarcode(extractions []*layout.Extraction, id int) (layout.SlotSlice, bool) {
	for _, e := range extractions {
		if e == nil {
			continue
		}
		if sl, ok := e.Get(layout.Barcode, id); ok {
			return sl, true
		}
	}
	return layout.SlotSlice{}, false
}

func logUnassigned(name string, reason string) {
	log.Debug.Printf("demux: record %q unassigned: %s", name, reason)
}

func truncatedOrMiss(truncated bool) string {
	if truncated {
		return "truncated read"
	}
	return "barcode miss"
}

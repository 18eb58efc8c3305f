package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gbcs-embl/Je-sub001/barcode"
	"github.com/gbcs-embl/Je-sub001/encoding/fastq"
	"github.com/gbcs-embl/Je-sub001/layout"
	"github.com/gbcs-embl/Je-sub001/outlayout"
)

type recordingWriter struct {
	samples []string
	recs    []outlayout.Record
}

func (w *recordingWriter) Write(sample string, rec outlayout.Record) error {
	w.samples = append(w.samples, sample)
	w.recs = append(w.recs, rec)
	return nil
}

func tableFor(t *testing.T, samples map[string]string) *barcode.Table {
	tbl := &barcode.Table{SlotOrder: []int{1}}
	for name, word := range samples {
		tbl.Samples = append(tbl.Samples, barcode.Sample{
			Name:     name,
			Barcodes: map[int][]string{1: {word}},
		})
	}
	return tbl
}

// S1 — Single-stream demultiplex (spec.md §8 scenario S1).
func TestPipelineSingleStreamDemultiplex(t *testing.T) {
	l, err := layout.Parse("<BARCODE1:6><SAMPLE1:x>")
	assert.NoError(t, err)

	tbl := tableFor(t, map[string]string{"sample1": "AAATTT", "sample2": "CCCGGG"})
	words, _ := tbl.ExpectedWords(1)
	matcher := barcode.NewMatcher(words, 0, 1, 0)

	w := &recordingWriter{}
	p := &Pipeline{
		Streams: []*InputStream{{
			Layout: l,
			Reads:  []fastq.Read{{ID: "r1", Seq: "AAATTTCGATG", Qual: "IIIIIIEEEEE"}},
		}},
		SlotMatchers: map[int]*SlotMatcher{1: {Matcher: matcher}},
		Samples:      BuildSampleIndex(tbl, []int{1}),
		Outputs: []OutputConfig{{
			Layout: outlayout.Layout{
				NameList:     []outlayout.Ref{{Kind: layout.Barcode, ID: 1, ReadBar: true}},
				SequenceList: []outlayout.Ref{{Kind: layout.Sample, ID: 1}},
				Delimiter:    ":",
			},
			OriginStream: 0,
			Writer:       w,
		}},
	}

	assert.NoError(t, p.Run())
	assert.Equal(t, []string{"sample1"}, w.samples)
	assert.Equal(t, "r1:AAATTT", w.recs[0].Name)
	assert.Equal(t, "CGATG", w.recs[0].Seq)
	assert.Equal(t, "EEEEE", w.recs[0].Qual)
	assert.Equal(t, 0, p.Unassigned)
}

// S2 — Paired matching with redundant barcode (spec.md §8 scenario S2).
func TestPipelinePairedRedundantBarcode(t *testing.T) {
	l1, err := layout.Parse("<BARCODE1:6><SAMPLE1:x>")
	assert.NoError(t, err)
	l2, err := layout.Parse("<BARCODE1:6><SAMPLE1:x>")
	assert.NoError(t, err)

	tbl := tableFor(t, map[string]string{"sampleX": "CTGAGT"})
	words, _ := tbl.ExpectedWords(1)
	matcher := barcode.NewMatcher(words, 0, 1, 0)

	w1, w2 := &recordingWriter{}, &recordingWriter{}
	p := &Pipeline{
		Streams: []*InputStream{
			{Layout: l1, Reads: []fastq.Read{{ID: "r1", Seq: "CTGAGTACGTAC", Qual: "IIIIIIIIIIII"}}},
			{Layout: l2, Reads: []fastq.Read{{ID: "r2", Seq: "CTGAGTGGTTAA", Qual: "IIIIIIIIIIII"}}},
		},
		SlotMatchers: map[int]*SlotMatcher{1: {Matcher: matcher}},
		Samples:      BuildSampleIndex(tbl, []int{1}),
		Outputs: []OutputConfig{
			{
				Layout: outlayout.Layout{
					NameList:     []outlayout.Ref{{Kind: layout.Barcode, ID: 1, ReadBar: true}},
					SequenceList: []outlayout.Ref{{Kind: layout.Sample, ID: 1}},
					Delimiter:    ":",
				},
				OriginStream: 0,
				Writer:       w1,
			},
			{
				Layout: outlayout.Layout{
					NameList:     []outlayout.Ref{{Kind: layout.Barcode, ID: 1, ReadBar: true}},
					SequenceList: []outlayout.Ref{{Kind: layout.Sample, ID: 1}},
					Delimiter:    ":",
				},
				OriginStream: 1,
				Writer:       w2,
			},
		},
	}

	assert.NoError(t, p.Run())
	assert.Equal(t, "r1:CTGAGT", w1.recs[0].Name)
	assert.Equal(t, "ACGTAC", w1.recs[0].Seq)
	assert.Equal(t, "r2:CTGAGT", w2.recs[0].Name)
	assert.Equal(t, "GGTTAA", w2.recs[0].Seq)
}

func TestPipelineStreamMisalignedWhenLengthsDiffer(t *testing.T) {
	l, err := layout.Parse("<SAMPLE:x>")
	assert.NoError(t, err)
	p := &Pipeline{
		Streams: []*InputStream{
			{Layout: l, Reads: []fastq.Read{{ID: "a", Seq: "ACGT", Qual: "IIII"}, {ID: "b", Seq: "ACGT", Qual: "IIII"}}},
			{Layout: l, Reads: []fastq.Read{{ID: "a", Seq: "ACGT", Qual: "IIII"}}},
		},
	}
	err = p.Run()
	assert.Error(t, err)
}

func TestPipelineUnassignedOnMiss(t *testing.T) {
	l, err := layout.Parse("<BARCODE1:6><SAMPLE1:x>")
	assert.NoError(t, err)
	tbl := tableFor(t, map[string]string{"sample1": "AAATTT"})
	words, _ := tbl.ExpectedWords(1)
	matcher := barcode.NewMatcher(words, 0, 1, 0)

	w := &recordingWriter{}
	p := &Pipeline{
		Streams:      []*InputStream{{Layout: l, Reads: []fastq.Read{{ID: "r1", Seq: "GGGGGGACGTAC", Qual: "IIIIIIIIIIII"}}}},
		SlotMatchers: map[int]*SlotMatcher{1: {Matcher: matcher}},
		Samples:      BuildSampleIndex(tbl, []int{1}),
		Outputs: []OutputConfig{{
			Layout:       outlayout.Layout{SequenceList: []outlayout.Ref{{Kind: layout.Sample, ID: 1}}, Delimiter: ":"},
			OriginStream: 0,
			Writer:       w,
		}},
	}
	assert.NoError(t, p.Run())
	assert.Equal(t, []string{UnassignedName}, w.samples)
	assert.Equal(t, 1, p.Unassigned)
}

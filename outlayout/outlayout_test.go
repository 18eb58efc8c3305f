package outlayout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gbcs-embl/Je-sub001/layout"
)

// S3 — UMI in output name (spec.md §8 scenario S3).
func TestAssembleReadBarAndUMIInName(t *testing.T) {
	l, err := layout.Parse("<BARCODE1:6><UMI1:4><SAMPLE1:x>")
	assert.NoError(t, err)

	ext, err := l.Extract("AAATTTGCGCACGT", "IIIIIIIIIIIIII")
	assert.NoError(t, err)

	out := Layout{
		NameList:     []Ref{{Kind: layout.Barcode, ID: 1, ReadBar: true}, {Kind: layout.Umi, ID: 1}},
		SequenceList: []Ref{{Kind: layout.Sample, ID: 1}},
		Delimiter:    ":",
	}
	src := Source{
		OriginalName:   "@read1",
		MatchedBarcode: map[int]string{1: "AAATTT"},
		Extractions:    []*layout.Extraction{ext},
	}

	rec, err := out.Assemble(src)
	assert.NoError(t, err)
	assert.Equal(t, "@read1:AAATTT:GCGC", rec.Name)
	assert.Equal(t, "ACGT", rec.Seq)
}

// Output-layout identity (spec.md §8 property 2): an Output Layout whose
// name list is empty and sequence list is the whole SAMPLE slot reproduces
// the original record's name, sequence and quality unchanged.
func TestAssembleIdentityWhenSampleOnly(t *testing.T) {
	l, err := layout.Parse("<SAMPLE:x>")
	assert.NoError(t, err)

	ext, err := l.Extract("ACGTACGT", "IIIIJJJJ")
	assert.NoError(t, err)

	out := Layout{SequenceList: []Ref{{Kind: layout.Sample, ID: 1}}, Delimiter: ":"}
	rec, err := out.Assemble(Source{OriginalName: "@read1", Extractions: []*layout.Extraction{ext}})
	assert.NoError(t, err)
	assert.Equal(t, "@read1", rec.Name)
	assert.Equal(t, "ACGTACGT", rec.Seq)
	assert.Equal(t, "IIIIJJJJ", rec.Qual)
}

// A slot used in both the name and sequence lists draws from the same
// source bytes (spec.md §4.2 invariant).
func TestAssembleSameSlotInNameAndSequenceAgree(t *testing.T) {
	l, err := layout.Parse("<UMI1:4><SAMPLE1:x>")
	assert.NoError(t, err)
	ext, err := l.Extract("CGCAACGT", "JJJJEEEE")
	assert.NoError(t, err)

	out := Layout{
		NameList:     []Ref{{Kind: layout.Umi, ID: 1}},
		SequenceList: []Ref{{Kind: layout.Umi, ID: 1}, {Kind: layout.Sample, ID: 1}},
		Delimiter:    ":",
	}
	rec, err := out.Assemble(Source{OriginalName: "@r", Extractions: []*layout.Extraction{ext}})
	assert.NoError(t, err)
	assert.Equal(t, "@r:CGCA", rec.Name)
	assert.Equal(t, "CGCAACGT", rec.Seq)
}

func TestQualityInNameEncoding(t *testing.T) {
	l, err := layout.Parse("<UMI1:2>")
	assert.NoError(t, err)
	ext, err := l.Extract("AC", "#I") // '#' = 35-33=2, 'I' = 73-33=40
	assert.NoError(t, err)

	out := Layout{
		NameList:  []Ref{{Kind: layout.Umi, ID: 1, QualityInName: true}},
		Delimiter: ":",
	}
	rec, err := out.Assemble(Source{OriginalName: "@r", Extractions: []*layout.Extraction{ext}})
	assert.NoError(t, err)
	assert.Equal(t, "@r:AC0240", rec.Name)
}

func TestAssembleMissingReadBarErrors(t *testing.T) {
	l, err := layout.Parse("<BARCODE1:4>")
	assert.NoError(t, err)
	ext, err := l.Extract("AAAA", "IIII")
	assert.NoError(t, err)

	out := Layout{NameList: []Ref{{Kind: layout.Barcode, ID: 1, ReadBar: true}}, Delimiter: ":"}
	_, err = out.Assemble(Source{OriginalName: "@r", Extractions: []*layout.Extraction{ext}})
	assert.Error(t, err)
}

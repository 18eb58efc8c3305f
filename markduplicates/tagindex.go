package markduplicates

import "github.com/grailbio/hts/sam"

// dupSetTag carries the optional DI/DL/DS/DT tag values described by
// doc.go's "Tagging" section for one record, identified by file index.
type dupSetTag struct {
	DI        uint64
	DS, DL    int
	HasDIDSDL bool
	DT        string // "", "SQ", or "LB"
}

// tagIndex collects tag assignments keyed by file index while TagDups is
// enabled. Unlike DupIndexWriter's flagged-index stream (spec.md §4.9),
// which needs an entry for nearly every duplicate in the input, a tag
// assignment exists only for the far smaller set of records belonging to
// a duplicate set that was actually found to contain a duplicate, so an
// in-memory map is proportionate; ReadEnd.FileIndex1/2 key it the same way
// dupWriter's entries do.
type tagIndex map[uint64]dupSetTag

func (t tagIndex) setDIDSDL(fileIdx, di uint64, ds, dl int) {
	tag := t[fileIdx]
	tag.DI, tag.DS, tag.DL, tag.HasDIDSDL = di, ds, dl, true
	t[fileIdx] = tag
}

func (t tagIndex) setDT(fileIdx uint64, dt string) {
	tag := t[fileIdx]
	tag.DT = dt
	t[fileIdx] = tag
}

// tagReadEnd applies di/ds/dl (when ds > 0) and dt (when non-empty) to
// both of a ReadEnd's file indices, tagging both mates of a pair
// identically, per doc.go: "All pairs in a duplicate set, including the
// primary, share the same DI value."
func (t tagIndex) tagReadEnd(r *ReadEnd, di uint64, ds, dl int, dt string) {
	indices := []uint64{r.FileIndex1}
	if r.Paired {
		indices = append(indices, r.FileIndex2)
	}
	for _, idx := range indices {
		if ds > 0 {
			t.setDIDSDL(idx, di, ds, dl)
		}
		if dt != "" {
			t.setDT(idx, dt)
		}
	}
}

// applyDupSetTag writes tag's DI/DL/DS/DT values onto r's aux fields.
func applyDupSetTag(r *sam.Record, tag dupSetTag) {
	if tag.HasDIDSDL {
		mustAppendAux(r, diTag, int(tag.DI))
		mustAppendAux(r, dsTag, tag.DS)
		mustAppendAux(r, dlTag, tag.DL)
	}
	if tag.DT != "" {
		mustAppendAux(r, dtTag, tag.DT)
	}
}

func mustAppendAux(r *sam.Record, tag sam.Tag, value interface{}) {
	aux, err := sam.NewAux(tag, value)
	if err != nil {
		panic(err) // DI/DS/DL/DT values are always in-range ints or fixed strings
	}
	r.AuxFields = append(r.AuxFields, aux)
}

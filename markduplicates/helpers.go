package markduplicates

import (
	"github.com/gbcs-embl/Je-sub001/encoding/bam"
	"github.com/grailbio/base/simd"
	"github.com/grailbio/hts/sam"
)

var (
	rgTag = sam.Tag{'R', 'G'}
	diTag = sam.Tag{'D', 'I'}
	dlTag = sam.Tag{'D', 'L'}
	dsTag = sam.Tag{'D', 'S'}
	dtTag = sam.Tag{'D', 'T'}
	duTag = sam.Tag{'D', 'U'}
)

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func min(x, y int) int {
	if x < y {
		return x
	}
	return y
}

func baseQScore(r *sam.Record) int {
	s := simd.Accumulate8Greater(r.Qual, 14)
	s = min(s, 32767/2) // use the same clamping as picard
	if bam.IsQCFail(r) {
		s -= (32768 / 2)
	}
	return s
}

func getReadGroup(r *sam.Record) (string, bool) {
	aux := r.AuxFields.Get(rgTag)
	if aux == nil {
		return "", false
	}
	return aux.Value().(string), true
}

// GetLibrary returns the library for the given record's read group.
// If the library is not defined in readGroupLibrary, returns "Unknown
// Library".
func GetLibrary(readGroupLibrary map[string]string, record *sam.Record) string {
	const unknown = "Unknown Library"

	readGroup, found := getReadGroup(record)
	if !found {
		return unknown
	}

	library := readGroupLibrary[readGroup]
	if library == "" {
		return unknown
	}
	return library
}

func clearDupFlagTags(r *sam.Record) {
	r.Flags &^= sam.Duplicate

	tagsToRemove := []sam.Tag{diTag, dlTag, dsTag, dtTag, duTag}
	bam.ClearAuxTags(r, tagsToRemove)
}

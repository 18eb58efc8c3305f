package markduplicates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func umiEnd(name, umi string, score int) *ReadEnd {
	return &ReadEnd{Name: name, UmiBytes: umi, Score: score}
}

func TestSplitOpenMergesWithinMismatchTolerance(t *testing.T) {
	s := &UmiSplitter{Mode: "open", MaxN: 1, Mismatches: 1}
	group := []*ReadEnd{
		umiEnd("a", "ACGTACGT", 10),
		umiEnd("b", "ACGTACGA", 20), // one mismatch from "a", merges into the same sub-group
		umiEnd("c", "TTTTTTTT", 5),  // unrelated code, its own sub-group
	}
	out := s.Split(group)

	assert.Equal(t, 2, len(out))
	total := 0
	for _, recs := range out {
		total += len(recs)
	}
	assert.Equal(t, 3, total)
}

func TestSplitOpenExcessNGoesToUndefined(t *testing.T) {
	s := &UmiSplitter{Mode: "open", MaxN: 1, Mismatches: 1}
	group := []*ReadEnd{
		umiEnd("a", "ACGTACGT", 10),
		umiEnd("b", "NNNNNNNN", 5),
	}
	out := s.Split(group)
	assert.Equal(t, []*ReadEnd{group[1]}, out[UndefinedSubGroup])
}

func TestSplitClosedMatchesFixedSubCodes(t *testing.T) {
	s := &UmiSplitter{
		Mode:       "closed",
		MaxN:       0,
		Mismatches: 1,
		SlotSpecs:  []UmiSlotSpec{{Length: 4, Expected: []string{"AAAA", "CCCC"}}},
	}
	group := []*ReadEnd{
		umiEnd("a", "AAAA", 10),
		umiEnd("b", "AAAT", 20), // one mismatch from AAAA, same sub-code
		umiEnd("c", "CCCC", 5),
		umiEnd("d", "GGGG", 1), // not within tolerance of any expected code
	}
	out := s.Split(group)

	assert.Equal(t, 2, len(out["AAAA"]))
	assert.Equal(t, 1, len(out["CCCC"]))
	assert.Equal(t, 1, len(out[UndefinedSubGroup]))
}

func TestFlagDuplicatesHighestScoreWinsPerSubgroup(t *testing.T) {
	a := umiEnd("a", "AAAA", 10)
	b := umiEnd("b", "AAAA", 20)
	c := umiEnd("c", "CCCC", 7)
	subgroups := map[string][]*ReadEnd{
		"AAAA": {a, b},
		"CCCC": {c},
	}
	dups := FlagDuplicates(subgroups)
	assert.Equal(t, []*ReadEnd{a}, dups) // b has the higher score in its sub-group, survives
}

func TestFlagDuplicatesUndefinedAloneUsesSameRule(t *testing.T) {
	a := umiEnd("a", "NNNN", 10)
	b := umiEnd("b", "NNNG", 20)
	subgroups := map[string][]*ReadEnd{UndefinedSubGroup: {a, b}}
	dups := FlagDuplicates(subgroups)
	assert.Equal(t, []*ReadEnd{a}, dups)
}

func TestFlagDuplicatesUndefinedAlwaysDuplicateWhenRealSubgroupsExist(t *testing.T) {
	undef := umiEnd("u", "NNNN", 99)
	real := umiEnd("r", "AAAA", 1)
	subgroups := map[string][]*ReadEnd{
		UndefinedSubGroup: {undef},
		"AAAA":            {real},
	}
	dups := FlagDuplicates(subgroups)
	assert.Equal(t, 1, len(dups))
	assert.Equal(t, undef, dups[0]) // undefined records are always flagged once any real sub-group exists
}

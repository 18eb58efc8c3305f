package markduplicates

import (
	"sort"
	"strings"

	"github.com/gbcs-embl/Je-sub001/barcode"
)

// UndefinedSubGroup names the sub-group collecting UMI codes too degenerate
// to classify (spec.md §3 "UMI Sub-group").
const UndefinedSubGroup = "undefined"

// UmiSlotSpec describes one fixed-width UMI sub-code within a closed-set
// (Mode B) splitter: its byte width and its expected words, tried in
// priority order.
type UmiSlotSpec struct {
	Length   int
	Expected []string
}

// UmiSplitter partitions a positional group into UMI sub-groups (spec.md
// §4.8, component C8). Mode selects the open-set alias-chaining algorithm
// ("open") or the closed-set sub-code algorithm ("closed").
type UmiSplitter struct {
	Mode       string
	MaxN       int
	Mismatches int
	SlotSpecs  []UmiSlotSpec // Mode "closed" only
}

// Split partitions group by UMI similarity. The returned map's keys are
// either a sub-group's canonical code (Mode B) or its seed code (Mode A),
// except for UndefinedSubGroup.
func (s *UmiSplitter) Split(group []*ReadEnd) map[string][]*ReadEnd {
	if s.Mode == "closed" {
		return s.splitClosed(group)
	}
	return s.splitOpen(group)
}

func (s *UmiSplitter) splitClosed(group []*ReadEnd) map[string][]*ReadEnd {
	out := map[string][]*ReadEnd{}
	for _, r := range group {
		key, ok := s.closedKey(r.UmiBytes)
		if !ok {
			key = UndefinedSubGroup
		}
		out[key] = append(out[key], r)
	}
	return out
}

func (s *UmiSplitter) closedKey(umi string) (string, bool) {
	var b strings.Builder
	pos := 0
	for _, spec := range s.SlotSpecs {
		if pos+spec.Length > len(umi) {
			return "", false
		}
		sub := umi[pos : pos+spec.Length]
		pos += spec.Length
		if barcode.CountN(sub) > s.MaxN {
			return "", false
		}
		canon, ok := barcode.FirstMatch(sub, spec.Expected, s.Mismatches)
		if !ok {
			return "", false
		}
		b.WriteString(canon)
	}
	return b.String(), true
}

// openSubGroup tracks one Mode A sub-group as it is built: the code that
// opened it, its N-free aliases, and the records merged into it so far.
type openSubGroup struct {
	key     string
	aliases []string
	records []*ReadEnd
}

// splitOpen implements the Mode A alias-chaining algorithm of spec.md §4.8.
// Distinct codes are visited in ascending N-count, then descending
// frequency order; a code exceeding MaxN always lands in undefined, which
// means that if the very first code in this order already exceeds MaxN,
// every other code does too and the whole group ends up undefined, the
// special case the spec calls out separately.
func (s *UmiSplitter) splitOpen(group []*ReadEnd) map[string][]*ReadEnd {
	arena := newUmiArena()
	freq := map[string]int{}
	byCode := map[string][]*ReadEnd{}
	var codes []string
	for _, r := range group {
		code := arena.intern(r.UmiBytes)
		if _, seen := freq[code]; !seen {
			codes = append(codes, code)
		}
		freq[code]++
		byCode[code] = append(byCode[code], r)
	}

	sort.Slice(codes, func(i, j int) bool {
		ni, nj := barcode.CountN(codes[i]), barcode.CountN(codes[j])
		if ni != nj {
			return ni < nj
		}
		return freq[codes[i]] > freq[codes[j]]
	})

	var subgroups []*openSubGroup
	out := map[string][]*ReadEnd{}

	for _, code := range codes {
		recs := byCode[code]
		n := barcode.CountN(code)
		if n > s.MaxN {
			out[UndefinedSubGroup] = append(out[UndefinedSubGroup], recs...)
			continue
		}

		merged := false
		for _, sg := range subgroups {
			for _, alias := range sg.aliases {
				if barcode.SequenceMismatchCount(code, alias) <= s.Mismatches {
					sg.records = append(sg.records, recs...)
					if n == 0 {
						sg.aliases = append(sg.aliases, code)
					}
					merged = true
					break
				}
			}
			if merged {
				break
			}
		}
		if !merged {
			sg := &openSubGroup{key: code, records: append([]*ReadEnd(nil), recs...)}
			if n == 0 {
				sg.aliases = []string{code}
			}
			subgroups = append(subgroups, sg)
		}
	}

	for _, sg := range subgroups {
		out[sg.key] = sg.records
	}
	return out
}

// DuplicateSet is one duplicate set produced by FlagDuplicateSets: the
// primary (kept) record and every other record in the same sub-group,
// flagged as its duplicates. Primary is nil for the set of undefined-UMI
// records that coexist with real sub-groups (spec.md §4.8): those records
// are all flagged regardless of score, with no primary of their own.
type DuplicateSet struct {
	Primary *ReadEnd
	Dups    []*ReadEnd
}

// FlagDuplicateSets applies the spec.md §4.8 duplicate-flagging rule to a
// positional group already partitioned into sub-groups, preserving each
// sub-group's primary/duplicates split. The "Tagging" section of doc.go
// needs this split to compute DI/DL/DS per duplicate set; FlagDuplicates
// flattens it for callers that only need the duplicate records themselves.
func FlagDuplicateSets(subgroups map[string][]*ReadEnd) []DuplicateSet {
	undef, hasUndef := subgroups[UndefinedSubGroup]
	nReal := len(subgroups)
	if hasUndef {
		nReal--
	}

	if hasUndef && nReal == 0 {
		keep := bestByScore(undef)
		return []DuplicateSet{{Primary: keep, Dups: otherThan(undef, keep)}}
	}

	var sets []DuplicateSet
	for key, recs := range subgroups {
		if key == UndefinedSubGroup {
			continue
		}
		keep := bestByScore(recs)
		sets = append(sets, DuplicateSet{Primary: keep, Dups: otherThan(recs, keep)})
	}
	if hasUndef {
		sets = append(sets, DuplicateSet{Dups: undef})
	}
	return sets
}

// FlagDuplicates returns every record FlagDuplicateSets would flag as a
// duplicate, without the per-set DI/DL/DS breakdown.
func FlagDuplicates(subgroups map[string][]*ReadEnd) []*ReadEnd {
	var dups []*ReadEnd
	for _, s := range FlagDuplicateSets(subgroups) {
		dups = append(dups, s.Dups...)
	}
	return dups
}

// bestByScore returns the highest-scoring record, breaking ties by
// first-seen order, i.e. the lowest file index (spec.md §4.8).
func bestByScore(recs []*ReadEnd) *ReadEnd {
	best := recs[0]
	for _, r := range recs[1:] {
		if r.Score > best.Score || (r.Score == best.Score && r.FileIndex1 < best.FileIndex1) {
			best = r
		}
	}
	return best
}

func otherThan(recs []*ReadEnd, keep *ReadEnd) []*ReadEnd {
	out := make([]*ReadEnd, 0, len(recs)-1)
	for _, r := range recs {
		if r != keep {
			out = append(out, r)
		}
	}
	return out
}

// Package barcode implements the quality-aware barcode matcher (spec.md
// §4.4, component C3) and the expected-barcode table loader (§6).
package barcode

import (
	"sort"
	"strings"
)

// Match is the result of matching one observed slice against an expected
// set (spec.md §3 "Barcode Match").
type Match struct {
	Matched                bool
	Barcode                string // the matched expected word, "" if !Matched
	Mismatches             int
	MismatchesToSecondBest int
}

// Matcher finds the best expected barcode for an observed slice under a
// quality-aware mismatch model with an ambiguity tie-break (spec.md §4.4).
type Matcher struct {
	expected      []string // kept lexicographically sorted: open question (b)
	length        int
	maxMismatches int
	minDelta      int
	minQuality    int
	exact         map[string]string // uppercased observed -> canonical expected, for the fast path
}

// NewMatcher builds a Matcher over expected, a closed set of equal-length
// DNA words. expected is sorted lexicographically so that, per spec.md §9
// open question (b), ties between equidistant expected words are broken
// deterministically, independent of the order the caller supplies.
func NewMatcher(expected []string, maxMismatches, minDelta, minQuality int) *Matcher {
	sorted := append([]string(nil), expected...)
	sort.Strings(sorted)

	length := 0
	if len(sorted) > 0 {
		length = len(sorted[0])
	}

	exact := make(map[string]string, len(sorted))
	for _, e := range sorted {
		exact[strings.ToUpper(e)] = e
	}

	return &Matcher{
		expected:      sorted,
		length:        length,
		maxMismatches: maxMismatches,
		minDelta:      minDelta,
		minQuality:    minQuality,
		exact:         exact,
	}
}

// DecodePhred converts a raw, offset-33 FASTQ quality string into Phred-scale
// integers.
func DecodePhred(qual string) []int {
	out := make([]int, len(qual))
	for i := 0; i < len(qual); i++ {
		out[i] = int(qual[i]) - 33
	}
	return out
}

// Match scores obs (length must equal the expected word length) against
// every expected word and applies the acceptance rule of spec.md §4.4:
// accepted iff best <= maxMismatches AND secondBest-best >= minDelta. The
// fast path (obs equals some expected word exactly, with no position below
// minQuality) accepts unconditionally.
func (m *Matcher) Match(obs string, qual []int) Match {
	if canon, ok := m.exact[strings.ToUpper(obs)]; ok && mismatchCount(obs, qual, canon, m.minQuality) == 0 {
		return Match{Matched: true, Barcode: canon, Mismatches: 0, MismatchesToSecondBest: m.minDelta}
	}

	const infinity = 1 << 30
	best, secondBest := infinity, infinity
	bestWord := ""
	for _, e := range m.expected {
		mm := mismatchCount(obs, qual, e, m.minQuality)
		if mm < best {
			secondBest = best
			best = mm
			bestWord = e
		} else if mm < secondBest {
			secondBest = mm
		}
	}

	if best == infinity {
		return Match{}
	}
	if secondBest == infinity {
		// No rival word at all (a single-entry expected set): treat the
		// absent rival as maximally distinct so a lone word always passes
		// the delta test.
		secondBest = best + m.minDelta
	}

	accepted := best <= m.maxMismatches && (secondBest-best) >= m.minDelta
	return Match{
		Matched:                accepted,
		Barcode:                pick(accepted, bestWord),
		Mismatches:             best,
		MismatchesToSecondBest: secondBest,
	}
}

func pick(accepted bool, word string) string {
	if accepted {
		return word
	}
	return ""
}

// mismatchCount implements the Hamming-with-ambiguity, quality-aware
// mismatch rule of spec.md §4.4: a position counts as a mismatch iff both
// bases are calls (neither is 'N') and they differ, or the observed quality
// at that position is below minQuality. minQuality == 0 disables the
// quality-aware half of the rule.
func mismatchCount(obs string, qual []int, exp string, minQuality int) int {
	n := 0
	for i := 0; i < len(exp) && i < len(obs); i++ {
		ob, eb := upper(obs[i]), upper(exp[i])
		if ob == 'N' || eb == 'N' {
			continue
		}
		if ob != eb {
			n++
			continue
		}
		if minQuality > 0 && i < len(qual) && qual[i] < minQuality {
			n++
		}
	}
	return n
}

// SequenceMismatchCount is the pure-sequence (quality-blind) variant of the
// §4.4 N-aware mismatch rule, reused by the UMI splitter (§4.8) where no
// quality is consulted.
func SequenceMismatchCount(obs, exp string) int {
	return mismatchCount(obs, nil, exp, 0)
}

// CountN returns the number of 'N' bases in s.
func CountN(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if upper(s[i]) == 'N' {
			n++
		}
	}
	return n
}

// FirstMatch returns the first word of expected (in the given order) whose
// sequence mismatch count against obs is within maxMismatches, per §4.8 Mode
// B's "look up the first expected word within mismatches".
func FirstMatch(obs string, expected []string, maxMismatches int) (string, bool) {
	for _, e := range expected {
		if SequenceMismatchCount(obs, e) <= maxMismatches {
			return e, true
		}
	}
	return "", false
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

package barcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func hiQual(n int) []int {
	q := make([]int, n)
	for i := range q {
		q[i] = 40
	}
	return q
}

func TestExactMatchFastPath(t *testing.T) {
	m := NewMatcher([]string{"AAATTT", "CCCGGG"}, 0, 1, 0)
	got := m.Match("AAATTT", hiQual(6))
	assert.True(t, got.Matched)
	assert.Equal(t, "AAATTT", got.Barcode)
}

func TestAmbiguityLawNDoesNotCountAsMismatch(t *testing.T) {
	m := NewMatcher([]string{"AAATTT", "CCCGGG"}, 1, 1, 0)
	got := m.Match("NAATTT", hiQual(6))
	assert.True(t, got.Matched)
	assert.Equal(t, 0, got.Mismatches)
}

func TestQualityAwareMismatch(t *testing.T) {
	m := NewMatcher([]string{"AAATTT", "CCCGGG"}, 1, 1, 20)
	q := hiQual(6)
	q[0] = 2 // below min_quality even though the base itself matches
	got := m.Match("AAATTT", q)
	assert.True(t, got.Matched)
	assert.Equal(t, 1, got.Mismatches)
}

func TestRejectedWhenOverThreshold(t *testing.T) {
	m := NewMatcher([]string{"AAATTT", "CCCGGG"}, 0, 1, 0)
	got := m.Match("AAATTG", hiQual(6))
	assert.False(t, got.Matched)
}

func TestRejectedOnAmbiguity(t *testing.T) {
	// Two expected words equidistant from the observed slice: delta test fails.
	m := NewMatcher([]string{"AAAAAA", "TTTTTT"}, 3, 1, 0)
	got := m.Match("AAATTT", hiQual(6))
	assert.False(t, got.Matched)
}

// Matcher monotonicity (spec.md §8 property 3).
func TestMonotonicityInThreshold(t *testing.T) {
	m0 := NewMatcher([]string{"AAATTT", "CCCGGG"}, 1, 1, 0)
	got := m0.Match("AAATTG", hiQual(6))
	assert.True(t, got.Matched)

	m1 := NewMatcher([]string{"AAATTT", "CCCGGG"}, 2, 1, 0)
	got2 := m1.Match("AAATTG", hiQual(6))
	assert.True(t, got2.Matched)
	assert.Equal(t, got.Barcode, got2.Barcode)
}

func TestIncreasingDeltaNeverAccepts(t *testing.T) {
	m0 := NewMatcher([]string{"AAAAAA", "AAAATT"}, 2, 0, 0)
	got0 := m0.Match("AAAATG", hiQual(6))

	m1 := NewMatcher([]string{"AAAAAA", "AAAATT"}, 2, 3, 0)
	got1 := m1.Match("AAAATG", hiQual(6))

	// Increasing min_delta can only turn an acceptance into a rejection,
	// never the reverse.
	if got1.Matched {
		assert.True(t, got0.Matched)
	}
}

// Quality symmetry (spec.md §8 property 4): reversing both observed and
// expected strings simultaneously must not change the accept/reject
// decision.
func TestQualitySymmetry(t *testing.T) {
	expected := []string{"AAATTT", "CCCGGG"}
	m := NewMatcher(expected, 1, 1, 10)
	q := []int{5, 40, 40, 40, 40, 40}

	got := m.Match("AAATTG", q)

	reversedExpected := make([]string, len(expected))
	for i, e := range expected {
		reversedExpected[i] = reverse(e)
	}
	rq := make([]int, len(q))
	for i := range q {
		rq[i] = q[len(q)-1-i]
	}
	mRev := NewMatcher(reversedExpected, 1, 1, 10)
	gotRev := mRev.Match(reverse("AAATTG"), rq)

	assert.Equal(t, got.Matched, gotRev.Matched)
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

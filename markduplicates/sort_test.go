package markduplicates

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func drainSorter(t *testing.T, opts SortOptions, recs []*ReadEnd) []*ReadEnd {
	s := NewReadEndSorter(opts)
	for _, r := range recs {
		s.Add(r)
	}
	cur, err := s.Close()
	assert.Nil(t, err)
	defer cur.Close()

	var out []*ReadEnd
	for {
		r, ok := cur.Next()
		if !ok {
			break
		}
		out = append(out, r)
	}
	assert.Nil(t, cur.Err())
	return out
}

func mkEnd(lib string, ref, coord int, idx uint64) *ReadEnd {
	return &ReadEnd{LibraryID: lib, Ref1: ref, Coord1: coord, FileIndex1: idx}
}

func TestReadEndSorterSortsWithinABatch(t *testing.T) {
	recs := []*ReadEnd{
		mkEnd("lib1", 0, 300, 1),
		mkEnd("lib1", 0, 100, 2),
		mkEnd("lib1", 0, 200, 3),
	}
	out := drainSorter(t, SortOptions{BatchSize: 100}, recs)
	assert.Equal(t, []int{100, 200, 300}, []int{out[0].Coord1, out[1].Coord1, out[2].Coord1})
}

func TestReadEndSorterMergesMultipleShards(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	var recs []*ReadEnd
	for i := 0; i < 5000; i++ {
		recs = append(recs, mkEnd("lib1", 0, rnd.Intn(100000), uint64(i)))
	}
	// Small batch size forces many shards to be spilled and merged.
	out := drainSorter(t, SortOptions{BatchSize: 64, Parallelism: 3}, recs)
	assert.Equal(t, len(recs), len(out))
	for i := 1; i < len(out); i++ {
		assert.True(t, !out[i].less(out[i-1]), "output not sorted at index %d", i)
	}
}

func TestReadEndSorterOrdersAcrossLibraries(t *testing.T) {
	recs := []*ReadEnd{
		mkEnd("libB", 0, 1, 1),
		mkEnd("libA", 0, 999, 2),
	}
	out := drainSorter(t, SortOptions{BatchSize: 1}, recs)
	assert.Equal(t, "libA", out[0].LibraryID)
	assert.Equal(t, "libB", out[1].LibraryID)
}

func TestReadEndSorterEmpty(t *testing.T) {
	out := drainSorter(t, SortOptions{}, nil)
	assert.Nil(t, out)
}

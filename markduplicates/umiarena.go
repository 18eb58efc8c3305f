package markduplicates

import "github.com/dgryski/go-farm"

// umiArena interns the UMI byte strings of a positional group so the
// open-set splitter (§4.8 Mode A, §9 "Arena for UMI strings") counts
// distinct codes by a 64-bit hash instead of repeated string comparison.
// Collisions fall back to exact string equality within a bucket.
type umiArena struct {
	buckets map[uint64][]string
}

func newUmiArena() *umiArena {
	return &umiArena{buckets: map[uint64][]string{}}
}

// intern returns the arena's canonical copy of s, so equal UMI codes
// observed from different records compare as the same Go string value.
func (a *umiArena) intern(s string) string {
	h := farm.Hash64([]byte(s))
	for _, cand := range a.buckets[h] {
		if cand == s {
			return cand
		}
	}
	a.buckets[h] = append(a.buckets[h], s)
	return s
}

package markduplicates

import "strings"

// TrimHeader removes the barcode-bearing tokens from a read name (spec.md
// §4.10, an optional second-pass rewrite). name is split on delimiter;
// each index in slots (1-based, or negative to count from the end, as in
// ExtractUmi) is removed; the remaining tokens are re-joined with
// delimiter in their original relative order.
func TrimHeader(name string, slots []int, delimiter string) string {
	if len(slots) == 0 {
		return name
	}
	tokens := strings.Split(name, delimiter)
	remove := make(map[int]bool, len(slots))
	for _, s := range slots {
		idx := s
		if idx < 0 {
			idx = len(tokens) + idx
		} else {
			idx--
		}
		if idx >= 0 && idx < len(tokens) {
			remove[idx] = true
		}
	}

	kept := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		if !remove[i] {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, delimiter)
}

package markduplicates

// Grouper consumes a sorted Cursor and emits maximal runs of ReadEnd records
// sharing the same positional-group key (spec.md §4.7): exactly one group
// is held in memory at a time, via a one-record lookahead.
type Grouper struct {
	cursor  *Cursor
	pending *ReadEnd
}

// NewGrouper wraps a sorted Cursor. Next() groups must be consumed in order;
// the Cursor is assumed already positioned at its first record.
func NewGrouper(cursor *Cursor) *Grouper {
	g := &Grouper{cursor: cursor}
	g.pending, _ = cursor.Next()
	return g
}

// Next returns the next positional group, or ok=false once the cursor is
// exhausted. Groups of size 1 are returned like any other; callers treat
// them as carrying no duplicates.
func (g *Grouper) Next() (group []*ReadEnd, ok bool) {
	if g.pending == nil {
		return nil, false
	}
	group = append(group, g.pending)
	for {
		next, hasNext := g.cursor.Next()
		if !hasNext {
			g.pending = nil
			break
		}
		if !group[0].samePosition(next) {
			g.pending = next
			break
		}
		group = append(group, next)
	}
	return group, true
}

/*Package markduplicates marks or removes duplicates from .bam files.

This package replicates the behavior of picard MarkDuplicates, extended
with UMI-aware duplicate detection.

Duplicate Marking Concepts:

At the conceptual level, this package considers two reads A and B as
duplicates (isDuplicate(A, B)) if their:
  1) reference
  2) unclipped 5' position
  3) read direction (orientation)
are ALL identical.

Two pairs P1 and P2 are considered duplicates of each other, if
isDuplicate(P1.leftRead, P2.leftRead) and isDuplicate(P1.rightRead,
P2.rightRead). Left vs right is determined by the unclipped 5'
position of each read in the pair.

Mapped pairs vs. Mapped-Unmapped pairs: For some read pairs, both
reads will be mapped (mapped pairs). For other read pairs, only one
of the reads will be mapped (mapped-unmapped pairs, here called
fragments). A mapped pair can be a duplicate of another mapped pair,
but a mapped pair P1 may NOT be a duplicate of a fragment P2, because
one read of P2 has no alignment position and thus cannot be equal to
one of the mapped reads of P1.

However, the mapped read of a fragment can be considered a duplicate
of one read of a mapped pair. So in this example, P2's mapped read
could be a duplicate of P1.left:

  P1: left(chr1, 1020, F) right(chr1, 1040, R)
  P2: left(chr1, 1020, F)

  P1 is not a duplicate of P2, but P2.left is a duplicate of P1.left.

When a fragment and a pair share a coordinate, the pair always wins:
every fragment at that coordinate is flagged a duplicate outright,
never compared against the pair's own primary-selection logic.

After identifying the duplicates, this package selects a primary pair
or read for each set of duplicates. The primary is the one with the
highest score, the sum of its base qualities above a quality floor.
Ties are broken in favor of whichever record appears earlier in the
bam input.

If UMIs are in use, a positional group is first split into UMI
sub-groups (open-set alias chaining or closed-set fixed-width
matching), and primary selection and duplicate flagging both happen
within each sub-group independently.

Implementation:

Marking proceeds in two passes over the input. The first pass
classifies every primary record into a ReadEnd (its library,
unclipped 5' coordinate, orientation, read group, base-quality score,
originating file index or indices, and UMI bytes), routes it into one
of two external sorts (fragments, pairs), and for each resulting
positional group decides which records are duplicates, recording their
file indices. The second pass rewrites the input in its original
order, consulting that index to set (or clear, or drop) the duplicate
flag on each record.

Because both streams are produced by an external sort rather than held
in memory, the 5' coordinate comparisons this package relies on never
need shard boundaries, clip-padding, or a distant-mate table: a
positional group is, by construction, exactly the run of sorted
records sharing a coordinate.

Tagging:

If the caller enables tagging, this package can attach auxiliary tags
DI, DL, DS, and DT to the output.

DI is the duplicate index of a duplicate set. All pairs in a
duplicate set, including the primary, share the same DI value: the
file index of the left-most read of the primary duplicate pair. DI is
not set for mate-unmapped reads.

DL is the number of library (LB aka PCR) duplicate pairs in the
duplicate set. This is the DS value minus the number of "SQ"
duplicate pairs in the duplicate set.

DS is the number of pairs in the duplicate set. DS is not set on
mate-unmapped reads, and does not count mate-unmapped duplicates.

DT is set on duplicate pairs (not the primary) and mate-unmapped
reads. It is set to "SQ" for optical duplicates, and "LB" for all
other duplicates.
*/
package markduplicates

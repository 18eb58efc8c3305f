package bam

import "github.com/grailbio/hts/sam"

// HasNoMappedMate returns true if record is unpaired or has an unmapped mate.
func HasNoMappedMate(record *sam.Record) bool {
	return (record.Flags&sam.Paired) == 0 || (record.Flags&sam.MateUnmapped) != 0
}

// Flags accessors, one per bit, so callers never inline a flag mask.

func IsPaired(r *sam.Record) bool        { return r.Flags&sam.Paired != 0 }
func IsProperPair(r *sam.Record) bool    { return r.Flags&sam.ProperPair != 0 }
func IsUnmapped(r *sam.Record) bool      { return r.Flags&sam.Unmapped != 0 }
func IsMateUnmapped(r *sam.Record) bool  { return r.Flags&sam.MateUnmapped != 0 }
func IsReverse(r *sam.Record) bool       { return r.Flags&sam.Reverse != 0 }
func IsMateReverse(r *sam.Record) bool   { return r.Flags&sam.MateReverse != 0 }
func IsRead1(r *sam.Record) bool         { return r.Flags&sam.Read1 != 0 }
func IsRead2(r *sam.Record) bool         { return r.Flags&sam.Read2 != 0 }
func IsSecondary(r *sam.Record) bool     { return r.Flags&sam.Secondary != 0 }
func IsQCFail(r *sam.Record) bool        { return r.Flags&sam.QCFail != 0 }
func IsDuplicate(r *sam.Record) bool     { return r.Flags&sam.Duplicate != 0 }
func IsSupplementary(r *sam.Record) bool { return r.Flags&sam.Supplementary != 0 }

// IsPrimary reports whether r is neither a secondary nor a supplementary
// alignment.
func IsPrimary(r *sam.Record) bool {
	return r.Flags&(sam.Secondary|sam.Supplementary) == 0
}

// clipLen sums the lengths of clipping (soft or hard) operations at one end
// of a CIGAR, stopping at the first non-clip op.
func clipLen(cigar []sam.CigarOp, fromStart bool) int {
	n := 0
	if fromStart {
		for _, op := range cigar {
			t := op.Type()
			if t != sam.CigarSoftClipped && t != sam.CigarHardClipped {
				break
			}
			n += op.Len()
		}
		return n
	}
	for i := len(cigar) - 1; i >= 0; i-- {
		t := cigar[i].Type()
		if t != sam.CigarSoftClipped && t != sam.CigarHardClipped {
			break
		}
		n += cigar[i].Len()
	}
	return n
}

// refLen returns the number of reference bases the CIGAR's non-clip
// operations consume.
func refLen(cigar []sam.CigarOp) int {
	n := 0
	for _, op := range cigar {
		n += op.Len() * op.Type().Consumes().Reference
	}
	return n
}

// LeftClipDistance returns the number of bases clipped (soft or hard) at the
// start of the CIGAR, regardless of read orientation.
func LeftClipDistance(r *sam.Record) int { return clipLen(r.Cigar, true) }

// RightClipDistance returns the number of bases clipped (soft or hard) at
// the end of the CIGAR, regardless of read orientation.
func RightClipDistance(r *sam.Record) int { return clipLen(r.Cigar, false) }

// FivePrimeClipDistance returns the number of bases clipped at the read's 5'
// end: the start of the CIGAR for a forward alignment, the end for a
// reverse one.
func FivePrimeClipDistance(r *sam.Record) int {
	if IsReverse(r) {
		return RightClipDistance(r)
	}
	return LeftClipDistance(r)
}

// UnclippedStart returns the alignment's reference start position as if its
// leading clip had consumed reference bases too.
func UnclippedStart(r *sam.Record) int {
	return r.Pos - LeftClipDistance(r)
}

// UnclippedEnd returns the alignment's reference end position (inclusive)
// as if its trailing clip had consumed reference bases too.
func UnclippedEnd(r *sam.Record) int {
	return r.Pos + refLen(r.Cigar) - 1 + RightClipDistance(r)
}

// UnclippedFivePrimePosition returns the reference coordinate of the read's
// 5' end, extended through any clipping: UnclippedStart for a forward
// alignment, UnclippedEnd for a reverse one. Duplicate marking groups and
// sorts reads by this coordinate, not by Pos, so that soft/hard-clipped
// reads sharing a true fragment start still collide.
func UnclippedFivePrimePosition(r *sam.Record) int {
	if IsReverse(r) {
		return UnclippedEnd(r)
	}
	return UnclippedStart(r)
}

// BaseAtPos returns the read base aligned to reference position refPos and
// whether one exists. Positions inside a deletion or reference skip report
// base 0 with found=true; positions outside the alignment's mapped span,
// including clipped bases, report found=false.
func BaseAtPos(r *sam.Record, refPos int) (base byte, found bool) {
	pos := r.Pos
	seq := r.Seq.Expand()
	qi := 0
	for _, op := range r.Cigar {
		con := op.Type().Consumes()
		n := op.Len()
		switch {
		case con.Reference == 1 && con.Query == 1:
			if refPos >= pos && refPos < pos+n {
				i := qi + (refPos - pos)
				if i < 0 || i >= len(seq) {
					return 0, false
				}
				return seq[i], true
			}
			pos += n
			qi += n
		case con.Reference == 1 && con.Query == 0:
			if refPos >= pos && refPos < pos+n {
				return 0, true
			}
			pos += n
		case con.Reference == 0 && con.Query == 1:
			qi += n
		default:
			// Hard clip, padding: consumes neither.
		}
	}
	return 0, false
}

// ClearAuxTags removes every auxiliary field whose tag appears in tags.
func ClearAuxTags(r *sam.Record, tags []sam.Tag) {
	if len(r.AuxFields) == 0 {
		return
	}
	kept := r.AuxFields[:0]
	for _, aux := range r.AuxFields {
		drop := false
		for _, t := range tags {
			if aux.Tag() == t {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, aux)
		}
	}
	r.AuxFields = kept
}

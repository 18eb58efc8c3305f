package markduplicates

import (
	"time"

	"github.com/grailbio/hts/sam"
)

// Shared test fixtures: a two-reference, two-read-group header and a
// handful of flag/cigar combinations reused across this package's tests.
var (
	chr1, chr2 *sam.Reference
	header     *sam.Header

	cigar0     []sam.CigarOp
	cigar100M  []sam.CigarOp
	cigarSoft1 []sam.CigarOp
	cigarHard1 []sam.CigarOp

	r1F = sam.Paired | sam.Read1 | sam.ProperPair
	r1R = sam.Paired | sam.Read1 | sam.ProperPair | sam.Reverse | sam.MateReverse
	r2F = sam.Paired | sam.Read2 | sam.ProperPair
	r2R = sam.Paired | sam.Read2 | sam.ProperPair | sam.Reverse | sam.MateReverse

	s1F = sam.Paired | sam.Read1 | sam.ProperPair | sam.MateReverse
	s2R = sam.Paired | sam.Read2 | sam.ProperPair | sam.Reverse

	u1 = sam.Paired | sam.Read1 | sam.MateUnmapped
	u2 = sam.Paired | sam.Read2 | sam.Unmapped

	sec = sam.Paired | sam.Read1 | sam.ProperPair | sam.Secondary

	up1 = sam.Read1
	up2 = sam.Read1 | sam.Reverse
)

func init() {
	var err error
	chr1, err = sam.NewReference("chr1", "", "", 1000000, nil, nil)
	if err != nil {
		panic(err)
	}
	chr2, err = sam.NewReference("chr2", "", "", 1000000, nil, nil)
	if err != nil {
		panic(err)
	}
	header, err = sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	if err != nil {
		panic(err)
	}
	rg1, err := sam.NewReadGroup("rg1", "", "", "lib1", "", "", "", "", "", "", time.Time{}, 0)
	if err != nil {
		panic(err)
	}
	if err := header.AddReadGroup(rg1); err != nil {
		panic(err)
	}
	rg2, err := sam.NewReadGroup("rg2", "", "", "lib2", "", "", "", "", "", "", time.Time{}, 0)
	if err != nil {
		panic(err)
	}
	if err := header.AddReadGroup(rg2); err != nil {
		panic(err)
	}

	cigar0 = []sam.CigarOp{}
	cigar100M = []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 100)}
	cigarSoft1 = []sam.CigarOp{sam.NewCigarOp(sam.CigarSoftClipped, 1), sam.NewCigarOp(sam.CigarMatch, 99)}
	cigarHard1 = []sam.CigarOp{sam.NewCigarOp(sam.CigarHardClipped, 1), sam.NewCigarOp(sam.CigarMatch, 99)}
}

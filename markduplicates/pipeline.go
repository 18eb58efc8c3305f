package markduplicates

import (
	"context"
	"io"
	"os"

	gbam "github.com/gbcs-embl/Je-sub001/encoding/bam"
	"github.com/gbcs-embl/Je-sub001/encoding/bampair"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// OpticalDetector is a general interface for optical duplicate detection.
type OpticalDetector interface {
	// GetRecordProcessor returns a RecordProcessor that sees every
	// record in the bam input before any calls to Detect happen. The
	// OpticalDetector can use this to calculate statistics that
	// influence optical detection.
	GetRecordProcessor() bampair.RecordProcessor

	// RecordProcessorsDone should be called after the RecordProcessors
	// have seen all the input records.
	RecordProcessorsDone()

	// Detect identifies the optical duplicates within group and returns
	// their names. group is every ReadEnd in one positional group, across
	// all of its UMI sub-groups, and bestIndex is the index, within group,
	// of a record kept as primary.
	Detect(group []*ReadEnd, bestIndex int) []string
}

// Opts configures the duplicate-marking pipeline (spec.md §4, component
// C5 through C10).
type Opts struct {
	BamFile       string
	OutputPath    string
	ScratchDir    string
	RemoveDups    bool
	TagDups       bool
	ClearExisting bool

	MetricsFile         string
	OpticalHistogram    string
	OpticalHistogramMax int

	// UseUmis turns on UMI-aware sub-grouping (spec.md §4.8). UmiMode is
	// "open" (Mode A, alias chaining) or "closed" (Mode B, fixed-width
	// sub-codes); UmiSlotSpecs is consulted only in "closed" mode.
	UseUmis       bool
	UmiMode       string
	UmiMaxN       int
	UmiMismatches int
	UmiSlots      []int
	UmiDelimiter  string
	UmiSlotSpecs  []UmiSlotSpec

	// TrimHeaderSlots, when non-empty, enables the optional second-pass
	// header rewrite (spec.md §4.10).
	TrimHeaderSlots     []int
	TrimHeaderDelimiter string

	OpticalDetector OpticalDetector

	SortBatchSize   int
	SortParallelism int
}

// Pipeline runs the two-pass duplicate-marking engine described by
// spec.md §5: the first pass classifies every primary record into a
// ReadEnd, externally sorts and positionally groups them, and records the
// file index of every flagged duplicate; the second pass rewrites the
// input, consulting the index built by the first.
type Pipeline struct {
	Opts *Opts
}

// NewPipeline returns a Pipeline configured by opts.
func NewPipeline(opts *Opts) *Pipeline {
	return &Pipeline{Opts: opts}
}

// pendingMate is a primary record waiting for its mate during the first
// pass's single in-memory pairing pass. Unlike the sharded engine this
// replaces, the pipeline processes one BAM stream start to finish, so
// mates are paired with a local map rather than a disk-backed distant-
// mate table; callers with inputs too large to hold the sparse set of
// in-flight mate names in memory should pre-sort by name.
type pendingMate struct {
	rec *sam.Record
	idx uint64
}

// Run executes both passes and returns the merged per-library metrics.
func (p *Pipeline) Run(ctx context.Context) (*MetricsCollection, error) {
	_, dupIter, tags, metrics, err := p.firstPass()
	if err != nil {
		return nil, err
	}
	defer dupIter.Close()

	if err := p.secondPass(dupIter, tags); err != nil {
		return nil, err
	}

	if p.Opts.MetricsFile != "" {
		if err := writeMetrics(ctx, p.Opts, metrics); err != nil {
			return nil, err
		}
	}
	if p.Opts.OpticalHistogram != "" {
		if err := writeOpticalHistogram(ctx, p.Opts, metrics); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (p *Pipeline) openReader() (*os.File, *bam.Reader, error) {
	f, err := os.Open(p.Opts.BamFile)
	if err != nil {
		return nil, nil, errors.E(err, "opening", p.Opts.BamFile)
	}
	r, err := bam.NewReader(f, 1)
	if err != nil {
		f.Close()
		return nil, nil, errors.E(err, "reading header of", p.Opts.BamFile)
	}
	return f, r, nil
}

// firstPass reads the input once, builds a ReadEnd per primary record,
// externally sorts the fragment and pair streams separately, walks both
// in position order (suppressing a fragment group wherever a pair group
// shares its coordinate, per spec.md §4.5), splits each surviving group
// by UMI, flags duplicates, and records their file indices.
func (p *Pipeline) firstPass() (*sam.Header, *DupIndexIterator, tagIndex, *MetricsCollection, error) {
	f, reader, err := p.openReader()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	defer f.Close()
	header := reader.Header()

	readGroupLibrary := make(map[string]string)
	for _, rg := range header.RGs() {
		readGroupLibrary[rg.Name()] = rg.Library()
	}

	metrics := newMetricsCollection()

	sortOpts := SortOptions{BatchSize: p.Opts.SortBatchSize, Parallelism: p.Opts.SortParallelism, TmpDir: p.Opts.ScratchDir}
	fragSorter := NewReadEndSorter(sortOpts)
	pairSorter := NewReadEndSorter(sortOpts)

	pending := map[string]pendingMate{}
	var fileIdx uint64
	for {
		r, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, nil, errors.E(err, "reading", p.Opts.BamFile)
		}

		if p.Opts.ClearExisting {
			clearDupFlagTags(r)
		}

		library := GetLibrary(readGroupLibrary, r)
		m := metrics.Get(library)

		switch {
		case !gbam.IsPrimary(r):
			m.SecondarySupplementary++
		case gbam.IsUnmapped(r):
			m.UnmappedReads++
		case gbam.HasNoMappedMate(r):
			m.UnpairedReads++
			end := NewFragmentEnd(r, library, fileIdx, p.Opts.UmiSlots, p.Opts.UmiDelimiter)
			fragSorter.Add(end)
		default:
			if mate, ok := pending[r.Name]; ok {
				delete(pending, r.Name)
				end := NewPairEnd(mate.rec, r, mate.idx, fileIdx, library, p.Opts.UmiSlots, p.Opts.UmiDelimiter)
				pairSorter.Add(end)
				m.ReadPairsExamined += 2
			} else {
				pending[r.Name] = pendingMate{rec: r, idx: fileIdx}
			}
		}
		if d := abs(r.Pos - gbam.UnclippedFivePrimePosition(r)); d > metrics.maxAlignDist {
			metrics.maxAlignDist = d
		}
		fileIdx++
	}

	for name, mate := range pending {
		vlog.Infof("markduplicates: no mate found for %s, treating as unpaired", name)
		library := GetLibrary(readGroupLibrary, mate.rec)
		m := metrics.Get(library)
		m.UnpairedReads++
		end := NewFragmentEnd(mate.rec, library, mate.idx, p.Opts.UmiSlots, p.Opts.UmiDelimiter)
		fragSorter.Add(end)
	}

	fragCursor, err := fragSorter.Close()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	pairCursor, err := pairSorter.Close()
	if err != nil {
		fragCursor.Close()
		return nil, nil, nil, nil, err
	}
	defer fragCursor.Close()
	defer pairCursor.Close()
	fragGrouper := NewGrouper(fragCursor)
	pairGrouper := NewGrouper(pairCursor)

	dupWriter := NewDupIndexWriter(DupIndexOptions{TmpDir: p.Opts.ScratchDir})
	var tags tagIndex
	if p.Opts.TagDups {
		tags = tagIndex{}
	}

	fragGroup, fragOk := fragGrouper.Next()
	pairGroup, pairOk := pairGrouper.Next()
	for fragOk || pairOk {
		switch {
		case pairOk && fragOk && pairGroup[0].samePositionKey(fragGroup[0]):
			// Pair group and fragment group share a coordinate: the pair
			// group wins entirely, and every fragment at this coordinate
			// is flagged as a duplicate too.
			if err := p.processGroup(pairGroup, metrics, dupWriter, tags); err != nil {
				return nil, nil, nil, nil, err
			}
			m := metrics.Get(fragGroup[0].LibraryID)
			for _, r := range fragGroup {
				m.UnpairedDups++
				if tags != nil {
					tags.setDT(r.FileIndex1, "LB")
				}
				if err := dupWriter.Add(r.FileIndex1); err != nil {
					return nil, nil, nil, nil, err
				}
			}
			pairGroup, pairOk = pairGrouper.Next()
			fragGroup, fragOk = fragGrouper.Next()
		case pairOk && (!fragOk || pairGroup[0].lessPositionKey(fragGroup[0])):
			if err := p.processGroup(pairGroup, metrics, dupWriter, tags); err != nil {
				return nil, nil, nil, nil, err
			}
			pairGroup, pairOk = pairGrouper.Next()
		default:
			if err := p.processGroup(fragGroup, metrics, dupWriter, tags); err != nil {
				return nil, nil, nil, nil, err
			}
			fragGroup, fragOk = fragGrouper.Next()
		}
	}

	dupIter, err := dupWriter.Finalize()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return header, dupIter, tags, metrics, nil
}

// processGroup partitions one positional group by UMI, flags duplicates
// within each sub-group, runs optical-duplicate refinement, records every
// flagged record's file index, and, when tags is non-nil, computes the
// DI/DL/DS/DT values doc.go's "Tagging" section describes for each
// duplicate set.
func (p *Pipeline) processGroup(group []*ReadEnd, metrics *MetricsCollection, dupWriter *DupIndexWriter, tags tagIndex) error {
	var subgroups map[string][]*ReadEnd
	if p.Opts.UseUmis && len(group) > 1 {
		splitter := &UmiSplitter{
			Mode:       p.Opts.UmiMode,
			MaxN:       p.Opts.UmiMaxN,
			Mismatches: p.Opts.UmiMismatches,
			SlotSpecs:  p.Opts.UmiSlotSpecs,
		}
		subgroups = splitter.Split(group)
	} else {
		subgroups = map[string][]*ReadEnd{"": group}
	}

	sets := FlagDuplicateSets(subgroups)
	var dups []*ReadEnd
	for _, s := range sets {
		dups = append(dups, s.Dups...)
	}

	m := metrics.Get(group[0].LibraryID)
	if group[0].Paired {
		m.ReadPairDups += 2 * len(dups)
	} else {
		m.UnpairedDups += len(dups)
	}

	var opticalNames map[string]bool
	if p.Opts.OpticalDetector != nil && len(dups) > 0 {
		keepIdx := 0
		dupSet := make(map[*ReadEnd]bool, len(dups))
		for _, d := range dups {
			dupSet[d] = true
		}
		for i, r := range group {
			if !dupSet[r] {
				keepIdx = i
				break
			}
		}
		names := p.Opts.OpticalDetector.Detect(group, keepIdx)
		m.ReadPairOpticalDups += 2 * len(names)
		if len(names) > 0 {
			opticalNames = make(map[string]bool, len(names))
			for _, n := range names {
				opticalNames[n] = true
			}
		}

		if p.Opts.OpticalHistogram != "" {
			addOpticalDistances(p.Opts, group, metrics)
		}
	}

	if tags != nil {
		for _, s := range sets {
			tagDuplicateSet(tags, s, group[0].Paired, opticalNames)
		}
	}

	for _, r := range dups {
		if err := dupWriter.Add(r.FileIndex1); err != nil {
			return err
		}
		if r.Paired {
			if err := dupWriter.Add(r.FileIndex2); err != nil {
				return err
			}
		}
	}
	return nil
}

// tagDuplicateSet computes the DI/DL/DS/DT values doc.go's "Tagging"
// section describes for one duplicate set and records them in tags.
// DI/DL/DS apply only to paired sets with a primary (the mate-unmapped
// and undefined-subgroup-coexisting-with-real-subgroups cases get DT
// only, per doc.go and the §4.8 Open Question this package resolves by
// treating the latter the same as a mate-unmapped read: flagged, but
// without a duplicate set of its own to anchor DI/DS/DL to).
func tagDuplicateSet(tags tagIndex, s DuplicateSet, paired bool, opticalNames map[string]bool) {
	if len(s.Dups) == 0 {
		return
	}
	dtOf := func(d *ReadEnd) string {
		if opticalNames[d.Name] {
			return "SQ"
		}
		return "LB"
	}

	if !paired || s.Primary == nil {
		for _, d := range s.Dups {
			tags.tagReadEnd(d, 0, 0, 0, dtOf(d))
		}
		return
	}

	di := s.Primary.FileIndex1
	ds := len(s.Dups) + 1
	sq := 0
	for _, d := range s.Dups {
		if opticalNames[d.Name] {
			sq++
		}
	}
	dl := ds - sq
	tags.tagReadEnd(s.Primary, di, ds, dl, "")
	for _, d := range s.Dups {
		tags.tagReadEnd(d, di, ds, dl, dtOf(d))
	}
}

// secondPass rewrites the input, setting (or, with RemoveDups, dropping)
// every record whose file index was flagged by the first pass, and, when
// tags is non-nil, attaching the DI/DL/DS/DT aux tags computed for it.
func (p *Pipeline) secondPass(dupIter *DupIndexIterator, tags tagIndex) error {
	f, reader, err := p.openReader()
	if err != nil {
		return err
	}
	defer f.Close()

	out, err := os.Create(p.Opts.OutputPath)
	if err != nil {
		return errors.E(err, "creating", p.Opts.OutputPath)
	}
	defer out.Close()
	writer, err := bam.NewWriter(out, reader.Header(), 1)
	if err != nil {
		return errors.E(err, "writing header of", p.Opts.OutputPath)
	}
	defer writer.Close()

	var fileIdx uint64
	for {
		r, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.E(err, "reading", p.Opts.BamFile)
		}

		if next, ok := dupIter.Peek(); ok && next == fileIdx {
			if err := dupIter.Advance(); err != nil {
				return err
			}
			if p.Opts.RemoveDups {
				fileIdx++
				continue
			}
			r.Flags |= sam.Duplicate
		}

		if tags != nil {
			if tag, ok := tags[fileIdx]; ok {
				applyDupSetTag(r, tag)
			}
		}

		if len(p.Opts.TrimHeaderSlots) > 0 {
			r.Name = TrimHeader(r.Name, p.Opts.TrimHeaderSlots, p.Opts.TrimHeaderDelimiter)
		}

		if err := writer.Write(r); err != nil {
			return errors.E(err, "writing", p.Opts.OutputPath)
		}
		fileIdx++
	}
	return nil
}

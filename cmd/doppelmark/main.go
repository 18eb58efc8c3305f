package main

/*
  doppelmark is a tool for marking and removing PCR and optical
  duplicates. For more information, see
  github.com/gbcs-embl/Je-sub001/markduplicates/doc.go
*/

import (
	"context"
	"flag"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"

	md "github.com/gbcs-embl/Je-sub001/markduplicates"
)

var (
	bamFile             = flag.String("bam", "", "Input BAM filename")
	outputPath          = flag.String("output", "", "Output filename")
	metricsFile         = flag.String("metrics", "", "Output metrics file")
	scratchDir          = flag.String("scratch-dir", "/tmp", "Directory to put scratch files")
	sortBatchSize       = flag.Int("sort-batch-size", 1<<20, "number of read-ends held in memory per external-sort run")
	sortParallelism     = flag.Int("sort-parallelism", 4, "number of external-sort merge workers")
	clearExisting       = flag.Bool("clear-existing", false, "clear existing duplicate flag before marking")
	removeDups          = flag.Bool("remove-dups", false, "remove duplicates instead of flagging them")
	tagDups             = flag.Bool("tag-duplicates", false, "tag duplicates as DT:Z:SQ (optical) or DT:Z:LB (pcr), and include DI and DS tags")
	useUmis             = flag.Bool("use-umis", false, "split positional groups by UMI before flagging duplicates")
	umiMode             = flag.String("umi-mode", "open", "UMI sub-grouping mode: 'open' (alias chaining) or 'closed' (fixed expected set)")
	umiMaxN             = flag.Int("umi-max-n", -1, "maximum number of N bases tolerated in a UMI; defaults to umi-mismatches")
	umiMismatches       = flag.Int("umi-mismatches", 1, "maximum mismatches tolerated between two UMIs in the same sub-group")
	umiSlots            = flag.String("umi-slot-indices", "-1", "comma-separated, possibly-negative 1-based name-token indices carrying the UMI")
	umiDelimiter        = flag.String("umi-delimiter", ":", "delimiter splitting the read name into tokens for UMI and header-trim extraction")
	trimHeader          = flag.Bool("trim-header", false, "rewrite the read name on output, dropping the tokens named by trim-header-slot-indices")
	trimHeaderSlots     = flag.String("trim-header-slot-indices", "", "comma-separated, possibly-negative 1-based name-token indices to drop when -trim-header is set")
	opticalDistance     = flag.Int("optical-distance", 2500, "pixel distance threshold for optical duplicates, use -1 to disable")
	opticalHistogram    = flag.String("optical-histogram", "", "path to optical distance histogram output file")
	opticalHistogramMax = flag.Int("optical-histogram-max", 2000, "maximum number of positional-group entries to compare when computing the optical histogram. Setting to -1 considers all entries.")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() > 0 {
		a := flag.Args()
		log.Fatalf("unparsed flags, please check flag syntax: '%s'", strings.Join(a[len(a)-flag.NArg():], " "))
	}
	if *bamFile == "" || *outputPath == "" {
		log.Fatalf("-bam and -output are required")
	}

	slots, err := md.ParseUmiSlots(*umiSlots)
	if err != nil {
		log.Fatalf("-umi-slot-indices: %v", err)
	}
	var trimSlots []int
	if *trimHeader {
		trimSlots, err = md.ParseUmiSlots(*trimHeaderSlots)
		if err != nil {
			log.Fatalf("-trim-header-slot-indices: %v", err)
		}
	}

	maxN := *umiMaxN
	if maxN < 0 {
		maxN = *umiMismatches
	}

	opts := &md.Opts{
		BamFile:       *bamFile,
		OutputPath:    *outputPath,
		ScratchDir:    *scratchDir,
		RemoveDups:    *removeDups,
		TagDups:       *tagDups,
		ClearExisting: *clearExisting,

		MetricsFile:         *metricsFile,
		OpticalHistogram:    *opticalHistogram,
		OpticalHistogramMax: *opticalHistogramMax,

		UseUmis:       *useUmis,
		UmiMode:       *umiMode,
		UmiMaxN:       maxN,
		UmiMismatches: *umiMismatches,
		UmiSlots:      slots,
		UmiDelimiter:  *umiDelimiter,

		TrimHeaderSlots:     trimSlots,
		TrimHeaderDelimiter: *umiDelimiter,

		SortBatchSize:   *sortBatchSize,
		SortParallelism: *sortParallelism,
	}

	if *opticalDistance >= 0 {
		opts.OpticalDetector = &md.TileOpticalDetector{OpticalDistance: *opticalDistance}
	}

	pipeline := md.NewPipeline(opts)
	if _, err := pipeline.Run(context.Background()); err != nil {
		log.Fatalf(err.Error())
	}
	log.Debug.Printf("exiting")
}

// je-demux wires the layout/matching engine (spec.md §4.1-§4.4) to a
// command line: one or more -read inputs, each naming a FASTQ file and the
// read-layout descriptor governing it, a barcode table, and one or more
// -out output-layout descriptors. CLI parsing, barcode-table resolution and
// gzip/file I/O are this program's job; spec.md §1 names them as assumed
// external collaborators of the core components.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"

	"github.com/gbcs-embl/Je-sub001/barcode"
	"github.com/gbcs-embl/Je-sub001/demux"
	"github.com/gbcs-embl/Je-sub001/encoding/fastq"
	"github.com/gbcs-embl/Je-sub001/layout"
	"github.com/gbcs-embl/Je-sub001/outlayout"
)

type readFlag struct {
	paths   []string
	layouts []string
}

func (f *readFlag) String() string { return strings.Join(f.paths, ",") }
func (f *readFlag) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("-read %q: want path=layout-descriptor", v)
	}
	f.paths = append(f.paths, parts[0])
	f.layouts = append(f.layouts, parts[1])
	return nil
}

type outFlag struct{ specs []string }

func (f *outFlag) String() string { return strings.Join(f.specs, ",") }
func (f *outFlag) Set(v string) error {
	f.specs = append(f.specs, v)
	return nil
}

var (
	reads           readFlag
	outs            outFlag
	barcodeTable    = flag.String("barcode-table", "", "tab-separated expected-barcode table (spec.md §6)")
	outDir          = flag.String("out-dir", ".", "directory for demultiplexed output files")
	maxMismatches   = flag.Int("mm", 1, "maximum accepted barcode mismatches")
	minDelta        = flag.Int("delta", 1, "minimum mismatch delta between best and second-best barcode")
	minQuality      = flag.Int("min-quality", 10, "minimum Phred quality for a called base to count toward a match")
	barcodeLength   = flag.Int("barcode-length", 0, "enforced barcode length; 0 disables the check")
	outDelimiter    = flag.String("out-delimiter", ":", "delimiter joining output name-list tokens")
	force           = flag.Bool("force", false, "overwrite existing output files")
)

func init() {
	flag.Var(&reads, "read", "path=layout-descriptor, repeatable; one per parallel input stream")
	flag.Var(&outs, "out", "[streamIdx:]name-list>seq-list output-layout descriptor, repeatable (see parseOutputSpec)")
}

func main() {
	shutdown := grail.Init()
	defer shutdown()

	if len(reads.paths) == 0 {
		log.Fatalf("at least one -read is required")
	}
	if *barcodeTable == "" {
		log.Fatalf("-barcode-table is required")
	}
	if len(outs.specs) == 0 {
		log.Fatalf("at least one -out is required")
	}

	layouts := make([]*layout.Layout, len(reads.layouts))
	for i, desc := range reads.layouts {
		l, err := layout.Parse(desc)
		if err != nil {
			log.Fatalf("-read %s: %v", reads.paths[i], err)
		}
		layouts[i] = l
	}

	tblFile, err := os.Open(*barcodeTable)
	if err != nil {
		log.Fatalf("opening barcode table: %v", err)
	}
	tbl, err := barcode.LoadTable(tblFile, *barcodeLength)
	tblFile.Close()
	if err != nil {
		log.Fatalf("loading barcode table: %v", err)
	}

	slotIDs := map[int]bool{}
	for _, l := range layouts {
		for _, id := range l.BarcodeSlotIDs() {
			slotIDs[id] = true
		}
	}
	matchers := map[int]*demux.SlotMatcher{}
	for id := range slotIDs {
		words, _ := tbl.ExpectedWords(id)
		matchers[id] = &demux.SlotMatcher{Matcher: barcode.NewMatcher(words, *maxMismatches, *minDelta, *minQuality)}
	}

	ids := make([]int, 0, len(slotIDs))
	for id := range slotIDs {
		ids = append(ids, id)
	}
	samples := demux.BuildSampleIndex(tbl, ids)

	streams := make([]*demux.InputStream, len(reads.paths))
	for i, path := range reads.paths {
		f, err := os.Open(path)
		if err != nil {
			log.Fatalf("opening %s: %v", path, err)
		}
		defer f.Close()
		var all []fastq.Read
		sc := fastq.NewScanner(f, fastq.All)
		for {
			var r fastq.Read
			if !sc.Scan(&r) {
				break
			}
			all = append(all, r)
		}
		if err := sc.Err(); err != nil {
			log.Fatalf("reading %s: %v", path, err)
		}
		streams[i] = &demux.InputStream{Layout: layouts[i], Reads: all}
	}

	names := make([]string, len(tbl.Samples)+1)
	for i, s := range tbl.Samples {
		names[i] = s.Name
	}
	names[len(tbl.Samples)] = demux.UnassignedName

	outputs := make([]demux.OutputConfig, len(outs.specs))
	writerSets := make([]*sampleWriterSet, len(outs.specs))
	for i, spec := range outs.specs {
		streamIdx, ol, err := parseOutputSpec(spec, *outDelimiter)
		if err != nil {
			log.Fatalf("-out %q: %v", spec, err)
		}
		ws := newSampleWriterSet(*outDir, fmt.Sprintf("out%d", i+1), names, *force)
		writerSets[i] = ws
		outputs[i] = demux.OutputConfig{Layout: ol, OriginStream: streamIdx, Writer: ws}
	}

	p := &demux.Pipeline{Streams: streams, SlotMatchers: matchers, Samples: samples, Outputs: outputs}
	if err := p.Run(); err != nil {
		log.Fatalf("demux: %v", err)
	}
	for _, ws := range writerSets {
		if err := ws.Close(); err != nil {
			log.Fatalf("closing outputs: %v", err)
		}
	}
	log.Debug.Printf("demux complete, %d unassigned", p.Unassigned)
}

// parseOutputSpec parses "[streamIdx:]name-list>seq-list", e.g.
// "0:UMI1,READBAR1>SAMPLE1". Each list is a comma-separated set of tokens:
// BARCODE<n>, UMI<n>, SAMPLE<n>, or READBAR<n>, each optionally suffixed
// with 'q' to request quality-in-name encoding (name-list tokens only).
// streamIdx, if omitted, defaults to 0 and selects which input stream's
// read supplies the output record's original name.
func parseOutputSpec(spec, delimiter string) (int, outlayout.Layout, error) {
	streamIdx := 0
	body := spec
	if idx := strings.Index(spec, ":"); idx >= 0 {
		if n, err := strconv.Atoi(spec[:idx]); err == nil {
			streamIdx = n
			body = spec[idx+1:]
		}
	}
	halves := strings.SplitN(body, ">", 2)
	if len(halves) != 2 {
		return 0, outlayout.Layout{}, fmt.Errorf("expected name-list>seq-list")
	}
	nameList, err := parseRefList(halves[0])
	if err != nil {
		return 0, outlayout.Layout{}, err
	}
	seqList, err := parseRefList(halves[1])
	if err != nil {
		return 0, outlayout.Layout{}, err
	}
	return streamIdx, outlayout.Layout{NameList: nameList, SequenceList: seqList, Delimiter: delimiter}, nil
}

func parseRefList(s string) ([]outlayout.Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var refs []outlayout.Ref
	for _, tok := range strings.Split(s, ",") {
		ref, err := parseRef(strings.TrimSpace(tok))
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseRef(tok string) (outlayout.Ref, error) {
	qualityInName := false
	if strings.HasSuffix(tok, "q") {
		qualityInName = true
		tok = tok[:len(tok)-1]
	}
	readBar := false
	body := tok
	switch {
	case strings.HasPrefix(tok, "READBAR"):
		readBar = true
		body = "BARCODE" + tok[len("READBAR"):]
	}
	kindStr, idStr := splitKindID(body)
	var kind layout.Kind
	switch kindStr {
	case "BARCODE":
		kind = layout.Barcode
	case "UMI":
		kind = layout.Umi
	case "SAMPLE":
		kind = layout.Sample
	default:
		return outlayout.Ref{}, fmt.Errorf("unknown slot reference %q", tok)
	}
	id := 1
	if idStr != "" {
		n, err := strconv.Atoi(idStr)
		if err != nil {
			return outlayout.Ref{}, fmt.Errorf("invalid slot id in %q", tok)
		}
		id = n
	}
	return outlayout.Ref{Kind: kind, ID: id, ReadBar: readBar, QualityInName: qualityInName}, nil
}

func splitKindID(tok string) (kind, id string) {
	i := len(tok)
	for i > 0 && tok[i-1] >= '0' && tok[i-1] <= '9' {
		i--
	}
	return tok[:i], tok[i:]
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gbcs-embl/Je-sub001/encoding/fastq"
	"github.com/gbcs-embl/Je-sub001/outlayout"
)

// sampleWriterSet implements demux.OutputWriter, dispatching each assembled
// record to a per-sample FASTQ file opened under dir/prefix.<sample>.fastq.
type sampleWriterSet struct {
	files   map[string]*os.File
	writers map[string]*fastq.Writer
}

func newSampleWriterSet(dir, prefix string, sampleNames []string, force bool) *sampleWriterSet {
	ws := &sampleWriterSet{
		files:   make(map[string]*os.File, len(sampleNames)),
		writers: make(map[string]*fastq.Writer, len(sampleNames)),
	}
	for _, name := range sampleNames {
		path := filepath.Join(dir, fmt.Sprintf("%s.%s.fastq", prefix, name))
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if !force {
			flags |= os.O_EXCL
		}
		f, err := os.OpenFile(path, flags, 0644)
		if err != nil {
			panic(fmt.Sprintf("creating %s: %v (pass -force to overwrite)", path, err))
		}
		ws.files[name] = f
		ws.writers[name] = fastq.NewWriter(f)
	}
	return ws
}

func (ws *sampleWriterSet) Write(sample string, rec outlayout.Record) error {
	w, ok := ws.writers[sample]
	if !ok {
		return fmt.Errorf("no output file configured for sample %q", sample)
	}
	return w.Write(&fastq.Read{ID: rec.Name, Seq: rec.Seq, Unk: "+", Qual: rec.Qual})
}

func (ws *sampleWriterSet) Close() error {
	var firstErr error
	for name, f := range ws.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing output for sample %q: %w", name, err)
		}
	}
	return firstErr
}

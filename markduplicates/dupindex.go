package markduplicates

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"
	"sort"

	"github.com/klauspost/compress/s2"
)

// DefaultDupIndexBatchSize bounds how many file indices the writer keeps in
// memory before spilling a sorted shard to disk.
const DefaultDupIndexBatchSize = 1 << 20

// dupIndexBlockSize is the number of uint64s per on-disk block.
const dupIndexBlockSize = 1 << 14

// DupIndexOptions configures the duplicate-index collection (spec.md §4.9).
type DupIndexOptions struct {
	BatchSize int
	TmpDir    string
}

func (o *DupIndexOptions) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultDupIndexBatchSize
	}
}

// DupIndexWriter accepts flagged file indices in any order, sorts and spills
// batches to disk, and on Finalize produces a DupIndexIterator over the
// merged, deduplicated, ascending sequence.
type DupIndexWriter struct {
	opts   DupIndexOptions
	buf    []uint64
	shards []string
}

func NewDupIndexWriter(opts DupIndexOptions) *DupIndexWriter {
	opts.setDefaults()
	return &DupIndexWriter{opts: opts}
}

// Add records a file index (identifying one BAM record by its ordinal
// position) as a flagged duplicate.
func (w *DupIndexWriter) Add(fileIndex uint64) error {
	w.buf = append(w.buf, fileIndex)
	if len(w.buf) >= w.opts.BatchSize {
		return w.spill()
	}
	return nil
}

func (w *DupIndexWriter) spill() error {
	sort.Slice(w.buf, func(i, j int) bool { return w.buf[i] < w.buf[j] })

	f, err := ioutil.TempFile(w.opts.TmpDir, "markduplicates-dupindex-")
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	for i := 0; i < len(w.buf); i += dupIndexBlockSize {
		end := i + dupIndexBlockSize
		if end > len(w.buf) {
			end = len(w.buf)
		}
		if err := writeDupIndexBlock(bw, w.buf[i:end]); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	w.shards = append(w.shards, f.Name())
	return nil
}

func writeDupIndexBlock(w io.Writer, vals []uint64) error {
	raw := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(raw[i*8:], v)
	}
	payload := s2.Encode(nil, raw)
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Finalize flushes any pending batch and returns an iterator over the
// merged, ascending, deduplicated sequence of every flagged file index.
func (w *DupIndexWriter) Finalize() (*DupIndexIterator, error) {
	if len(w.buf) > 0 {
		if err := w.spill(); err != nil {
			return nil, err
		}
	}
	return newDupIndexIterator(w.shards)
}

type dupIndexShardReader struct {
	f     *os.File
	r     *bufio.Reader
	block []uint64
	pos   int
}

func newDupIndexShardReader(path string) (*dupIndexShardReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &dupIndexShardReader{f: f, r: bufio.NewReader(f)}, nil
}

func (r *dupIndexShardReader) scan() (bool, error) {
	r.pos++
	if r.pos < len(r.block) {
		return true, nil
	}
	block, err := readDupIndexBlock(r.r)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.block = block
	r.pos = 0
	return len(r.block) > 0, nil
}

func readDupIndexBlock(r io.Reader) ([]uint64, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	raw, err := s2.Decode(nil, payload)
	if err != nil {
		return nil, err
	}
	vals := make([]uint64, len(raw)/8)
	for i := range vals {
		vals[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return vals, nil
}

func (r *dupIndexShardReader) value() uint64 { return r.block[r.pos] }

func (r *dupIndexShardReader) close() error { return r.f.Close() }

// dupIndexHeap is a min-heap of active shard readers, ordered by each
// reader's current value.
type dupIndexHeap []*dupIndexShardReader

func (h dupIndexHeap) Len() int            { return len(h) }
func (h dupIndexHeap) Less(i, j int) bool  { return h[i].value() < h[j].value() }
func (h dupIndexHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dupIndexHeap) Push(x interface{}) { *h = append(*h, x.(*dupIndexShardReader)) }
func (h *dupIndexHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// DupIndexIterator walks the merged, ascending, deduplicated sequence of
// flagged file indices produced by DupIndexWriter. The second pass compares
// its running file index against Peek() and calls Advance() on a match
// (spec.md §4.9).
type DupIndexIterator struct {
	paths   []string
	readers []*dupIndexShardReader
	h       dupIndexHeap
	last    uint64
	hasLast bool
	cur     uint64
	valid   bool
}

func newDupIndexIterator(paths []string) (*DupIndexIterator, error) {
	it := &DupIndexIterator{paths: paths}
	for _, p := range paths {
		r, err := newDupIndexShardReader(p)
		if err != nil {
			return nil, err
		}
		it.readers = append(it.readers, r)
	}
	for _, r := range it.readers {
		ok, err := r.scan()
		if err != nil {
			return nil, err
		}
		if ok {
			it.h = append(it.h, r)
		}
	}
	heap.Init(&it.h)
	if err := it.advance(); err != nil {
		return nil, err
	}
	return it, nil
}

// advance pulls the next distinct value into cur, skipping duplicates
// introduced by overlapping spill batches.
func (it *DupIndexIterator) advance() error {
	for it.h.Len() > 0 {
		r := it.h[0]
		v := r.value()
		ok, err := r.scan()
		if err != nil {
			return err
		}
		if ok {
			heap.Fix(&it.h, 0)
		} else {
			heap.Pop(&it.h)
		}
		if it.hasLast && v == it.last {
			continue
		}
		it.cur, it.valid = v, true
		it.last, it.hasLast = v, true
		return nil
	}
	it.valid = false
	return nil
}

// Peek returns the next flagged file index without consuming it.
func (it *DupIndexIterator) Peek() (uint64, bool) {
	return it.cur, it.valid
}

// Advance consumes the current value, per the match case of spec.md §4.9.
func (it *DupIndexIterator) Advance() error {
	if !it.valid {
		return nil
	}
	return it.advance()
}

// Close releases the iterator's shard files.
func (it *DupIndexIterator) Close() error {
	var first error
	for _, r := range it.readers {
		if err := r.close(); err != nil && first == nil {
			first = err
		}
	}
	for _, p := range it.paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}

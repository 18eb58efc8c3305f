package markduplicates

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sort"
	"sync"

	"github.com/biogo/store/llrb"
	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"v.io/x/lib/vlog"
)

// DefaultSortBatchSize bounds how many ReadEnd records the sorter keeps in
// memory before spilling a sorted shard to disk.
const DefaultSortBatchSize = 1 << 18

// DefaultSortParallelism is the number of shard-sort goroutines run in the
// background while records are still being added.
const DefaultSortParallelism = 2

// readEndBlockSize is the number of records gob-encoded per on-disk block.
const readEndBlockSize = 4096

// SortOptions configures the external-memory sort over ReadEnd records
// (spec.md §4.6).
type SortOptions struct {
	BatchSize   int
	Parallelism int
	TmpDir      string
	NoCompress  bool
}

func (o *SortOptions) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultSortBatchSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultSortParallelism
	}
}

// ReadEndSorter accumulates ReadEnd records and, once full, sorts and spills
// batches to temporary shard files in the background. Close() merges every
// shard and returns a Cursor over the fully sorted stream.
type ReadEndSorter struct {
	opts SortOptions

	recs []*ReadEnd

	batchCh chan []*ReadEnd
	wg      sync.WaitGroup

	mu     sync.Mutex
	shards []string
	err    errors.Once
}

// NewReadEndSorter starts the background shard-sort workers.
func NewReadEndSorter(opts SortOptions) *ReadEndSorter {
	opts.setDefaults()
	s := &ReadEndSorter{
		opts:    opts,
		batchCh: make(chan []*ReadEnd, opts.Parallelism),
	}
	for i := 0; i < opts.Parallelism; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for batch := range s.batchCh {
				path, err := s.spill(batch)
				if err != nil {
					s.err.Set(err)
					continue
				}
				s.mu.Lock()
				s.shards = append(s.shards, path)
				s.mu.Unlock()
			}
		}()
	}
	return s
}

// Add appends a record. The sorter takes ownership of r.
func (s *ReadEndSorter) Add(r *ReadEnd) {
	s.recs = append(s.recs, r)
	if len(s.recs) >= s.opts.BatchSize {
		s.batchCh <- s.recs
		s.recs = nil
	}
}

// Close flushes any pending batch, waits for all shards to be written, and
// returns a Cursor over the N-way merge of every shard in sorted order.
func (s *ReadEndSorter) Close() (*Cursor, error) {
	if len(s.recs) > 0 {
		s.batchCh <- s.recs
		s.recs = nil
	}
	close(s.batchCh)
	s.wg.Wait()
	if err := s.err.Err(); err != nil {
		return nil, err
	}
	return newCursor(s.shards, s.opts.NoCompress)
}

func (s *ReadEndSorter) spill(batch []*ReadEnd) (string, error) {
	sort.Slice(batch, func(i, j int) bool { return batch[i].less(batch[j]) })

	f, err := ioutil.TempFile(s.opts.TmpDir, "markduplicates-sort-")
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i := 0; i < len(batch); i += readEndBlockSize {
		end := i + readEndBlockSize
		if end > len(batch) {
			end = len(batch)
		}
		if err := writeReadEndBlock(w, batch[i:end], !s.opts.NoCompress); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func writeReadEndBlock(w io.Writer, recs []*ReadEnd, compress bool) error {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(recs); err != nil {
		return err
	}
	payload := raw.Bytes()
	flag := byte(0)
	if compress {
		payload = snappy.Encode(nil, payload)
		flag = 1
	}
	var hdr [5]byte
	hdr[0] = flag
	binary.LittleEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// shardReader streams ReadEnd records, one block at a time, from a shard
// file spilled by ReadEndSorter.
type shardReader struct {
	path string
	f    *os.File
	r    *bufio.Reader

	block []*ReadEnd
	pos   int
	err   error
}

func newShardReader(path string) (*shardReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &shardReader{path: path, f: f, r: bufio.NewReader(f)}, nil
}

// scan advances to the next record, returning false at EOF or on error.
func (r *shardReader) scan() bool {
	if r.err != nil {
		return false
	}
	r.pos++
	if r.pos < len(r.block) {
		return true
	}
	block, err := readReadEndBlock(r.r)
	if err == io.EOF {
		return false
	}
	if err != nil {
		r.err = err
		return false
	}
	r.block = block
	r.pos = 0
	return len(r.block) > 0
}

func (r *shardReader) record() *ReadEnd { return r.block[r.pos] }

func (r *shardReader) close() error {
	return r.f.Close()
}

func readReadEndBlock(r io.Reader) ([]*ReadEnd, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[1:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if hdr[0] == 1 {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, err
		}
		payload = decoded
	}
	var recs []*ReadEnd
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// mergeLeaf adapts a shardReader to llrb.Comparable so the N-way merge can
// order shards by their current record.
type mergeLeaf struct {
	seq    int
	reader *shardReader
}

func (l *mergeLeaf) Compare(c llrb.Comparable) int {
	other := c.(*mergeLeaf)
	if d := l.reader.record().compare(other.reader.record()); d != 0 {
		return d
	}
	return l.seq - other.seq
}

// Cursor yields every spilled shard's records in sorted order, merged via a
// tournament tree (grounded on the same pattern as the BAM coordinate
// sorter's shard merge).
type Cursor struct {
	shardPaths []string
	out        chan *ReadEnd
	err        errors.Once
	done       chan struct{}
}

func newCursor(shardPaths []string, _ bool) (*Cursor, error) {
	readers := make([]*shardReader, 0, len(shardPaths))
	for _, p := range shardPaths {
		r, err := newShardReader(p)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	}
	c := &Cursor{
		shardPaths: shardPaths,
		out:        make(chan *ReadEnd, 1024),
		done:       make(chan struct{}),
	}
	go c.run(readers)
	return c, nil
}

func (c *Cursor) run(readers []*shardReader) {
	defer close(c.out)

	tree := llrb.Tree{}
	for i, r := range readers {
		if r.scan() {
			tree.Insert(&mergeLeaf{seq: i, reader: r})
		} else if r.err != nil {
			c.err.Set(r.err)
		}
	}

	for tree.Len() > 0 {
		var top, next *mergeLeaf
		n := 0
		tree.Do(func(item llrb.Comparable) bool {
			n++
			switch n {
			case 1:
				top = item.(*mergeLeaf)
				return false
			case 2:
				next = item.(*mergeLeaf)
				return true
			default:
				vlog.Fatalf("unexpected llrb traversal depth %d", n)
				return false
			}
		})

		// top stays the tree's global minimum as long as its advancing key
		// does not overtake next, the tree's second-smallest at loop entry:
		// next was <= every other member, so top <= next implies top <= all
		// of them too. That lets this drain top without touching the tree.
		for {
			select {
			case c.out <- top.reader.record():
			case <-c.done:
				c.drain(readers)
				return
			}
			ok := top.reader.scan()
			if top.reader.err != nil {
				c.err.Set(top.reader.err)
			}
			if !ok || (next != nil && next.reader.record().compare(top.reader.record()) < 0) {
				break
			}
		}
		tree.DeleteMin()
		if top.reader.pos < len(top.reader.block) || top.reader.scan() {
			tree.Insert(top)
		}
	}
	for _, r := range readers {
		if err := r.close(); err != nil {
			c.err.Set(err)
		}
	}
}

func (c *Cursor) drain(readers []*shardReader) {
	for _, r := range readers {
		r.close()
	}
}

// Next returns the next record in sorted order, or ok=false once every shard
// is exhausted.
func (c *Cursor) Next() (*ReadEnd, bool) {
	r, ok := <-c.out
	return r, ok
}

// Err returns the first error encountered while merging, if any.
func (c *Cursor) Err() error { return c.err.Err() }

// Close releases the cursor's shard files and the temp files backing them.
func (c *Cursor) Close() error {
	close(c.done)
	for _, p := range c.shardPaths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("markduplicates: removing sort shard %s: %w", p, err)
		}
	}
	return nil
}

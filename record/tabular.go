package record

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Options configure a tabular sink
type Options struct {
	// Comment is written into the header
	Comment string

	// Retain keeps a copy of every row in memory for Rows and Blocks
	Retain bool
}

// Tabular is a whitespace separated text table with a commented header.
// Blocks are separated by a blank line, as gnuplot expects for data with an
// outer loop.  It is safe to read Rows and Blocks while another goroutine appends.
type Tabular struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	w      *bufio.Writer
	cols   []Column
	retain bool
	rows   [][]float64
	blocks []int // row index at which each block starts
	nrows  int
	inBlk  int // rows in the current block
	closed bool
}

// CreateTabular creates the file at path and writes its header
func CreateTabular(path string, cols []Column, opts Options) (*Tabular, error) {
	if len(cols) == 0 {
		return nil, ErrSchema
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	t := &Tabular{
		path:   path,
		f:      f,
		w:      bufio.NewWriter(f),
		cols:   append([]Column{}, cols...),
		retain: opts.Retain,
		blocks: []int{0},
	}
	fmt.Fprintf(t.w, "# Filename: %s\n", filepath.Base(path))
	fmt.Fprintf(t.w, "# Timestamp: %s\n", time.Now().Format(time.ANSIC))
	if opts.Comment != "" {
		fmt.Fprintf(t.w, "# Comment: %s\n", opts.Comment)
	}
	for i, c := range cols {
		fmt.Fprintf(t.w, "# Column %d: %s\n", i+1, c)
	}
	fmt.Fprintln(t.w)
	if err = t.w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

// Path is where the sink writes
func (t *Tabular) Path() string {
	return t.path
}

// Columns returns the schema
func (t *Tabular) Columns() []Column {
	return t.cols
}

// Append writes a row
func (t *Tabular) Append(row ...float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if len(row) != len(t.cols) {
		return fmt.Errorf("%w: %d values for %d columns", ErrSchema, len(row), len(t.cols))
	}
	buf := make([]byte, 0, 16*len(row))
	for i, v := range row {
		if i > 0 {
			buf = append(buf, '\t')
		}
		buf = strconv.AppendFloat(buf, v, 'e', 9, 64)
	}
	buf = append(buf, '\n')
	if _, err := t.w.Write(buf); err != nil {
		return err
	}
	if t.retain {
		t.rows = append(t.rows, append([]float64{}, row...))
	}
	t.nrows++
	t.inBlk++
	return nil
}

// BeginBlock marks an outer loop boundary.  A block that has no rows yet is
// not terminated, so repeated or leading calls do not leave empty blocks.
func (t *Tabular) BeginBlock() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.inBlk == 0 {
		return nil
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	t.blocks = append(t.blocks, t.nrows)
	t.inBlk = 0
	return t.w.Flush()
}

// Flush writes buffered rows to the file
func (t *Tabular) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return t.w.Flush()
}

// Len is the number of rows appended
func (t *Tabular) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nrows
}

// Rows returns the retained rows.  The rows must not be modified.
func (t *Tabular) Rows() [][]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]float64{}, t.rows...)
}

// Blocks returns the row index at which each non-empty block starts
func (t *Tabular) Blocks() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.blocks))
	for _, b := range t.blocks {
		if b < t.nrows {
			out = append(out, b)
		}
	}
	return out
}

// Since returns the retained rows after the first n and the row indices at
// which blocks start among them.  The rows must not be modified.
func (t *Tabular) Since(n int) ([][]float64, []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := len(t.rows)
	if n >= end {
		return nil, nil
	}
	var starts []int
	for _, b := range t.blocks[sort.SearchInts(t.blocks, n):] {
		if b < end {
			starts = append(starts, b)
		}
	}
	return t.rows[n:end:end], starts
}

// Close flushes and closes the file.  It is safe to call more than once
// and on a nil Tabular.
func (t *Tabular) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	ferr := t.w.Flush()
	cerr := t.f.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

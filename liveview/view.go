package liveview

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DefaultWidth and DefaultHeight are the size of saved images
const (
	DefaultWidth  = 800
	DefaultHeight = 600
)

// Source is a table that grows while a sweep runs, such as a record.Tabular
// opened with Retain.  Since returns the rows after the first n and the
// indices, counted from the first row, at which blocks start among them.
type Source interface {
	Since(n int) (rows [][]float64, starts []int)
}

// Columns select the data of a plot from a Source, zero-based
type Columns struct {
	X, Y int

	// Outer, if not negative, splits the data into one trace per block named
	// by the value of this column
	Outer int
}

// binding feeds a plot from a source, consuming each row once
type binding struct {
	plot *Plot
	cols Columns
	seen int
	open bool // the plot's newest trace takes the next rows
}

// consume appends rows, which follow the first b.seen rows of the source,
// to the plot
func (b *binding) consume(rows [][]float64, starts []int) {
	for len(rows) > 0 {
		fresh := !b.open
		n := len(rows)
		if b.cols.Outer >= 0 {
			if len(starts) > 0 && starts[0] <= b.seen {
				fresh = true
				starts = starts[1:]
			}
			if len(starts) > 0 && starts[0]-b.seen < n {
				n = starts[0] - b.seen
			}
		}
		chunk := rows[:n]
		name := ""
		if o := b.cols.Outer; o >= 0 && o < len(chunk[0]) {
			name = fmt.Sprintf("%g", chunk[0][o])
		}
		b.plot.extend(fresh, column(chunk, b.cols, name))
		b.open = true
		b.seen += n
		rows = rows[n:]
	}
}

// View is the set of plots of one sweep run.  Plots bound to columns are
// extended with the new rows of the source on Refresh; the others are fed
// through Plot.Add.
type View struct {
	mu    sync.Mutex
	src   Source
	plots []*Plot
	binds []*binding
}

// New returns an empty view over src.  src may be nil when no plot is bound.
func New(src Source) *View {
	return &View{src: src}
}

// Bind adds a plot drawn from the given columns of the source
func (v *View) Bind(p *Plot, c Columns) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p.Script.x, p.Script.y, p.Script.outer = c.X+1, c.Y+1, c.Outer+1
	v.plots = append(v.plots, p)
	v.binds = append(v.binds, &binding{plot: p, cols: c})
}

// Add adds a plot the caller feeds directly
func (v *View) Add(p *Plot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plots = append(v.plots, p)
}

// Plots returns the plots in the order they were added
func (v *View) Plots() []*Plot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*Plot{}, v.plots...)
}

// Plot returns the plot with the given name
func (v *View) Plot(name string) (*Plot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range v.plots {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// HoldFrom keeps the traces of the same-named plots of a previous run drawn
// underneath this run's traces
func (v *View) HoldFrom(prev *View) {
	if prev == nil {
		return
	}
	for _, p := range v.Plots() {
		old, ok := prev.Plot(p.Name)
		if !ok {
			continue
		}
		kept := append(old.Held(), old.Series()...)
		if p.MaxTraces > 0 && len(kept) > p.MaxTraces {
			kept = kept[len(kept)-p.MaxTraces:]
		}
		p.Hold(kept)
	}
}

// Refresh appends the rows added to the source since the last refresh to
// the bound plots.  Nothing is redrawn while the source is empty.
func (v *View) Refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.src == nil {
		return
	}
	for _, b := range v.binds {
		rows, starts := v.src.Since(b.seen)
		b.consume(rows, starts)
	}
}

func column(rows [][]float64, c Columns, name string) Series {
	s := Series{Name: name, X: make([]float64, 0, len(rows)), Y: make([]float64, 0, len(rows))}
	for _, r := range rows {
		if c.X >= len(r) || c.Y >= len(r) {
			continue
		}
		s.X = append(s.X, r[c.X])
		s.Y = append(s.Y, r[c.Y])
	}
	return s
}

// Finalize refreshes the view, then saves every plot to dir as <name>.png and
// <name>.gp.  Plots without data get a script but no image.
func (v *View) Finalize(dir string) error {
	v.Refresh()
	var errs []error
	for _, p := range v.Plots() {
		if err := writeFile(filepath.Join(dir, p.Name+".gp"), p.WriteScript); err != nil {
			errs = append(errs, fmt.Errorf("plot %s script: %w", p.Name, err))
		}
		if !p.drawable() {
			continue
		}
		err := writeFile(filepath.Join(dir, p.Name+".png"), func(w io.Writer) error {
			return p.Render(w, DefaultWidth, DefaultHeight)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("plot %s image: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = fill(f)
	cerr := f.Close()
	if err != nil {
		os.Remove(path)
		return err
	}
	return cerr
}

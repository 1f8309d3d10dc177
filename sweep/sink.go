package sweep

import (
	"sort"
	"sync"
	"time"

	"github.com/nasa-jpl/tdsweep/readout"
	"github.com/nasa-jpl/tdsweep/record"
)

// sink is one consumer of samples
type sink interface {
	write(readout.Sample) error
	block() error
	close() error
}

// handle is a present sink.  A failing primary sink stops the run; a
// failing secondary sink is dropped.
type handle struct {
	name    string
	primary bool
	sink
}

func stamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func rawRow(s readout.Sample) []float64 {
	row := make([]float64, 0, len(s.Coords)+2*len(s.Amplitude)+1)
	row = append(row, s.Coords...)
	row = append(row, s.Amplitude...)
	row = append(row, s.Phase...)
	return append(row, stamp(s.Time))
}

type tabularSink struct {
	t *record.Tabular
}

func (s tabularSink) write(smp readout.Sample) error { return s.t.Append(rawRow(smp)...) }
func (s tabularSink) block() error                   { return s.t.BeginBlock() }
func (s tabularSink) close() error                   { return s.t.Close() }

type traceSink struct {
	t *record.Tabular
}

func (s traceSink) write(smp readout.Sample) error {
	if smp.I == nil {
		return nil
	}
	row := make([]float64, 0, len(smp.Coords)+len(smp.I)+len(smp.Q)+1)
	row = append(row, smp.Coords...)
	row = append(row, smp.I...)
	row = append(row, smp.Q...)
	return s.t.Append(append(row, stamp(smp.Time))...)
}
func (s traceSink) block() error { return s.t.BeginBlock() }
func (s traceSink) close() error { return s.t.Close() }

// checkpointEvery is the least time between rewrites of the structured file
// at block boundaries
const checkpointEvery = 10 * time.Second

type structuredSink struct {
	s *record.Structured
}

func (s structuredSink) write(smp readout.Sample) error { return s.s.Append(smp.Amplitude, smp.Phase) }
func (s structuredSink) block() error                   { return s.s.Checkpoint(checkpointEvery) }
func (s structuredSink) close() error                   { return s.s.Close() }

// table keeps the raw rows in memory for the live view when no tabular file
// is written
type table struct {
	mu     sync.Mutex
	rows   [][]float64
	blocks []int
}

func (t *table) write(s readout.Sample) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.blocks) == 0 {
		t.blocks = []int{0}
	}
	t.rows = append(t.rows, rawRow(s))
	return nil
}

func (t *table) block() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.blocks); n > 0 && t.blocks[n-1] < len(t.rows) {
		t.blocks = append(t.blocks, len(t.rows))
	}
	return nil
}

func (t *table) close() error { return nil }

func (t *table) Since(n int) ([][]float64, []int) {
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

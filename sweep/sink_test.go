package sweep

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/tdsweep/readout"
)

type failing struct {
	err    error
	writes int
	closed bool
}

func (f *failing) write(readout.Sample) error { f.writes++; return f.err }
func (f *failing) block() error               { return nil }
func (f *failing) close() error               { f.closed = true; return nil }

func TestSecondarySinkIsDropped(t *testing.T) {
	bad := &failing{err: errors.New("disk full")}
	good := &table{}
	r := &run{log: zerolog.Nop(), sinks: []handle{
		{name: "memory", primary: true, sink: good},
		{name: "structured", sink: bad},
	}}
	s := readout.Sample{Coords: []float64{1}, Amplitude: []float64{2}, Phase: []float64{3}, Time: time.Now()}
	require.NoError(t, r.fanout(s))
	require.NoError(t, r.fanout(s))
	assert.Len(t, r.sinks, 1)
	assert.True(t, bad.closed)
	assert.Equal(t, 1, bad.writes)
	rows, _ := good.Since(0)
	assert.Len(t, rows, 2)
}

func TestPrimarySinkFailurePropagates(t *testing.T) {
	boom := errors.New("disk full")
	r := &run{log: zerolog.Nop(), sinks: []handle{{name: "raw", primary: true, sink: &failing{err: boom}}}}
	err := r.fanout(readout.Sample{})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, r.sinks, 1)
}

func TestTableBlocks(t *testing.T) {
	tb := &table{}
	require.NoError(t, tb.block())
	s := readout.Sample{Coords: []float64{0}, Amplitude: []float64{1}, Phase: []float64{0}}
	require.NoError(t, tb.write(s))
	require.NoError(t, tb.write(s))
	require.NoError(t, tb.block())
	_, starts := tb.Since(0)
	assert.Equal(t, []int{0}, starts)
	require.NoError(t, tb.write(s))
	rows, starts := tb.Since(0)
	assert.Equal(t, []int{0, 2}, starts)
	assert.Len(t, rows[0], 1+1+1+1)

	rows, starts = tb.Since(2)
	assert.Len(t, rows, 1)
	assert.Equal(t, []int{2}, starts)
	rows, starts = tb.Since(3)
	assert.Empty(t, rows)
	assert.Empty(t, starts)
}

func TestFinalizeRecovers(t *testing.T) {
	r := &run{log: zerolog.Nop(), sinks: []handle{{name: "x", sink: panicky{}}, {name: "y", sink: &failing{}}}}
	y := r.sinks[1].sink.(*failing)
	assert.NotPanics(t, r.closeSinks)
	assert.True(t, y.closed)
}

type panicky struct{}

func (panicky) write(readout.Sample) error { return nil }
func (panicky) block() error               { return nil }
func (panicky) close() error               { panic("close") }

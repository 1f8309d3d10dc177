// Package record contains the sinks a sweep writes its samples to: gnuplot
// style tabular files with block markers, and FITS files of coordinate
// indexed amplitude and phase matrices.
//
// Every sink follows the same lifecycle: it is created with a fixed schema,
// appended to in sweep order, and closed.  Close is idempotent and may be
// called on a nil sink.
package record

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is generated when appending to a closed sink
	ErrClosed = errors.New("sink is closed")

	// ErrSchema is generated when a row does not match the sink's columns
	ErrSchema = errors.New("row does not match schema")

	// ErrFull is generated when appending past the end of a structured sink
	ErrFull = errors.New("structured sink is full")
)

// Column is a named, unit-bearing column of a tabular sink
type Column struct {
	Name string
	Unit string
}

func (c Column) String() string {
	if c.Unit == "" {
		return c.Name
	}
	return fmt.Sprintf("%s [%s]", c.Name, c.Unit)
}

// RawColumns is the schema of raw and averaged data: the coordinates, then
// amp_0..amp_{k-1}, pha_0..pha_{k-1}, then a timestamp if stamped
func RawColumns(coords []Column, channels int, stamped bool) []Column {
	cols := append([]Column{}, coords...)
	for i := 0; i < channels; i++ {
		cols = append(cols, Column{Name: fmt.Sprintf("amp_%d", i), Unit: "V"})
	}
	for i := 0; i < channels; i++ {
		cols = append(cols, Column{Name: fmt.Sprintf("pha_%d", i), Unit: "rad"})
	}
	if stamped {
		cols = append(cols, Column{Name: "timestamp", Unit: "s"})
	}
	return cols
}

// TraceColumns is the schema of time trace data: the coordinates, then the I
// samples, the Q samples and a timestamp
func TraceColumns(coords []Column, samples int) []Column {
	cols := append([]Column{}, coords...)
	for i := 0; i < samples; i++ {
		cols = append(cols, Column{Name: fmt.Sprintf("I%03d", i)})
	}
	for i := 0; i < samples; i++ {
		cols = append(cols, Column{Name: fmt.Sprintf("Q%03d", i)})
	}
	return append(cols, Column{Name: "timestamp", Unit: "s"})
}

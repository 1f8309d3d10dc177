// Package axis describes the sweep axes a measurement steps through.
package axis

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmpty is generated when an axis has no set-points
	ErrEmpty = errors.New("axis has no set-points")

	// ErrNoSetter is generated when an axis has no setter.  Use Noop for
	// axes the controller does not drive.
	ErrNoSetter = errors.New("axis has no setter")
)

// Setter moves an instrument parameter to a value.  It must be safe to call
// repeatedly with the same value.
type Setter func(float64) error

// Noop is a Setter that does nothing
func Noop(float64) error { return nil }

// Axis is an ordered sequence of set-points with a label and a setter
type Axis struct {
	// Values are the set-points in sweep order
	Values []float64

	// Name is the human readable coordinate name, e.g. "flux coil current"
	Name string

	// Unit is the unit of Values, e.g. "mA"
	Unit string

	// Set drives the instrument to a value
	Set Setter
}

// Validate returns an error if the axis cannot be swept
func (a Axis) Validate() error {
	if len(a.Values) == 0 {
		return fmt.Errorf("%q: %w", a.Name, ErrEmpty)
	}
	if a.Set == nil {
		return fmt.Errorf("%q: %w", a.Name, ErrNoSetter)
	}
	return nil
}

// Configured is true if the axis has been given values and a setter
func (a Axis) Configured() bool {
	return a.Validate() == nil
}

// Len is the number of set-points
func (a Axis) Len() int {
	return len(a.Values)
}

// Label is the coordinate name with the unit in brackets, if there is one
func (a Axis) Label() string {
	if a.Unit == "" {
		return a.Name
	}
	return fmt.Sprintf("%s [%s]", a.Name, a.Unit)
}

// Iterations returns an axis of repetition indices 0..n-1 that the
// controller counts but does not drive
func Iterations(n int) Axis {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i)
	}
	return Axis{Values: vals, Name: "#iteration", Set: Noop}
}

// Linear returns values from start towards stop in increments of step,
// excluding stop, like numpy.arange.  A step of zero or one pointing away
// from stop yields an empty slice.
func Linear(start, stop, step float64) []float64 {
	if step == 0 || (stop-start)/step <= 0 {
		return []float64{}
	}
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

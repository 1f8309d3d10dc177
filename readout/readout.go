// Package readout defines the interface to the readout instrument that a sweep
// triggers at each set-point, and the samples it returns.
package readout

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoChannels is generated when the instrument reports no readout channels
	ErrNoChannels = errors.New("readout reports no channels")

	// ErrMalformed is generated when a capture does not have a consistent shape
	ErrMalformed = errors.New("malformed capture")
)

// Readout is a readout instrument.  ChannelCount is queried once per run and
// fixes the channel count for the run.  Capture triggers the instrument in
// its current state and blocks until the data is returned; there is no
// timeout.  With timeTrace, the instrument returns the batch of points its
// sequencer stepped through in one trigger along with the raw I/Q traces,
// otherwise a single point.
type Readout interface {
	ChannelCount() (int, error)
	Capture(ctx context.Context, timeTrace bool) (Capture, error)
}

// TraceSampler is implemented by readouts that know the length of their
// I/Q traces ahead of the first capture
type TraceSampler interface {
	TraceSamples() (int, error)
}

// Capture is the data from one trigger
type Capture struct {
	// Amplitude is indexed [point][channel]
	Amplitude [][]float64

	// Phase is indexed [point][channel], in radians
	Phase [][]float64

	// I and Q are the raw quadrature traces indexed [point][sample].
	// They are nil unless a time trace was requested.
	I, Q [][]float64
}

// Points is the number of points in the capture
func (c Capture) Points() int {
	return len(c.Amplitude)
}

// Validate checks the capture carries points × channels amplitudes and phases
// and, if traced, one I and one Q trace per point
func (c Capture) Validate(channels int) error {
	if len(c.Amplitude) == 0 || len(c.Phase) != len(c.Amplitude) {
		return ErrMalformed
	}
	for i := range c.Amplitude {
		if len(c.Amplitude[i]) != channels || len(c.Phase[i]) != channels {
			return ErrMalformed
		}
	}
	if c.I != nil && (len(c.I) != len(c.Amplitude) || len(c.Q) != len(c.I)) {
		return ErrMalformed
	}
	return nil
}

// Sample is one readout result at one sweep position
type Sample struct {
	// Coords are the sweep coordinates, outer axis first
	Coords []float64

	// Amplitude and Phase have one value per channel
	Amplitude []float64
	Phase     []float64

	// Time is when the capture returned
	Time time.Time

	// I and Q are the raw traces, nil if not recorded
	I, Q []float64
}

// Sample extracts point i of the capture at the given coordinates
func (c Capture) Sample(i int, t time.Time, coords ...float64) Sample {
	s := Sample{
		Coords:    coords,
		Amplitude: c.Amplitude[i],
		Phase:     c.Phase[i],
		Time:      t,
	}
	if c.I != nil {
		s.I, s.Q = c.I[i], c.Q[i]
	}
	return s
}

// Package accum averages repeated amplitude/phase measurements.
//
// Amplitude and phase are a polar representation of a complex quantity, so
// the running sum is kept in the complex plane.  Averaging the magnitude and
// the phase separately would be wrong: phase wraps, and the two are not
// independent under averaging.
package accum

import (
	"errors"
	"fmt"
	"math/cmplx"
)

var (
	// ErrNoData is generated by Average before the first Update
	ErrNoData = errors.New("no data to average")

	// ErrShape is generated when an update does not match the reset shape
	ErrShape = errors.New("update shape does not match accumulator")
)

// Accumulator holds a running complex sum per point and channel.
// It is not thread safe.
type Accumulator struct {
	sum   [][]complex128
	count int
}

// Reset discards all data and sizes the accumulator for a batch of
// points, each carrying channels values
func (a *Accumulator) Reset(points, channels int) {
	a.sum = make([][]complex128, points)
	for i := range a.sum {
		a.sum[i] = make([]complex128, channels)
	}
	a.count = 0
}

// Update adds amp·exp(i·pha) element-wise to the running sum and
// increments the iteration counter.  amp and pha are indexed [point][channel].
func (a *Accumulator) Update(amp, pha [][]float64) error {
	if err := a.checkShape(amp); err != nil {
		return err
	}
	if err := a.checkShape(pha); err != nil {
		return err
	}
	for i := range a.sum {
		for j := range a.sum[i] {
			a.sum[i][j] += cmplx.Rect(amp[i][j], pha[i][j])
		}
	}
	a.count++
	return nil
}

func (a *Accumulator) checkShape(v [][]float64) error {
	if len(v) != len(a.sum) {
		return fmt.Errorf("%w: %d points, want %d", ErrShape, len(v), len(a.sum))
	}
	for i := range v {
		if len(v[i]) != len(a.sum[i]) {
			return fmt.Errorf("%w: point %d has %d channels, want %d", ErrShape, i, len(v[i]), len(a.sum[i]))
		}
	}
	return nil
}

// Iterations is the number of updates since the last reset
func (a *Accumulator) Iterations() int {
	return a.count
}

// Average returns the magnitude and angle of the mean complex value,
// indexed [point][channel]
func (a *Accumulator) Average() (amp, pha [][]float64, err error) {
	if a.count == 0 {
		return nil, nil, ErrNoData
	}
	n := complex(float64(a.count), 0)
	amp = make([][]float64, len(a.sum))
	pha = make([][]float64, len(a.sum))
	for i, row := range a.sum {
		amp[i] = make([]float64, len(row))
		pha[i] = make([]float64, len(row))
		for j, c := range row {
			mean := c / n
			amp[i][j] = cmplx.Abs(mean)
			pha[i][j] = cmplx.Phase(mean)
		}
	}
	return amp, pha, nil
}

package readout

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrMockFailure is the error injected by Mock.FailAfter
var ErrMockFailure = errors.New("mock readout failure")

// Mock is a simulated multi-tone readout of a resonator whose frequency
// depends on a bias the sweep sets.  In traced captures it returns a damped
// Rabi-like oscillation over Points sequence steps.  It is concurrent safe.
type Mock struct {
	sync.Mutex

	// Channels is the number of readout tones
	Channels int

	// Points is the sequence length returned by traced captures
	Points int

	// Samples is the I/Q trace length
	Samples int

	// Noise is the standard deviation of additive complex noise
	Noise float64

	// Delay is slept (interruptibly) in every capture to mimic integration
	Delay time.Duration

	// FailAfter makes every capture after the first FailAfter fail, if > 0
	FailAfter int

	bias  float64
	calls int
	rng   *rand.Rand
}

// NewMock returns a mock with the given channel count and sequence length
func NewMock(channels, points int) *Mock {
	return &Mock{Channels: channels, Points: points, Samples: 16, rng: rand.New(rand.NewSource(1))}
}

// SetBias is a sweep setter that moves the simulated resonance
func (m *Mock) SetBias(v float64) error {
	m.Lock()
	defer m.Unlock()
	m.bias = v
	return nil
}

// Calls is the number of Capture calls made
func (m *Mock) Calls() int {
	m.Lock()
	defer m.Unlock()
	return m.calls
}

// ChannelCount returns Channels
func (m *Mock) ChannelCount() (int, error) {
	if m.Channels <= 0 {
		return 0, ErrNoChannels
	}
	return m.Channels, nil
}

// TraceSamples returns Samples
func (m *Mock) TraceSamples() (int, error) {
	return m.Samples, nil
}

// Capture simulates one trigger
func (m *Mock) Capture(ctx context.Context, timeTrace bool) (Capture, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return Capture{}, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	m.Lock()
	defer m.Unlock()
	m.calls++
	if m.FailAfter > 0 && m.calls > m.FailAfter {
		return Capture{}, ErrMockFailure
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(1))
	}
	n := 1
	if timeTrace && m.Points > 0 {
		n = m.Points
	}
	c := Capture{
		Amplitude: make([][]float64, n),
		Phase:     make([][]float64, n),
	}
	if timeTrace {
		c.I = make([][]float64, n)
		c.Q = make([][]float64, n)
	}
	for i := 0; i < n; i++ {
		c.Amplitude[i] = make([]float64, m.Channels)
		c.Phase[i] = make([]float64, m.Channels)
		var z complex128
		for ch := 0; ch < m.Channels; ch++ {
			z = m.response(ch, i, n, timeTrace)
			c.Amplitude[i][ch] = math.Hypot(real(z), imag(z))
			c.Phase[i][ch] = math.Atan2(imag(z), real(z))
		}
		if timeTrace {
			c.I[i], c.Q[i] = m.trace(z)
		}
	}
	return c, nil
}

// response is a Lorentzian dip per tone, optionally modulated by a decaying
// oscillation along the sequence
func (m *Mock) response(ch, point, points int, seq bool) complex128 {
	detune := (m.bias - float64(ch)) / 0.5
	z := 1 - 0.8/complex(1, 2*detune)
	if seq {
		t := float64(point) / float64(points)
		pop := 0.5 * (1 - math.Exp(-2*t)*math.Cos(4*math.Pi*t))
		z *= complex(1-0.5*pop, 0)
	}
	if m.Noise > 0 {
		z += complex(m.rng.NormFloat64()*m.Noise, m.rng.NormFloat64()*m.Noise)
	}
	return z
}

// trace synthesizes a demodulated I/Q record that integrates to z
func (m *Mock) trace(z complex128) (i, q []float64) {
	i = make([]float64, m.Samples)
	q = make([]float64, m.Samples)
	for k := range i {
		ring := math.Exp(-float64(k) / float64(m.Samples))
		i[k] = real(z) * ring
		q[k] = imag(z) * ring
	}
	return i, q
}

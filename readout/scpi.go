package readout

import (
	"context"
	"fmt"

	"github.com/nasa-jpl/tdsweep/scpi"
)

// Commands are the SCPI mnemonics a digitizer answers to.  Data queries
// return comma separated floats in point-major order.
type Commands struct {
	Channels  string `koanf:"Channels" yaml:"Channels"`
	Samples   string `koanf:"Samples" yaml:"Samples"`
	Acquire   string `koanf:"Acquire" yaml:"Acquire"`
	Amplitude string `koanf:"Amplitude" yaml:"Amplitude"`
	Phase     string `koanf:"Phase" yaml:"Phase"`
	I         string `koanf:"I" yaml:"I"`
	Q         string `koanf:"Q" yaml:"Q"`
}

// DefaultCommands are the mnemonics of the lab's readout server
func DefaultCommands() Commands {
	return Commands{
		Channels:  ":READout:TONes?",
		Samples:   ":READout:TRACe:POINts?",
		Acquire:   ":READout:ACQuire",
		Amplitude: ":READout:AMPLitude?",
		Phase:     ":READout:PHASe?",
		I:         ":READout:TRACe:I?",
		Q:         ":READout:TRACe:Q?",
	}
}

// SCPI is a readout served by a remote instrument over SCPI
type SCPI struct {
	scpi.SCPI

	Cmd Commands

	channels int
}

// NewSCPI creates a new SCPI readout at addr, a host:port or, if serial,
// a serial device such as /dev/ttyUSB0
func NewSCPI(addr string, serialConn bool, cmd Commands) *SCPI {
	return &SCPI{SCPI: *scpi.New(addr, serialConn), Cmd: cmd}
}

// ChannelCount asks the instrument how many tones it reads out
func (s *SCPI) ChannelCount() (int, error) {
	n, err := s.ReadInt(s.Cmd.Channels)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, ErrNoChannels
	}
	s.channels = n
	return n, nil
}

// TraceSamples asks the instrument for its I/Q trace length
func (s *SCPI) TraceSamples() (int, error) {
	return s.ReadInt(s.Cmd.Samples)
}

// Capture triggers an acquisition and reads back the result
func (s *SCPI) Capture(ctx context.Context, timeTrace bool) (Capture, error) {
	var c Capture
	if err := ctx.Err(); err != nil {
		return c, err
	}
	if s.channels == 0 {
		if _, err := s.ChannelCount(); err != nil {
			return c, err
		}
	}
	if err := s.Write(s.Cmd.Acquire); err != nil {
		return c, err
	}
	amp, err := s.ReadFloats(s.Cmd.Amplitude)
	if err != nil {
		return c, err
	}
	pha, err := s.ReadFloats(s.Cmd.Phase)
	if err != nil {
		return c, err
	}
	if len(amp) == 0 || len(amp) != len(pha) || len(amp)%s.channels != 0 {
		return c, fmt.Errorf("%w: %d amplitudes, %d phases for %d channels", ErrMalformed, len(amp), len(pha), s.channels)
	}
	c.Amplitude = reshape(amp, s.channels)
	c.Phase = reshape(pha, s.channels)
	if !timeTrace {
		return c, nil
	}
	is, err := s.ReadFloats(s.Cmd.I)
	if err != nil {
		return c, err
	}
	qs, err := s.ReadFloats(s.Cmd.Q)
	if err != nil {
		return c, err
	}
	n := c.Points()
	if len(is) != len(qs) || len(is)%n != 0 {
		return c, fmt.Errorf("%w: %d I, %d Q samples for %d points", ErrMalformed, len(is), len(qs), n)
	}
	c.I = reshape(is, len(is)/n)
	c.Q = reshape(qs, len(qs)/n)
	return c, nil
}

// reshape splits flat into rows of width elements
func reshape(flat []float64, width int) [][]float64 {
	out := make([][]float64, len(flat)/width)
	for i := range out {
		out[i] = flat[i*width : (i+1)*width]
	}
	return out
}

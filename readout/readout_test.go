package readout_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/tdsweep/readout"
)

func TestMockSimpleCapture(t *testing.T) {
	m := readout.NewMock(3, 10)
	n, err := m.ChannelCount()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	c, err := m.Capture(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Points())
	assert.Nil(t, c.I)
	assert.NoError(t, c.Validate(3))
	assert.Equal(t, 1, m.Calls())
}

func TestMockTracedCaptureIsABatch(t *testing.T) {
	m := readout.NewMock(2, 7)
	c, err := m.Capture(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Points())
	assert.NoError(t, c.Validate(2))
	require.Len(t, c.I, 7)
	assert.Len(t, c.I[0], m.Samples)

	s := c.Sample(3, time.Now(), 1, 2)
	assert.Equal(t, []float64{1, 2}, s.Coords)
	assert.Equal(t, c.Amplitude[3], s.Amplitude)
	assert.Equal(t, c.I[3], s.I)
}

func TestMockFailAfter(t *testing.T) {
	m := readout.NewMock(1, 1)
	m.FailAfter = 2
	for i := 0; i < 2; i++ {
		_, err := m.Capture(context.Background(), false)
		require.NoError(t, err)
	}
	_, err := m.Capture(context.Background(), false)
	assert.ErrorIs(t, err, readout.ErrMockFailure)
}

func TestMockNoChannels(t *testing.T) {
	_, err := readout.NewMock(0, 1).ChannelCount()
	assert.ErrorIs(t, err, readout.ErrNoChannels)
}

func TestValidateRejectsRaggedCapture(t *testing.T) {
	c := readout.Capture{
		Amplitude: [][]float64{{1, 2}, {1}},
		Phase:     [][]float64{{0, 0}, {0}},
	}
	assert.ErrorIs(t, c.Validate(2), readout.ErrMalformed)
	assert.ErrorIs(t, readout.Capture{}.Validate(1), readout.ErrMalformed)
}

// digitizer is a two tone, two point SCPI readout server
func digitizer(t *testing.T) string {
	answers := map[string]string{
		":READout:TONes?":        "2",
		":READout:AMPLitude?":    "1,2,3,4",
		":READout:PHASe?":        "0.1,0.2,0.3,0.4",
		":READout:TRACe:I?":      "1,1,1,2,2,2",
		":READout:TRACe:Q?":      "0,0,0,0,0,0",
		":READout:TRACe:POINts?": "3",
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					if ans, ok := answers[sc.Text()]; ok {
						io.WriteString(c, ans+"\n")
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestSCPICapture(t *testing.T) {
	r := readout.NewSCPI(digitizer(t), false, readout.DefaultCommands())
	defer r.Pool.Close()

	n, err := r.ChannelCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	samples, err := r.TraceSamples()
	require.NoError(t, err)
	assert.Equal(t, 3, samples)

	c, err := r.Capture(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, c.Validate(2))
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, c.Amplitude)
	assert.Equal(t, [][]float64{{0.1, 0.2}, {0.3, 0.4}}, c.Phase)
	assert.Equal(t, [][]float64{{1, 1, 1}, {2, 2, 2}}, c.I)
}

func TestSCPICaptureHonorsCanceledContext(t *testing.T) {
	r := readout.NewSCPI(digitizer(t), false, readout.DefaultCommands())
	defer r.Pool.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Capture(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
}

// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/nasa-jpl/tdsweep/comm"
)

// ErrEmptyResponse is generated when the device answers a query with nothing
var ErrEmptyResponse = errors.New("empty response")

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Timeout bounds each exchange.  Zero means wait forever, which is what
	// a long acquisition needs.
	Timeout time.Duration
}

// New returns a SCPI instrument at addr, a host:port or, if serialConn, a
// serial device such as /dev/ttyUSB0.  One connection is kept open and
// dropped after an hour idle.
func New(addr string, serialConn bool) *SCPI {
	var maker comm.CreationFunc
	if serialConn {
		maker = comm.SerialConnMaker(&serial.Config{Name: addr, Baud: 115200})
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	return &SCPI{Pool: comm.NewPool(1, time.Hour, maker)}
}

// deviceError converts a SYSTem:ERRor? reply into an error, nil for "+0,..."
func deviceError(s string) error {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "+0") || strings.HasPrefix(s, "0,") {
		return nil
	}
	return errors.New(s)
}

func (s *SCPI) exchange(query bool, cmds []string) (resp []byte, err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	if err = comm.SetTimeout(conn, s.Timeout); err != nil {
		return nil, err
	}
	wrap := comm.NewTerminator(conn, '\n', '\n')
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	if _, err = io.WriteString(wrap, strings.Join(cmds, " ")); err != nil {
		return nil, err
	}
	if !query && !s.Handshaking {
		return nil, nil
	}
	resp, err = wrap.ReadLine()
	if err != nil {
		return nil, err
	}
	if !s.Handshaking {
		return resp, nil
	}
	// the error reply is the last ;-separated field
	str := string(resp)
	idx := strings.LastIndex(str, ";")
	if !query || idx < 0 {
		return nil, deviceError(str)
	}
	if derr := deviceError(str[idx+1:]); derr != nil {
		return nil, derr
	}
	return resp[:idx], nil
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK
func (s *SCPI) Write(cmds ...string) error {
	_, err := s.exchange(false, cmds)
	return err
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	return s.exchange(true, cmds)
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp)), nil
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(resp)
}

// ReadFloats sends a command to the device and parses a comma separated
// list of floats from the response
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return nil, err
	}
	return ParseFloats(resp)
}

// ParseFloats parses a comma separated list of floats
func ParseFloats(resp string) ([]float64, error) {
	if resp == "" {
		return nil, ErrEmptyResponse
	}
	pieces := strings.Split(resp, ",")
	out := make([]float64, len(pieces))
	for i, p := range pieces {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}

// Setter returns a func that writes cmdFmt formatted with its argument,
// e.g. "SOUR:FREQ %g".  It is suitable for use as a sweep axis setter.
func (s *SCPI) Setter(cmdFmt string) func(float64) error {
	return func(v float64) error {
		return s.Write(fmt.Sprintf(cmdFmt, v))
	}
}

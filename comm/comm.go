/*
Package comm provides connection plumbing for instruments reached over TCP
or RS232.

Most usages of this package boil down to:
 1. make a CreationFunc with BackingOffTCPConnMaker or SerialConnMaker
 2. put it in a Pool with NewPool
 3. Get a connection, wrap it with NewTerminator (and NewTimeout if the
    exchange should not block forever), exchange lines, and return it
    with ReturnWithError
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when a nil connection is used
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the variables needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// BackingOffTCPConnMaker returns a CreationFunc that dials addr, retrying with
// an exponential backoff.  Some instruments do not like being connection
// thrashed, and a refused connection is not retried.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var (
			conn    net.Conn
			refused error
		)
		op := func() error {
			c, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					refused = err
					return nil
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if refused != nil {
			return nil, refused
		}
		if err != nil {
			return nil, fmt.Errorf("connection timeout to %s: %w", addr, err)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens an RS232 port
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// Terminator wraps a ReadWriter so that writes are terminated and reads
// return one terminated line at a time
type Terminator struct {
	rw io.ReadWriter
	br *bufio.Reader
	tx byte
	rx byte
}

// NewTerminator returns a Terminator appending tx to writes and reading up to rx
func NewTerminator(rw io.ReadWriter, tx, rx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReader(rw), tx: tx, rx: rx}
}

// Write sends p with the Tx terminator appended
func (t *Terminator) Write(p []byte) (int, error) {
	if t.rw == nil {
		return 0, ErrNotConnected
	}
	buf := make([]byte, 0, len(p)+1)
	buf = append(buf, p...)
	buf = append(buf, t.tx)
	n, err := t.rw.Write(buf)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

// ReadLine returns the next response with the Rx terminator (and a carriage
// return preceding it) stripped
func (t *Terminator) ReadLine() ([]byte, error) {
	if t.rw == nil {
		return nil, ErrNotConnected
	}
	buf, err := t.br.ReadBytes(t.rx)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return buf, err
	}
	buf = bytes.TrimSuffix(buf, []byte{t.rx})
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return buf, nil
}

// Read implements io.Reader over ReadLine; p must hold the whole line
func (t *Terminator) Read(p []byte) (int, error) {
	line, err := t.ReadLine()
	if err != nil {
		return 0, err
	}
	if len(line) > len(p) {
		return 0, io.ErrShortBuffer
	}
	return copy(p, line), nil
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// SetTimeout sets a deadline timeout from now on conn if it supports deadlines
// (TCP does, serial ports use their configured ReadTimeout).  A zero timeout
// clears any deadline so that the exchange may block indefinitely.
func SetTimeout(conn io.ReadWriter, timeout time.Duration) error {
	d, ok := conn.(deadliner)
	if !ok {
		return nil
	}
	if timeout <= 0 {
		return d.SetDeadline(time.Time{})
	}
	return d.SetDeadline(time.Now().Add(timeout))
}

package record

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/astrogo/fitsio"
)

// Coord is a named coordinate axis of a structured sink
type Coord struct {
	Name   string
	Unit   string
	Values []float64
}

// Structured holds amplitude and phase matrices per channel indexed by one or
// two coordinate axes, declared outer first.  Points are appended in
// row-major order (the inner axis fills first); unfilled points are NaN.
// The FITS file holds a primary HDU carrying the metadata, one image
// extension per channel and quantity (amplitude_<i>, phase_<i>), and one
// binary table per coordinate axis.  It is written whole when created, at
// each Checkpoint and on Close, replacing the previous version atomically,
// so after a crash it holds the points of the last checkpoint.
type Structured struct {
	path     string
	saved    time.Time
	coords   []Coord
	channels int
	comment  string
	amp      [][]float64 // [channel][flat index]
	pha      [][]float64
	n        int
	closed   bool
}

// CreateStructured creates the file at path for the given axes, outer first
func CreateStructured(path string, coords []Coord, channels int, comment string) (*Structured, error) {
	if len(coords) == 0 || len(coords) > 2 || channels <= 0 {
		return nil, ErrSchema
	}
	size := 1
	for _, c := range coords {
		if len(c.Values) == 0 {
			return nil, fmt.Errorf("%w: axis %q is empty", ErrSchema, c.Name)
		}
		size *= len(c.Values)
	}
	s := &Structured{
		path:     path,
		coords:   coords,
		channels: channels,
		comment:  comment,
		amp:      make([][]float64, channels),
		pha:      make([][]float64, channels),
	}
	for i := 0; i < channels; i++ {
		s.amp[i] = nanSlice(size)
		s.pha[i] = nanSlice(size)
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Path is where the sink writes
func (s *Structured) Path() string {
	return s.path
}

// Shape is the length of each axis, outer first
func (s *Structured) Shape() []int {
	shape := make([]int, len(s.coords))
	for i, c := range s.coords {
		shape[i] = len(c.Values)
	}
	return shape
}

// Len is the number of points appended
func (s *Structured) Len() int {
	return s.n
}

// Append writes the next point, one amplitude and phase per channel
func (s *Structured) Append(amp, pha []float64) error {
	if s.closed {
		return ErrClosed
	}
	if len(amp) != s.channels || len(pha) != s.channels {
		return fmt.Errorf("%w: %d/%d values for %d channels", ErrSchema, len(amp), len(pha), s.channels)
	}
	if s.n == len(s.amp[0]) {
		return ErrFull
	}
	for i := 0; i < s.channels; i++ {
		s.amp[i][s.n] = amp[i]
		s.pha[i][s.n] = pha[i]
	}
	s.n++
	return nil
}

// At returns the amplitude and phase of a channel at a flat row-major index
func (s *Structured) At(channel, idx int) (amp, pha float64) {
	return s.amp[channel][idx], s.pha[channel][idx]
}

// Checkpoint rewrites the file with the points appended so far, unless it
// was written less than every ago
func (s *Structured) Checkpoint(every time.Duration) error {
	if s.closed {
		return ErrClosed
	}
	if time.Since(s.saved) < every {
		return nil
	}
	return s.save()
}

// Close writes the FITS file a last time.  It is safe to call more than
// once and on a nil Structured.
func (s *Structured) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.save()
}

// save writes the file next to its final path and renames it into place
func (s *Structured) save() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = s.write(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, s.path)
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	s.saved = time.Now()
	return nil
}

func (s *Structured) write(w io.Writer) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	primary := fitsio.NewImage(8, nil)
	defer primary.Close()
	cards := []fitsio.Card{
		{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05"), Comment: "file creation time"},
		{Name: "NCHAN", Value: s.channels, Comment: "readout channels"},
		{Name: "NFILLED", Value: s.n, Comment: "points acquired"},
	}
	if s.comment != "" {
		cards = append(cards, fitsio.Card{Name: "COMMENT", Comment: s.comment})
	}
	if err = primary.Header().Append(cards...); err != nil {
		return err
	}
	if err = fits.Write(primary); err != nil {
		return err
	}

	// FITS axes run fastest first
	dims := make([]int, len(s.coords))
	for i, c := range s.coords {
		dims[len(dims)-1-i] = len(c.Values)
	}
	for ch := 0; ch < s.channels; ch++ {
		if err = s.writeImage(fits, fmt.Sprintf("amplitude_%d", ch), "V", dims, s.amp[ch]); err != nil {
			return err
		}
		if err = s.writeImage(fits, fmt.Sprintf("phase_%d", ch), "rad", dims, s.pha[ch]); err != nil {
			return err
		}
	}
	for _, c := range s.coords {
		if err = writeCoord(fits, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Structured) writeImage(fits *fitsio.File, name, unit string, dims []int, data []float64) error {
	im := fitsio.NewImage(-64, dims)
	defer im.Close()
	cards := []fitsio.Card{
		{Name: "EXTNAME", Value: name},
		{Name: "BUNIT", Value: unit},
	}
	for i, c := range s.coords {
		// CTYPE follows the FITS axis numbering, fastest first
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("CTYPE%d", len(s.coords)-i), Value: c.Name})
	}
	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	if err := im.Write(data); err != nil {
		return err
	}
	return fits.Write(im)
}

func writeCoord(fits *fitsio.File, c Coord) error {
	cols := []fitsio.Column{{Name: "value", Format: "D", Unit: c.Unit}}
	tbl, err := fitsio.NewTable(c.Name, cols, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()
	for i := range c.Values {
		v := c.Values[i]
		if err = tbl.Write(&v); err != nil {
			return err
		}
	}
	return fits.Write(tbl)
}

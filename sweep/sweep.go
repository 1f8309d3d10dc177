// Package sweep drives parameter sweeps: it steps one or two axes, triggers
// the readout at each set-point and fans the samples out to the recording
// sinks, the running average and the live view.
//
// A Controller runs one sweep at a time.  Every run, however it ends, saves
// its plots and closes its files before the Run method returns.
package sweep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/tdsweep/axis"
	"github.com/nasa-jpl/tdsweep/journal"
	"github.com/nasa-jpl/tdsweep/liveview"
	"github.com/nasa-jpl/tdsweep/readout"
)

var (
	// ErrConfiguration is generated when a run cannot start for want of
	// axes or readout information.  Nothing has been written or triggered.
	ErrConfiguration = errors.New("sweep not properly configured")

	// ErrAcquisition is generated when a setter or the readout fails mid-run
	ErrAcquisition = errors.New("acquisition failed")

	// ErrPersistence is generated when the raw data cannot be recorded
	ErrPersistence = errors.New("raw data could not be recorded")

	// ErrAborted is generated when the run's context is cancelled
	ErrAborted = errors.New("sweep aborted")

	// ErrBusy is generated when a run is requested while another is active
	ErrBusy = errors.New("a sweep is already running")
)

// Mode is a sweep mode; its value tags the raw file name
type Mode string

const (
	// Mode1D steps the x axis
	Mode1D Mode = "1d"

	// Mode2D steps the y axis for every x set-point
	Mode2D Mode = "2d"

	// ModeAWG repeats the instrument's own sweep of the x axis once per
	// y set-point and averages the repetitions
	ModeAWG Mode = "2dAWG"
)

// Flags select the optional outputs of a run
type Flags struct {
	// TimeTraces records raw I/Q traces in repeated modes
	TimeTraces bool `koanf:"TimeTraces" yaml:"TimeTraces"`

	// SaveTabular writes .dat files
	SaveTabular bool `koanf:"SaveTabular" yaml:"SaveTabular"`

	// SaveStructured writes a .fits file
	SaveStructured bool `koanf:"SaveStructured" yaml:"SaveStructured"`

	// Hold keeps the previous run's traces on the plots
	Hold bool `koanf:"Hold" yaml:"Hold"`
}

// DefaultFlags write tabular data only
func DefaultFlags() Flags {
	return Flags{SaveTabular: true}
}

// Journal records the start and end of runs
type Journal interface {
	Begin(journal.Record) (journal.Record, error)
	End(id, status string, iterations int, err error) error
}

// Progress is told how far a run has come
type Progress interface {
	Start(name string, total int)
	Iterate()
	Done(err error)
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithProgress reports progress to p
func WithProgress(p Progress) Option {
	return func(c *Controller) { c.progress = p }
}

// WithJournal records every run in j
func WithJournal(j Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithSettle sets the least time between moving a stepped axis and the next
// trigger, letting the instrument settle.  Zero only checks for an abort.
func WithSettle(d time.Duration) Option {
	return func(c *Controller) { c.settle = d }
}

// WithOutputDir sets the root folder of the data files
func WithOutputDir(dir string) Option {
	return func(c *Controller) { c.outdir = dir }
}

// Status is a snapshot of the controller
type Status struct {
	Running    bool   `json:"running"`
	Mode       Mode   `json:"mode,omitempty"`
	Dir        string `json:"dir,omitempty"`
	Done       int    `json:"done"`
	Total      int    `json:"total"`
	Iterations int    `json:"iterations"`
	Error      string `json:"error,omitempty"`
}

// Controller owns the configuration of sweeps and runs them against a readout
type Controller struct {
	readout  readout.Readout
	log      zerolog.Logger
	progress Progress
	journal  Journal
	settle   time.Duration

	mu      sync.Mutex
	x, y    axis.Axis
	comment string
	dirname string
	suffix  string
	outdir  string
	flags   Flags
	busy    bool
	cancel  context.CancelFunc
	status  Status
	view    *liveview.View // of the active or last run
}

// New returns a Controller driving r
func New(r readout.Readout, opts ...Option) *Controller {
	c := &Controller{
		readout: r,
		log:     zerolog.Nop(),
		flags:   DefaultFlags(),
		outdir:  "data",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetX sets the x axis.  In repeated modes x describes the instrument's own
// sequence and its setter is not called.
func (c *Controller) SetX(a axis.Axis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.x = a
}

// SetY sets the y axis
func (c *Controller) SetY(a axis.Axis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.y = a
}

// X returns the x axis
func (c *Controller) X() axis.Axis {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x
}

// Y returns the y axis
func (c *Controller) Y() axis.Axis {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.y
}

// SetComment sets the comment written to the file headers
func (c *Controller) SetComment(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comment = s
}

// Comment returns the comment
func (c *Controller) Comment() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comment
}

// SetDirname sets the name of the measurement, used for its folder and
// files.  If empty, the x axis name is used.
func (c *Controller) SetDirname(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirname = s
}

// Dirname returns the name of the measurement
func (c *Controller) Dirname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirname
}

// SetPlotSuffix sets the suffix appended to plot names
func (c *Controller) SetPlotSuffix(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suffix = s
}

// PlotSuffix returns the plot name suffix
func (c *Controller) PlotSuffix() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suffix
}

// SetOutputDir sets the root folder of the data files
func (c *Controller) SetOutputDir(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outdir = s
}

// OutputDir returns the root folder of the data files
func (c *Controller) OutputDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outdir
}

// SetFlags replaces all output flags
func (c *Controller) SetFlags(f Flags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags = f
}

// Flags returns the output flags
func (c *Controller) Flags() Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

// SetTimeTraces turns recording of I/Q traces on or off
func (c *Controller) SetTimeTraces(b bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.TimeTraces = b
}

// SetSaveTabular turns .dat output on or off
func (c *Controller) SetSaveTabular(b bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.SaveTabular = b
}

// SetSaveStructured turns .fits output on or off
func (c *Controller) SetSaveStructured(b bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.SaveStructured = b
}

// SetHold keeps or clears the previous run's traces on the plots
func (c *Controller) SetHold(b bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.Hold = b
}

// Status returns a snapshot of the active or last run
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// View returns the live view of the active or last run, nil before the first
func (c *Controller) View() *liveview.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Abort cancels the active run, if any.  The run saves and closes its
// files before its Run method returns.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Busy is true while a run is active
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// limiter paces the steps of one run
func (c *Controller) limiter() *rate.Limiter {
	if c.settle <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(c.settle), 1)
}

package sweep

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/tdsweep/accum"
	"github.com/nasa-jpl/tdsweep/axis"
	"github.com/nasa-jpl/tdsweep/journal"
	"github.com/nasa-jpl/tdsweep/liveview"
	"github.com/nasa-jpl/tdsweep/readout"
	"github.com/nasa-jpl/tdsweep/record"
)

// run is the state of one sweep, from the moment its configuration is
// snapshotted until its files are closed
type run struct {
	c       *Controller
	mode    Mode
	x, y    axis.Axis
	coords  []axis.Axis // of each sample, outer first
	comment string
	dirname string
	suffix  string
	outdir  string
	flags   Flags
	log     zerolog.Logger
	limiter *rate.Limiter
	start   time.Time

	channels int
	paths    record.Paths
	sinks    []handle
	source   liveview.Source
	view     *liveview.View
	ampAvg   []*liveview.Plot
	phaAvg   []*liveview.Plot
	acc      accum.Accumulator
	total    int
	jid      string
}

// acquire snapshots the configuration for a run of mode, adjusted by with if
// not nil, and marks the controller busy
func (c *Controller) acquire(mode Mode, with func(*run), cancel context.CancelFunc) (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return nil, ErrBusy
	}
	r := &run{
		c:       c,
		mode:    mode,
		x:       c.x,
		y:       c.y,
		comment: c.comment,
		dirname: c.dirname,
		suffix:  c.suffix,
		outdir:  c.outdir,
		flags:   c.flags,
		limiter: c.limiter(),
		start:   time.Now(),
	}
	if with != nil {
		with(r)
	}
	if err := r.validate(c.readout); err != nil {
		return nil, err
	}
	if r.dirname == "" {
		r.dirname = r.x.Name
	}
	r.log = c.log.With().Str("mode", string(mode)).Str("dirname", r.dirname).Logger()
	c.busy = true
	c.cancel = cancel
	c.status = Status{Running: true, Mode: mode, Total: r.total}
	return r, nil
}

func (r *run) validate(ro readout.Readout) error {
	if ro == nil {
		return fmt.Errorf("%w: no readout", ErrConfiguration)
	}
	var err error
	switch r.mode {
	case Mode1D:
		err = r.x.Validate()
		r.coords = []axis.Axis{r.x}
		r.total = r.x.Len()
	case Mode2D:
		if err = r.x.Validate(); err == nil {
			err = r.y.Validate()
		}
		r.coords = []axis.Axis{r.x, r.y}
		r.total = r.x.Len() * r.y.Len()
	case ModeAWG:
		// the instrument steps x itself; only its set-points are needed
		if err = r.y.Validate(); err == nil && r.x.Len() == 0 {
			err = fmt.Errorf("%q: %w", r.x.Name, axis.ErrEmpty)
		}
		r.coords = []axis.Axis{r.y, r.x}
		r.total = r.y.Len()
	default:
		err = fmt.Errorf("unknown mode %q", r.mode)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// release frees the controller for the next run
func (c *Controller) release(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.cancel = nil
	c.status.Running = false
	if err != nil {
		c.status.Error = err.Error()
	}
}

// execute runs loop as a sweep of mode.  with, if not nil, adjusts the run's
// copy of the configuration.  Once any file exists, the plots are saved and
// every file closed before execute returns.
func (c *Controller) execute(ctx context.Context, mode Mode, with func(*run), loop func(context.Context, *run) error) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r, err := c.acquire(mode, with, cancel)
	if err != nil {
		return err
	}
	defer func() { c.release(err) }()

	if mode == ModeAWG {
		// an abort requested before the run starts leaves no files behind
		if err = r.yield(ctx); err != nil {
			return err
		}
	}
	if err = r.open(c.readout); err != nil {
		r.closeSinks()
		r.log.Error().Err(err).Msg("could not start sweep")
		return err
	}
	c.started(r)

	err = r.guard(ctx, loop)

	c.finished(r, err)
	return err
}

// guard runs loop and always finalizes
func (r *run) guard(ctx context.Context, loop func(context.Context, *run) error) (err error) {
	defer r.finalize()
	return loop(ctx, r)
}

func (c *Controller) started(r *run) {
	c.mu.Lock()
	prev := c.view
	c.view = r.view
	c.status.Dir = r.paths.Dir
	c.mu.Unlock()
	if r.flags.Hold {
		r.view.HoldFrom(prev)
	}

	r.log.Info().Str("dir", r.paths.Dir).Int("channels", r.channels).Int("steps", r.total).Msg("sweep started")
	if c.progress != nil {
		c.progress.Start(r.dirname, r.total)
	}
	if c.journal != nil {
		rec, err := c.journal.Begin(journal.Record{
			Mode:    string(r.mode),
			Dirname: r.dirname,
			Comment: r.comment,
			Dir:     r.paths.Dir,
			Files:   r.files(),
			Points:  r.total,
			Start:   r.start,
		})
		if err != nil {
			r.log.Warn().Err(err).Msg("journal")
		}
		r.jid = rec.ID
	}
}

func (c *Controller) finished(r *run, err error) {
	status := journal.Completed
	ev := r.log.Info()
	switch {
	case errors.Is(err, ErrAborted):
		status = journal.Aborted
		ev = r.log.Warn().Err(err)
	case err != nil:
		status = journal.Failed
		ev = r.log.Error().Err(err)
	}
	ev.Str("status", status).Int("iterations", r.acc.Iterations()).Msg("sweep finished")
	if c.progress != nil {
		c.progress.Done(err)
	}
	if c.journal != nil && r.jid != "" {
		if jerr := c.journal.End(r.jid, status, r.acc.Iterations(), err); jerr != nil {
			r.log.Warn().Err(jerr).Msg("journal")
		}
	}
}

func (r *run) files() []string {
	var out []string
	for _, h := range r.sinks {
		switch s := h.sink.(type) {
		case tabularSink:
			out = append(out, s.t.Path())
		case traceSink:
			out = append(out, s.t.Path())
		case structuredSink:
			out = append(out, s.s.Path())
		}
	}
	return out
}

func columns(axes []axis.Axis) []record.Column {
	out := make([]record.Column, len(axes))
	for i, a := range axes {
		out[i] = record.Column{Name: a.Name, Unit: a.Unit}
	}
	return out
}

// open queries the channel count and creates the sinks and the view
func (r *run) open(ro readout.Readout) error {
	n, err := ro.ChannelCount()
	if err != nil {
		return fmt.Errorf("%w: channel count: %w", ErrConfiguration, err)
	}
	if n <= 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, readout.ErrNoChannels)
	}
	r.channels = n
	r.paths = record.Layout(r.outdir, string(r.mode), r.dirname, r.start, r.flags.SaveTabular)
	if err = r.paths.MkDir(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	cols := columns(r.coords)

	if r.flags.SaveTabular {
		raw, err := record.CreateTabular(r.paths.Raw, record.RawColumns(cols, n, true),
			record.Options{Comment: r.comment, Retain: true})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		r.sinks = append(r.sinks, handle{name: "raw", primary: true, sink: tabularSink{raw}})
		r.source = raw
	} else {
		mem := &table{}
		r.sinks = append(r.sinks, handle{name: "memory", primary: true, sink: mem})
		r.source = mem
	}

	if r.flags.SaveStructured {
		coords := make([]record.Coord, len(r.coords))
		for i, a := range r.coords {
			coords[i] = record.Coord{Name: a.Name, Unit: a.Unit, Values: a.Values}
		}
		s, err := record.CreateStructured(r.paths.Structured, coords, n, r.comment)
		if err != nil {
			r.log.Warn().Err(err).Msg("structured output disabled")
		} else {
			r.sinks = append(r.sinks, handle{name: "structured", sink: structuredSink{s}})
		}
	}

	if r.mode == ModeAWG && r.flags.TimeTraces && r.flags.SaveTabular {
		if err := r.openTraces(ro, cols); err != nil {
			r.log.Warn().Err(err).Msg("time traces disabled")
		}
	}

	if r.mode == ModeAWG {
		r.acc.Reset(r.x.Len(), n)
	}
	r.view = r.newView()
	return nil
}

func (r *run) openTraces(ro readout.Readout, cols []record.Column) error {
	ts, ok := ro.(readout.TraceSampler)
	if !ok {
		return errors.New("readout does not report its trace length")
	}
	samples, err := ts.TraceSamples()
	if err != nil {
		return err
	}
	t, err := record.CreateTabular(r.paths.Time, record.TraceColumns(cols, samples), record.Options{Comment: r.comment})
	if err != nil {
		return err
	}
	r.sinks = append(r.sinks, handle{name: "time traces", sink: traceSink{t}})
	return nil
}

func label(name, unit string) string {
	return record.Column{Name: name, Unit: unit}.String()
}

// newView builds one plot per channel and quantity.  1D plots trace the raw
// data; 2D and repeated plots trace each block, and repeated modes add an
// overlay of the two latest running averages.
func (r *run) newView() *liveview.View {
	v := liveview.New(r.source)
	data := ""
	if r.flags.SaveTabular {
		data = filepath.Base(r.paths.Raw)
	}
	k := r.channels
	ncoord := len(r.coords)
	for i := 0; i < k; i++ {
		amp := label(fmt.Sprintf("amp_%d", i), "V")
		pha := label(fmt.Sprintf("pha_%d", i), "rad")
		if r.mode == Mode1D {
			v.Bind(&liveview.Plot{
				Name:   fmt.Sprintf("amplitude_%d%s", i, r.suffix),
				XLabel: r.x.Label(), YLabel: amp,
				Script: liveview.ScriptSpec{DataFile: data},
			}, liveview.Columns{X: 0, Y: 1 + i, Outer: -1})
			v.Bind(&liveview.Plot{
				Name:   fmt.Sprintf("phase_%d%s", i, r.suffix),
				XLabel: r.x.Label(), YLabel: pha,
				Script: liveview.ScriptSpec{DataFile: data},
			}, liveview.Columns{X: 0, Y: 1 + k + i, Outer: -1})
			continue
		}
		outer, inner := r.coords[0], r.coords[1]
		surface := liveview.ScriptSpec{DataFile: data, Surface: true, OuterLabel: outer.Label()}
		v.Bind(&liveview.Plot{
			Name:   fmt.Sprintf("amplitude_%d_3d%s", i, r.suffix),
			XLabel: inner.Label(), YLabel: amp,
			Script: surface,
		}, liveview.Columns{X: 1, Y: ncoord + i, Outer: 0})
		v.Bind(&liveview.Plot{
			Name:   fmt.Sprintf("phase_%d_3d%s", i, r.suffix),
			XLabel: inner.Label(), YLabel: pha,
			Script: surface,
		}, liveview.Columns{X: 1, Y: ncoord + k + i, Outer: 0})

		if r.mode == ModeAWG {
			a := &liveview.Plot{Name: fmt.Sprintf("amplitude_%d%s", i, r.suffix), XLabel: r.x.Label(), YLabel: amp, MaxTraces: 2}
			p := &liveview.Plot{Name: fmt.Sprintf("phase_%d%s", i, r.suffix), XLabel: r.x.Label(), YLabel: pha, MaxTraces: 2}
			v.Add(a)
			v.Add(p)
			r.ampAvg = append(r.ampAvg, a)
			r.phaAvg = append(r.phaAvg, p)
		}
	}
	return v
}

// yield pauses until the next step is due, returning ErrAborted if the run
// is cancelled first
func (r *run) yield(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return nil
}

// set moves axis a to v and restarts the settle interval, so the next yield
// waits a full interval from now
func (r *run) set(a axis.Axis, v float64) error {
	if err := a.Set(v); err != nil {
		return fmt.Errorf("%w: set %s to %g: %w", ErrAcquisition, a.Label(), v, err)
	}
	r.limiter = rate.NewLimiter(r.limiter.Limit(), 1)
	r.limiter.Allow()
	return nil
}

// capture triggers the readout and checks the shape of what it returns
func (r *run) capture(ctx context.Context, trace bool) (readout.Capture, error) {
	c, err := r.c.readout.Capture(ctx, trace)
	if err != nil {
		if ctx.Err() != nil {
			return c, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		return c, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	if err = c.Validate(r.channels); err != nil {
		return c, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	return c, nil
}

// fanout gives a sample to every present sink in order
func (r *run) fanout(s readout.Sample) error {
	return r.each(func(h handle) error { return h.write(s) })
}

// block marks an outer loop boundary in every present sink
func (r *run) block() error {
	return r.each(func(h handle) error { return h.block() })
}

func (r *run) each(f func(handle) error) error {
	for i := 0; i < len(r.sinks); {
		h := r.sinks[i]
		if err := f(h); err != nil {
			if h.primary {
				return fmt.Errorf("%w: %s: %w", ErrPersistence, h.name, err)
			}
			r.log.Warn().Err(err).Str("sink", h.name).Msg("sink dropped")
			if cerr := h.close(); cerr != nil {
				r.log.Warn().Err(cerr).Str("sink", h.name).Msg("close")
			}
			r.sinks = append(r.sinks[:i], r.sinks[i+1:]...)
			continue
		}
		i++
	}
	return nil
}

// step is called after each set-point or iteration completes
func (r *run) step() {
	r.view.Refresh()
	r.c.mu.Lock()
	r.c.status.Done++
	r.c.status.Iterations = r.acc.Iterations()
	r.c.mu.Unlock()
	if r.c.progress != nil {
		r.c.progress.Iterate()
	}
}

// average feeds the running average of a repeated sweep to the overlay
func (r *run) average() {
	amp, pha, err := r.acc.Average()
	if err != nil {
		return
	}
	name := fmt.Sprintf("%d averages", r.acc.Iterations())
	for ch := 0; ch < r.channels; ch++ {
		ya := make([]float64, len(amp))
		yp := make([]float64, len(pha))
		for i := range amp {
			ya[i], yp[i] = amp[i][ch], pha[i][ch]
		}
		x := append([]float64{}, r.x.Values...)
		r.ampAvg[ch].Add(liveview.Series{Name: name, X: x, Y: ya})
		r.phaAvg[ch].Add(liveview.Series{Name: name, X: x, Y: yp})
	}
}

// finalize saves the plots, writes the average of a repeated sweep and
// closes every sink.  Failures are logged; each stage runs even if an
// earlier one panics.
func (r *run) finalize() {
	r.safely("plots", func() error { return r.view.Finalize(r.paths.Dir) })
	if r.mode == ModeAWG {
		r.safely("average", r.writeAverage)
	}
	r.closeSinks()
}

func (r *run) closeSinks() {
	for _, h := range r.sinks {
		r.safely("close "+h.name, h.close)
	}
	r.sinks = nil
}

func (r *run) safely(stage string, f func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("stage", stage).Msg("finalize")
		}
	}()
	if err := f(); err != nil {
		r.log.Warn().Err(err).Str("stage", stage).Msg("finalize")
	}
}

// writeAverage writes the averaged data of the completed iterations
func (r *run) writeAverage() error {
	amp, pha, err := r.acc.Average()
	if errors.Is(err, accum.ErrNoData) {
		r.log.Info().Msg("no completed iteration, no averaged data")
		return nil
	}
	if err != nil || !r.flags.SaveTabular {
		return err
	}
	cols := record.RawColumns(columns([]axis.Axis{r.x}), r.channels, false)
	t, err := record.CreateTabular(r.paths.Avg, cols, record.Options{Comment: r.comment})
	if err != nil {
		return err
	}
	for i, x := range r.x.Values {
		row := make([]float64, 0, 1+2*r.channels)
		row = append(row, x)
		row = append(row, amp[i]...)
		row = append(row, pha[i]...)
		if err = t.Append(row...); err != nil {
			t.Close()
			return err
		}
	}
	return t.Close()
}

// Package httpapi exposes a sweep controller over HTTP: configuration,
// starting and aborting runs, live plots and the run history.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"

	"github.com/nasa-jpl/tdsweep/axis"
	"github.com/nasa-jpl/tdsweep/journal"
	"github.com/nasa-jpl/tdsweep/liveview"
	"github.com/nasa-jpl/tdsweep/sweep"
)

// History lists past runs
type History interface {
	List(limit int) ([]journal.Record, error)
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithHistory serves the run history at /runs
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// Server runs sweeps on behalf of HTTP clients.  Runs execute in the
// background; Close aborts the active run and waits for it.
type Server struct {
	ctrl    *sweep.Controller
	history History
	log     zerolog.Logger
	router  chi.Router

	// ctx is the parent of every run, cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New returns a Server for ctrl
func New(ctrl *sweep.Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, log: zerolog.Nop()}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Busy is true while a run started over HTTP, or any run of the
// controller, is active
func (s *Server) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running || s.ctrl.Busy()
}

// Close aborts the active run, including one launched but not yet started,
// and waits for it to save its files.  No run starts after Close.
func (s *Server) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.ctrl.Abort()
	s.wg.Wait()
}

// Wait blocks until no run started over HTTP is active
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	lock := &Locker{Locked: s.Busy, DoNotProtect: []string{"abort"}}
	r.Use(middleware.RequestID, middleware.Recoverer, s.logRequests, lock.Check)

	r.Route("/config", func(r chi.Router) {
		strs := map[string]struct {
			get func() string
			set func(string)
		}{
			"comment": {s.ctrl.Comment, s.ctrl.SetComment},
			"dirname": {s.ctrl.Dirname, s.ctrl.SetDirname},
			"suffix":  {s.ctrl.PlotSuffix, s.ctrl.SetPlotSuffix},
		}
		for name, f := range strs {
			r.Get("/"+name, GetString(f.get))
			r.Post("/"+name, SetString(f.set))
		}
		bools := map[string]struct {
			get func() bool
			set func(bool)
		}{
			"time-traces":     {func() bool { return s.ctrl.Flags().TimeTraces }, s.ctrl.SetTimeTraces},
			"save-tabular":    {func() bool { return s.ctrl.Flags().SaveTabular }, s.ctrl.SetSaveTabular},
			"save-structured": {func() bool { return s.ctrl.Flags().SaveStructured }, s.ctrl.SetSaveStructured},
			"hold":            {func() bool { return s.ctrl.Flags().Hold }, s.ctrl.SetHold},
		}
		for name, f := range bools {
			r.Get("/"+name, GetBool(f.get))
			r.Post("/"+name, SetBool(f.set))
		}
	})

	r.Get("/axis/{axis}", s.getAxis)
	r.Post("/axis/{axis}", s.setAxis)

	r.Post("/run/1d", s.start(func(ctx context.Context, _ *http.Request) error { return s.ctrl.Run1D(ctx) }))
	r.Post("/run/2d", s.start(func(ctx context.Context, _ *http.Request) error { return s.ctrl.Run2D(ctx) }))
	r.Post("/run/2d-avg", s.start(func(ctx context.Context, _ *http.Request) error { return s.ctrl.Run2DRepeated(ctx) }))
	r.Post("/run/1d-avg", s.start1DRepeated)
	r.Post("/abort", s.abort)
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) { respond(w, s.ctrl.Status()) })

	r.Get("/plots", s.listPlots)
	r.Get("/plots/{name}.png", s.renderPlot)
	r.Get("/runs", s.listRuns)

	r.Get("/list-of-routes", func(w http.ResponseWriter, req *http.Request) {
		var routes []string
		chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			routes = append(routes, method+" "+route)
			return nil
		})
		sort.Strings(routes)
		respond(w, routes)
	})
	return r
}

// logRequests logs each request after it is served
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}

func (s *Server) axisByName(w http.ResponseWriter, r *http.Request) (axis.Axis, func(axis.Axis), bool) {
	switch chi.URLParam(r, "axis") {
	case "x":
		return s.ctrl.X(), s.ctrl.SetX, true
	case "y":
		return s.ctrl.Y(), s.ctrl.SetY, true
	}
	http.Error(w, "axis must be x or y", http.StatusNotFound)
	return axis.Axis{}, nil, false
}

func (s *Server) getAxis(w http.ResponseWriter, r *http.Request) {
	a, _, ok := s.axisByName(w, r)
	if !ok {
		return
	}
	respond(w, struct {
		Name   string    `json:"name"`
		Unit   string    `json:"unit"`
		Values []float64 `json:"values"`
	}{a.Name, a.Unit, a.Values})
}

// setAxis replaces the set-points, name and unit of an axis.  The axis keeps
// the setter it was configured with, if any.
func (s *Server) setAxis(w http.ResponseWriter, r *http.Request) {
	old, set, ok := s.axisByName(w, r)
	if !ok {
		return
	}
	in := AxisT{}
	err := json.NewDecoder(r.Body).Decode(&in)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a := axis.Axis{Values: axis.Linear(in.Start, in.Stop, in.Step), Name: in.Name, Unit: in.Unit, Set: old.Set}
	if a.Set == nil {
		a.Set = axis.Noop
	}
	if err = a.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	set(a)
	w.WriteHeader(http.StatusOK)
}

// start returns a handler that launches run in the background
func (s *Server) start(run func(context.Context, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.launch(w, func(ctx context.Context) error { return run(ctx, r) })
	}
}

func (s *Server) start1DRepeated(w http.ResponseWriter, r *http.Request) {
	n := IntT{}
	err := json.NewDecoder(r.Body).Decode(&n)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if n.Int < 1 {
		http.Error(w, "iterations must be at least 1", http.StatusBadRequest)
		return
	}
	s.launch(w, func(ctx context.Context) error { return s.ctrl.Run1DRepeated(ctx, n.Int) })
}

func (s *Server) launch(w http.ResponseWriter, run func(context.Context) error) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		http.Error(w, "server is closed", http.StatusServiceUnavailable)
		return
	}
	if s.running || s.ctrl.Busy() {
		s.mu.Unlock()
		http.Error(w, sweep.ErrBusy.Error(), http.StatusLocked)
		return
	}
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		err := run(s.ctx)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if err != nil && !errors.Is(err, sweep.ErrAborted) {
			s.log.Error().Err(err).Msg("run failed")
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	respond(w, BoolT{Bool: s.ctrl.Abort()})
}

func (s *Server) listPlots(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if v := s.ctrl.View(); v != nil {
		for _, p := range v.Plots() {
			names = append(names, p.Name)
		}
	}
	respond(w, names)
}

func (s *Server) renderPlot(w http.ResponseWriter, r *http.Request) {
	v := s.ctrl.View()
	if v == nil {
		http.Error(w, "no sweep has run", http.StatusNotFound)
		return
	}
	p, ok := v.Plot(chi.URLParam(r, "name"))
	if !ok {
		http.Error(w, "no such plot", http.StatusNotFound)
		return
	}
	width, height := liveview.DefaultWidth, liveview.DefaultHeight
	if q := r.URL.Query().Get("width"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			width = n
		}
	}
	if q := r.URL.Query().Get("height"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			height = n
		}
	}
	buf := &bytes.Buffer{}
	err := p.Render(buf, width, height)
	if errors.Is(err, liveview.ErrNoData) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("plot", p.Name).Msg("render")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "no journal configured", http.StatusNotFound)
		return
	}
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.history.List(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []journal.Record{}
	}
	respond(w, runs)
}

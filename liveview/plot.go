// Package liveview keeps the plots of a running sweep up to date and saves
// them as images and gnuplot scripts when the sweep ends.
package liveview

import (
	"errors"
	"io"
	"math"
	"sync"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrNoData is generated when a plot has nothing drawable
var ErrNoData = errors.New("plot has no data")

// Series is one trace of a plot
type Series struct {
	Name string
	X, Y []float64
}

// Plot is a named 2D plot holding one or more traces
type Plot struct {
	mu sync.Mutex

	// Name identifies the plot and names its files
	Name string

	// XLabel and YLabel are the axis labels
	XLabel, YLabel string

	// MaxTraces caps the number of traces; the oldest are evicted first.
	// Zero means no cap.
	MaxTraces int

	// Script describes how gnuplot reproduces the plot
	Script ScriptSpec

	held   []Series // traces kept from the previous run
	series []Series
}

// Add appends a trace, evicting the oldest beyond MaxTraces
func (p *Plot) Add(s Series) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series = append(p.series, s)
	p.evict()
}

// extend appends the points of s to the newest trace, or with fresh starts a
// new trace with them
func (p *Plot) extend(fresh bool, s Series) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fresh || len(p.series) == 0 {
		p.series = append(p.series, s)
		p.evict()
		return
	}
	last := &p.series[len(p.series)-1]
	last.X = append(last.X, s.X...)
	last.Y = append(last.Y, s.Y...)
}

func (p *Plot) evict() {
	if p.MaxTraces > 0 && len(p.series) > p.MaxTraces {
		p.series = p.series[len(p.series)-p.MaxTraces:]
	}
}

// Hold keeps the given traces drawn underneath this plot's own
func (p *Plot) Hold(s []Series) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = append([]Series{}, s...)
}

// Clear drops every trace, held ones included
func (p *Plot) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series = nil
	p.held = nil
}

// Series returns the plot's own traces, oldest first
func (p *Plot) Series() []Series {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Series{}, p.series...)
}

// Held returns the traces held from a previous run
func (p *Plot) Held() []Series {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Series{}, p.held...)
}

// bounds is the extent of the finite data in a set of traces
type bounds struct {
	xmin, xmax, ymin, ymax float64
	n                      int
}

func (b *bounds) add(s Series) {
	for i := range s.X {
		x, y := s.X[i], s.Y[i]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			continue
		}
		if b.n == 0 {
			b.xmin, b.xmax, b.ymin, b.ymax = x, x, y, y
		}
		b.xmin, b.xmax = math.Min(b.xmin, x), math.Max(b.xmax, x)
		b.ymin, b.ymax = math.Min(b.ymin, y), math.Max(b.ymax, y)
		b.n++
	}
}

// pad widens a degenerate range so it can be drawn
func pad(lo, hi float64) (float64, float64) {
	if hi > lo {
		return lo, hi
	}
	d := math.Abs(lo) * 0.05
	if d == 0 {
		d = 1
	}
	return lo - d, hi + d
}

func (p *Plot) extent() bounds {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b bounds
	for _, s := range p.held {
		b.add(s)
	}
	for _, s := range p.series {
		b.add(s)
	}
	return b
}

func (b bounds) drawable() bool {
	return b.n >= 2 && b.xmax > b.xmin
}

// drawable is true when Render would succeed in drawing something
func (p *Plot) drawable() bool {
	return p.extent().drawable()
}

// Render draws the plot as a PNG
func (p *Plot) Render(w io.Writer, width, height int) error {
	p.mu.Lock()
	held := append([]Series{}, p.held...)
	own := append([]Series{}, p.series...)
	p.mu.Unlock()

	var b bounds
	for _, s := range held {
		b.add(s)
	}
	for _, s := range own {
		b.add(s)
	}
	if !b.drawable() {
		return ErrNoData
	}
	ylo, yhi := pad(b.ymin, b.ymax)

	series := make([]chart.Series, 0, len(held)+len(own))
	for _, s := range held {
		series = append(series, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: s.X,
			YValues: s.Y,
			Style: chart.Style{
				StrokeColor:     chart.ColorAlternateGray,
				StrokeDashArray: []float64{5, 5},
			},
		})
	}
	for i, s := range own {
		series = append(series, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: s.X,
			YValues: s.Y,
			Style: chart.Style{
				StrokeColor: traceColor(i, len(own)),
				StrokeWidth: 1.5,
			},
		})
	}
	ch := chart.Chart{
		Title:  p.Name,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 24, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis:  chart.XAxis{Name: p.XLabel, Range: &chart.ContinuousRange{Min: b.xmin, Max: b.xmax}},
		YAxis:  chart.YAxis{Name: p.YLabel, Range: &chart.ContinuousRange{Min: ylo, Max: yhi}},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return ch.Render(chart.PNG, w)
}

// traceColor fades older traces so the newest stands out
func traceColor(i, n int) drawing.Color {
	if n > 1 && i < n-1 {
		return chart.ColorBlue.WithAlpha(uint8(64 + 128*i/(n-1)))
	}
	return chart.ColorRed
}

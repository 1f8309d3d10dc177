package liveview_test

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/tdsweep/liveview"
)

type table struct {
	rows   [][]float64
	blocks []int
	served int // rows handed out by Since
}

func (t *table) Since(n int) ([][]float64, []int) {
	if n >= len(t.rows) {
		return nil, nil
	}
	var starts []int
	for _, b := range t.blocks {
		if b >= n && b < len(t.rows) {
			starts = append(starts, b)
		}
	}
	t.served += len(t.rows) - n
	return t.rows[n:], starts
}

func TestOverlayKeepsTwoNewest(t *testing.T) {
	p := &liveview.Plot{Name: "amplitude_0_avg", MaxTraces: 2}
	for _, name := range []string{"1", "2", "3"} {
		p.Add(liveview.Series{Name: name, X: []float64{0, 1}, Y: []float64{1, 2}})
	}
	s := p.Series()
	require.Len(t, s, 2)
	assert.Equal(t, "2", s[0].Name)
	assert.Equal(t, "3", s[1].Name)
}

func TestRefreshFlat(t *testing.T) {
	src := &table{rows: [][]float64{{0, 1, 9}, {1, 2, 8}, {2, 3, 7}}, blocks: []int{0}}
	v := liveview.New(src)
	amp := &liveview.Plot{Name: "amplitude_0"}
	pha := &liveview.Plot{Name: "phase_0"}
	v.Bind(amp, liveview.Columns{X: 0, Y: 1, Outer: -1})
	v.Bind(pha, liveview.Columns{X: 0, Y: 2, Outer: -1})
	v.Refresh()
	s := amp.Series()
	require.Len(t, s, 1)
	assert.Equal(t, []float64{0, 1, 2}, s[0].X)
	assert.Equal(t, []float64{1, 2, 3}, s[0].Y)
	assert.Equal(t, []float64{9, 8, 7}, pha.Series()[0].Y)
}

func TestRefreshBlocks(t *testing.T) {
	src := &table{
		rows:   [][]float64{{10, 0, 1}, {10, 1, 2}, {20, 0, 3}, {20, 1, 4}},
		blocks: []int{0, 2},
	}
	v := liveview.New(src)
	p := &liveview.Plot{Name: "amplitude_0_3d"}
	v.Bind(p, liveview.Columns{X: 1, Y: 2, Outer: 0})
	v.Refresh()
	s := p.Series()
	require.Len(t, s, 2)
	assert.Equal(t, "10", s[0].Name)
	assert.Equal(t, []float64{3, 4}, s[1].Y)
}

func TestRefreshConsumesEachRowOnce(t *testing.T) {
	src := &table{}
	v := liveview.New(src)
	p := &liveview.Plot{Name: "amplitude_0_3d"}
	v.Bind(p, liveview.Columns{X: 1, Y: 2, Outer: 0})
	for x := 0; x < 3; x++ {
		src.blocks = append(src.blocks, len(src.rows))
		for y := 0; y < 4; y++ {
			src.rows = append(src.rows, []float64{float64(x), float64(y), float64(10*x + y)})
			v.Refresh()
		}
	}
	v.Refresh()
	assert.Equal(t, 12, src.served)

	s := p.Series()
	require.Len(t, s, 3)
	for x, tr := range s {
		assert.Equal(t, []float64{0, 1, 2, 3}, tr.X)
		assert.Equal(t, float64(10*x+3), tr.Y[3])
	}
	assert.Equal(t, "2", s[2].Name)
}

func TestRefreshSplitsBlocksWithinOneBatch(t *testing.T) {
	src := &table{
		rows:   [][]float64{{10, 0, 1}},
		blocks: []int{0},
	}
	v := liveview.New(src)
	p := &liveview.Plot{Name: "phase_0_3d"}
	v.Bind(p, liveview.Columns{X: 1, Y: 2, Outer: 0})
	v.Refresh()
	src.rows = append(src.rows, []float64{10, 1, 2}, []float64{20, 0, 3}, []float64{20, 1, 4}, []float64{30, 0, 5})
	src.blocks = append(src.blocks, 2, 4)
	v.Refresh()
	s := p.Series()
	require.Len(t, s, 3)
	assert.Equal(t, []float64{1, 2}, s[0].Y)
	assert.Equal(t, []float64{3, 4}, s[1].Y)
	assert.Equal(t, "30", s[2].Name)
}

func TestRefreshEmptyKeepsPlot(t *testing.T) {
	src := &table{}
	v := liveview.New(src)
	p := &liveview.Plot{Name: "amplitude_0"}
	v.Bind(p, liveview.Columns{X: 0, Y: 1, Outer: -1})
	p.Add(liveview.Series{Name: "x", X: []float64{0, 1}, Y: []float64{0, 1}})
	v.Refresh()
	assert.Len(t, p.Series(), 1)
}

func TestHoldFrom(t *testing.T) {
	prev := liveview.New(nil)
	old := &liveview.Plot{Name: "amplitude_0"}
	old.Add(liveview.Series{Name: "previous", X: []float64{0, 1}, Y: []float64{0, 1}})
	prev.Add(old)

	v := liveview.New(nil)
	p := &liveview.Plot{Name: "amplitude_0"}
	other := &liveview.Plot{Name: "phase_0"}
	v.Add(p)
	v.Add(other)
	v.HoldFrom(prev)
	require.Len(t, p.Held(), 1)
	assert.Equal(t, "previous", p.Held()[0].Name)
	assert.Empty(t, other.Held())
	p.Clear()
	assert.Empty(t, p.Held())
}

func TestRenderNoData(t *testing.T) {
	p := &liveview.Plot{Name: "empty"}
	err := p.Render(&bytes.Buffer{}, 100, 100)
	assert.ErrorIs(t, err, liveview.ErrNoData)

	p.Add(liveview.Series{X: []float64{1}, Y: []float64{1}})
	err = p.Render(&bytes.Buffer{}, 100, 100)
	assert.ErrorIs(t, err, liveview.ErrNoData)
}

func TestRenderFlatLine(t *testing.T) {
	p := &liveview.Plot{Name: "flat", XLabel: "x", YLabel: "y"}
	p.Add(liveview.Series{Name: "a", X: []float64{0, 1, 2}, Y: []float64{5, 5, 5}})
	buf := &bytes.Buffer{}
	require.NoError(t, p.Render(buf, 320, 240))
	img, err := png.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
}

func TestFinalize(t *testing.T) {
	dir := t.TempDir()
	src := &table{rows: [][]float64{{0, 1}, {1, 2}}, blocks: []int{0}}
	v := liveview.New(src)
	amp := &liveview.Plot{Name: "amplitude_0", XLabel: "bias [A]", YLabel: "amplitude [V]",
		Script: liveview.ScriptSpec{DataFile: "raw_1d_bias.dat"}}
	v.Bind(amp, liveview.Columns{X: 0, Y: 1, Outer: -1})
	overlay := &liveview.Plot{Name: "amplitude_0_avg", MaxTraces: 2}
	v.Add(overlay)
	require.NoError(t, v.Finalize(dir))

	assert.FileExists(t, filepath.Join(dir, "amplitude_0.png"))
	gp, err := os.ReadFile(filepath.Join(dir, "amplitude_0.gp"))
	require.NoError(t, err)
	assert.Contains(t, string(gp), "plot 'raw_1d_bias.dat' using 1:2")

	// no data, no image; the script is still written
	assert.NoFileExists(t, filepath.Join(dir, "amplitude_0_avg.png"))
	assert.FileExists(t, filepath.Join(dir, "amplitude_0_avg.gp"))
}

func TestScriptInline(t *testing.T) {
	p := &liveview.Plot{Name: "amplitude_0_avg", XLabel: "f [Hz]", YLabel: "it's"}
	p.Add(liveview.Series{Name: "1", X: []float64{0, 1}, Y: []float64{2, 3}})
	p.Add(liveview.Series{Name: "2", X: []float64{0, 1}, Y: []float64{4, 5}})
	buf := &strings.Builder{}
	require.NoError(t, p.WriteScript(buf))
	s := buf.String()
	assert.Contains(t, s, "$trace0 << EOD\n0 2\n1 3\nEOD")
	assert.Contains(t, s, "plot $trace0 using 1:2 with lines title '1' noenhanced, $trace1")
	assert.Contains(t, s, "set ylabel 'it''s'")
}

func TestScriptSurface(t *testing.T) {
	v := liveview.New(&table{})
	p := &liveview.Plot{Name: "amplitude_0_3d", XLabel: "f [Hz]", YLabel: "amplitude [V]",
		Script: liveview.ScriptSpec{DataFile: "raw_2d_x.dat", Surface: true, OuterLabel: "bias [A]"}}
	v.Bind(p, liveview.Columns{X: 1, Y: 2, Outer: 0})
	buf := &strings.Builder{}
	require.NoError(t, p.WriteScript(buf))
	assert.Contains(t, buf.String(), "splot 'raw_2d_x.dat' using 1:2:3 with pm3d")
}

package record_test

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/tdsweep/record"
)

// dataLines returns the non-comment lines of a tabular file, with blank
// lines kept as block separators
func dataLines(t *testing.T, path string) []string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []string
	header := true
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if header {
			if strings.HasPrefix(line, "#") || line == "" {
				continue
			}
			header = false
		}
		out = append(out, line)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRawColumns(t *testing.T) {
	cols := record.RawColumns([]record.Column{{Name: "x", Unit: "mA"}}, 2, true)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"x", "amp_0", "amp_1", "pha_0", "pha_1", "timestamp"}, names)
	assert.Equal(t, "x [mA]", cols[0].String())
}

func TestTraceColumns(t *testing.T) {
	cols := record.TraceColumns([]record.Column{{Name: "#iteration"}, {Name: "x"}}, 2)
	assert.Len(t, cols, 2+2+2+1)
	assert.Equal(t, "I000", cols[2].Name)
	assert.Equal(t, "Q001", cols[5].Name)
}

func TestTabularBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.dat")
	tab, err := record.CreateTabular(path, record.RawColumns([]record.Column{{Name: "x"}, {Name: "y"}}, 1, false),
		record.Options{Comment: "two blocks", Retain: true})
	require.NoError(t, err)

	require.NoError(t, tab.BeginBlock()) // leading marker is swallowed
	require.NoError(t, tab.Append(0, 0, 1, 0.5))
	require.NoError(t, tab.Append(0, 1, 2, 0.5))
	require.NoError(t, tab.BeginBlock())
	require.NoError(t, tab.BeginBlock()) // no empty block
	require.NoError(t, tab.Append(1, 0, 3, 0.5))
	require.NoError(t, tab.Append(1, 1, 4, 0.5))
	assert.Equal(t, []int{0, 2}, tab.Blocks())
	assert.Len(t, tab.Rows(), 4)

	rows, starts := tab.Since(1)
	assert.Len(t, rows, 3)
	assert.Equal(t, []int{2}, starts)
	assert.Equal(t, []float64{1, 0, 3, 0.5}, rows[1])
	rows, starts = tab.Since(4)
	assert.Empty(t, rows)
	assert.Empty(t, starts)
	require.NoError(t, tab.Close())
	require.NoError(t, tab.Close())

	lines := dataLines(t, path)
	require.Len(t, lines, 5)
	assert.Equal(t, "", lines[2])
	assert.Len(t, strings.Fields(lines[0]), 4)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# Comment: two blocks")
	assert.Contains(t, string(raw), "# Column 3: amp_0 [V]")
}

func TestTabularSchemaAndClosed(t *testing.T) {
	tab, err := record.CreateTabular(filepath.Join(t.TempDir(), "a.dat"), []record.Column{{Name: "x"}}, record.Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, tab.Append(1, 2), record.ErrSchema)
	require.NoError(t, tab.Close())
	assert.ErrorIs(t, tab.Append(1), record.ErrClosed)
	assert.ErrorIs(t, tab.BeginBlock(), record.ErrClosed)
	assert.Empty(t, tab.Rows(), "rows are only kept when retained")
}

func TestNilSinksCloseQuietly(t *testing.T) {
	var tab *record.Tabular
	var st *record.Structured
	assert.NoError(t, tab.Close())
	assert.NoError(t, st.Close())
}

func TestLayout(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	p := record.Layout("/data", "2dAWG", "flux coil (mA)", ts, true)
	assert.Equal(t, filepath.Join("/data", "2024-03-09", "140506_flux_coil__mA_"), p.Dir)
	assert.Equal(t, filepath.Join(p.Dir, "raw_2dAWG_flux_coil__mA_.dat"), p.Raw)
	assert.Equal(t, filepath.Join(p.Dir, "raw_2dAWG_flux_coil__mA_.fits"), p.Structured)
	assert.Equal(t, filepath.Join(p.Dir, "flux_coil__mA__avg.dat"), p.Avg)
	assert.Equal(t, filepath.Join(p.Dir, "flux_coil__mA__time.dat"), p.Time)

	p = record.Layout("/data", "1d", "x", ts, false)
	assert.Equal(t, filepath.Join(p.Dir, "x.fits"), p.Structured)
}

func TestStructuredFillsRowMajor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.fits")
	coords := []record.Coord{
		{Name: "x", Unit: "mA", Values: []float64{0, 1}},
		{Name: "y", Unit: "Hz", Values: []float64{10, 20, 30}},
	}
	st, err := record.CreateStructured(path, coords, 2, "grid")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, st.Shape())
	for i := 0; i < 6; i++ {
		require.NoError(t, st.Append([]float64{float64(i), -float64(i)}, []float64{0, 0}))
	}
	assert.ErrorIs(t, st.Append([]float64{0, 0}, []float64{0, 0}), record.ErrFull)
	amp, _ := st.At(1, 4)
	assert.Equal(t, -4.0, amp)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	fits, err := fitsio.Open(f)
	require.NoError(t, err)
	defer fits.Close()
	assert.Len(t, fits.HDUs(), 1+4+2)

	img, ok := fits.Get("amplitude_0").(fitsio.Image)
	require.True(t, ok)
	assert.Equal(t, []int{3, 2}, img.Header().Axes())
	data := make([]float64, 2*3)
	require.NoError(t, img.Read(&data))
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, data)
}

// readAmplitude returns channel 0's amplitudes and the NFILLED card of a
// structured file with n points
func readAmplitude(t *testing.T, path string, n int) ([]float64, interface{}) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	fits, err := fitsio.Open(f)
	require.NoError(t, err)
	defer fits.Close()
	card := fits.HDU(0).Header().Get("NFILLED")
	require.NotNil(t, card)
	img, ok := fits.Get("amplitude_0").(fitsio.Image)
	require.True(t, ok)
	data := make([]float64, n)
	require.NoError(t, img.Read(&data))
	return data, card.Value
}

func TestStructuredCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.fits")
	st, err := record.CreateStructured(path, []record.Coord{{Name: "x", Values: []float64{1, 2, 3}}}, 1, "")
	require.NoError(t, err)
	require.NoError(t, st.Append([]float64{7}, []float64{0}))
	require.NoError(t, st.Checkpoint(0))
	require.NoError(t, st.Append([]float64{8}, []float64{0}))
	require.NoError(t, st.Checkpoint(time.Hour)) // too soon, skipped

	data, filled := readAmplitude(t, path, 3)
	assert.EqualValues(t, 1, filled)
	assert.Equal(t, 7.0, data[0])
	assert.True(t, math.IsNaN(data[1]))

	require.NoError(t, st.Close())
	data, filled = readAmplitude(t, path, 3)
	assert.EqualValues(t, 2, filled)
	assert.Equal(t, 8.0, data[1])
	assert.ErrorIs(t, st.Checkpoint(0), record.ErrClosed)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStructuredZeroRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.fits")
	st, err := record.CreateStructured(path, []record.Coord{{Name: "x", Values: []float64{1, 2}}}, 1, "")
	require.NoError(t, err)
	require.NoError(t, st.Close())
	amp, _ := st.At(0, 0)
	assert.True(t, math.IsNaN(amp))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestStructuredRejectsBadSchema(t *testing.T) {
	dir := t.TempDir()
	_, err := record.CreateStructured(filepath.Join(dir, "a.fits"), nil, 1, "")
	assert.ErrorIs(t, err, record.ErrSchema)
	_, err = record.CreateStructured(filepath.Join(dir, "b.fits"), []record.Coord{{Name: "x"}}, 1, "")
	assert.ErrorIs(t, err, record.ErrSchema)
}

package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/tdsweep/config"
	"github.com/nasa-jpl/tdsweep/readout"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	c, err := config.Load(filepath.Join(t.TempDir(), "missing.yml"), nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
}

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tdsweep.yml")
	yml := `Dirname: fromfile
Comment: cooldown 7
Settle: 250ms
X:
  Start: -1
  Stop: 1
  Step: 0.5
  Name: bias
  Unit: mA
Flags:
  SaveStructured: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))
	t.Setenv("TDSWEEP_COMMENT", "from env")
	t.Setenv("TDSWEEP_READOUT_CHANNELS", "5")
	t.Setenv("TDSWEEP_NOT_A_KEY", "ignored")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--dirname", "fromflag", "--hold"}))

	c, err := config.Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "fromflag", c.Dirname)
	assert.Equal(t, "from env", c.Comment)
	assert.Equal(t, 5, c.Readout.Channels)
	assert.Equal(t, 250*time.Millisecond, c.Settle)
	assert.Equal(t, "bias", c.X.Name)
	assert.Equal(t, -1.0, c.X.Start)
	assert.True(t, c.Flags.SaveStructured)
	assert.True(t, c.Flags.SaveTabular, "default survives")
	assert.True(t, c.Flags.Hold)
	// unchanged flags do not clobber the file
	assert.Equal(t, "data", c.Output)
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tdsweep.yml")
	d := config.Default()
	d.Comment = "round trip"
	d.Readout.Commands.Acquire = ":ACQ"
	require.NoError(t, config.WriteFile(path, d))
	c, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, d, c)

	buf := &bytes.Buffer{}
	require.NoError(t, config.Write(buf, d))
	assert.Contains(t, buf.String(), "Comment: round trip")
}

func TestAxisBuild(t *testing.T) {
	a, err := config.Axis{Start: 0, Stop: 1, Step: 0.25, Name: "bias", Unit: "mA"}.Build()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, a.Values)
	assert.Equal(t, "bias [mA]", a.Label())
	assert.NoError(t, a.Set(1))

	_, err = config.Axis{Step: 1, Stop: 2, Addr: "localhost:5025"}.Build()
	assert.ErrorIs(t, err, config.ErrNoCommand)
}

func TestReadoutBuild(t *testing.T) {
	r, err := config.Readout{Mock: true, Channels: 3}.Build(4)
	require.NoError(t, err)
	m, ok := r.(*readout.Mock)
	require.True(t, ok)
	assert.Equal(t, 4, m.Points)
	n, err := r.ChannelCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = config.Readout{}.Build(1)
	assert.Error(t, err)

}

// Package config loads the configuration of tdsweep from, in increasing
// precedence, built-in defaults, a YAML file, TDSWEEP_ environment variables
// and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/tdsweep/axis"
	"github.com/nasa-jpl/tdsweep/logging"
	"github.com/nasa-jpl/tdsweep/readout"
	"github.com/nasa-jpl/tdsweep/scpi"
	"github.com/nasa-jpl/tdsweep/sweep"
)

// EnvPrefix prefixes the environment variables that override the file
const EnvPrefix = "TDSWEEP_"

// ErrNoCommand is generated when an axis names an instrument but no command
var ErrNoCommand = errors.New("axis has an instrument address but no command")

// Axis describes a linear sweep axis and the instrument that sets it
type Axis struct {
	Start float64 `koanf:"Start" yaml:"Start"`
	Stop  float64 `koanf:"Stop" yaml:"Stop"`
	Step  float64 `koanf:"Step" yaml:"Step"`
	Name  string  `koanf:"Name" yaml:"Name"`
	Unit  string  `koanf:"Unit" yaml:"Unit"`

	// Addr is the host:port, or serial device, of a SCPI instrument that
	// sets the axis.  If empty, the axis is not driven.
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Serial selects a serial connection to Addr
	Serial bool `koanf:"Serial" yaml:"Serial"`

	// Command is a format for the set-point, e.g. "SOUR:CURR %g"
	Command string `koanf:"Command" yaml:"Command"`
}

// Readout selects the readout instrument
type Readout struct {
	// Mock uses a synthetic readout
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Channels and Noise configure the mock
	Channels int     `koanf:"Channels" yaml:"Channels"`
	Noise    float64 `koanf:"Noise" yaml:"Noise"`

	// Addr is the host:port, or serial device, of the digitizer
	Addr   string `koanf:"Addr" yaml:"Addr"`
	Serial bool   `koanf:"Serial" yaml:"Serial"`

	// Timeout bounds each exchange with the digitizer; zero waits forever
	Timeout time.Duration `koanf:"Timeout" yaml:"Timeout"`

	Commands readout.Commands `koanf:"Commands" yaml:"Commands"`
}

// Config is the whole configuration
type Config struct {
	// Output is the root folder of the data
	Output     string `koanf:"Output" yaml:"Output"`
	Dirname    string `koanf:"Dirname" yaml:"Dirname"`
	Comment    string `koanf:"Comment" yaml:"Comment"`
	PlotSuffix string `koanf:"PlotSuffix" yaml:"PlotSuffix"`

	// Settle is the least time between moving an axis and the next trigger
	Settle time.Duration `koanf:"Settle" yaml:"Settle"`

	Flags   sweep.Flags `koanf:"Flags" yaml:"Flags"`
	Readout Readout     `koanf:"Readout" yaml:"Readout"`
	X       Axis        `koanf:"X" yaml:"X"`
	Y       Axis        `koanf:"Y" yaml:"Y"`

	// Addr is the listen address of the HTTP server
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Journal is the path of the run history database; empty disables it
	Journal string `koanf:"Journal" yaml:"Journal"`

	Log logging.Config `koanf:"Log" yaml:"Log"`
}

// Default is the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Output:  "data",
		Settle:  10 * time.Millisecond,
		Flags:   sweep.DefaultFlags(),
		Readout: Readout{Mock: true, Channels: 2, Commands: readout.DefaultCommands()},
		X:       Axis{Start: 0, Stop: 1, Step: 0.05, Name: "x"},
		Y:       Axis{Start: 0, Stop: 1, Step: 0.1, Name: "y"},
		Addr:    ":8000",
		Journal: "data/journal.db",
		Log:     logging.Config{Level: "info"},
	}
}

// Flags are the command line flags that override the configuration and the
// key each one sets
var Flags = map[string]string{
	"output":     "Output",
	"dirname":    "Dirname",
	"comment":    "Comment",
	"suffix":     "PlotSuffix",
	"settle":     "Settle",
	"mock":       "Readout.Mock",
	"readout":    "Readout.Addr",
	"addr":       "Addr",
	"time-trace": "Flags.TimeTraces",
	"tabular":    "Flags.SaveTabular",
	"structured": "Flags.SaveStructured",
	"hold":       "Flags.Hold",
	"log-level":  "Log.Level",
}

// RegisterFlags adds the override flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("output", d.Output, "root folder of the data")
	fs.String("dirname", d.Dirname, "name of the measurement, defaults to the x axis name")
	fs.String("comment", d.Comment, "comment written to the file headers")
	fs.String("suffix", d.PlotSuffix, "suffix of the plot names")
	fs.Duration("settle", d.Settle, "pause before each trigger")
	fs.Bool("mock", d.Readout.Mock, "use a synthetic readout")
	fs.String("readout", d.Readout.Addr, "host:port of the readout digitizer")
	fs.String("addr", d.Addr, "listen address of the HTTP server")
	fs.Bool("time-trace", d.Flags.TimeTraces, "record I/Q traces in repeated sweeps")
	fs.Bool("tabular", d.Flags.SaveTabular, "write .dat files")
	fs.Bool("structured", d.Flags.SaveStructured, "write a .fits file")
	fs.Bool("hold", d.Flags.Hold, "keep the previous run's traces on the plots")
	fs.String("log-level", d.Log.Level, "log level")
}

// Load layers the defaults, the YAML file at path, the environment and the
// changed flags of fs.  A missing file is not an error; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, err
	}
	if path != "" {
		err := k.Load(file.Provider(path), yaml.Parser())
		if err != nil && !errors.Is(err, os.ErrNotExist) && !strings.Contains(err.Error(), "no such") {
			return Config{}, fmt.Errorf("error loading config: %w", err)
		}
	}

	// environment keys arrive upper case; match them to the known keys
	known := map[string]string{}
	for _, key := range k.Keys() {
		known[strings.ToLower(key)] = key
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return known[strings.ReplaceAll(s, "_", ".")]
	}), nil)
	if err != nil {
		return Config{}, err
	}

	if fs != nil {
		err = k.Load(posflag.ProviderWithValue(fs, ".", k, func(flag, value string) (string, interface{}) {
			return Flags[flag], value
		}), nil)
		if err != nil {
			return Config{}, err
		}
	}

	var c Config
	err = k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "koanf"})
	return c, err
}

// Write encodes c as YAML
func Write(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}

// WriteFile writes c to path as YAML
func WriteFile(path string, c Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Write(f, c)
}

// Build returns the sweep axis.  If the axis names an instrument, its setter
// writes Command formatted with the set-point to it.
func (a Axis) Build() (axis.Axis, error) {
	out := axis.Axis{Values: axis.Linear(a.Start, a.Stop, a.Step), Name: a.Name, Unit: a.Unit, Set: axis.Noop}
	if a.Addr == "" {
		return out, nil
	}
	if a.Command == "" {
		return out, fmt.Errorf("%w: %s", ErrNoCommand, a.Name)
	}
	out.Set = scpi.New(a.Addr, a.Serial).Setter(a.Command)
	return out, nil
}

// Build returns the readout.  points is the length of the batch a mock
// returns per trigger in repeated sweeps.
func (r Readout) Build(points int) (readout.Readout, error) {
	if r.Mock {
		m := readout.NewMock(r.Channels, points)
		m.Noise = r.Noise
		return m, nil
	}
	if r.Addr == "" {
		return nil, errors.New("no readout address and mock not enabled")
	}
	s := readout.NewSCPI(r.Addr, r.Serial, r.Commands)
	s.Timeout = r.Timeout
	return s, nil
}

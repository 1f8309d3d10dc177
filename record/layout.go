package record

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Paths are the files of one measurement run
type Paths struct {
	// Dir is the run folder, <root>/<yyyy-mm-dd>/<HHMMSS>_<dirname>
	Dir string

	// Raw is raw_<mode>_<dirname>.dat
	Raw string

	// Time is <dirname>_time.dat
	Time string

	// Avg is <dirname>_avg.dat
	Avg string

	// Structured shares the raw file's base name, or is <dirname>.fits
	// when no tabular output is written
	Structured string
}

// Layout returns the paths for a run of mode started at t.  Files are kept in
// yyyy-mm-dd subfolders of root, one folder per run.
func Layout(root, mode, dirname string, t time.Time, tabular bool) Paths {
	name := sanitize(dirname)
	dir := filepath.Join(root, t.Format("2006-01-02"), fmt.Sprintf("%s_%s", t.Format("150405"), name))
	p := Paths{
		Dir:  dir,
		Raw:  filepath.Join(dir, fmt.Sprintf("raw_%s_%s.dat", mode, name)),
		Time: filepath.Join(dir, name+"_time.dat"),
		Avg:  filepath.Join(dir, name+"_avg.dat"),
	}
	if tabular {
		p.Structured = strings.TrimSuffix(p.Raw, ".dat") + ".fits"
	} else {
		p.Structured = filepath.Join(dir, name+".fits")
	}
	return p
}

// MkDir makes the run folder
func (p Paths) MkDir() error {
	return os.MkdirAll(p.Dir, 0777)
}

// sanitize makes a coordinate name usable as a file name
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "measurement"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', '*', '?', '"', '<', '>', '|', '(', ')', '#':
			return '_'
		}
		return r
	}, s)
}

package liveview

import (
	"io"
	"strings"
	"text/template"
)

// ScriptSpec describes how the gnuplot script of a plot finds its data
type ScriptSpec struct {
	// DataFile is the tabular file the plot is drawn from, relative to the
	// script.  If empty, the traces are written into the script.
	DataFile string

	// Surface draws the data as a color map over the outer and x columns
	Surface bool

	// OuterLabel labels the outer axis of a surface
	OuterLabel string

	x, y, outer int // gnuplot columns, one-based; set by View.Bind
}

var script = template.Must(template.New("gp").Funcs(template.FuncMap{
	"q": func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" },
}).Parse(`# {{.Name}}
set terminal pngcairo size 800,600
set output {{q (printf "%s_gnuplot.png" .Name)}}
set title {{q .Name}} noenhanced
{{- if and .Spec.Surface .Spec.DataFile}}
set xlabel {{q .Spec.OuterLabel}} noenhanced
set ylabel {{q .XLabel}} noenhanced
set cblabel {{q .YLabel}} noenhanced
set view map
splot {{q .Spec.DataFile}} using {{.Spec.Outer}}:{{.Spec.X}}:{{.Spec.Y}} with pm3d notitle
{{- else}}
set xlabel {{q .XLabel}} noenhanced
set ylabel {{q .YLabel}} noenhanced
{{- if .Spec.DataFile}}
plot {{q .Spec.DataFile}} using {{.Spec.X}}:{{.Spec.Y}} with linespoints notitle
{{- else}}
{{- range $i, $s := .Series}}
$trace{{$i}} << EOD
{{- range $j, $x := $s.X}}
{{$x}} {{index $s.Y $j}}
{{- end}}
EOD
{{- end}}
{{- if .Series}}
plot {{range $i, $s := .Series}}{{if $i}}, {{end}}$trace{{$i}} using 1:2 with lines title {{q $s.Name}} noenhanced{{end}}
{{- end}}
{{- end}}
{{- end}}
`))

type scriptSpec struct {
	ScriptSpec
	X, Y, Outer int
}

// WriteScript writes a gnuplot script that reproduces the plot
func (p *Plot) WriteScript(w io.Writer) error {
	p.mu.Lock()
	data := struct {
		Name, XLabel, YLabel string
		Spec                 scriptSpec
		Series               []Series
	}{
		Name:   p.Name,
		XLabel: p.XLabel,
		YLabel: p.YLabel,
		Spec:   scriptSpec{p.Script, p.Script.x, p.Script.y, p.Script.outer},
		Series: append(append([]Series{}, p.held...), p.series...),
	}
	p.mu.Unlock()
	return script.Execute(w, data)
}

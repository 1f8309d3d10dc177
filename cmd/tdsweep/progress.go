package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/tdsweep/sweep"
)

// spinner shows the progress of a sweep on the terminal
type spinner struct {
	s     *yacspin.Spinner
	name  string
	total int
	done  int
	start time.Time
}

func newSpinner() (*spinner, error) {
	s, err := yacspin.New(yacspin.Config{
		Writer:            os.Stderr,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return nil, err
	}
	return &spinner{s: s}, nil
}

func (p *spinner) Start(name string, total int) {
	p.name, p.total, p.done, p.start = name, total, 0, time.Now()
	p.s.Suffix(" " + name)
	p.s.Message(fmt.Sprintf("0/%d", total))
	p.s.Start()
}

func (p *spinner) Iterate() {
	p.done++
	eta := ""
	if p.done > 0 && p.done < p.total {
		left := time.Duration(float64(time.Since(p.start)) / float64(p.done) * float64(p.total-p.done))
		eta = fmt.Sprintf(", %s left", left.Round(time.Second))
	}
	p.s.Message(fmt.Sprintf("%d/%d%s", p.done, p.total, eta))
}

func (p *spinner) Done(err error) {
	elapsed := time.Since(p.start).Round(time.Millisecond)
	switch {
	case err == nil:
		p.s.StopMessage(fmt.Sprintf("%d/%d in %s", p.done, p.total, elapsed))
		p.s.Stop()
	case errors.Is(err, sweep.ErrAborted):
		p.s.StopFailMessage(fmt.Sprintf("aborted after %d/%d", p.done, p.total))
		p.s.StopFail()
	default:
		p.s.StopFailMessage(err.Error())
		p.s.StopFail()
	}
}

// Command tdsweep runs time domain sweeps from the command line or serves
// them over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nasa-jpl/tdsweep/config"
	"github.com/nasa-jpl/tdsweep/httpapi"
	"github.com/nasa-jpl/tdsweep/journal"
	"github.com/nasa-jpl/tdsweep/logging"
	"github.com/nasa-jpl/tdsweep/readout"
	"github.com/nasa-jpl/tdsweep/sweep"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "tdsweep.yml"
)

const longHelp = `tdsweep drives parameter sweeps of a time domain experiment.  It steps one
or two axes, triggers the readout at each set-point and records amplitude and
phase per readout channel to .dat and .fits files while keeping plots of the
data up to date.

tdsweep is amenable to configuration via its .yaml file.  Values in the file
are overridden by TDSWEEP_ environment variables (TDSWEEP_X_STEP sets X.Step),
which are in turn overridden by flags.  The command mkconf generates the
configuration file with the default values.`

// app is what every subcommand is built from
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	ctrl    *sweep.Controller
	journal *journal.Journal
}

func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
}

func setup(cmd *cobra.Command, progress bool) (*app, error) {
	c, err := config.Load(ConfigFileName, cmd.Flags())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: c, log: logging.New(c.Log)}

	x, err := c.X.Build()
	if err != nil {
		return nil, err
	}
	y, err := c.Y.Build()
	if err != nil {
		return nil, err
	}
	ro, err := c.Readout.Build(x.Len())
	if err != nil {
		return nil, err
	}
	if m, ok := ro.(*readout.Mock); ok && c.X.Addr == "" {
		x.Set = m.SetBias
	}

	opts := []sweep.Option{
		sweep.WithLogger(a.log),
		sweep.WithSettle(c.Settle),
		sweep.WithOutputDir(c.Output),
	}
	if c.Journal != "" {
		a.journal, err = journal.Open(c.Journal)
		if err != nil {
			a.log.Warn().Err(err).Msg("run history disabled")
		} else {
			opts = append(opts, sweep.WithJournal(a.journal))
		}
	}
	if progress {
		if sp, err := newSpinner(); err == nil {
			opts = append(opts, sweep.WithProgress(sp))
		}
	}
	a.ctrl = sweep.New(ro, opts...)
	a.ctrl.SetX(x)
	a.ctrl.SetY(y)
	a.ctrl.SetComment(c.Comment)
	a.ctrl.SetDirname(c.Dirname)
	a.ctrl.SetPlotSuffix(c.PlotSuffix)
	a.ctrl.SetFlags(c.Flags)
	return a, nil
}

func runCmd() *cobra.Command {
	var (
		iterations int
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:       "run {1d|2d|1d-avg|2d-avg}",
		Short:     "Run one sweep and exit",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"1d", "2d", "1d-avg", "2d-avg"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, !quiet)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			switch strings.ToLower(args[0]) {
			case "1d":
				err = a.ctrl.Run1D(ctx)
			case "2d":
				err = a.ctrl.Run2D(ctx)
			case "1d-avg":
				err = a.ctrl.Run1DRepeated(ctx, iterations)
			case "2d-avg":
				err = a.ctrl.Run2DRepeated(ctx)
			}
			if dir := a.ctrl.Status().Dir; dir != "" {
				fmt.Println(dir)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 100, "repetitions of a 1d-avg sweep")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not show progress")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the sweep controller over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()
			opts := []httpapi.Option{httpapi.WithLogger(a.log)}
			if a.journal != nil {
				opts = append(opts, httpapi.WithHistory(a.journal))
			}
			api := httpapi.New(a.ctrl, opts...)
			srv := &http.Server{Addr: a.cfg.Addr, Handler: api, ReadHeaderTimeout: 10 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Info().Str("addr", a.cfg.Addr).Msg("now listening for requests")
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				api.Close()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			return g.Wait()
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(ConfigFileName, cmd.Flags())
			if err != nil {
				return err
			}
			if c.Journal == "" {
				return errors.New("no journal configured")
			}
			j, err := journal.Open(c.Journal)
			if err != nil {
				return err
			}
			defer j.Close()
			runs, err := j.List(limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "START\tMODE\tSTATUS\tPOINTS\tITER\tDIR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.Start.Format(time.DateTime), r.Mode, r.Status, r.Points, r.Iterations, r.Dir)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list, 0 for all")
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:           "tdsweep",
		Short:         "Time domain sweep acquisition",
		Long:          longHelp,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&ConfigFileName, "config", ConfigFileName, "configuration file")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		runCmd(),
		serveCmd(),
		historyCmd(),
		&cobra.Command{
			Use:   "mkconf",
			Short: "Write the configuration file with the current values",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := config.Load(ConfigFileName, cmd.Flags())
				if err != nil {
					return err
				}
				return config.WriteFile(ConfigFileName, c)
			},
		},
		&cobra.Command{
			Use:   "conf",
			Short: "Print the configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := config.Load(ConfigFileName, cmd.Flags())
				if err != nil {
					return err
				}
				return config.Write(cmd.OutOrStdout(), c)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "tdsweep version %v\n", Version)
			},
		},
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tdsweep:", err)
		os.Exit(1)
	}
}

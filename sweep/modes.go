package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/nasa-jpl/tdsweep/axis"
)

// Run1D steps the x axis, capturing one sample per set-point
func (c *Controller) Run1D(ctx context.Context) error {
	return c.execute(ctx, Mode1D, nil, func(ctx context.Context, r *run) error {
		for _, x := range r.x.Values {
			if err := r.set(r.x, x); err != nil {
				return err
			}
			if err := r.yield(ctx); err != nil {
				return err
			}
			cpt, err := r.capture(ctx, false)
			if err != nil {
				return err
			}
			if err = r.fanout(cpt.Sample(0, time.Now(), x)); err != nil {
				return err
			}
			r.step()
		}
		return nil
	})
}

// Run2D steps the y axis for every x set-point.  Each x set-point is one
// block of the raw data.
func (c *Controller) Run2D(ctx context.Context) error {
	return c.execute(ctx, Mode2D, nil, func(ctx context.Context, r *run) error {
		for _, x := range r.x.Values {
			if err := r.set(r.x, x); err != nil {
				return err
			}
			if err := r.block(); err != nil {
				return err
			}
			for _, y := range r.y.Values {
				if err := r.yield(ctx); err != nil {
					return err
				}
				if err := r.set(r.y, y); err != nil {
					return err
				}
				if err := r.yield(ctx); err != nil {
					return err
				}
				cpt, err := r.capture(ctx, false)
				if err != nil {
					return err
				}
				if err = r.fanout(cpt.Sample(0, time.Now(), x, y)); err != nil {
					return err
				}
				r.step()
			}
		}
		return nil
	})
}

// Run1DRepeated repeats the instrument's sweep of the x axis n times and
// averages the repetitions.  The run steps an iteration count in place of
// the y axis; the configured y axis is left as it is.
func (c *Controller) Run1DRepeated(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d iterations", ErrConfiguration, n)
	}
	y := axis.Iterations(n)
	return c.execute(ctx, ModeAWG, func(r *run) { r.y = y }, repeat)
}

// Run2DRepeated triggers the instrument once per y set-point.  Each trigger
// returns the whole x axis, stepped by the instrument's own sequencer, which
// becomes one block of the raw data.  The complex average of the completed
// iterations is written when the run ends, however it ends.
func (c *Controller) Run2DRepeated(ctx context.Context) error {
	return c.execute(ctx, ModeAWG, nil, repeat)
}

func repeat(ctx context.Context, r *run) error {
	for _, y := range r.y.Values {
		if err := r.yield(ctx); err != nil {
			return err
		}
		if err := r.set(r.y, y); err != nil {
			return err
		}
		cpt, err := r.capture(ctx, true)
		if err != nil {
			return err
		}
		if cpt.Points() != r.x.Len() {
			return fmt.Errorf("%w: batch of %d points for %d set-points", ErrAcquisition, cpt.Points(), r.x.Len())
		}
		now := time.Now()
		if err = r.block(); err != nil {
			return err
		}
		for i, x := range r.x.Values {
			if err = r.fanout(cpt.Sample(i, now, y, x)); err != nil {
				return err
			}
		}
		if err = r.acc.Update(cpt.Amplitude, cpt.Phase); err != nil {
			return fmt.Errorf("%w: %w", ErrAcquisition, err)
		}
		r.average()
		r.step()
	}
	return nil
}

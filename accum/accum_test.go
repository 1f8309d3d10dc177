package accum_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/tdsweep/accum"
)

const tol = 1e-12

func TestAverageBeforeUpdateFails(t *testing.T) {
	var a accum.Accumulator
	a.Reset(2, 1)
	amp, pha, err := a.Average()
	assert.True(t, errors.Is(err, accum.ErrNoData))
	assert.Nil(t, amp)
	assert.Nil(t, pha)
}

func TestSingleUpdateIsIdentity(t *testing.T) {
	var a accum.Accumulator
	a.Reset(2, 2)
	amp := [][]float64{{1, 0.5}, {2, 3}}
	pha := [][]float64{{0.1, -1.2}, {3.0, -3.0}}
	require.NoError(t, a.Update(amp, pha))

	gotA, gotP, err := a.Average()
	require.NoError(t, err)
	for i := range amp {
		assert.InDeltaSlice(t, amp[i], gotA[i], tol)
		assert.InDeltaSlice(t, pha[i], gotP[i], tol)
	}
}

func TestRepeatedUpdateIsStable(t *testing.T) {
	var a accum.Accumulator
	a.Reset(1, 3)
	amp := [][]float64{{0.2, 1, 7}}
	pha := [][]float64{{1.5, -0.3, 2.9}}
	require.NoError(t, a.Update(amp, pha))
	require.NoError(t, a.Update(amp, pha))
	assert.Equal(t, 2, a.Iterations())

	gotA, gotP, err := a.Average()
	require.NoError(t, err)
	assert.InDeltaSlice(t, amp[0], gotA[0], tol)
	assert.InDeltaSlice(t, pha[0], gotP[0], tol)
}

func TestOppositePhasesCancel(t *testing.T) {
	var a accum.Accumulator
	a.Reset(1, 1)
	require.NoError(t, a.Update([][]float64{{1}}, [][]float64{{0}}))
	require.NoError(t, a.Update([][]float64{{1}}, [][]float64{{math.Pi}}))

	gotA, _, err := a.Average()
	require.NoError(t, err)
	assert.InDelta(t, 0, gotA[0][0], tol)
}

func TestPhaseWrapAveragesAcrossBranchCut(t *testing.T) {
	// naive arithmetic mean of +/-(pi-0.1) would be 0
	var a accum.Accumulator
	a.Reset(1, 1)
	require.NoError(t, a.Update([][]float64{{1}}, [][]float64{{math.Pi - 0.1}}))
	require.NoError(t, a.Update([][]float64{{1}}, [][]float64{{-math.Pi + 0.1}}))

	_, gotP, err := a.Average()
	require.NoError(t, err)
	assert.InDelta(t, math.Pi, math.Abs(gotP[0][0]), 1e-9)
}

func TestResetClearsState(t *testing.T) {
	var a accum.Accumulator
	a.Reset(1, 1)
	require.NoError(t, a.Update([][]float64{{1}}, [][]float64{{0}}))
	a.Reset(1, 1)
	assert.Equal(t, 0, a.Iterations())
	_, _, err := a.Average()
	assert.True(t, errors.Is(err, accum.ErrNoData))
}

func TestUpdateShapeMismatch(t *testing.T) {
	var a accum.Accumulator
	a.Reset(2, 1)
	err := a.Update([][]float64{{1}}, [][]float64{{0}})
	assert.True(t, errors.Is(err, accum.ErrShape))
	err = a.Update([][]float64{{1}, {1, 2}}, [][]float64{{0}, {0}})
	assert.True(t, errors.Is(err, accum.ErrShape))
	assert.Equal(t, 0, a.Iterations())
}

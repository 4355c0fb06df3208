package runner

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/afqmcgo/checkpoint"
	"github.com/hupe1980/afqmcgo/comm"
	"github.com/hupe1980/afqmcgo/core"
	"github.com/hupe1980/afqmcgo/ensemble"
	"github.com/hupe1980/afqmcgo/internal/testutil"
	"github.com/hupe1980/afqmcgo/propagator"
)

func newSerialRunner(t *testing.T, opts Options) (*Runner, core.System, *ensemble.Ensemble) {
	t.Helper()
	sys, trial := testutil.TwoSite(t)
	c := comm.NewSingle()
	prop, err := propagator.New(sys, trial, propagator.Options{Timestep: 0.01, Seed: 11})
	require.NoError(t, err)
	ens, err := ensemble.New(sys, trial, c, ensemble.Options{
		LocalWalkers: 4,
		Rand:         rand.New(rand.NewSource(11)),
	})
	require.NoError(t, err)
	if opts.Estimator == nil {
		opts.Estimator = sys
	}
	r, err := New(sys, trial, prop, ens, c, opts)
	require.NoError(t, err)
	return r, sys, ens
}

func TestNewValidation(t *testing.T) {
	sys, trial := testutil.TwoSite(t)
	c := comm.NewSingle()
	prop, err := propagator.New(sys, trial, propagator.Options{Timestep: 0.01})
	require.NoError(t, err)
	ens, err := ensemble.New(sys, trial, c, ensemble.Options{LocalWalkers: 1})
	require.NoError(t, err)

	_, err = New(nil, trial, prop, ens, c, Options{Steps: 1})
	assert.Error(t, err)
	_, err = New(sys, trial, prop, ens, c, Options{Steps: 0})
	assert.Error(t, err)
	_, err = New(sys, trial, prop, ens, c, Options{Steps: 1, CheckpointFrequency: 5})
	assert.Error(t, err, "checkpoint cadence without a store")
}

func TestRunProducesFiniteResult(t *testing.T) {
	r, _, _ := newSerialRunner(t, Options{
		Steps:               20,
		StabilizeFrequency:  5,
		PopControlFrequency: 5,
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, res.Steps)
	assert.NotEmpty(t, res.RunID)
	assert.Greater(t, res.TotalWeight, 0.0)
	assert.False(t, cmplxIsNaN(res.HybridEnergy))
	assert.False(t, cmplxIsNaN(res.LocalEnergy))
}

func cmplxIsNaN(v complex128) bool {
	return v != v
}

func TestRunCallbackLifecycle(t *testing.T) {
	counts := map[CallbackType]int{}
	cbs := NewCallbackManager()
	for _, ct := range []CallbackType{
		CallbackBeforeStep, CallbackAfterStep, CallbackAfterStabilize,
		CallbackAfterPopControl, CallbackAfterCheckpoint,
	} {
		cbs.RegisterFunc(ct, func(ctx context.Context, cc *CallbackContext) error {
			counts[cc.CallbackType]++
			return nil
		})
	}

	r, _, _ := newSerialRunner(t, Options{
		Steps:               10,
		StabilizeFrequency:  5,
		PopControlFrequency: 2,
		CheckpointFrequency: 10,
		Store:               checkpoint.NewInMemoryStore(),
		Callbacks:           cbs,
	})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, counts[CallbackBeforeStep])
	assert.Equal(t, 10, counts[CallbackAfterStep])
	assert.Equal(t, 2, counts[CallbackAfterStabilize])
	assert.Equal(t, 5, counts[CallbackAfterPopControl])
	assert.Equal(t, 1, counts[CallbackAfterCheckpoint])
}

func TestRunCallbackErrorStopsRun(t *testing.T) {
	cbs := NewCallbackManager()
	cbs.RegisterFunc(CallbackAfterStep, func(ctx context.Context, cc *CallbackContext) error {
		if cc.Step == 3 {
			return assert.AnError
		}
		return nil
	})
	r, _, _ := newSerialRunner(t, Options{Steps: 10, Callbacks: cbs})
	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRunContextCancel(t *testing.T) {
	r, _, _ := newSerialRunner(t, Options{Steps: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWritesCheckpoints(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	r, _, ens := newSerialRunner(t, Options{
		Steps:               4,
		CheckpointFrequency: 2,
		Store:               store,
		RunID:               "fixed-run",
	})
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed-run", res.RunID)

	idx, err := store.Indices()
	require.NoError(t, err)
	assert.Len(t, idx, ens.NumLocal())

	rec, err := store.Load(0)
	require.NoError(t, err)
	assert.Equal(t, "fixed-run", rec.RunID)
}

func TestRunUpdatesEnergyShift(t *testing.T) {
	r, _, _ := newSerialRunner(t, Options{Steps: 10, PopControlFrequency: 5})
	require.Equal(t, complex128(0), r.EnergyShift())

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	// After propagation the walkers carry a negative hybrid energy for the
	// attractive two-site ground state, and population control folds its
	// weighted average into the shift.
	assert.NotEqual(t, complex128(0), r.EnergyShift())
}

func TestRunShards(t *testing.T) {
	sys, trial := testutil.TwoSite(t)
	workers := comm.NewGroup(2)

	results, err := RunShards(context.Background(), workers, func(w *comm.Worker) (*Runner, error) {
		prop, err := propagator.New(sys, trial, propagator.Options{
			Timestep: 0.01,
			Seed:     int64(100 + w.Rank()),
		})
		if err != nil {
			return nil, err
		}
		ens, err := ensemble.New(sys, trial, w, ensemble.Options{
			LocalWalkers: 2,
			Rand:         rand.New(rand.NewSource(55)),
		})
		if err != nil {
			return nil, err
		}
		return New(sys, trial, prop, ens, w, Options{
			Steps:               10,
			StabilizeFrequency:  5,
			PopControlFrequency: 5,
			RunID:               "sharded",
		})
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for rank, res := range results {
		require.NotNil(t, res, "rank %d", rank)
		assert.Equal(t, "sharded", res.RunID)
		assert.Equal(t, 10, res.Steps)
		assert.Greater(t, res.TotalWeight, 0.0)
	}
	// The collectives make the global total weight and shift agree.
	assert.Equal(t, results[0].TotalWeight, results[1].TotalWeight)
	assert.Equal(t, results[0].EnergyShift, results[1].EnergyShift)
}

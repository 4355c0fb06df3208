package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hupe1980/afqmcgo/checkpoint"
	"github.com/hupe1980/afqmcgo/comm"
	"github.com/hupe1980/afqmcgo/core"
	"github.com/hupe1980/afqmcgo/ensemble"
	"github.com/hupe1980/afqmcgo/logging"
	"github.com/hupe1980/afqmcgo/propagator"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// Steps is the number of imaginary-time steps to run. Required.
	Steps int
	// StabilizeFrequency is the reorthogonalization cadence in steps.
	// Default 10.
	StabilizeFrequency int
	// PopControlFrequency is the population-control cadence in steps.
	// Zero disables population control (single-block test runs).
	PopControlFrequency int
	// CheckpointFrequency is the checkpoint cadence in steps. Zero
	// disables checkpointing.
	CheckpointFrequency int
	// EnergyShift is the initial hybrid-energy shift. Usually zero; the
	// runner refreshes it from the ensemble average at every
	// population-control epoch.
	EnergyShift complex128
	// Store receives walker checkpoints when CheckpointFrequency > 0.
	Store checkpoint.Store
	// Estimator, when set, is evaluated over the local walkers at the end
	// of the run for the Result's mixed local energy.
	Estimator core.Estimator
	// Callbacks holds the lifecycle hooks. Optional.
	Callbacks *CallbackManager
	// RunID overrides the generated run identifier.
	RunID string
	// Logger defaults to a NoOpLogger.
	Logger logging.Logger
}

// Result summarizes a completed run of one worker shard.
type Result struct {
	// RunID identifies the run across all shards.
	RunID string
	// Steps is the number of steps executed.
	Steps int
	// TotalWeight is the global total weight at the last
	// population-control epoch (or the target if none ran).
	TotalWeight float64
	// HybridEnergy is the weight-averaged hybrid energy over the local
	// walkers at the end of the run.
	HybridEnergy complex128
	// LocalEnergy is the weight-averaged mixed local energy over the
	// local walkers, if an Estimator was configured.
	LocalEnergy complex128
	// EnergyShift is the final hybrid-energy shift.
	EnergyShift complex128
	// PropagatorStats snapshots the diagnostic counters.
	PropagatorStats propagator.Stats
}

// Runner drives one worker shard through the imaginary-time loop. Public
// methods are not safe for concurrent use; each shard owns one Runner.
type Runner struct {
	sys   core.System
	trial core.Trial
	prop  *propagator.Propagator
	ens   *ensemble.Ensemble
	comm  comm.Communicator

	opts   Options
	runID  string
	eshift complex128
	logger logging.Logger
}

// New validates the wiring and returns a Runner bound to one shard.
func New(sys core.System, trial core.Trial, prop *propagator.Propagator, ens *ensemble.Ensemble, c comm.Communicator, opts Options) (*Runner, error) {
	if sys == nil || trial == nil || prop == nil || ens == nil || c == nil {
		return nil, errors.New("runner: system, trial, propagator, ensemble and communicator are all required")
	}
	if opts.Steps < 1 {
		return nil, errors.Errorf("runner: steps must be at least 1, got %d", opts.Steps)
	}
	if opts.StabilizeFrequency == 0 {
		opts.StabilizeFrequency = 10
	}
	if opts.StabilizeFrequency < 1 {
		return nil, errors.Errorf("runner: stabilize frequency must be at least 1, got %d", opts.StabilizeFrequency)
	}
	if opts.CheckpointFrequency > 0 && opts.Store == nil {
		return nil, errors.New("runner: checkpoint frequency set without a store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Runner{
		sys:    sys,
		trial:  trial,
		prop:   prop,
		ens:    ens,
		comm:   c,
		opts:   opts,
		runID:  runID,
		eshift: opts.EnergyShift,
		logger: logger,
	}, nil
}

// RunID returns the run identifier shared by all shards that were handed the
// same Options.RunID (or this shard's generated one).
func (r *Runner) RunID() string { return r.runID }

// EnergyShift returns the current hybrid-energy shift.
func (r *Runner) EnergyShift() complex128 { return r.eshift }

// Run executes the driver loop and returns the shard's result. The context
// is checked once per step; cancellation is the only early exit besides an
// error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	r.logger.Info("run starting", "run_id", r.runID, "rank", r.comm.Rank(), "steps", r.opts.Steps)
	for step := 1; step <= r.opts.Steps; step++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := r.execute(ctx, CallbackBeforeStep, step); err != nil {
			return nil, err
		}
		for i, w := range r.ens.Walkers() {
			if err := r.prop.Propagate(w, r.sys, r.trial, r.eshift); err != nil {
				return nil, errors.Wrapf(err, "step %d walker %d", step, i)
			}
		}
		if step%r.opts.StabilizeFrequency == 0 {
			if err := r.ens.Orthogonalize(r.prop.FreeProjection()); err != nil {
				return nil, errors.Wrapf(err, "step %d stabilization", step)
			}
			if err := r.execute(ctx, CallbackAfterStabilize, step); err != nil {
				return nil, err
			}
		}
		if r.opts.PopControlFrequency > 0 && step%r.opts.PopControlFrequency == 0 {
			if err := r.ens.PopControl(r.comm); err != nil {
				return nil, errors.Wrapf(err, "step %d population control", step)
			}
			if err := r.updateShift(); err != nil {
				return nil, errors.Wrapf(err, "step %d energy shift", step)
			}
			if err := r.execute(ctx, CallbackAfterPopControl, step); err != nil {
				return nil, err
			}
		}
		if err := r.execute(ctx, CallbackAfterStep, step); err != nil {
			return nil, err
		}
		if r.opts.CheckpointFrequency > 0 && step%r.opts.CheckpointFrequency == 0 {
			if err := r.ens.WriteCheckpoint(r.comm, r.opts.Store, r.runID); err != nil {
				return nil, errors.Wrapf(err, "step %d checkpoint", step)
			}
			if err := r.execute(ctx, CallbackAfterCheckpoint, step); err != nil {
				return nil, err
			}
		}
	}
	res := &Result{
		RunID:           r.runID,
		Steps:           r.opts.Steps,
		TotalWeight:     r.ens.TotalWeight(),
		HybridEnergy:    r.localHybridAverage(),
		EnergyShift:     r.eshift,
		PropagatorStats: r.prop.Stats(),
	}
	if r.opts.Estimator != nil {
		res.LocalEnergy = r.localMixedEnergy()
	}
	r.logger.Info("run finished", "run_id", r.runID, "rank", r.comm.Rank(),
		"duration", time.Since(start), "total_weight", res.TotalWeight,
		"walker_deaths", res.PropagatorStats.WalkerDeaths)
	return res, nil
}

// updateShift refreshes the hybrid-energy shift from the global
// weight-averaged hybrid energy. Partial sums travel through the same
// collective interface as the weights, so all ranks agree on the new shift.
func (r *Runner) updateShift() error {
	send := make([]float64, 3)
	for _, w := range r.ens.Walkers() {
		send[0] += w.Weight * real(w.HybridEnergy)
		send[1] += w.Weight * imag(w.HybridEnergy)
		send[2] += w.Weight
	}
	recv := make([]float64, 3*r.comm.Size())
	if err := r.comm.AllGather(send, recv); err != nil {
		return err
	}
	var numRe, numIm, den float64
	for rk := 0; rk < r.comm.Size(); rk++ {
		numRe += recv[3*rk]
		numIm += recv[3*rk+1]
		den += recv[3*rk+2]
	}
	if den > 0 {
		r.eshift = complex(numRe/den, numIm/den)
	}
	return nil
}

// localHybridAverage returns the weight-averaged hybrid energy over the
// shard's walkers.
func (r *Runner) localHybridAverage() complex128 {
	var num complex128
	var den float64
	for _, w := range r.ens.Walkers() {
		num += complex(w.Weight, 0) * w.HybridEnergy
		den += w.Weight
	}
	if den == 0 {
		return 0
	}
	return num / complex(den, 0)
}

// localMixedEnergy returns the weight-averaged mixed local energy over the
// shard's walkers using the configured estimator.
func (r *Runner) localMixedEnergy() complex128 {
	var num complex128
	var den float64
	for _, w := range r.ens.Walkers() {
		if w.Dead() {
			continue
		}
		etot, _, _ := r.opts.Estimator.LocalEnergy(w.G)
		num += complex(w.Weight, 0) * etot
		den += w.Weight
	}
	if den == 0 {
		return 0
	}
	return num / complex(den, 0)
}

func (r *Runner) execute(ctx context.Context, t CallbackType, step int) error {
	if r.opts.Callbacks == nil {
		return nil
	}
	return r.opts.Callbacks.Execute(ctx, t, &CallbackContext{
		RunID:        r.runID,
		Rank:         r.comm.Rank(),
		Step:         step,
		TotalWeight:  r.ens.TotalWeight(),
		EnergyShift:  r.eshift,
		HybridEnergy: r.localHybridAverage(),
	})
}

// Package afqmcgo provides a high-level façade over the stochastic AFQMC
// engine: walker ensembles, phaseless/free-projection propagation, periodic
// stabilization and distributed population control. Most applications
// interact with this package by:
//  1. Creating a Simulation via New() with a System and Trial collaborator
//     (optionally overriding the default serial communicator, in-memory
//     checkpoint store and configuration)
//  2. Registering lifecycle callbacks for estimator accumulation
//  3. Running the imaginary-time loop via Run()
//
// The façade delegates the driver loop to runner.Runner while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a multi-worker
// communicator group, a durable checkpoint store and a structured logger.
package afqmcgo

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/hupe1980/afqmcgo/checkpoint"
	"github.com/hupe1980/afqmcgo/comm"
	"github.com/hupe1980/afqmcgo/config"
	"github.com/hupe1980/afqmcgo/core"
	"github.com/hupe1980/afqmcgo/ensemble"
	"github.com/hupe1980/afqmcgo/logging"
	"github.com/hupe1980/afqmcgo/propagator"
	"github.com/hupe1980/afqmcgo/runner"
)

// Options configures a Simulation.
type Options struct {
	// Config supplies the run parameters. Defaults to config.Default().
	Config *config.Config

	// System is the Hamiltonian collaborator. Required.
	System core.System

	// Trial is the trial-wavefunction collaborator. Required.
	Trial core.Trial

	// Estimator, when set, is evaluated for the Result's mixed local
	// energy. Systems implementing core.Estimator (like the bundled
	// Hubbard model) can be passed directly.
	Estimator core.Estimator

	// Comm is this shard's communicator. Defaults to a serial one.
	Comm comm.Communicator

	// Store receives checkpoints. Defaults to an in-memory store.
	Store checkpoint.Store

	// Callbacks holds lifecycle hooks. Optional.
	Callbacks *runner.CallbackManager

	// Logger defaults to a NoOp logger.
	Logger logging.Logger

	// RunID overrides the generated run identifier; set it when several
	// shards of one logical run are constructed separately.
	RunID string
}

// Simulation is the high-level façade aggregating the propagator, the walker
// ensemble and the driver for one worker shard.
type Simulation struct {
	opts Options
	cfg  *config.Config
	run  *runner.Runner
	ens  *ensemble.Ensemble
	prop *propagator.Propagator
}

// New wires a Simulation from the options, filling unset services with
// in-process defaults.
func New(opts Options) (*Simulation, error) {
	if opts.System == nil || opts.Trial == nil {
		return nil, errors.New("afqmcgo: system and trial are required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg.Normalize()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Comm == nil {
		opts.Comm = comm.NewSingle()
	}
	if opts.Store == nil {
		opts.Store = checkpoint.NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	// Per-rank sampling streams, shared branching stream on rank 0.
	propRng := rand.New(rand.NewSource(cfg.Seed + int64(opts.Comm.Rank())))
	branchRng := rand.New(rand.NewSource(cfg.Seed))

	prop, err := propagator.New(opts.System, opts.Trial, propagator.Options{
		Timestep:       cfg.Timestep,
		ExpansionOrder: cfg.ExpansionOrder,
		FreeProjection: cfg.FreeProjection,
		Rand:           propRng,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	ens, err := ensemble.New(opts.System, opts.Trial, opts.Comm, ensemble.Options{
		LocalWalkers: cfg.Walkers,
		MinWeight:    cfg.MinWeight,
		MaxWeight:    cfg.MaxWeight,
		Method:       ensemble.Method(cfg.PopControlMethod),
		Rand:         branchRng,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	run, err := runner.New(opts.System, opts.Trial, prop, ens, opts.Comm, runner.Options{
		Steps:               cfg.Steps,
		StabilizeFrequency:  cfg.StabilizeFrequency,
		PopControlFrequency: cfg.PopControlFrequency,
		CheckpointFrequency: cfg.CheckpointFrequency,
		Store:               opts.Store,
		Estimator:           opts.Estimator,
		Callbacks:           opts.Callbacks,
		RunID:               opts.RunID,
		Logger:              opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Simulation{opts: opts, cfg: cfg, run: run, ens: ens, prop: prop}, nil
}

// Run executes the imaginary-time loop for this shard.
func (s *Simulation) Run(ctx context.Context) (*runner.Result, error) {
	return s.run.Run(ctx)
}

// Ensemble returns the shard's walker ensemble.
func (s *Simulation) Ensemble() *ensemble.Ensemble { return s.ens }

// Runner returns the shard's driver, e.g. for runner.RunShards.
func (s *Simulation) Runner() *runner.Runner { return s.run }

// Propagator returns the shard's propagator.
func (s *Simulation) Propagator() *propagator.Propagator { return s.prop }

// Config returns the normalized run configuration.
func (s *Simulation) Config() *config.Config { return s.cfg }

// Restore loads all local walkers from the shard's checkpoint store.
func (s *Simulation) Restore() error {
	return s.ens.ReadCheckpoint(s.opts.Comm, s.opts.Store)
}

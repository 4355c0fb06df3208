// Package runner implements the driver loop of the stochastic engine.
//
// The Runner owns one worker shard: per imaginary-time step it propagates
// every local walker, reorthogonalizes on the stabilization cadence, invokes
// population control on its epoch cadence (a bulk-synchronous point shared by
// all workers of the communicator), refreshes the hybrid energy shift from
// the ensemble average, and periodically checkpoints walkers by global index.
//
// # Responsibilities (abridged)
//   - Step orchestration across propagator, stabilizer and ensemble
//   - Energy-shift bookkeeping for importance-sampling bounding
//   - Lifecycle callbacks for estimator and reporting hooks
//   - Multi-shard execution over an in-process communicator group
//
// See runner.go for the operational implementation details.
package runner

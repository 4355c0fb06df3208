// Package propagator advances walkers by one imaginary-time step using the
// continuous Hubbard-Stratonovich transformation with importance sampling.
//
// Two variants exist and are bound at construction time: the phaseless
// approximation, which projects each step's importance factor onto
// max(0, cos Δθ) to control the sign/phase problem at the cost of a
// documented bias, and free projection, which keeps the full complex phase on
// the walker and is unbiased but statistically noisier.
//
// The two-body exponential is applied as a truncated power series of fixed
// order (default 6), an explicit accuracy/speed trade-off the caller must
// validate for its step size. Force-bias clipping and hybrid-energy bounding
// are recoverable events tracked by per-instance diagnostic counters, never
// errors.
package propagator

// Package walker implements the single stochastic sample of the AFQMC random
// walk: a spin-resolved orbital matrix with an importance-sampling weight, an
// accumulated phase, and the cached overlap and Green's-function state the
// propagator depends on.
//
// A Walker is mutated in place every imaginary-time step. Numerical failure
// (a singular overlap matrix, a non-finite importance factor) kills the
// walker by forcing its weight to exactly zero; dead slots are later
// overwritten during population control rather than deallocated.
//
// The package also defines the versioned flat buffer contract used for
// inter-process transfer and checkpointing; see buffer.go.
package walker

// Package system provides reference core.System implementations for the
// stochastic engine. Currently this is the one-band Hubbard chain with a
// continuous (Gaussian) Hubbard-Stratonovich decoupling in the charge
// channel, one auxiliary field per lattice site.
package system

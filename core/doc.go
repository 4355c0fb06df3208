// Package core provides the foundational domain types and interfaces used by
// the AFQMC stochastic engine. It defines the core abstractions for:
//
//   - Systems (Hamiltonian data: one-body matrices, auxiliary-field count,
//     electron counts, basis size, Hubbard-Stratonovich operator assembly)
//   - Trial wavefunctions (orbital sets, reference Green's function, optimal
//     force-bias construction)
//   - Estimators (system-specific local energy from a Green's function)
//   - The spin-resolved Green's function container shared by all of them
//
// The package intentionally keeps implementation concerns (concrete lattice
// models, trial construction, propagation, population control) out of scope,
// exposing small interfaces so alternative Hamiltonians and wavefunctions can
// be plugged into the same stochastic core.
package core

// Package testutil provides deterministic builders shared by the package
// test suites: small Hubbard lattices with matching free-electron trial
// states and seeded random orbital matrices.
package testutil

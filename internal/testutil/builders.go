package testutil

import (
	"math/rand"
	"testing"

	"github.com/hupe1980/afqmcgo/internal/zmat"
	"github.com/hupe1980/afqmcgo/system"
	"github.com/hupe1980/afqmcgo/trial"
)

// TwoSite returns a two-site Hubbard model at half filling (one electron per
// spin) with U=4, t=1 and its free-electron trial state.
func TwoSite(t *testing.T) (*system.Hubbard, *trial.FreeElectron) {
	t.Helper()
	return Chain(t, 2, 1, 1, 4.0)
}

// Chain returns an open Hubbard chain and its free-electron trial state.
func Chain(t *testing.T, sites, nup, ndown int, u float64) (*system.Hubbard, *trial.FreeElectron) {
	t.Helper()
	sys, err := system.NewHubbard(system.HubbardOptions{
		Sites:   sites,
		U:       u,
		Hopping: 1.0,
		NumUp:   nup,
		NumDown: ndown,
	})
	if err != nil {
		t.Fatalf("building hubbard chain: %v", err)
	}
	tr, err := trial.NewFreeElectron(sys)
	if err != nil {
		t.Fatalf("building free electron trial: %v", err)
	}
	return sys, tr
}

// RandomOrbitals fills an nbasis x n matrix with standard-normal complex
// entries from the given source.
func RandomOrbitals(rng *rand.Rand, nbasis, n int) *zmat.Matrix {
	m := zmat.New(nbasis, n)
	for i := range m.Data {
		m.Data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return m
}

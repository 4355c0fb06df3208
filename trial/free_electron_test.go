package trial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/afqmcgo/core"
	"github.com/hupe1980/afqmcgo/internal/zmat"
	"github.com/hupe1980/afqmcgo/system"
)

func newChain(t *testing.T, sites, nup, ndown int) (*system.Hubbard, *FreeElectron) {
	t.Helper()
	sys, err := system.NewHubbard(system.HubbardOptions{
		Sites: sites, U: 4, Hopping: 1, NumUp: nup, NumDown: ndown,
	})
	require.NoError(t, err)
	tr, err := NewFreeElectron(sys)
	require.NoError(t, err)
	return sys, tr
}

func TestOrbitalsOrthonormal(t *testing.T) {
	_, tr := newChain(t, 4, 2, 2)

	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		psi := tr.Orbitals(spin)
		s := zmat.New(psi.Cols, psi.Cols)
		zmat.MulTransNoConj(s, psi, tr.ConjOrbitals(spin))
		for i := 0; i < s.Rows; i++ {
			for j := 0; j < s.Cols; j++ {
				want := 0.0
				if i == j {
					want = 1.0
				}
				assert.InDelta(t, want, real(s.At(i, j)), 1e-12)
				assert.InDelta(t, 0.0, imag(s.At(i, j)), 1e-12)
			}
		}
	}
}

func TestGreensFunctionTrace(t *testing.T) {
	sys, tr := newChain(t, 4, 2, 1)

	g := tr.GreensFunction()
	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		var trace complex128
		for i := 0; i < sys.NumBasis(); i++ {
			trace += g[spin].At(i, i)
		}
		assert.InDelta(t, float64(sys.NumElectrons(spin)), real(trace), 1e-12)
		assert.InDelta(t, 0.0, imag(trace), 1e-12)
	}
}

func TestGreensFunctionIdempotent(t *testing.T) {
	sys, tr := newChain(t, 4, 2, 2)
	n := sys.NumBasis()

	// A single-determinant Green's function is a projector: G^2 = G.
	g := tr.GreensFunction()[core.SpinUp]
	sq := zmat.New(n, n)
	zmat.Mul(sq, g, g)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			assert.InDelta(t, real(g.At(i, j)), real(sq.At(i, j)), 1e-10)
			assert.InDelta(t, imag(g.At(i, j)), imag(sq.At(i, j)), 1e-10)
		}
	}
}

func TestForceBiasVanishesAtTrial(t *testing.T) {
	sys, tr := newChain(t, 4, 2, 2)

	// The mean-field shift is the trial expectation of the field operators,
	// so the bias evaluated at the trial Green's function is exactly zero.
	mfShift := make([]complex128, sys.NumFields())
	sys.VBias(tr.GreensFunction(), mfShift)

	dst := make([]complex128, sys.NumFields())
	tr.ForceBias(sys, tr.GreensFunction(), 0.1, mfShift, dst)
	for _, v := range dst {
		assert.InDelta(t, 0.0, real(v), 1e-13)
		assert.InDelta(t, 0.0, imag(v), 1e-13)
	}
}

func TestForceBiasScalesWithTimestep(t *testing.T) {
	sys, tr := newChain(t, 2, 1, 1)

	// Perturbed density against a zero shift: dst = -sqrtDt * vbias(g).
	g := core.NewGreensFunction(2)
	g[core.SpinUp].Set(0, 0, complex(0.9, 0))
	g[core.SpinDown].Set(0, 0, complex(0.1, 0))
	mfShift := make([]complex128, sys.NumFields())

	dst := make([]complex128, sys.NumFields())
	tr.ForceBias(sys, g, 0.5, mfShift, dst)

	// vbias(site 0) = i*sqrt(U)*(0.9+0.1) = 2i, so dst[0] = -i.
	assert.InDelta(t, 0.0, real(dst[0]), 1e-13)
	assert.InDelta(t, -1.0, imag(dst[0]), 1e-13)
	assert.InDelta(t, 0.0, imag(dst[1]), 1e-13)
}

func TestName(t *testing.T) {
	_, tr := newChain(t, 2, 1, 1)
	assert.Equal(t, "free_electron", tr.Name())
}

package trial

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/afqmcgo/core"
	"github.com/hupe1980/afqmcgo/internal/zmat"
)

// FreeElectron is a single-determinant trial wavefunction built from the
// lowest eigenvectors of the system's one-body matrix, one block per spin
// sector.
type FreeElectron struct {
	psi     [2]*zmat.Matrix
	conjPsi [2]*zmat.Matrix
	g       *core.GreensFunction

	vbiasScratch []complex128
}

var _ core.Trial = (*FreeElectron)(nil)

// NewFreeElectron diagonalizes the one-body matrix of each spin sector and
// fills the lowest orbitals.
func NewFreeElectron(sys core.System) (*FreeElectron, error) {
	nbasis := sys.NumBasis()
	t := &FreeElectron{
		g:            core.NewGreensFunction(nbasis),
		vbiasScratch: make([]complex128, sys.NumFields()),
	}
	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		n := sys.NumElectrons(spin)
		t.psi[spin] = zmat.New(nbasis, n)
		if n == 0 {
			t.conjPsi[spin] = zmat.New(nbasis, n)
			continue
		}
		var eig mat.EigenSym
		if ok := eig.Factorize(sys.OneBody(spin), true); !ok {
			return nil, errors.Errorf("trial: eigendecomposition failed for spin sector %d", spin)
		}
		var vecs mat.Dense
		eig.VectorsTo(&vecs)
		// Eigenvalues are ascending, so the first n columns are the
		// occupied free-electron orbitals.
		for i := 0; i < nbasis; i++ {
			for j := 0; j < n; j++ {
				t.psi[spin].Set(i, j, complex(vecs.At(i, j), 0))
			}
		}
		t.conjPsi[spin] = zmat.Conj(t.psi[spin])
	}
	if err := t.computeGreensFunction(sys); err != nil {
		return nil, err
	}
	return t, nil
}

// Name identifies the ansatz.
func (t *FreeElectron) Name() string { return "free_electron" }

// Orbitals returns the occupied orbital block for the given spin.
func (t *FreeElectron) Orbitals(spin int) *zmat.Matrix { return t.psi[spin] }

// ConjOrbitals returns the conjugated orbital block for the given spin.
func (t *FreeElectron) ConjOrbitals(spin int) *zmat.Matrix { return t.conjPsi[spin] }

// GreensFunction returns the trial state's own Green's function.
func (t *FreeElectron) GreensFunction() *core.GreensFunction { return t.g }

// ForceBias writes the optimal force bias -sqrt(dt) (⟨v⟩_g − mfShift) into
// dst. No clipping is applied here; bounding the bias is the propagator's
// responsibility.
func (t *FreeElectron) ForceBias(sys core.System, g *core.GreensFunction, sqrtDt float64, mfShift, dst []complex128) {
	sys.VBias(g, t.vbiasScratch)
	for i := range dst {
		dst[i] = -complex(sqrtDt, 0) * (t.vbiasScratch[i] - mfShift[i])
	}
}

// computeGreensFunction evaluates G_σ = conj(Ψ) (Ψᵀ conj(Ψ))⁻¹ Ψᵀ once at
// construction.
func (t *FreeElectron) computeGreensFunction(sys core.System) error {
	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		n := sys.NumElectrons(spin)
		if n == 0 {
			t.g[spin].Zero()
			continue
		}
		s := zmat.New(n, n)
		zmat.MulTransNoConj(s, t.psi[spin], t.conjPsi[spin])
		inv := zmat.New(n, n)
		if _, err := zmat.Inverse(inv, s); err != nil {
			return errors.Wrapf(err, "trial: overlap inversion, spin sector %d", spin)
		}
		half := zmat.New(n, sys.NumBasis())
		zmat.MulABTrans(half, inv, t.psi[spin])
		zmat.Mul(t.g[spin], t.conjPsi[spin], half)
	}
	return nil
}

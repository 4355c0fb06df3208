package walker

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"

	"github.com/hupe1980/afqmcgo/core"
	"github.com/hupe1980/afqmcgo/internal/zmat"
)

// ErrSingularOverlap is returned when the walker-trial overlap matrix cannot
// be inverted. The conventional response is to kill the walker.
var ErrSingularOverlap = errors.New("walker: singular overlap matrix")

// Walker is one weighted stochastic sample of the many-body state.
//
// Weight is the non-negative importance-sampling magnitude; exactly zero
// means dead. Phase accumulates the unit-modulus sign/phase factor that is
// not absorbed into Weight (only advanced in free-projection mode). Ovlp
// caches the overlap with the trial state and must stay consistent with Phi
// up to the correction applied at each reorthogonalization.
type Walker struct {
	Weight float64
	// UnscaledWeight preserves the pre-rescale weight across a population
	// control epoch for estimator bookkeeping.
	UnscaledWeight float64
	Phase          complex128
	Ovlp           complex128
	// HybridEnergy is the running local-energy estimate used to bound the
	// importance-sampling factor.
	HybridEnergy complex128

	// Phi holds the spin-resolved orbital blocks, nbasis x nσ. The walker
	// owns these matrices exclusively.
	Phi [2]*zmat.Matrix
	// G is the spin-resolved Green's function, recomputed each step.
	G *core.GreensFunction
	// Ghalf holds the half-rotated Green's functions S⁻¹ Φᵀ, nσ x nbasis.
	Ghalf [2]*zmat.Matrix

	invOvlp [2]*zmat.Matrix
	detS    [2]complex128

	nbasis, nup, ndown int

	// scratch for overlap assembly, sized per spin sector
	ovlpScratch [2]*zmat.Matrix
}

// New creates a walker initialized to the trial state with unit weight and
// phase, and primes the cached overlap and Green's function.
func New(sys core.System, trial core.Trial) (*Walker, error) {
	nbasis, nup, ndown := sys.NumBasis(), sys.NumUp(), sys.NumDown()
	w := &Walker{
		Weight:         1.0,
		UnscaledWeight: 1.0,
		Phase:          1,
		HybridEnergy:   0,
		G:              core.NewGreensFunction(nbasis),
		nbasis:         nbasis,
		nup:            nup,
		ndown:          ndown,
	}
	for spin, n := range []int{nup, ndown} {
		w.Phi[spin] = zmat.New(nbasis, n)
		w.Ghalf[spin] = zmat.New(n, nbasis)
		w.invOvlp[spin] = zmat.New(n, n)
		w.ovlpScratch[spin] = zmat.New(n, n)
		w.detS[spin] = 1
		if n > 0 {
			w.Phi[spin].CopyFrom(trial.Orbitals(spin))
		}
	}
	if err := w.InverseOverlap(trial); err != nil {
		return nil, err
	}
	w.Ovlp = w.CalcOverlap()
	if err := w.GreensFunction(trial); err != nil {
		return nil, err
	}
	return w, nil
}

// NumBasis returns the single-particle basis size.
func (w *Walker) NumBasis() int { return w.nbasis }

// NumUp returns the spin-up electron count.
func (w *Walker) NumUp() int { return w.nup }

// NumDown returns the spin-down electron count.
func (w *Walker) NumDown() int { return w.ndown }

// Dead reports whether the walker has been killed.
func (w *Walker) Dead() bool { return w.Weight == 0 }

// Kill forces the walker dead. Its slot is reused during population control.
func (w *Walker) Kill() { w.Weight = 0 }

// InverseOverlap recomputes the per-sector inverse overlap matrices
// S_σ = Φ_σᵀ conj(Ψ_σ) from scratch, caching det(S_σ) alongside. A singular
// sector returns ErrSingularOverlap and leaves the walker untouched apart
// from scratch state.
func (w *Walker) InverseOverlap(trial core.Trial) error {
	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		n := w.sectorSize(spin)
		if n == 0 {
			w.detS[spin] = 1
			continue
		}
		s := w.ovlpScratch[spin]
		zmat.MulTransNoConj(s, w.Phi[spin], trial.ConjOrbitals(spin))
		det, err := zmat.Inverse(w.invOvlp[spin], s)
		if err != nil {
			return errors.Wrapf(ErrSingularOverlap, "spin sector %d: %v", spin, err)
		}
		w.detS[spin] = det
	}
	return nil
}

// CalcOverlap returns the overlap with the trial state from the cached
// per-sector determinants. InverseOverlap must have been called since the
// last orbital update.
func (w *Walker) CalcOverlap() complex128 {
	return w.detS[core.SpinUp] * w.detS[core.SpinDown]
}

// GreensFunction recomputes Ghalf_σ = S_σ⁻¹ Φ_σᵀ and
// G_σ = conj(Ψ_σ) Ghalf_σ from the cached inverse overlaps.
func (w *Walker) GreensFunction(trial core.Trial) error {
	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		if w.sectorSize(spin) == 0 {
			w.G[spin].Zero()
			continue
		}
		zmat.MulABTrans(w.Ghalf[spin], w.invOvlp[spin], w.Phi[spin])
		zmat.Mul(w.G[spin], trial.ConjOrbitals(spin), w.Ghalf[spin])
	}
	return nil
}

// Reortho reorthogonalizes the orbital matrix per spin sector and divides the
// cached overlap by the determinant of the triangular correction, keeping
// Ovlp consistent with the replaced orbitals. The determinant is returned so
// free-projection callers can fold its magnitude and phase into weight and
// phase instead.
//
// Repeated non-unitary propagation drives the orbital columns toward linear
// dependence; without this correction the walk numerically collapses.
func (w *Walker) Reortho() (complex128, error) {
	detR := complex(1, 0)
	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		if w.sectorSize(spin) == 0 {
			continue
		}
		d, err := zmat.QREconomic(w.Phi[spin])
		if err != nil {
			return 0, errors.Wrapf(err, "reortho spin sector %d", spin)
		}
		detR *= d
	}
	w.Ovlp /= detR
	return detR, nil
}

// IsFinite reports whether the walker's scalar state and orbitals are all
// finite.
func (w *Walker) IsFinite() bool {
	if math.IsNaN(w.Weight) || math.IsInf(w.Weight, 0) {
		return false
	}
	for _, v := range []complex128{w.Phase, w.Ovlp, w.HybridEnergy} {
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			return false
		}
	}
	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		if w.sectorSize(spin) > 0 && !zmat.IsFinite(w.Phi[spin]) {
			return false
		}
	}
	return true
}

func (w *Walker) sectorSize(spin int) int {
	if spin == core.SpinUp {
		return w.nup
	}
	return w.ndown
}

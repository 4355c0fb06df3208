package core

import (
	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/afqmcgo/internal/zmat"
)

// Spin labels the two spin sectors of a collinear calculation.
const (
	SpinUp   = 0
	SpinDown = 1
)

// GreensFunction holds the spin-resolved one-particle Green's function of a
// walker (or of the trial state itself), G[σ] being nbasis x nbasis.
type GreensFunction [2]*zmat.Matrix

// NewGreensFunction allocates a zeroed Green's function for the given basis
// size.
func NewGreensFunction(nbasis int) *GreensFunction {
	return &GreensFunction{zmat.New(nbasis, nbasis), zmat.New(nbasis, nbasis)}
}

// DiagonalDensity returns G[0][i][i] + G[1][i][i], the total charge density on
// basis function i.
func (g *GreensFunction) DiagonalDensity(i int) complex128 {
	return g[SpinUp].At(i, i) + g[SpinDown].At(i, i)
}

// System describes the Hamiltonian data consumed by the stochastic core. A
// System owns the spin-resolved one-body matrices and knows how to assemble
// the Hubbard-Stratonovich two-body operator for a sampled field vector.
type System interface {
	// Name identifies the model, e.g. "hubbard".
	Name() string

	// NumBasis returns the single-particle basis size.
	NumBasis() int

	// NumUp and NumDown return the electron counts per spin sector.
	NumUp() int
	NumDown() int

	// NumElectrons returns the number of electrons in the given sector.
	NumElectrons(spin int) int

	// NumFields returns the number of auxiliary fields sampled per step.
	NumFields() int

	// OneBody returns the effective one-body matrix for the given spin
	// sector used to build the half-step propagator. Any single-particle
	// term generated by the Hubbard-Stratonovich decomposition of the
	// interaction is already folded in.
	OneBody(spin int) *mat.SymDense

	// ConstructVHS writes the two-body Hubbard-Stratonovich operator for
	// the shifted field vector into dst (nbasis x nbasis), including the
	// sqrt(dt) coupling.
	ConstructVHS(dst *zmat.Matrix, xshifted []complex128, dt float64)

	// VBias writes the expectation value of each field operator in the
	// given Green's function into dst (length NumFields). It is the raw
	// ingredient of both the optimal force bias and the mean-field shift.
	VBias(g *GreensFunction, dst []complex128)
}

// Trial describes the trial wavefunction collaborators consumed by walkers
// and the propagator: the (conjugated) orbital set entering overlap and
// Green's-function kernels, the trial state's own Green's function, and the
// optimal force bias.
type Trial interface {
	// Name identifies the wavefunction ansatz, e.g. "free_electron".
	Name() string

	// Orbitals returns the nbasis x nσ orbital block for the given spin.
	Orbitals(spin int) *zmat.Matrix

	// ConjOrbitals returns the elementwise conjugate of Orbitals(spin),
	// precomputed once so the per-step overlap kernels avoid repeated
	// conjugation.
	ConjOrbitals(spin int) *zmat.Matrix

	// GreensFunction returns the trial state's own Green's function.
	GreensFunction() *GreensFunction

	// ForceBias writes the optimal force-bias vector for a walker with
	// mixed-estimate Green's function g into dst (length NumFields):
	// -sqrt(dt) (⟨v⟩_g - mfShift). Unclipped; bounding is the
	// propagator's concern.
	ForceBias(sys System, g *GreensFunction, sqrtDt float64, mfShift, dst []complex128)
}

// Estimator computes a system-specific local energy from a Green's function.
// Implemented by Systems whose energy formula is known in closed form and by
// external estimator packages.
type Estimator interface {
	// LocalEnergy returns (total, kinetic, potential) mixed-estimator
	// energy components for the given Green's function.
	LocalEnergy(g *GreensFunction) (etot, ekin, epot complex128)
}

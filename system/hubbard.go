package system

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/afqmcgo/core"
	"github.com/hupe1980/afqmcgo/internal/zmat"
)

// HubbardOptions configures a one-band Hubbard chain.
type HubbardOptions struct {
	// Sites is the number of lattice sites (= basis size).
	Sites int
	// U is the on-site repulsion.
	U float64
	// Hopping is the nearest-neighbour hopping amplitude t.
	Hopping float64
	// NumUp and NumDown are the electron counts per spin sector.
	NumUp, NumDown int
	// Periodic selects periodic boundary conditions. Chains of two sites
	// are always treated as open to avoid a doubled bond.
	Periodic bool
}

// Hubbard is a one-band Hubbard chain decoupled in the charge channel:
//
//	U n↑ n↓ = (U/2) n² − (U/2) n,  n = n↑ + n↓
//
// The quadratic term is sampled with one continuous auxiliary field per site
// coupling as i sqrt(dt U) n, and the linear term is folded into the
// effective one-body matrix returned by OneBody. The bare kinetic matrix is
// kept separately for the local-energy estimator.
type Hubbard struct {
	sites      int
	u, t       float64
	nup, ndown int
	oneBody    *mat.SymDense // kinetic − (U/2) I, used for propagation
	kinetic    *mat.SymDense // bare kinetic, used for local energy
	sqrtU      float64
}

var _ core.System = (*Hubbard)(nil)
var _ core.Estimator = (*Hubbard)(nil)

// NewHubbard builds the lattice matrices and validates the electron counts.
func NewHubbard(opts HubbardOptions) (*Hubbard, error) {
	if opts.Sites < 2 {
		return nil, fmt.Errorf("system: hubbard needs at least two sites, got %d", opts.Sites)
	}
	if opts.NumUp <= 0 || opts.NumUp > opts.Sites || opts.NumDown < 0 || opts.NumDown > opts.Sites {
		return nil, fmt.Errorf("system: electron counts (%d, %d) incompatible with %d sites",
			opts.NumUp, opts.NumDown, opts.Sites)
	}
	if opts.Hopping == 0 {
		return nil, fmt.Errorf("system: hopping amplitude must be non-zero")
	}
	h := &Hubbard{
		sites: opts.Sites,
		u:     opts.U,
		t:     opts.Hopping,
		nup:   opts.NumUp,
		ndown: opts.NumDown,
		sqrtU: math.Sqrt(opts.U),
	}
	h.kinetic = mat.NewSymDense(opts.Sites, nil)
	for i := 0; i < opts.Sites-1; i++ {
		h.kinetic.SetSym(i, i+1, -opts.Hopping)
	}
	if opts.Periodic && opts.Sites > 2 {
		h.kinetic.SetSym(0, opts.Sites-1, -opts.Hopping)
	}
	h.oneBody = mat.NewSymDense(opts.Sites, nil)
	h.oneBody.CopySym(h.kinetic)
	for i := 0; i < opts.Sites; i++ {
		h.oneBody.SetSym(i, i, h.oneBody.At(i, i)-0.5*opts.U)
	}
	return h, nil
}

// Name identifies the model.
func (h *Hubbard) Name() string { return "hubbard" }

// NumBasis returns the number of lattice sites.
func (h *Hubbard) NumBasis() int { return h.sites }

// NumUp returns the spin-up electron count.
func (h *Hubbard) NumUp() int { return h.nup }

// NumDown returns the spin-down electron count.
func (h *Hubbard) NumDown() int { return h.ndown }

// NumElectrons returns the electron count for the given sector.
func (h *Hubbard) NumElectrons(spin int) int {
	if spin == core.SpinUp {
		return h.nup
	}
	return h.ndown
}

// NumFields returns one auxiliary field per site.
func (h *Hubbard) NumFields() int { return h.sites }

// U returns the on-site repulsion.
func (h *Hubbard) U() float64 { return h.u }

// Hopping returns the nearest-neighbour hopping amplitude.
func (h *Hubbard) Hopping() float64 { return h.t }

// OneBody returns the effective one-body matrix; both sectors share it.
func (h *Hubbard) OneBody(spin int) *mat.SymDense { return h.oneBody }

// Kinetic returns the bare hopping matrix.
func (h *Hubbard) Kinetic() *mat.SymDense { return h.kinetic }

// ConstructVHS writes diag(i sqrt(dt U) x_i) into dst.
func (h *Hubbard) ConstructVHS(dst *zmat.Matrix, xshifted []complex128, dt float64) {
	coupling := complex(0, math.Sqrt(dt*h.u))
	dst.Zero()
	for i := 0; i < h.sites; i++ {
		dst.Set(i, i, coupling*xshifted[i])
	}
}

// VBias writes i sqrt(U) (G↑_ii + G↓_ii) for each site into dst.
func (h *Hubbard) VBias(g *core.GreensFunction, dst []complex128) {
	iu := complex(0, h.sqrtU)
	for i := 0; i < h.sites; i++ {
		dst[i] = iu * g.DiagonalDensity(i)
	}
}

// LocalEnergy evaluates the mixed-estimator Hubbard energy
//
//	E = Σ_ij T_ij (G↑_ij + G↓_ij) + U Σ_i G↑_ii G↓_ii
//
// for the given Green's function, returning total, kinetic and potential
// parts.
func (h *Hubbard) LocalEnergy(g *core.GreensFunction) (etot, ekin, epot complex128) {
	for i := 0; i < h.sites; i++ {
		for j := 0; j < h.sites; j++ {
			tij := h.kinetic.At(i, j)
			if tij == 0 {
				continue
			}
			ekin += complex(tij, 0) * (g[core.SpinUp].At(i, j) + g[core.SpinDown].At(i, j))
		}
		epot += complex(h.u, 0) * g[core.SpinUp].At(i, i) * g[core.SpinDown].At(i, i)
	}
	return ekin + epot, ekin, epot
}

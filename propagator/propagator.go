package propagator

import (
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/afqmcgo/core"
	"github.com/hupe1980/afqmcgo/internal/zmat"
	"github.com/hupe1980/afqmcgo/logging"
	"github.com/hupe1980/afqmcgo/walker"
)

// DefaultExpansionOrder is the number of terms kept in the truncated
// power-series expansion of the two-body exponential.
const DefaultExpansionOrder = 6

// eshiftEps is the magnitude below which the energy shift is considered
// trivial and hybrid-energy bounding is skipped. Until the driver has
// communicated a first estimate the shift is zero and bounding against it
// would clip aggressively.
const eshiftEps = 1e-10

// Options configures a Propagator.
type Options struct {
	// Timestep is the imaginary-time step dt. Required.
	Timestep float64
	// ExpansionOrder overrides DefaultExpansionOrder when positive.
	ExpansionOrder int
	// FreeProjection selects the free-projection variant instead of the
	// phaseless approximation. It also disables the force bias.
	FreeProjection bool
	// DisableForceBias turns off the variance-reducing sampling shift in
	// phaseless mode. Mostly useful for debugging.
	DisableForceBias bool
	// Seed seeds the auxiliary-field sampler when Rand is nil.
	Seed int64
	// Rand supplies the auxiliary-field sampler directly; takes precedence
	// over Seed.
	Rand *rand.Rand
	// Logger defaults to a NoOpLogger.
	Logger logging.Logger
}

// Stats is a snapshot of the per-instance diagnostic counters.
type Stats struct {
	// ForceBiasClips counts force-bias components rescaled to unit
	// magnitude.
	ForceBiasClips int
	// EnergyBoundClips counts hybrid energies clamped to the bound around
	// the energy shift.
	EnergyBoundClips int
	// WalkerDeaths counts walkers killed by a singular overlap or a
	// non-finite importance factor.
	WalkerDeaths int
}

// stepFunc is the per-variant propagation routine bound at construction.
type stepFunc func(w *walker.Walker, sys core.System, trial core.Trial, eshift complex128) error

// Propagator advances walkers by one imaginary-time step. It is bound to one
// system/trial pair at construction, which fixes the one-body half-step
// propagator and the mean-field shift. Not safe for concurrent use; each
// worker shard owns its own instance.
type Propagator struct {
	dt     float64
	sqrtDt float64
	order  int
	ebound float64

	freeProjection bool
	forceBias      bool
	step           stepFunc

	// bh1 holds exp(-dt/2 (H1 - Σ_l ⟨v_l⟩ v_l)) per spin sector, the
	// one-body half-step propagator with the mean-field one-body term
	// folded in.
	bh1 [2]*zmat.Matrix
	// mfShift is the mean-field shift ⟨v⟩ evaluated in the trial state.
	mfShift []complex128

	rng    *rand.Rand
	logger logging.Logger

	// scratch buffers, reused across steps
	xi       []float64
	xbar     []complex128
	xshifted []complex128
	vhs      *zmat.Matrix
	phiTmp   [2]*zmat.Matrix
	expTmp   [2]*zmat.Matrix

	stats Stats
}

// New precomputes the one-body half-step propagator and the mean-field shift
// for the given system/trial pair and binds the propagation variant.
func New(sys core.System, trial core.Trial, opts Options) (*Propagator, error) {
	if opts.Timestep <= 0 {
		return nil, errors.Errorf("propagator: timestep must be positive, got %g", opts.Timestep)
	}
	order := opts.ExpansionOrder
	if order <= 0 {
		order = DefaultExpansionOrder
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(opts.Seed))
	}
	nbasis := sys.NumBasis()
	nfields := sys.NumFields()
	p := &Propagator{
		dt:             opts.Timestep,
		sqrtDt:         math.Sqrt(opts.Timestep),
		order:          order,
		ebound:         math.Sqrt(2.0 / opts.Timestep),
		freeProjection: opts.FreeProjection,
		forceBias:      !opts.FreeProjection && !opts.DisableForceBias,
		mfShift:        make([]complex128, nfields),
		rng:            rng,
		logger:         logger,
		xi:             make([]float64, nfields),
		xbar:           make([]complex128, nfields),
		xshifted:       make([]complex128, nfields),
		vhs:            zmat.New(nbasis, nbasis),
	}
	sys.VBias(trial.GreensFunction(), p.mfShift)
	// Shifting the sampled fields by ⟨v⟩ moves the one-body operator
	// Σ_l ⟨v_l⟩ v_l out of the quadratic term; it belongs in the
	// exponentiated one-body matrix, with the scalar remainder handled per
	// step by twoBody. Two factors of i make it real for field operators
	// with real couplings.
	vmf := zmat.New(nbasis, nbasis)
	sys.ConstructVHS(vmf, p.mfShift, 1.0)
	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		n := sys.NumElectrons(spin)
		p.phiTmp[spin] = zmat.New(nbasis, n)
		p.expTmp[spin] = zmat.New(nbasis, n)
		b, err := halfStepPropagator(shiftedOneBody(sys.OneBody(spin), vmf), opts.Timestep)
		if err != nil {
			return nil, errors.Wrapf(err, "one-body propagator, spin sector %d", spin)
		}
		p.bh1[spin] = b
	}
	if p.freeProjection {
		p.step = p.propagateFree
		logger.Info("propagator configured", "variant", "free_projection", "timestep", opts.Timestep, "expansion_order", order)
	} else {
		p.step = p.propagatePhaseless
		logger.Info("propagator configured", "variant", "phaseless", "timestep", opts.Timestep, "expansion_order", order, "force_bias", p.forceBias)
	}
	return p, nil
}

// Timestep returns the imaginary-time step dt.
func (p *Propagator) Timestep() float64 { return p.dt }

// FreeProjection reports whether the free-projection variant is bound.
func (p *Propagator) FreeProjection() bool { return p.freeProjection }

// EnergyBound returns the hybrid-energy bound sqrt(2/dt).
func (p *Propagator) EnergyBound() float64 { return p.ebound }

// Stats returns a snapshot of the diagnostic counters.
func (p *Propagator) Stats() Stats { return p.stats }

// Propagate advances the walker by one imaginary-time step, mutating it in
// place. Recoverable sampling events (bias clipping, energy bounding, walker
// death) are counted, not returned; only unexpected conditions surface as
// errors.
func (p *Propagator) Propagate(w *walker.Walker, sys core.System, trial core.Trial, eshift complex128) error {
	return p.step(w, sys, trial, eshift)
}

// propagatePhaseless is the phaseless (cosine-projected) update.
func (p *Propagator) propagatePhaseless(w *walker.Walker, sys core.System, trial core.Trial, eshift complex128) error {
	otOld := w.Ovlp

	p.applyOneBody(w)
	cmf, cfb := p.twoBody(w, sys, trial)
	p.applyOneBody(w)

	if err := w.InverseOverlap(trial); err != nil {
		p.die(w, "singular overlap", err)
		return nil
	}
	if err := w.GreensFunction(trial); err != nil {
		p.die(w, "greens function failure", err)
		return nil
	}
	otNew := w.CalcOverlap()

	hybrid := -(cmplx.Log(otNew/otOld) + cfb + cmf) / complex(p.dt, 0)
	hybrid = p.applyBound(hybrid, eshift)
	importance := cmplx.Exp(-complex(p.dt, 0) * (0.5*(hybrid+w.HybridEnergy) - eshift))
	magn, _ := cmplx.Polar(importance)
	w.HybridEnergy = hybrid

	if math.IsInf(magn, 0) || math.IsNaN(magn) {
		w.Ovlp = otNew
		p.die(w, "non-finite importance factor", nil)
		return nil
	}
	// Phase deviation of the overlap-ratio factor alone: the exponential
	// from shifting the sampling distribution carries no physical phase.
	dtheta := imag(-complex(p.dt, 0)*hybrid - cfb)
	cosFac := math.Max(0, math.Cos(dtheta))
	w.Weight *= magn * cosFac
	w.Ovlp = otNew
	return nil
}

// propagateFree is the free-projection update: the full complex phase of the
// propagation factor survives on the walker, and no force bias or cosine
// projection is applied.
func (p *Propagator) propagateFree(w *walker.Walker, sys core.System, trial core.Trial, eshift complex128) error {
	p.applyOneBody(w)
	cmf, _ := p.twoBody(w, sys, trial)
	p.applyOneBody(w)

	if err := w.InverseOverlap(trial); err != nil {
		p.die(w, "singular overlap", err)
		return nil
	}
	w.Ovlp = w.CalcOverlap()
	if err := w.GreensFunction(trial); err != nil {
		p.die(w, "greens function failure", err)
		return nil
	}

	magn, dtheta := cmplx.Polar(cmplx.Exp(cmf + complex(p.dt, 0)*eshift))
	if math.IsInf(magn, 0) || math.IsNaN(magn) {
		p.die(w, "non-finite importance factor", nil)
		return nil
	}
	w.Weight *= magn
	w.Phase *= cmplx.Exp(complex(0, dtheta))
	return nil
}

// twoBody samples the auxiliary fields, applies the optimal force bias with
// unit-magnitude clipping, builds the Hubbard-Stratonovich operator from the
// shifted fields and applies its truncated exponential to both spin sectors.
// It returns the mean-field constant cmf and the force-bias constant cfb
// entering the hybrid energy.
func (p *Propagator) twoBody(w *walker.Walker, sys core.System, trial core.Trial) (cmf, cfb complex128) {
	for i := range p.xi {
		p.xi[i] = p.rng.NormFloat64()
	}
	for i := range p.xbar {
		p.xbar[i] = 0
	}
	if p.forceBias {
		trial.ForceBias(sys, w.G, p.sqrtDt, p.mfShift, p.xbar)
		for i, b := range p.xbar {
			if mag := cmplx.Abs(b); mag > 1.0 {
				// Rescale to unit magnitude; a counted diagnostic,
				// not an error.
				p.xbar[i] = b / complex(mag, 0)
				p.stats.ForceBiasClips++
			}
		}
	}
	for i := range p.xshifted {
		p.xshifted[i] = complex(p.xi[i], 0) - p.xbar[i]
		cmf += -complex(p.sqrtDt, 0) * p.xshifted[i] * p.mfShift[i]
		cfb += complex(p.xi[i], 0)*p.xbar[i] - 0.5*p.xbar[i]*p.xbar[i]
	}
	sys.ConstructVHS(p.vhs, p.xshifted, p.dt)
	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		if w.Phi[spin].Cols == 0 {
			continue
		}
		p.applyExponential(w.Phi[spin], p.phiTmp[spin], p.expTmp[spin])
	}
	return cmf, cfb
}

// applyExponential applies exp(VHS) to phi via the truncated power series
//
//	phi ← phi + Σ_{n=1..order} VHSⁿ phi / n!
//
// accumulating term by term. tmpA and tmpB are caller-owned scratch matrices
// of the same shape as phi.
func (p *Propagator) applyExponential(phi, tmpA, tmpB *zmat.Matrix) {
	tmpA.CopyFrom(phi)
	for n := 1; n <= p.order; n++ {
		zmat.Mul(tmpB, p.vhs, tmpA)
		tmpB.Scale(complex(1/float64(n), 0))
		phi.Add(tmpB)
		tmpA, tmpB = tmpB, tmpA
	}
}

// applyOneBody applies the half-step one-body propagator to both sectors.
func (p *Propagator) applyOneBody(w *walker.Walker) {
	for spin := core.SpinUp; spin <= core.SpinDown; spin++ {
		if w.Phi[spin].Cols == 0 {
			continue
		}
		zmat.Mul(p.phiTmp[spin], p.bh1[spin], w.Phi[spin])
		w.Phi[spin].CopyFrom(p.phiTmp[spin])
	}
}

// applyBound clamps the real part of the hybrid energy to within
// sqrt(2/dt) of the energy shift. Bounding is skipped while the shift is
// still trivial, i.e. before the driver has communicated a first estimate.
func (p *Propagator) applyBound(ehyb, eshift complex128) complex128 {
	if cmplx.Abs(eshift) < eshiftEps {
		return ehyb
	}
	switch {
	case real(ehyb) > real(eshift)+p.ebound:
		ehyb = complex(real(eshift)+p.ebound, imag(ehyb))
		p.stats.EnergyBoundClips++
	case real(ehyb) < real(eshift)-p.ebound:
		ehyb = complex(real(eshift)-p.ebound, imag(ehyb))
		p.stats.EnergyBoundClips++
	}
	return ehyb
}

// die kills the walker and records the death. Walker death is an expected,
// statistically meaningful branch of the algorithm, so it is logged at debug
// level only.
func (p *Propagator) die(w *walker.Walker, reason string, err error) {
	w.Kill()
	p.stats.WalkerDeaths++
	if err != nil {
		p.logger.Debug("walker killed", "reason", reason, "error", err.Error())
	} else {
		p.logger.Debug("walker killed", "reason", reason)
	}
}

// shiftedOneBody returns h - Re Σ_l ⟨v_l⟩ v_l, the effective one-body matrix
// once the auxiliary fields are sampled around the mean-field shift. vmf
// holds Σ_l ⟨v_l⟩ v_l as assembled by the system.
func shiftedOneBody(h *mat.SymDense, vmf *zmat.Matrix) *mat.SymDense {
	n := h.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	out.CopySym(h)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, out.At(i, j)-real(vmf.At(i, j)))
		}
	}
	return out
}

// halfStepPropagator computes exp(-dt/2 h) for a real symmetric one-body
// matrix via its eigendecomposition, returned as a complex matrix ready for
// orbital multiplication.
func halfStepPropagator(h *mat.SymDense, dt float64) (*zmat.Matrix, error) {
	n := h.SymmetricDim()
	var eig mat.EigenSym
	if ok := eig.Factorize(h, true); !ok {
		return nil, errors.New("eigendecomposition of one-body matrix failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	var scaled mat.Dense
	scaled.CloneFrom(&vecs)
	for j := 0; j < n; j++ {
		f := math.Exp(-0.5 * dt * vals[j])
		for i := 0; i < n; i++ {
			scaled.Set(i, j, scaled.At(i, j)*f)
		}
	}
	var b mat.Dense
	b.Mul(&scaled, vecs.T())

	out := zmat.New(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, complex(b.At(i, j), 0))
		}
	}
	return out, nil
}

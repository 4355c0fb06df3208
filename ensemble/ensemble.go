package ensemble

import (
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/hupe1980/afqmcgo/checkpoint"
	"github.com/hupe1980/afqmcgo/comm"
	"github.com/hupe1980/afqmcgo/core"
	"github.com/hupe1980/afqmcgo/logging"
	"github.com/hupe1980/afqmcgo/walker"
)

// Method selects the branching algorithm.
type Method string

const (
	// MethodComb is the comb branching algorithm of Booth & Gubernatis.
	MethodComb Method = "comb"
	// MethodPairBranch pairs the lightest and heaviest walkers and
	// stochastically keeps one of each pair.
	MethodPairBranch Method = "pair_branch"
)

// collapseThreshold is the total weight below which the run is considered to
// have collapsed.
const collapseThreshold = 1e-8

// ErrWeightCollapse is returned when the global population weight has decayed
// to exactly zero and branching can no longer recover.
var ErrWeightCollapse = errors.New("ensemble: total population weight collapsed to zero")

// Options configures an Ensemble shard.
type Options struct {
	// LocalWalkers is the number of walkers held by this worker. Required.
	LocalWalkers int
	// TargetWeight is the control target for the whole distributed
	// population. Defaults to the global walker count.
	TargetWeight float64
	// MinWeight and MaxWeight bound pair-branch decisions. Defaults 0.1
	// and 4.0.
	MinWeight, MaxWeight float64
	// Method selects the branching algorithm. Defaults to MethodComb.
	Method Method
	// Seed seeds the branching RNG when Rand is nil. Only rank 0's draws
	// reach branching decisions; the other ranks receive them by
	// broadcast.
	Seed int64
	// Rand supplies the branching RNG directly; takes precedence over
	// Seed.
	Rand *rand.Rand
	// Logger defaults to a NoOpLogger.
	Logger logging.Logger
}

// Ensemble is one worker's shard of the logical walker population. The union
// of all workers' shards forms one population of fixed cardinality across a
// population-control epoch.
type Ensemble struct {
	walkers []*walker.Walker
	nw      int // local walker count
	ntot    int // global walker count

	targetWeight float64
	minWeight    float64
	maxWeight    float64
	method       Method

	trial core.Trial

	// buf is the reusable receive buffer for walker transfers. Sends
	// always encode into fresh buffers, so an outstanding send never
	// references it.
	buf []complex128

	localWeights  []float64
	globalWeights []float64

	totalWeight float64
	rng         *rand.Rand
	logger      logging.Logger
}

// New builds a shard of LocalWalkers walkers initialized from the trial
// state. The communicator determines the global population size.
func New(sys core.System, trial core.Trial, c comm.Communicator, opts Options) (*Ensemble, error) {
	if opts.LocalWalkers <= 0 {
		return nil, errors.Errorf("ensemble: local walker count must be positive, got %d", opts.LocalWalkers)
	}
	method := opts.Method
	if method == "" {
		method = MethodComb
	}
	if method != MethodComb && method != MethodPairBranch {
		return nil, errors.Errorf("ensemble: unknown population control method %q", method)
	}
	minW, maxW := opts.MinWeight, opts.MaxWeight
	if minW == 0 {
		minW = 0.1
	}
	if maxW == 0 {
		maxW = 4.0
	}
	if minW >= maxW {
		return nil, errors.Errorf("ensemble: min weight %g must be below max weight %g", minW, maxW)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(opts.Seed))
	}
	ntot := opts.LocalWalkers * c.Size()
	target := opts.TargetWeight
	if target == 0 {
		target = float64(ntot)
	}
	e := &Ensemble{
		walkers:       make([]*walker.Walker, opts.LocalWalkers),
		nw:            opts.LocalWalkers,
		ntot:          ntot,
		targetWeight:  target,
		minWeight:     minW,
		maxWeight:     maxW,
		method:        method,
		trial:         trial,
		localWeights:  make([]float64, opts.LocalWalkers),
		globalWeights: make([]float64, ntot),
		totalWeight:   target,
		rng:           rng,
		logger:        logger,
	}
	for i := range e.walkers {
		w, err := walker.New(sys, trial)
		if err != nil {
			return nil, errors.Wrapf(err, "ensemble: walker %d", i)
		}
		e.walkers[i] = w
	}
	e.buf = make([]complex128, e.walkers[0].BufferLen())
	logger.Info("ensemble configured", "local_walkers", opts.LocalWalkers, "global_walkers", ntot,
		"target_weight", target, "method", string(method))
	return e, nil
}

// Walkers returns the local walker slice. Callers must not resize it.
func (e *Ensemble) Walkers() []*walker.Walker { return e.walkers }

// Walker returns the local walker at index i.
func (e *Ensemble) Walker(i int) *walker.Walker { return e.walkers[i] }

// NumLocal returns the number of walkers on this shard.
func (e *Ensemble) NumLocal() int { return e.nw }

// NumGlobal returns the global population size.
func (e *Ensemble) NumGlobal() int { return e.ntot }

// TargetWeight returns the global weight control target.
func (e *Ensemble) TargetWeight() float64 { return e.targetWeight }

// TotalWeight returns the global total weight observed at the most recent
// population-control epoch.
func (e *Ensemble) TotalWeight() float64 { return e.totalWeight }

// GlobalIndex maps a local walker index to its global index.
func (e *Ensemble) GlobalIndex(c comm.Communicator, i int) int {
	return c.Rank()*e.nw + i
}

// Orthogonalize reorthogonalizes every local walker. In phaseless mode the
// triangular correction determinant stays folded into the cached overlap; in
// free projection its magnitude and phase are instead folded into weight and
// phase. A walker whose orbitals have become numerically rank deficient is
// killed rather than left in an undefined state.
func (e *Ensemble) Orthogonalize(freeProjection bool) error {
	for i, w := range e.walkers {
		detR, err := w.Reortho()
		if err != nil {
			e.logger.Debug("walker killed during stabilization", "walker", i, "error", err.Error())
			w.Kill()
			continue
		}
		if freeProjection {
			magn, dtheta := cmplx.Polar(detR)
			w.Weight *= magn
			w.Phase *= cmplx.Exp(complex(0, dtheta))
			// Undo the phaseless-style overlap correction; under free
			// projection the determinant lives in weight and phase.
			w.Ovlp *= detR
		}
	}
	return nil
}

// PopControl performs one population-control epoch: a barrier, the global
// weight rescale, then branching with the configured algorithm. Every worker
// of the communicator must call it at the same step.
func (e *Ensemble) PopControl(c comm.Communicator) error {
	if err := c.Barrier(); err != nil {
		return err
	}
	for i, w := range e.walkers {
		e.localWeights[i] = math.Abs(w.Weight)
	}
	if err := c.AllGather(e.localWeights, e.globalWeights); err != nil {
		return err
	}
	total := floats.Sum(e.globalWeights)
	if total < collapseThreshold {
		if c.Rank() == 0 {
			e.logger.Warn("total population weight is collapsing", "total_weight", total)
		}
		if total == 0 {
			return ErrWeightCollapse
		}
	}
	e.totalWeight = total
	scale := total / e.targetWeight
	for _, w := range e.walkers {
		w.UnscaledWeight = w.Weight
		w.Weight /= scale
	}
	switch e.method {
	case MethodComb:
		floats.Scale(1/scale, e.globalWeights)
		return e.comb(c, e.globalWeights)
	default:
		return e.pairBranch(c)
	}
}

// GetBuffer encodes walker i into a freshly allocated transfer buffer.
func (e *Ensemble) GetBuffer(i int) ([]complex128, error) {
	buf := make([]complex128, e.walkers[i].BufferLen())
	if err := e.walkers[i].EncodeBuffer(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SetBuffer overwrites walker i from a transfer buffer and recomputes its
// derived overlap and Green's-function state.
func (e *Ensemble) SetBuffer(i int, buf []complex128) error {
	w := e.walkers[i]
	if err := w.DecodeBuffer(buf); err != nil {
		return err
	}
	if err := w.InverseOverlap(e.trial); err != nil {
		return errors.Wrapf(err, "ensemble: walker %d after transfer", i)
	}
	return w.GreensFunction(e.trial)
}

// WriteCheckpoint persists every local walker keyed by its global index.
func (e *Ensemble) WriteCheckpoint(c comm.Communicator, store checkpoint.Store, runID string) error {
	for i := range e.walkers {
		buf, err := e.GetBuffer(i)
		if err != nil {
			return err
		}
		rec := checkpoint.Record{Version: walker.BufferVersion, RunID: runID, Data: buf}
		if err := store.Save(e.GlobalIndex(c, i), rec); err != nil {
			return err
		}
	}
	return nil
}

// ReadCheckpoint restores every local walker from the store, keyed by global
// index. Records written under a different buffer layout version are
// rejected.
func (e *Ensemble) ReadCheckpoint(c comm.Communicator, store checkpoint.Store) error {
	for i := range e.walkers {
		rec, err := store.Load(e.GlobalIndex(c, i))
		if err != nil {
			return errors.Wrapf(err, "ensemble: walker %d", i)
		}
		if rec.Version != walker.BufferVersion {
			return errors.Errorf("ensemble: checkpoint version %d, want %d", rec.Version, walker.BufferVersion)
		}
		if err := e.SetBuffer(i, rec.Data); err != nil {
			return err
		}
	}
	return nil
}

// transferTag builds the deterministic point-to-point tag for the pair-th
// transfer from srcRank to dstRank. span must exceed every pair index used
// within one epoch so tags never alias.
func transferTag(srcRank, dstRank, pair, size, span int) int {
	return (srcRank*size+dstRank)*span + pair
}

package ensemble

import (
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/afqmcgo/checkpoint"
	"github.com/hupe1980/afqmcgo/comm"
	"github.com/hupe1980/afqmcgo/internal/testutil"
)

func newSerialEnsemble(t *testing.T, nw int, method Method, seed int64) (*Ensemble, *comm.Single) {
	t.Helper()
	sys, trial := testutil.TwoSite(t)
	c := comm.NewSingle()
	e, err := New(sys, trial, c, Options{
		LocalWalkers: nw,
		Method:       method,
		Rand:         rand.New(rand.NewSource(seed)),
	})
	require.NoError(t, err)
	return e, c
}

func TestNewValidation(t *testing.T) {
	sys, trial := testutil.TwoSite(t)
	c := comm.NewSingle()

	_, err := New(sys, trial, c, Options{LocalWalkers: 0})
	assert.Error(t, err)

	_, err = New(sys, trial, c, Options{LocalWalkers: 2, Method: "bogus"})
	assert.Error(t, err)

	_, err = New(sys, trial, c, Options{LocalWalkers: 2, MinWeight: 5, MaxWeight: 4})
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	e, _ := newSerialEnsemble(t, 3, "", 1)
	assert.Equal(t, 3, e.NumLocal())
	assert.Equal(t, 3, e.NumGlobal())
	assert.Equal(t, 3.0, e.TargetWeight())
	assert.Len(t, e.Walkers(), 3)
	for _, w := range e.Walkers() {
		assert.Equal(t, 1.0, w.Weight)
	}
}

func TestCombAssignConservesPopulation(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(15)
		weights := make([]float64, n)
		for i := range weights {
			weights[i] = rng.Float64() * 3
		}
		mult := combAssign(weights, n, rng.Float64())
		total := 0
		for _, m := range mult {
			total += m
		}
		require.Equal(t, n, total, "trial %d", trial)
	}
}

func TestCombAssignUniformWeights(t *testing.T) {
	weights := []float64{1, 1, 1, 1}
	for _, r := range []float64{0.0, 0.25, 0.5, 0.99} {
		assert.Equal(t, []int{1, 1, 1, 1}, combAssign(weights, 4, r))
	}
}

func TestCombAssignDeadWalker(t *testing.T) {
	mult := combAssign([]float64{0, 2, 1, 1}, 4, 0.5)
	assert.Equal(t, []int{0, 2, 1, 1}, mult)
}

func TestCombTransfers(t *testing.T) {
	// Multiplicity 3 fills two kill slots with clones, in index order.
	transfers := combTransfers([]int{0, 3, 0, 1})
	require.Len(t, transfers, 2)
	assert.Equal(t, transfer{src: 1, dst: 0}, transfers[0])
	assert.Equal(t, transfer{src: 1, dst: 2}, transfers[1])

	assert.Empty(t, combTransfers([]int{1, 1, 1}))
}

func TestPopControlComb(t *testing.T) {
	e, c := newSerialEnsemble(t, 4, MethodComb, 7)
	weights := []float64{0.1, 2.4, 0.9, 0.6}
	for i, w := range e.Walkers() {
		w.Weight = weights[i]
	}

	require.NoError(t, e.PopControl(c))

	// Comb resets every surviving weight to one and records the global
	// total observed before the rescale.
	assert.InDelta(t, 4.0, e.TotalWeight(), 1e-12)
	for i, w := range e.Walkers() {
		assert.Equal(t, 1.0, w.Weight, "walker %d", i)
	}
}

func TestPopControlPreservesUnscaledWeight(t *testing.T) {
	// In-band pair-branch weights stay put, so only the rescale acts and
	// the pre-rescale weights survive on UnscaledWeight.
	e, c := newSerialEnsemble(t, 2, MethodPairBranch, 7)
	e.Walker(0).Weight = 1.6
	e.Walker(1).Weight = 2.4

	require.NoError(t, e.PopControl(c))
	assert.Equal(t, 1.6, e.Walker(0).UnscaledWeight)
	assert.Equal(t, 2.4, e.Walker(1).UnscaledWeight)
	assert.InDelta(t, 0.8, e.Walker(0).Weight, 1e-12)
	assert.InDelta(t, 1.2, e.Walker(1).Weight, 1e-12)
}

func TestPopControlCollapse(t *testing.T) {
	e, c := newSerialEnsemble(t, 3, MethodComb, 7)
	for _, w := range e.Walkers() {
		w.Kill()
	}
	err := e.PopControl(c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWeightCollapse)
}

func TestPopControlPairBranch(t *testing.T) {
	e, c := newSerialEnsemble(t, 4, MethodPairBranch, 7)
	weights := []float64{0.05, 1.0, 1.0, 3.0}
	for i, w := range e.Walkers() {
		w.Weight = weights[i]
	}

	require.NoError(t, e.PopControl(c))

	// Pair branching conserves the rescaled total and lifts the underweight
	// walker back above the threshold by averaging it with the heaviest.
	var sum float64
	for _, w := range e.Walkers() {
		assert.GreaterOrEqual(t, w.Weight, e.minWeight)
		sum += w.Weight
	}
	assert.InDelta(t, e.TargetWeight(), sum, 1e-10)
}

func TestPopControlPairBranchInBandUntouched(t *testing.T) {
	e, c := newSerialEnsemble(t, 3, MethodPairBranch, 7)
	weights := []float64{0.9, 1.0, 1.1}
	for i, w := range e.Walkers() {
		w.Weight = weights[i]
	}

	require.NoError(t, e.PopControl(c))

	// All weights inside [min, max] after the rescale: no pairing happens.
	total := 0.9 + 1.0 + 1.1
	for i, w := range e.Walkers() {
		assert.InDelta(t, weights[i]*3.0/total, w.Weight, 1e-12, "walker %d", i)
	}
}

// markerWeights drives a four-walker comb epoch on two different worker
// layouts and expects identical clone decisions, since the assignment depends
// only on the global weights and the shared broadcast draw.
func TestCombPartitionConsistency(t *testing.T) {
	weights := []float64{0.1, 2.4, 0.9, 0.6}
	const seed = 123

	collect := func(e *Ensemble) []float64 {
		out := make([]float64, 0, e.NumLocal())
		for _, w := range e.Walkers() {
			out = append(out, real(w.HybridEnergy))
		}
		return out
	}

	// Serial: all four walkers on one rank.
	serial, c := newSerialEnsemble(t, 4, MethodComb, seed)
	for i, w := range serial.Walkers() {
		w.Weight = weights[i]
		w.HybridEnergy = complex(float64(i), 0)
	}
	require.NoError(t, serial.PopControl(c))
	serialMarkers := collect(serial)
	sort.Float64s(serialMarkers)

	// Split: two ranks with two walkers each, same global weights, same
	// branching seed on rank 0.
	sys, trial := testutil.TwoSite(t)
	workers := comm.NewGroup(2)
	shards := make([]*Ensemble, 2)
	for rank, w := range workers {
		e, err := New(sys, trial, w, Options{
			LocalWalkers: 2,
			Method:       MethodComb,
			Rand:         rand.New(rand.NewSource(seed)),
		})
		require.NoError(t, err)
		for i, wk := range e.Walkers() {
			g := rank*2 + i
			wk.Weight = weights[g]
			wk.HybridEnergy = complex(float64(g), 0)
		}
		shards[rank] = e
	}
	var wg sync.WaitGroup
	for rank, w := range workers {
		rank, w := rank, w
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, shards[rank].PopControl(w))
		}()
	}
	wg.Wait()

	var splitMarkers []float64
	for _, e := range shards {
		splitMarkers = append(splitMarkers, collect(e)...)
	}
	sort.Float64s(splitMarkers)

	assert.Equal(t, serialMarkers, splitMarkers)
}

func TestOrthogonalizeFreeProjection(t *testing.T) {
	e, _ := newSerialEnsemble(t, 1, MethodComb, 5)
	rng := rand.New(rand.NewSource(31))

	w := e.Walker(0)
	w.Phi[0].CopyFrom(testutil.RandomOrbitals(rng, 2, 1))
	w.Phi[1].CopyFrom(testutil.RandomOrbitals(rng, 2, 1))
	require.NoError(t, w.InverseOverlap(e.trial))
	w.Ovlp = w.CalcOverlap()
	before := w.Ovlp

	require.NoError(t, e.Orthogonalize(true))

	// Free projection folds the correction determinant into the weight and
	// leaves the cached overlap untouched.
	assert.NotEqual(t, 1.0, w.Weight)
	assert.Greater(t, w.Weight, 0.0)
	assert.InDelta(t, real(before), real(w.Ovlp), 1e-12)
	assert.InDelta(t, imag(before), imag(w.Ovlp), 1e-12)
}

func TestOrthogonalizeKillsRankDeficient(t *testing.T) {
	e, _ := newSerialEnsemble(t, 2, MethodComb, 5)

	w := e.Walker(0)
	// Zero orbitals cannot be orthonormalized.
	w.Phi[0].Zero()
	require.NoError(t, e.Orthogonalize(false))
	assert.True(t, w.Dead())
	assert.False(t, e.Walker(1).Dead())
}

func TestCheckpointRoundTrip(t *testing.T) {
	e, c := newSerialEnsemble(t, 3, MethodComb, 9)
	store := checkpoint.NewInMemoryStore()

	for i, w := range e.Walkers() {
		w.Weight = 1.0 + float64(i)
		w.HybridEnergy = complex(float64(i), -0.5)
	}
	require.NoError(t, e.WriteCheckpoint(c, store, "run-1"))

	// Scramble, then restore.
	for _, w := range e.Walkers() {
		w.Weight = 0
		w.HybridEnergy = 0
	}
	require.NoError(t, e.ReadCheckpoint(c, store))
	for i, w := range e.Walkers() {
		assert.Equal(t, 1.0+float64(i), w.Weight, "walker %d", i)
		assert.Equal(t, complex(float64(i), -0.5), w.HybridEnergy, "walker %d", i)
	}
}

func TestReadCheckpointMissing(t *testing.T) {
	e, c := newSerialEnsemble(t, 1, MethodComb, 9)
	err := e.ReadCheckpoint(c, checkpoint.NewInMemoryStore())
	require.Error(t, err)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestTransferTagUnique(t *testing.T) {
	// Tags within one epoch must be unique across (src, dst, pair).
	seen := map[int]bool{}
	size, span := 3, 6
	for src := 0; src < size; src++ {
		for dst := 0; dst < size; dst++ {
			for pair := 0; pair < span; pair++ {
				tag := transferTag(src, dst, pair, size, span)
				require.False(t, seen[tag], "tag collision at (%d,%d,%d)", src, dst, pair)
				seen[tag] = true
			}
		}
	}
}

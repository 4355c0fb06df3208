package comm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runAll executes fn on one goroutine per worker and waits for all of them.
func runAll(t *testing.T, workers []*Worker, fn func(w *Worker)) {
	t.Helper()
	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(w)
		}()
	}
	wg.Wait()
}

func TestGroupTopology(t *testing.T) {
	workers := NewGroup(3)
	require.Len(t, workers, 3)
	for i, w := range workers {
		assert.Equal(t, i, w.Rank())
		assert.Equal(t, 3, w.Size())
	}
	assert.Panics(t, func() { NewGroup(0) })
}

func TestGroupAllGather(t *testing.T) {
	workers := NewGroup(3)
	results := make([][]float64, 3)
	runAll(t, workers, func(w *Worker) {
		send := []float64{float64(w.Rank()), float64(w.Rank() * 10)}
		recv := make([]float64, 6)
		require.NoError(t, w.AllGather(send, recv))
		results[w.Rank()] = recv
	})
	want := []float64{0, 0, 1, 10, 2, 20}
	for rank := 0; rank < 3; rank++ {
		assert.Equal(t, want, results[rank], "rank %d", rank)
	}
}

func TestGroupBcast(t *testing.T) {
	workers := NewGroup(2)
	results := make([][]float64, 2)
	runAll(t, workers, func(w *Worker) {
		buf := []float64{float64(w.Rank() + 1), 0}
		if w.Rank() == 1 {
			buf[1] = 42
		}
		require.NoError(t, w.Bcast(buf, 1))
		results[w.Rank()] = buf
	})
	assert.Equal(t, []float64{2, 42}, results[0])
	assert.Equal(t, []float64{2, 42}, results[1])
}

func TestGroupGatherScatter(t *testing.T) {
	workers := NewGroup(2)
	var gathered []float64
	scattered := make([][]float64, 2)
	runAll(t, workers, func(w *Worker) {
		send := []float64{float64(w.Rank()), float64(w.Rank())}
		var recv []float64
		if w.Rank() == 0 {
			recv = make([]float64, 4)
		}
		require.NoError(t, w.Gather(send, recv, 0))
		if w.Rank() == 0 {
			gathered = recv
		}

		out := make([]float64, 2)
		var in []float64
		if w.Rank() == 0 {
			in = []float64{5, 6, 7, 8}
		}
		require.NoError(t, w.Scatter(in, out, 0))
		scattered[w.Rank()] = out
	})
	assert.Equal(t, []float64{0, 0, 1, 1}, gathered)
	assert.Equal(t, []float64{5, 6}, scattered[0])
	assert.Equal(t, []float64{7, 8}, scattered[1])
}

func TestGroupPointToPoint(t *testing.T) {
	workers := NewGroup(2)
	received := make([][]complex128, 2)
	runAll(t, workers, func(w *Worker) {
		peer := 1 - w.Rank()
		msg := []complex128{complex(float64(w.Rank()), 1)}
		req, err := w.ISend(msg, peer, 7)
		require.NoError(t, err)
		msg[0] = 99 // buffer was copied up front

		got := make([]complex128, 1)
		require.NoError(t, w.Recv(got, peer, 7))
		require.NoError(t, req.Wait())
		received[w.Rank()] = got
	})
	assert.Equal(t, complex(1.0, 1.0), received[0][0])
	assert.Equal(t, complex(0.0, 1.0), received[1][0])
}

func TestGroupSelfSend(t *testing.T) {
	workers := NewGroup(2)
	runAll(t, workers, func(w *Worker) {
		msg := []complex128{complex(float64(w.Rank()), 0)}
		req, err := w.ISend(msg, w.Rank(), 3)
		require.NoError(t, err)
		got := make([]complex128, 1)
		require.NoError(t, w.Recv(got, w.Rank(), 3))
		require.NoError(t, req.Wait())
		assert.Equal(t, complex(float64(w.Rank()), 0), got[0])
	})
}

func TestGroupRepeatedCollectives(t *testing.T) {
	// The shared slots are reused across epochs; interleavings of
	// consecutive collectives must not corrupt each other.
	workers := NewGroup(3)
	runAll(t, workers, func(w *Worker) {
		for round := 0; round < 20; round++ {
			send := []float64{float64(w.Rank()*100 + round)}
			recv := make([]float64, 3)
			require.NoError(t, w.AllGather(send, recv))
			for rank := 0; rank < 3; rank++ {
				assert.Equal(t, float64(rank*100+round), recv[rank])
			}
			require.NoError(t, w.Barrier())
		}
	})
}

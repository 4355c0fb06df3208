package comm

import (
	"fmt"
	"sync"
)

// Group wires size in-process workers into one communicator. Collectives use
// a shared slot table guarded by a cyclic barrier; point-to-point transfers
// travel over lazily created channels keyed by (source, destination, tag).
type Group struct {
	size int

	mu   sync.Mutex
	mail map[mailKey]chan []complex128

	bar     *cyclicBarrier
	slots   [][]float64
	scatter []float64
}

type mailKey struct {
	src, dst, tag int
}

// Worker is one rank's handle on a Group.
type Worker struct {
	g    *Group
	rank int
}

var _ Communicator = (*Worker)(nil)

// NewGroup creates an in-process communicator with the given number of ranks
// and returns one Worker handle per rank. Each handle must be used by exactly
// one goroutine.
func NewGroup(size int) []*Worker {
	if size < 1 {
		panic("comm: group size must be at least 1")
	}
	g := &Group{
		size:  size,
		mail:  make(map[mailKey]chan []complex128),
		bar:   newCyclicBarrier(size),
		slots: make([][]float64, size),
	}
	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = &Worker{g: g, rank: i}
	}
	return workers
}

// Rank returns this worker's index.
func (w *Worker) Rank() int { return w.rank }

// Size returns the group size.
func (w *Worker) Size() int { return w.g.size }

// Barrier blocks until every rank of the group has entered it.
func (w *Worker) Barrier() error {
	w.g.bar.await()
	return nil
}

// AllGather concatenates every rank's send vector into recv, ordered by rank.
func (w *Worker) AllGather(send, recv []float64) error {
	if len(recv) != len(send)*w.g.size {
		return fmt.Errorf("comm: allgather recv length %d, want %d", len(recv), len(send)*w.g.size)
	}
	w.publish(send)
	w.g.bar.await()
	off := 0
	for r := 0; r < w.g.size; r++ {
		off += copy(recv[off:], w.g.slots[r])
	}
	// Second phase keeps slow readers safe from the next collective
	// overwriting the slots.
	w.g.bar.await()
	return nil
}

// Bcast replaces buf on every rank with root's buf.
func (w *Worker) Bcast(buf []float64, root int) error {
	if root < 0 || root >= w.g.size {
		return fmt.Errorf("comm: invalid root %d", root)
	}
	if w.rank == root {
		w.publish(buf)
	}
	w.g.bar.await()
	if w.rank != root {
		if len(w.g.slots[root]) != len(buf) {
			w.g.bar.await()
			return fmt.Errorf("comm: bcast length mismatch, root sent %d, have %d", len(w.g.slots[root]), len(buf))
		}
		copy(buf, w.g.slots[root])
	}
	w.g.bar.await()
	return nil
}

// Gather concatenates every rank's send vector into recv on root.
func (w *Worker) Gather(send, recv []float64, root int) error {
	if root < 0 || root >= w.g.size {
		return fmt.Errorf("comm: invalid root %d", root)
	}
	if w.rank == root && len(recv) != len(send)*w.g.size {
		return fmt.Errorf("comm: gather recv length %d, want %d", len(recv), len(send)*w.g.size)
	}
	w.publish(send)
	w.g.bar.await()
	if w.rank == root {
		off := 0
		for r := 0; r < w.g.size; r++ {
			off += copy(recv[off:], w.g.slots[r])
		}
	}
	w.g.bar.await()
	return nil
}

// Scatter splits root's send vector into equal chunks and delivers the
// rank-th chunk to each rank.
func (w *Worker) Scatter(send, recv []float64, root int) error {
	if root < 0 || root >= w.g.size {
		return fmt.Errorf("comm: invalid root %d", root)
	}
	if w.rank == root {
		if len(send) != len(recv)*w.g.size {
			w.g.bar.await()
			w.g.bar.await()
			return fmt.Errorf("comm: scatter send length %d, want %d", len(send), len(recv)*w.g.size)
		}
		w.g.mu.Lock()
		w.g.scatter = append(w.g.scatter[:0], send...)
		w.g.mu.Unlock()
	}
	w.g.bar.await()
	chunk := len(recv)
	copy(recv, w.g.scatter[w.rank*chunk:(w.rank+1)*chunk])
	w.g.bar.await()
	return nil
}

// ISend copies buf and delivers it asynchronously to dest's mailbox for tag.
func (w *Worker) ISend(buf []complex128, dest, tag int) (Request, error) {
	if dest < 0 || dest >= w.g.size {
		return nil, fmt.Errorf("comm: invalid destination %d", dest)
	}
	cp := make([]complex128, len(buf))
	copy(cp, buf)
	ch := w.g.mailbox(w.rank, dest, tag)
	done := make(chan struct{})
	go func() {
		ch <- cp
		close(done)
	}()
	return &groupRequest{done: done}, nil
}

// Recv blocks until the tagged message from source arrives.
func (w *Worker) Recv(buf []complex128, source, tag int) error {
	if source < 0 || source >= w.g.size {
		return fmt.Errorf("comm: invalid source %d", source)
	}
	msg := <-w.g.mailbox(source, w.rank, tag)
	if len(msg) != len(buf) {
		return fmt.Errorf("comm: message length %d, recv buffer %d", len(msg), len(buf))
	}
	copy(buf, msg)
	return nil
}

// publish stores this rank's contribution to the current collective.
func (w *Worker) publish(v []float64) {
	w.g.mu.Lock()
	w.g.slots[w.rank] = append(w.g.slots[w.rank][:0], v...)
	w.g.mu.Unlock()
}

func (g *Group) mailbox(src, dst, tag int) chan []complex128 {
	key := mailKey{src: src, dst: dst, tag: tag}
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.mail[key]
	if !ok {
		ch = make(chan []complex128, 1)
		g.mail[key] = ch
	}
	return ch
}

// groupRequest completes when the message has been handed to the receiver's
// mailbox.
type groupRequest struct {
	done chan struct{}
}

// Wait blocks until delivery.
func (r *groupRequest) Wait() error {
	<-r.done
	return nil
}

// cyclicBarrier is a reusable barrier for a fixed party count.
type cyclicBarrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	n     int
	count int
	phase int
}

func newCyclicBarrier(n int) *cyclicBarrier {
	b := &cyclicBarrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *cyclicBarrier) await() {
	b.mu.Lock()
	defer b.mu.Unlock()
	phase := b.phase
	b.count++
	if b.count == b.n {
		b.count = 0
		b.phase++
		b.cond.Broadcast()
		return
	}
	for b.phase == phase {
		b.cond.Wait()
	}
}

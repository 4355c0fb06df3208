package comm

import "fmt"

// Request tracks an outstanding non-blocking send. The send buffer may be
// reused once Wait returns (implementations copy the buffer up front, so Wait
// is about delivery, not buffer safety).
type Request interface {
	Wait() error
}

// Communicator is the transport contract population control depends on. All
// collectives are bulk-synchronous: every rank of the group must enter the
// call before any rank leaves it.
type Communicator interface {
	// Rank returns this worker's index in [0, Size).
	Rank() int
	// Size returns the number of workers jointly owning the population.
	Size() int
	// Barrier blocks until every rank has entered it.
	Barrier() error
	// AllGather concatenates each rank's send vector into recv, ordered by
	// rank. recv must have length len(send)*Size.
	AllGather(send, recv []float64) error
	// Bcast replaces buf on every rank with root's buf.
	Bcast(buf []float64, root int) error
	// Gather concatenates each rank's send vector into recv on root,
	// ordered by rank. recv is only written on root and must have length
	// len(send)*Size there.
	Gather(send, recv []float64, root int) error
	// Scatter splits root's send vector into Size equal chunks and writes
	// the rank-th chunk into recv on each rank. send is only read on root.
	Scatter(send, recv []float64, root int) error
	// ISend starts a non-blocking tagged send of buf to dest. The buffer
	// is copied before ISend returns.
	ISend(buf []complex128, dest, tag int) (Request, error)
	// Recv blocks until the matching tagged message from source arrives
	// and copies it into buf, whose length must match the message.
	Recv(buf []complex128, source, tag int) error
}

// Single is the serial communicator: one rank, no peers. Point-to-point
// operations address the rank itself through an internal mailbox, which keeps
// the branching code free of self-send special cases.
type Single struct {
	mail map[int][]complex128
}

var _ Communicator = (*Single)(nil)

// NewSingle returns a serial communicator.
func NewSingle() *Single {
	return &Single{mail: make(map[int][]complex128)}
}

// Rank returns 0.
func (s *Single) Rank() int { return 0 }

// Size returns 1.
func (s *Single) Size() int { return 1 }

// Barrier is a no-op.
func (s *Single) Barrier() error { return nil }

// AllGather copies send into recv.
func (s *Single) AllGather(send, recv []float64) error {
	if len(recv) != len(send) {
		return fmt.Errorf("comm: allgather recv length %d, want %d", len(recv), len(send))
	}
	copy(recv, send)
	return nil
}

// Bcast is a no-op; the only rank is the root.
func (s *Single) Bcast(buf []float64, root int) error {
	if root != 0 {
		return fmt.Errorf("comm: invalid root %d for single communicator", root)
	}
	return nil
}

// Gather copies send into recv.
func (s *Single) Gather(send, recv []float64, root int) error {
	if root != 0 {
		return fmt.Errorf("comm: invalid root %d for single communicator", root)
	}
	return s.AllGather(send, recv)
}

// Scatter copies send into recv.
func (s *Single) Scatter(send, recv []float64, root int) error {
	if root != 0 {
		return fmt.Errorf("comm: invalid root %d for single communicator", root)
	}
	if len(send) != len(recv) {
		return fmt.Errorf("comm: scatter send length %d, recv length %d", len(send), len(recv))
	}
	copy(recv, send)
	return nil
}

// ISend stores a copy of buf in the self-addressed mailbox under tag.
func (s *Single) ISend(buf []complex128, dest, tag int) (Request, error) {
	if dest != 0 {
		return nil, fmt.Errorf("comm: invalid destination %d for single communicator", dest)
	}
	if _, exists := s.mail[tag]; exists {
		return nil, fmt.Errorf("comm: tag %d already has an outstanding message", tag)
	}
	cp := make([]complex128, len(buf))
	copy(cp, buf)
	s.mail[tag] = cp
	return completedRequest{}, nil
}

// Recv pops the message stored under tag.
func (s *Single) Recv(buf []complex128, source, tag int) error {
	if source != 0 {
		return fmt.Errorf("comm: invalid source %d for single communicator", source)
	}
	msg, ok := s.mail[tag]
	if !ok {
		return fmt.Errorf("comm: no message with tag %d", tag)
	}
	delete(s.mail, tag)
	if len(msg) != len(buf) {
		return fmt.Errorf("comm: message length %d, recv buffer %d", len(msg), len(buf))
	}
	copy(buf, msg)
	return nil
}

// completedRequest is a Request that has already finished.
type completedRequest struct{}

// Wait returns immediately.
func (completedRequest) Wait() error { return nil }

// Package checkpoint persists walker state for restart. One Record per
// walker, keyed by global walker index (local index + rank x
// walkers-per-worker), carrying the versioned flat buffer defined by the
// walker package so readers can reject records written under a different
// layout contract.
package checkpoint

import "fmt"

// ErrNotFound is returned when no record exists for the requested global
// walker index.
var ErrNotFound = fmt.Errorf("checkpoint: record not found")

// Record is one walker's persisted state.
type Record struct {
	// Version is the walker buffer layout version the data was encoded
	// under.
	Version int
	// RunID identifies the run that wrote the record.
	RunID string
	// Data is the walker's flat transfer buffer.
	Data []complex128
}

// Store persists walker records keyed by global walker index. Implementations
// must be safe for concurrent use by multiple worker shards.
type Store interface {
	// Save stores (or overwrites) the record for the given global index.
	Save(globalIndex int, rec Record) error
	// Load retrieves the record for the given global index, or
	// ErrNotFound.
	Load(globalIndex int) (Record, error)
	// Indices lists the stored global indices in unspecified order.
	Indices() ([]int, error)
	// Delete removes the record for the given global index, if present.
	Delete(globalIndex int) error
}

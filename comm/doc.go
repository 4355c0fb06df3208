// Package comm provides the narrow communication contract population control
// is written against: rank/size introspection, a barrier, a handful of
// collectives over flat float64 vectors, and tagged point-to-point transfer
// of complex128 walker buffers.
//
// Two implementations ship with the engine. Single is the trivial serial
// communicator whose point-to-point operations are a self-addressed mailbox.
// Group wires several in-process workers together over channels, giving
// multi-shard runs and cross-worker tests bulk-synchronous semantics without
// any external runtime.
//
// Tags distinguish concurrent outstanding transfers; the branching code
// derives them deterministically from (source rank, destination rank, pair
// index) so matched sends and receives never alias.
package comm

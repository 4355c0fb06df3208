// Package ensemble owns one worker's shard of the globally distributed
// walker population and implements population control: the per-epoch global
// weight rescale followed by branching with either the comb or the
// pair-branch algorithm.
//
// All workers execute the same code against a comm.Communicator. Branching
// decisions that affect cross-worker pairing derive from random draws made on
// rank 0 and broadcast, so every rank computes a mutually consistent global
// assignment for its own bookkeeping. Walker state moves between ranks
// through tagged point-to-point transfers; tags are derived from (source
// rank, destination rank, pair index) so concurrent outstanding transfers
// never alias.
package ensemble

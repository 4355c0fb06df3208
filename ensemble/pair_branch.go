package ensemble

import (
	"math"
	"sort"

	"github.com/hupe1980/afqmcgo/comm"
)

// pair-branch exchange record layout, one row of floats per walker
const (
	pbWeight  = 0 // |weight| after the global rescale
	pbMult    = 1 // 0 killed, 1 untouched, 2 kept copy of a pair
	pbOwner   = 2 // rank owning the walker
	pbPartner = 3 // peer rank of the pair (transfer endpoint)
	pbPair    = 4 // pair index within this epoch, -1 if unpaired
	pbFields  = 5
)

// pairBranch applies pair branching: rank 0 sorts all walkers globally by
// weight magnitude, repeatedly pairs the lightest remaining walker with the
// heaviest, and while either violates [minWeight, maxWeight] keeps one of the
// two at half their combined weight, choosing the survivor with probability
// proportional to its share. Decisions are made only on rank 0 and scattered
// back, then each rank completes the matched tagged transfers for its own
// slots.
func (e *Ensemble) pairBranch(c comm.Communicator) error {
	rank := c.Rank()
	local := make([]float64, e.nw*pbFields)
	for i, w := range e.walkers {
		row := local[i*pbFields : (i+1)*pbFields]
		row[pbWeight] = math.Abs(w.Weight)
		row[pbMult] = 1
		row[pbOwner] = float64(rank)
		row[pbPartner] = float64(rank)
		row[pbPair] = -1
	}
	global := make([]float64, e.ntot*pbFields)
	if err := c.Gather(local, global, 0); err != nil {
		return err
	}

	if rank == 0 {
		order := make([]int, e.ntot)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return global[order[a]*pbFields+pbWeight] < global[order[b]*pbFields+pbWeight]
		})
		s, t := 0, e.ntot-1
		pair := 0
		for s < t {
			lo := global[order[s]*pbFields : order[s]*pbFields+pbFields]
			hi := global[order[t]*pbFields : order[t]*pbFields+pbFields]
			if lo[pbWeight] >= e.minWeight && hi[pbWeight] <= e.maxWeight {
				break
			}
			wab := lo[pbWeight] + hi[pbWeight]
			keep, kill := lo, hi
			if e.rng.Float64() < hi[pbWeight]/wab {
				keep, kill = hi, lo
			}
			keep[pbWeight] = 0.5 * wab
			keep[pbMult] = 2
			keep[pbPartner] = kill[pbOwner]
			keep[pbPair] = float64(pair)
			kill[pbWeight] = 0
			kill[pbMult] = 0
			kill[pbPartner] = keep[pbOwner]
			kill[pbPair] = float64(pair)
			pair++
			s++
			t--
		}
	}
	if err := c.Scatter(global, local, 0); err != nil {
		return err
	}

	var reqs []comm.Request
	for i := range e.walkers {
		row := local[i*pbFields : (i+1)*pbFields]
		if int(row[pbMult]) != 2 {
			continue
		}
		dest := int(row[pbPartner])
		e.walkers[i].Weight = row[pbWeight]
		buf, err := e.GetBuffer(i)
		if err != nil {
			return err
		}
		req, err := c.ISend(buf, dest, transferTag(rank, dest, int(row[pbPair]), c.Size(), e.ntot))
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	for i := range e.walkers {
		row := local[i*pbFields : (i+1)*pbFields]
		if int(row[pbMult]) != 0 {
			continue
		}
		src := int(row[pbPartner])
		if err := c.Recv(e.buf, src, transferTag(src, rank, int(row[pbPair]), c.Size(), e.ntot)); err != nil {
			return err
		}
		if err := e.SetBuffer(i, e.buf); err != nil {
			return err
		}
	}
	for _, r := range reqs {
		if err := r.Wait(); err != nil {
			return err
		}
	}
	return c.Barrier()
}

package ensemble

import (
	"gonum.org/v1/gonum/floats"

	"github.com/hupe1980/afqmcgo/comm"
)

// transfer moves the state of global walker src into the slot of global
// walker dst.
type transfer struct {
	src, dst int
}

// comb applies the comb branching algorithm (Booth & Gubernatis,
// PRE 80, 046704). The rescaled global weights are laid end to end and
// ntot equally spaced markers, offset by one shared random draw broadcast
// from rank 0, select each walker's multiplicity. Zero-marker walkers are
// overwritten with clones of multi-marker walkers through tagged transfers,
// and every surviving weight is reset to one.
//
// Given the weight vector and the shared draw the assignment is fully
// deterministic, so every rank computes it locally and they all agree.
func (e *Ensemble) comb(c comm.Communicator, global []float64) error {
	draw := make([]float64, 1)
	if c.Rank() == 0 {
		draw[0] = e.rng.Float64()
	}
	if err := c.Bcast(draw, 0); err != nil {
		return err
	}
	mult := combAssign(global, e.ntot, draw[0])
	transfers := combTransfers(mult)

	rank := c.Rank()
	var reqs []comm.Request
	for pair, t := range transfers {
		srcRank := t.src / e.nw
		if srcRank != rank {
			continue
		}
		buf, err := e.GetBuffer(t.src % e.nw)
		if err != nil {
			return err
		}
		req, err := c.ISend(buf, t.dst/e.nw, transferTag(srcRank, t.dst/e.nw, pair, c.Size(), e.ntot))
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	for pair, t := range transfers {
		dstRank := t.dst / e.nw
		if dstRank != rank {
			continue
		}
		srcRank := t.src / e.nw
		if err := c.Recv(e.buf, srcRank, transferTag(srcRank, dstRank, pair, c.Size(), e.ntot)); err != nil {
			return err
		}
		if err := e.SetBuffer(t.dst%e.nw, e.buf); err != nil {
			return err
		}
	}
	for _, r := range reqs {
		if err := r.Wait(); err != nil {
			return err
		}
	}
	if err := c.Barrier(); err != nil {
		return err
	}
	for _, w := range e.walkers {
		w.Weight = 1.0
	}
	return nil
}

// combAssign computes each walker's multiplicity: the number of the target
// equally spaced markers, offset by the shared draw r in [0,1), that land in
// its weight interval.
func combAssign(weights []float64, target int, r float64) []int {
	mult := make([]int, len(weights))
	cum := make([]float64, len(weights))
	floats.CumSum(cum, weights)
	total := cum[len(cum)-1]
	step := total / float64(target)
	iw := 0
	for ic := 0; ic < target; ic++ {
		marker := (float64(ic) + r) * step
		for iw < len(cum)-1 && marker >= cum[iw] {
			iw++
		}
		mult[iw]++
	}
	return mult
}

// combTransfers pairs each zero-multiplicity slot with a clone of a walker
// that drew more than one marker, in deterministic index order. The marker
// count equals the population size, so sources and kill slots always balance.
func combTransfers(mult []int) []transfer {
	var kills []int
	for i, m := range mult {
		if m == 0 {
			kills = append(kills, i)
		}
	}
	var out []transfer
	k := 0
	for src, m := range mult {
		for extra := 1; extra < m; extra++ {
			out = append(out, transfer{src: src, dst: kills[k]})
			k++
		}
	}
	return out
}

package walker

import (
	"fmt"
)

// BufferVersion identifies the flat buffer layout below. Bump it whenever a
// field is added, removed or reordered so checkpoint readers can reject
// records written under a different contract.
const BufferVersion = 1

// Buffer layout, in order, all complex128:
//
//	[0]                weight (real part; imaginary part zero)
//	[1]                phase
//	[2]                overlap
//	[3]                hybrid energy
//	[4:4+nbasis*nup]   spin-up orbital block, row major
//	[...:...]          spin-down orbital block, row major
const numScalarFields = 4

// BufferSize returns the flat buffer length for the given dimensions.
func BufferSize(nbasis, nup, ndown int) int {
	return numScalarFields + nbasis*(nup+ndown)
}

// BufferLen returns the walker's own flat buffer length.
func (w *Walker) BufferLen() int {
	return BufferSize(w.nbasis, w.nup, w.ndown)
}

// EncodeBuffer serializes the walker's transferable state into dst, which
// must have length BufferLen. Cached derived quantities (inverse overlap,
// Green's function) are not encoded; the receiver recomputes them.
func (w *Walker) EncodeBuffer(dst []complex128) error {
	if len(dst) != w.BufferLen() {
		return fmt.Errorf("walker: encode buffer length %d, want %d", len(dst), w.BufferLen())
	}
	dst[0] = complex(w.Weight, 0)
	dst[1] = w.Phase
	dst[2] = w.Ovlp
	dst[3] = w.HybridEnergy
	off := numScalarFields
	for spin := 0; spin < 2; spin++ {
		n := copy(dst[off:], w.Phi[spin].Data)
		off += n
	}
	return nil
}

// DecodeBuffer overwrites the walker's transferable state from src, which
// must have length BufferLen. The caller is responsible for recomputing the
// inverse overlap and Green's function afterwards if derived state is needed
// before the next propagation step.
func (w *Walker) DecodeBuffer(src []complex128) error {
	if len(src) != w.BufferLen() {
		return fmt.Errorf("walker: decode buffer length %d, want %d", len(src), w.BufferLen())
	}
	w.Weight = real(src[0])
	w.UnscaledWeight = real(src[0])
	w.Phase = src[1]
	w.Ovlp = src[2]
	w.HybridEnergy = src[3]
	off := numScalarFields
	for spin := 0; spin < 2; spin++ {
		n := copy(w.Phi[spin].Data, src[off:])
		off += n
	}
	return nil
}

// CopyFrom overwrites the walker's full state with a deep copy of src. Both
// walkers must share the same dimensions.
func (w *Walker) CopyFrom(src *Walker) {
	w.Weight = src.Weight
	w.UnscaledWeight = src.UnscaledWeight
	w.Phase = src.Phase
	w.Ovlp = src.Ovlp
	w.HybridEnergy = src.HybridEnergy
	for spin := 0; spin < 2; spin++ {
		if w.sectorSize(spin) > 0 {
			w.Phi[spin].CopyFrom(src.Phi[spin])
			w.Ghalf[spin].CopyFrom(src.Ghalf[spin])
			w.invOvlp[spin].CopyFrom(src.invOvlp[spin])
		}
		w.detS[spin] = src.detS[spin]
	}
	w.G[0].CopyFrom(src.G[0])
	w.G[1].CopyFrom(src.G[1])
}

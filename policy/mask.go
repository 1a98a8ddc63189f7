package policy

import (
	"gonum.org/v1/gonum/mat"

	"github.com/jason-s-yu/molgraph/tensor"
)

// Masks describes which node slots of each batch element may be chosen.
//
// Valid covers the first ValidLen[b] slots. FirstEligible covers the first
// FirstLen[b] = ValidLen[b] - atomTypeNum slots: the trailing atomTypeNum
// occupied slots stand for candidate new atoms and never start an edit.
type Masks struct {
	Valid         [][]bool
	FirstEligible [][]bool
	ValidLen      []int
	FirstLen      []int
}

// NoFirst reports whether element b has no first-eligible node. This is a
// legitimate terminal condition; the distribution is then near uniform over
// all slots and the caller decides what to do.
func (m Masks) NoFirst(b int) bool { return m.FirstLen[b] <= 0 }

// Mask derives validity masks from node features [B, 1, n, D].
func Mask(node *tensor.Tensor, atomTypeNum int) Masks {
	bsz := node.Dim(0)
	m := Masks{
		Valid:         make([][]bool, bsz),
		FirstEligible: make([][]bool, bsz),
		ValidLen:      make([]int, bsz),
		FirstLen:      make([]int, bsz),
	}
	for b := 0; b < bsz; b++ {
		el := maskElement(node.Matrix(b, 0), atomTypeNum)
		m.Valid[b], m.FirstEligible[b] = el.valid, el.first
		m.ValidLen[b], m.FirstLen[b] = el.validLen, el.firstLen
	}
	return m
}

type elementMask struct {
	valid, first       []bool
	validLen, firstLen int
}

// maskElement masks one graph's features [n, D].
func maskElement(x mat.RawMatrixer, atomTypeNum int) elementMask {
	raw := x.RawMatrix()
	validLen := 0
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for _, v := range row {
			if v != 0 {
				validLen++
				break
			}
		}
	}
	firstLen := validLen - atomTypeNum
	return elementMask{
		valid:    sequenceMask(validLen, raw.Rows),
		first:    sequenceMask(firstLen, raw.Rows),
		validLen: validLen,
		firstLen: firstLen,
	}
}

// sequenceMask marks the first length of maxLen slots. Negative lengths give
// an all-false mask.
func sequenceMask(length, maxLen int) []bool {
	m := make([]bool, maxLen)
	for i := 0; i < length && i < maxLen; i++ {
		m[i] = true
	}
	return m
}

// exclude returns keep with index idx cleared, as a new slice.
func exclude(keep []bool, idx int) []bool {
	out := append([]bool(nil), keep...)
	if idx >= 0 && idx < len(out) {
		out[idx] = false
	}
	return out
}

// applyMask overwrites logits where keep is false with MaskSentinel.
func applyMask(logits []float64, keep []bool) {
	for i := range logits {
		if !keep[i] {
			logits[i] = MaskSentinel
		}
	}
}

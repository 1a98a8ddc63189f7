package policy

import (
	"gonum.org/v1/gonum/mat"
)

// valueHead maps every node to a scalar and keeps the maximum.
type valueHead struct {
	hidden, out *dense
}

func newValueHead(p *Params) (*valueHead, error) {
	h, err := newDense(p, "value1", EmbedDim, HiddenDim, true)
	if err != nil {
		return nil, err
	}
	o, err := newDense(p, "value2", HiddenDim, 1, false)
	if err != nil {
		return nil, err
	}
	return &valueHead{hidden: h, out: o}, nil
}

// value returns max over all node slots of the per-node estimate.
func (v *valueHead) value(emb mat.Matrix) float64 {
	return mat.Max(v.out.apply(v.hidden.apply(emb)))
}

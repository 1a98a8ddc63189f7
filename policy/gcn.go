package policy

import (
	"gonum.org/v1/gonum/mat"

	"github.com/jason-s-yu/molgraph/tensor"
)

// smallEncoder stacks two graph convolutions: gcn1 with ReLU, then gcn2
// without activation and with L2-normalised output rows.
type smallEncoder struct {
	gcn1, gcn2 *gcnLayer
}

func newSmallEncoder(p *Params, sp ObservationSpace) (encoder, error) {
	g1, err := newGCNLayer(p, "gcn1", sp.EdgeTypes, sp.FeatureDim, EmbedDim, true, false)
	if err != nil {
		return nil, err
	}
	g2, err := newGCNLayer(p, "gcn2", sp.EdgeTypes, EmbedDim, EmbedDim, false, true)
	if err != nil {
		return nil, err
	}
	return &smallEncoder{gcn1: g1, gcn2: g2}, nil
}

func (e *smallEncoder) encode(adj *tensor.Tensor, x mat.Matrix) *mat.Dense {
	h := e.gcn1.forward(adj, x)
	return e.gcn2.forward(adj, h)
}

package policy

import (
	"gonum.org/v1/gonum/mat"
)

// firstSelector scores every node with a two-layer MLP.
type firstSelector struct {
	hidden, out *dense
}

func newFirstSelector(p *Params) (*firstSelector, error) {
	h, err := newDense(p, "linear_select1", EmbedDim, HiddenDim, true)
	if err != nil {
		return nil, err
	}
	o, err := newDense(p, "linear_select2", HiddenDim, 1, false)
	if err != nil {
		return nil, err
	}
	return &firstSelector{hidden: h, out: o}, nil
}

// logits returns masked per-node scores for emb [n, EmbedDim].
func (s *firstSelector) logits(emb mat.Matrix, eligible []bool) []float64 {
	scores := s.out.apply(s.hidden.apply(emb))
	n, _ := scores.Dims()
	out := make([]float64, n)
	mat.Col(out, 0, scores)
	applyMask(out, eligible)
	return out
}

// secondSelector scores every node against the chosen first node with a
// bilinear form.
type secondSelector struct {
	bl *bilinear
}

func newSecondSelector(p *Params) (*secondSelector, error) {
	bl, err := newBilinear(p, "logits_second", EmbedDim)
	if err != nil {
		return nil, err
	}
	return &secondSelector{bl: bl}, nil
}

// logits returns scores masked to valid nodes other than first.
func (s *secondSelector) logits(firstEmb []float64, emb mat.Matrix, valid []bool, first int) []float64 {
	out := s.bl.score(firstEmb, emb)
	applyMask(out, exclude(valid, first))
	return out
}

// edgeSelector scores every edge type for a (first, second) embedding pair.
// All edge types are candidates.
type edgeSelector struct {
	bl *bilinearMulti
}

func newEdgeSelector(p *Params, edgeTypes int) (*edgeSelector, error) {
	bl, err := newBilinearMulti(p, "bilinear", edgeTypes, EmbedDim)
	if err != nil {
		return nil, err
	}
	return &edgeSelector{bl: bl}, nil
}

func (s *edgeSelector) logits(firstEmb, secondEmb []float64) []float64 {
	return s.bl.score(firstEmb, secondEmb)
}

// rowOf returns a copy of row i of m.
func rowOf(m *mat.Dense, i int) []float64 {
	return mat.Row(nil, i, m)
}

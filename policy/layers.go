package policy

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/jason-s-yu/molgraph/tensor"
)

// ---------------------------------------------------------------------------
// Activations
// ---------------------------------------------------------------------------

func relu(_, _ int, v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

// l2NormalizeRows scales each row of m to unit L2 norm, with the squared norm
// floored at 1e-12.
func l2NormalizeRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		sq := floats.Dot(row, row)
		floats.Scale(1/math.Sqrt(math.Max(sq, 1e-12)), row)
	}
}

// addRowVec adds v to every row of m.
func addRowVec(m *mat.Dense, v []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), v)
	}
}

// ---------------------------------------------------------------------------
// Dense
// ---------------------------------------------------------------------------

// dense is a fully connected layer: x @ kernel + bias.
type dense struct {
	kernel *tensor.Tensor // [in, out]
	bias   *tensor.Tensor // [out]
	relu   bool
}

func newDense(p *Params, name string, in, out int, withRelu bool) (*dense, error) {
	k, err := p.getOrCreate(name+"/kernel", []int{in, out}, GlorotUniform)
	if err != nil {
		return nil, err
	}
	b, err := p.getOrCreate(name+"/bias", []int{out}, Zeros)
	if err != nil {
		return nil, err
	}
	return &dense{kernel: k, bias: b, relu: withRelu}, nil
}

// apply maps x [n, in] to [n, out].
func (d *dense) apply(x mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(x, d.kernel.Matrix())
	addRowVec(&out, d.bias.Data)
	if d.relu {
		out.Apply(relu, &out)
	}
	return &out
}

// ---------------------------------------------------------------------------
// Graph convolution
// ---------------------------------------------------------------------------

// gcnLayer convolves node features over every edge-type channel and averages
// the channels:
//
//	h = mean_e act(A[e] @ X @ W[e] + b[e])
//
// then optionally L2-normalises each node's embedding.
type gcnLayer struct {
	w         *tensor.Tensor // [1, E, in, out]
	b         *tensor.Tensor // [1, E, 1, out]
	edgeTypes int
	act       bool
	normalize bool
}

func newGCNLayer(p *Params, name string, edgeTypes, in, out int, act, normalize bool) (*gcnLayer, error) {
	w, err := p.getOrCreate(name+"/W", []int{1, edgeTypes, in, out}, GlorotUniform)
	if err != nil {
		return nil, err
	}
	b, err := p.getOrCreate(name+"/b", []int{1, edgeTypes, 1, out}, GlorotUniform)
	if err != nil {
		return nil, err
	}
	return &gcnLayer{w: w, b: b, edgeTypes: edgeTypes, act: act, normalize: normalize}, nil
}

// forward maps one graph: adj [E, n, n], x [n, in] -> [n, out].
func (l *gcnLayer) forward(adj *tensor.Tensor, x mat.Matrix) *mat.Dense {
	n, _ := x.Dims()
	out := l.w.Dim(3)
	sum := mat.NewDense(n, out, nil)
	var ax, h mat.Dense
	for e := 0; e < l.edgeTypes; e++ {
		ax.Reset()
		h.Reset()
		ax.Mul(adj.Matrix(e), x)
		h.Mul(&ax, l.w.Matrix(0, e))
		addRowVec(&h, l.b.Row(0, e, 0))
		if l.act {
			h.Apply(relu, &h)
		}
		sum.Add(sum, &h)
	}
	sum.Scale(1/float64(l.edgeTypes), sum)
	if l.normalize {
		l2NormalizeRows(sum)
	}
	return sum
}

// ---------------------------------------------------------------------------
// Bilinear scoring
// ---------------------------------------------------------------------------

// bilinear scores one query embedding against every row of keys:
// q @ W @ keysᵀ.
type bilinear struct {
	w *tensor.Tensor // [1, d, d]
}

func newBilinear(p *Params, name string, d int) (*bilinear, error) {
	w, err := p.getOrCreate(name+"/W", []int{1, d, d}, GlorotUniform)
	if err != nil {
		return nil, err
	}
	return &bilinear{w: w}, nil
}

// score returns one value per key row.
func (b *bilinear) score(q []float64, keys mat.Matrix) []float64 {
	n, _ := keys.Dims()
	var qw mat.VecDense
	qw.MulVec(b.w.Matrix(0).T(), mat.NewVecDense(len(q), q))
	out := make([]float64, n)
	res := mat.NewVecDense(n, out)
	res.MulVec(keys, &qw)
	return out
}

// bilinearMulti scores a pair of embeddings once per output channel:
// x @ W[k] @ yᵀ for k in [0, channels).
type bilinearMulti struct {
	w *tensor.Tensor // [1, channels, d, d]
}

func newBilinearMulti(p *Params, name string, channels, d int) (*bilinearMulti, error) {
	w, err := p.getOrCreate(name+"/W", []int{1, channels, d, d}, GlorotUniform)
	if err != nil {
		return nil, err
	}
	return &bilinearMulti{w: w}, nil
}

func (b *bilinearMulti) score(x, y []float64) []float64 {
	channels := b.w.Dim(1)
	xv := mat.NewVecDense(len(x), x)
	yv := mat.NewVecDense(len(y), y)
	out := make([]float64, channels)
	for k := range out {
		out[k] = mat.Inner(xv, b.w.Matrix(0, k), yv)
	}
	return out
}

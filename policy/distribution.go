package policy

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// Categorical is a distribution over len(logits) outcomes parameterised by
// unnormalised log-probabilities.
type Categorical struct {
	logits []float64
	lse    float64
}

// NewCategorical copies logits into a new distribution.
func NewCategorical(logits []float64) *Categorical {
	l := append([]float64(nil), logits...)
	return &Categorical{logits: l, lse: floats.LogSumExp(l)}
}

// Len returns the number of outcomes.
func (c *Categorical) Len() int { return len(c.logits) }

// Logits returns a copy of the logits.
func (c *Categorical) Logits() []float64 { return append([]float64(nil), c.logits...) }

// Probs returns the softmax of the logits.
func (c *Categorical) Probs() []float64 {
	p := make([]float64, len(c.logits))
	for i, l := range c.logits {
		p[i] = math.Exp(l - c.lse)
	}
	return p
}

// Prob returns the probability of outcome x.
func (c *Categorical) Prob(x int) float64 { return math.Exp(c.LogProb(x)) }

// LogProb returns log p(x).
func (c *Categorical) LogProb(x int) float64 { return c.logits[x] - c.lse }

// NegLogProb returns -log p(x).
func (c *Categorical) NegLogProb(x int) float64 { return c.lse - c.logits[x] }

// Entropy returns -sum p log p.
func (c *Categorical) Entropy() float64 {
	h := 0.0
	for _, l := range c.logits {
		lp := l - c.lse
		h -= math.Exp(lp) * lp
	}
	return h
}

// KL returns KL(c || o). Both must have the same number of outcomes.
func (c *Categorical) KL(o *Categorical) float64 {
	kl := 0.0
	for i, l := range c.logits {
		lp := l - c.lse
		kl += math.Exp(lp) * (lp - o.LogProb(i))
	}
	return kl
}

// Mode returns the most likely outcome.
func (c *Categorical) Mode() int { return floats.MaxIdx(c.logits) }

// Sample draws an outcome with the Gumbel-max trick:
// argmax(logits - log(-log(u))).
func (c *Categorical) Sample(rng *rand.Rand) int {
	best, bestV := 0, math.Inf(-1)
	for i, l := range c.logits {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		if v := l - math.Log(-math.Log(u)); v > bestV {
			best, bestV = i, v
		}
	}
	return best
}

// ---------------------------------------------------------------------------
// MultiCategorical
// ---------------------------------------------------------------------------

// MultiCategorical is the factorised action distribution: three independent
// categorical heads (first node, second node, edge type) per batch element.
// Every quantity is the sum over heads.
type MultiCategorical struct {
	heads [3][]*Categorical
}

// NewMultiCategorical builds a distribution from per-element logits rows of
// each head. All heads must have the same batch size.
func NewMultiCategorical(first, second, edge [][]float64) (*MultiCategorical, error) {
	if len(first) != len(second) || len(first) != len(edge) {
		return nil, fmt.Errorf("%w: head batch sizes %d/%d/%d", ErrBatchMismatch, len(first), len(second), len(edge))
	}
	var d MultiCategorical
	for h, rows := range [3][][]float64{first, second, edge} {
		d.heads[h] = make([]*Categorical, len(rows))
		for b, r := range rows {
			d.heads[h][b] = NewCategorical(r)
		}
	}
	return &d, nil
}

// Len returns the batch size.
func (d *MultiCategorical) Len() int { return len(d.heads[0]) }

// Head returns the per-element distributions of head h (ActFirst, ActSecond
// or ActEdge).
func (d *MultiCategorical) Head(h int) []*Categorical { return d.heads[h] }

func (d *MultiCategorical) check(actions []Action) error {
	if len(actions) != d.Len() {
		return fmt.Errorf("%w: %d actions for batch of %d", ErrBatchMismatch, len(actions), d.Len())
	}
	for b, a := range actions {
		for h := range d.heads {
			if a[h] < 0 || a[h] >= d.heads[h][b].Len() {
				return fmt.Errorf("%w: element %d action %v head %d", ErrActionRange, b, a, h)
			}
		}
	}
	return nil
}

// LogProb returns log p(action) per element.
func (d *MultiCategorical) LogProb(actions []Action) ([]float64, error) {
	if err := d.check(actions); err != nil {
		return nil, err
	}
	out := make([]float64, len(actions))
	for b, a := range actions {
		for h := range d.heads {
			out[b] += d.heads[h][b].LogProb(a[h])
		}
	}
	return out, nil
}

// NegLogProb returns -log p(action) per element.
func (d *MultiCategorical) NegLogProb(actions []Action) ([]float64, error) {
	lp, err := d.LogProb(actions)
	if err != nil {
		return nil, err
	}
	floats.Scale(-1, lp)
	return lp, nil
}

// Entropy returns the summed head entropy per element.
func (d *MultiCategorical) Entropy() []float64 {
	out := make([]float64, d.Len())
	for h := range d.heads {
		for b, c := range d.heads[h] {
			out[b] += c.Entropy()
		}
	}
	return out
}

// KL returns KL(d || o) per element. Head sizes must agree element-wise.
func (d *MultiCategorical) KL(o *MultiCategorical) ([]float64, error) {
	if o.Len() != d.Len() {
		return nil, fmt.Errorf("%w: KL between batches of %d and %d", ErrBatchMismatch, d.Len(), o.Len())
	}
	out := make([]float64, d.Len())
	for h := range d.heads {
		for b, c := range d.heads[h] {
			if c.Len() != o.heads[h][b].Len() {
				return nil, fmt.Errorf("%w: head %d element %d has %d vs %d outcomes", ErrShape, h, b, c.Len(), o.heads[h][b].Len())
			}
			out[b] += c.KL(o.heads[h][b])
		}
	}
	return out, nil
}

// Mode returns the per-head argmax for every element.
func (d *MultiCategorical) Mode() []Action {
	out := make([]Action, d.Len())
	for h := range d.heads {
		for b, c := range d.heads[h] {
			out[b][h] = c.Mode()
		}
	}
	return out
}

// Sample draws every head independently.
func (d *MultiCategorical) Sample(rng *rand.Rand) []Action {
	out := make([]Action, d.Len())
	for b := range out {
		for h := range d.heads {
			out[b][h] = d.heads[h][b].Sample(rng)
		}
	}
	return out
}

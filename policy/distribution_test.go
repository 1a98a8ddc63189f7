package policy

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

// TestCategoricalBasics verifies probabilities, log-probabilities and mode.
func TestCategoricalBasics(t *testing.T) {
	c := NewCategorical([]float64{0, math.Log(3), 0})
	probs := c.Probs()
	want := []float64{0.2, 0.6, 0.2}
	sum := 0.0
	for i, p := range probs {
		sum += p
		if !almostEqual(p, want[i], 1e-12) {
			t.Errorf("p[%d] = %f, want %f", i, p, want[i])
		}
	}
	if !almostEqual(sum, 1, 1e-12) {
		t.Errorf("sum = %f", sum)
	}
	if !almostEqual(c.LogProb(1), math.Log(0.6), 1e-12) || !almostEqual(c.NegLogProb(1), -math.Log(0.6), 1e-12) {
		t.Errorf("LogProb(1) = %f", c.LogProb(1))
	}
	if c.Mode() != 1 {
		t.Errorf("Mode = %d, want 1", c.Mode())
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d", c.Len())
	}
}

// TestCategoricalEntropyAndKL verifies closed-form values.
func TestCategoricalEntropyAndKL(t *testing.T) {
	u := NewCategorical([]float64{1, 1, 1, 1})
	if !almostEqual(u.Entropy(), math.Log(4), 1e-12) {
		t.Errorf("uniform entropy = %f, want %f", u.Entropy(), math.Log(4))
	}
	if kl := u.KL(u); !almostEqual(kl, 0, 1e-12) {
		t.Errorf("KL(u||u) = %f", kl)
	}
	p := NewCategorical([]float64{math.Log(0.5), math.Log(0.5)})
	q := NewCategorical([]float64{math.Log(0.25), math.Log(0.75)})
	want := 0.5*math.Log(0.5/0.25) + 0.5*math.Log(0.5/0.75)
	if kl := p.KL(q); !almostEqual(kl, want, 1e-12) {
		t.Errorf("KL = %f, want %f", kl, want)
	}
}

// TestCategoricalSampleFrequencies verifies Gumbel-max sampling follows the
// softmax and never picks sentinel-masked outcomes.
func TestCategoricalSampleFrequencies(t *testing.T) {
	c := NewCategorical([]float64{0, math.Log(3), MaskSentinel})
	rng := rand.New(rand.NewPCG(1, 2))
	const n = 20000
	counts := make([]int, 3)
	for i := 0; i < n; i++ {
		counts[c.Sample(rng)]++
	}
	if counts[2] != 0 {
		t.Errorf("masked outcome sampled %d times", counts[2])
	}
	if f := float64(counts[1]) / n; math.Abs(f-0.75) > 0.02 {
		t.Errorf("frequency of outcome 1 = %f, want ~0.75", f)
	}
}

// TestMultiCategoricalSums verifies joint quantities are sums over heads.
func TestMultiCategoricalSums(t *testing.T) {
	first := [][]float64{{0, 0}, {1, 2}}
	second := [][]float64{{0, 0, 0}, {0, MaskSentinel, 1}}
	edge := [][]float64{{0, 0}, {3, 0}}
	d, err := NewMultiCategorical(first, second, edge)
	if err != nil {
		t.Fatalf("NewMultiCategorical: %v", err)
	}
	acts := []Action{{1, 2, 0}, {0, 2, 1}}
	lp, err := d.LogProb(acts)
	if err != nil {
		t.Fatalf("LogProb: %v", err)
	}
	for b, a := range acts {
		want := NewCategorical(first[b]).LogProb(a[0]) +
			NewCategorical(second[b]).LogProb(a[1]) +
			NewCategorical(edge[b]).LogProb(a[2])
		if !almostEqual(lp[b], want, 1e-12) {
			t.Errorf("element %d: logp %f, want %f", b, lp[b], want)
		}
	}
	nlp, _ := d.NegLogProb(acts)
	if nlp[0] != -lp[0] {
		t.Errorf("NegLogProb = %f, want %f", nlp[0], -lp[0])
	}
	ent := d.Entropy()
	if want := math.Log(2) + math.Log(3) + math.Log(2); !almostEqual(ent[0], want, 1e-12) {
		t.Errorf("entropy = %f, want %f", ent[0], want)
	}
	mode := d.Mode()
	if mode[1] != (Action{1, 2, 0}) {
		t.Errorf("mode = %v, want (1,2,0)", mode[1])
	}
	kl, err := d.KL(d)
	if err != nil || !almostEqual(kl[1], 0, 1e-12) {
		t.Errorf("KL(d||d) = %v, %v", kl, err)
	}
	s := d.Sample(rand.New(rand.NewPCG(3, 3)))
	if len(s) != 2 || s[1].Second() == 1 {
		t.Errorf("sample %v", s)
	}
}

// TestMultiCategoricalErrors verifies batch and range validation.
func TestMultiCategoricalErrors(t *testing.T) {
	if _, err := NewMultiCategorical([][]float64{{0}}, nil, [][]float64{{0}}); !errors.Is(err, ErrBatchMismatch) {
		t.Errorf("head mismatch: expected ErrBatchMismatch, got %v", err)
	}
	d, _ := NewMultiCategorical([][]float64{{0, 0}}, [][]float64{{0, 0}}, [][]float64{{0}})
	if _, err := d.LogProb([]Action{{0, 0, 0}, {0, 0, 0}}); !errors.Is(err, ErrBatchMismatch) {
		t.Errorf("batch: expected ErrBatchMismatch, got %v", err)
	}
	if _, err := d.LogProb([]Action{{0, 0, 1}}); !errors.Is(err, ErrActionRange) {
		t.Errorf("range: expected ErrActionRange, got %v", err)
	}
	o, _ := NewMultiCategorical([][]float64{{0, 0, 0}}, [][]float64{{0, 0}}, [][]float64{{0}})
	if _, err := d.KL(o); !errors.Is(err, ErrShape) {
		t.Errorf("KL head size: expected ErrShape, got %v", err)
	}
}

// Package policy implements a graph-convolutional actor-critic network for
// agents that build a graph one edit at a time.
//
// Given a batch of graph states (a multi-channel adjacency tensor and a node
// feature matrix) the network produces a factorised, masked, autoregressive
// distribution over the next edit (first node, second node, edge type) and a
// scalar state value. A call is a pure function of the parameters and the
// observation; the only state carried between calls is the parameter set and
// the sampling RNG.
package policy

import (
	"fmt"
	"io"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/jason-s-yu/molgraph/tensor"
)

// GCNPolicy is the graph policy network. It is safe for concurrent use.
type GCNPolicy struct {
	scope       string
	kind        Kind
	obSpace     ObservationSpace
	acSpace     ActionSpace
	atomTypeNum int

	params *Params
	enc    encoder
	first  *firstSelector
	second *secondSelector
	edge   *edgeSelector
	vf     *valueHead

	rngMu sync.Mutex
	rng   *rand.Rand

	parallelism int
	log         logrus.FieldLogger
}

// Option configures Build.
type Option func(*options)

type options struct {
	seed        uint64
	log         logrus.FieldLogger
	parallelism int
}

// WithSeed seeds both parameter initialisation and action sampling.
func WithSeed(seed uint64) Option { return func(o *options) { o.seed = seed } }

// WithLogger sets the logger. The default discards output.
func WithLogger(l logrus.FieldLogger) Option { return func(o *options) { o.log = l } }

// WithParallelism bounds how many batch elements are processed at once.
// Values below 1 mean GOMAXPROCS.
func WithParallelism(n int) Option { return func(o *options) { o.parallelism = n } }

// Build creates a policy and all of its parameters under scope.
// atomTypeNum is the number of trailing occupied slots that represent
// candidate new atoms rather than existing ones.
func Build(scope string, ob ObservationSpace, ac ActionSpace, kind Kind, atomTypeNum int, opts ...Option) (*GCNPolicy, error) {
	o := options{seed: 1}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.log = l
	}
	if o.parallelism < 1 {
		o.parallelism = runtime.GOMAXPROCS(0)
	}
	if _, ok := architectures[kind]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	if err := ob.validate(); err != nil {
		return nil, err
	}
	if err := ac.validate(ob); err != nil {
		return nil, err
	}
	if atomTypeNum < 0 {
		return nil, fmt.Errorf("%w: negative atom type count %d", ErrBadSpace, atomTypeNum)
	}

	p := &GCNPolicy{
		scope:       scope,
		kind:        kind,
		obSpace:     ob,
		acSpace:     ac,
		atomTypeNum: atomTypeNum,
		params:      NewParams(scope, o.seed),
		rng:         rand.New(rand.NewPCG(o.seed, o.seed+0x9e3779b97f4a7c15)),
		parallelism: o.parallelism,
		log:         o.log.WithField("scope", scope),
	}
	if err := p.buildLayers(); err != nil {
		return nil, fmt.Errorf("build %s policy %q: %w", kind, scope, err)
	}

	p.log.WithFields(logrus.Fields{
		"kind":          kind.String(),
		"edge_types":    ob.EdgeTypes,
		"feature_dim":   ob.FeatureDim,
		"max_nodes":     ob.MaxNodes,
		"atom_type_num": atomTypeNum,
		"embedding":     fmt.Sprintf("[B n %d]", EmbedDim),
		"logits_first":  "[B n]",
		"logits_second": "[B n]",
		"logits_edge":   fmt.Sprintf("[B %d]", ob.EdgeTypes),
		"parameters":    p.params.Count(),
	}).Debug("policy built")
	return p, nil
}

func (p *GCNPolicy) buildLayers() error {
	var err error
	if p.enc, err = newEncoder(p.kind, p.params, p.obSpace); err != nil {
		return err
	}
	if p.first, err = newFirstSelector(p.params); err != nil {
		return err
	}
	if p.second, err = newSecondSelector(p.params); err != nil {
		return err
	}
	if p.edge, err = newEdgeSelector(p.params, p.obSpace.EdgeTypes); err != nil {
		return err
	}
	p.vf, err = newValueHead(p.params)
	return err
}

// Scope returns the name every variable is prefixed with.
func (p *GCNPolicy) Scope() string { return p.params.Scope() }

// Kind returns the encoder architecture.
func (p *GCNPolicy) Kind() Kind { return p.kind }

// ObservationSpace returns the space the policy was built for.
func (p *GCNPolicy) ObservationSpace() ObservationSpace { return p.obSpace }

// ActionSpace returns the action space the policy was built for.
func (p *GCNPolicy) ActionSpace() ActionSpace { return p.acSpace }

// AtomTypeNum returns the number of reserved new-atom slots.
func (p *GCNPolicy) AtomTypeNum() int { return p.atomTypeNum }

// Params returns the parameter container.
func (p *GCNPolicy) Params() *Params { return p.params }

// Variables returns every parameter under the policy scope.
func (p *GCNPolicy) Variables() []Variable { return p.params.Variables() }

// TrainableVariables returns the trainable parameters under the policy scope.
func (p *GCNPolicy) TrainableVariables() []Variable { return p.params.TrainableVariables() }

// Recurrent reports whether the policy carries recurrent state. It does not.
func (p *GCNPolicy) Recurrent() bool { return false }

// InitialState returns the (empty) recurrent state.
func (p *GCNPolicy) InitialState() []*tensor.Tensor { return nil }

// ---------------------------------------------------------------------------
// Forward pass
// ---------------------------------------------------------------------------

// Diagnostics exposes the intermediate values of an Act call.
type Diagnostics struct {
	ObNodeShape  []int
	ObAdjShape   []int
	Embeddings   *tensor.Tensor // [B, n, EmbedDim]
	FirstLogits  *tensor.Tensor // [B, n]
	SecondLogits *tensor.Tensor // [B, n], conditioned on the sampled first node
	EdgeLogits   *tensor.Tensor // [B, E], conditioned on the sampled nodes
	Masks        Masks
	SecondMask   [][]bool
	Actions      []Action
}

// NoFirst reports whether element b had no first-eligible node.
func (d *Diagnostics) NoFirst(b int) bool { return d.Masks.NoFirst(b) }

// Evaluation is the ground-truth-conditioned view of a batch.
type Evaluation struct {
	FirstLogits  *tensor.Tensor // [B, n]
	SecondLogits *tensor.Tensor // [B, n], conditioned on acReal first nodes
	EdgeLogits   *tensor.Tensor // [B, E], conditioned on acReal first and second nodes
	Dist         *MultiCategorical
	Values       []float64
	Sampled      []Action // interaction-path actions of the same call
}

// interaction holds one element's sampled path.
type interaction struct {
	firstLogits  []float64
	secondLogits []float64
	secondMask   []bool
	edgeLogits   []float64
	action       Action
}

// elementOut is everything computed for one batch element.
type elementOut struct {
	emb   *mat.Dense
	mask  elementMask
	inter interaction
	value float64

	// evaluation path, only when a ground-truth action was given
	secondReal []float64
	edgeReal   []float64
}

// interact samples first, second and edge type in turn, each conditioned on
// the previous samples.
func (p *GCNPolicy) interact(emb *mat.Dense, m elementMask, rng *rand.Rand) interaction {
	var it interaction
	it.firstLogits = p.first.logits(emb, m.first)
	first := NewCategorical(it.firstLogits).Sample(rng)

	firstEmb := rowOf(emb, first)
	it.secondMask = exclude(m.valid, first)
	it.secondLogits = p.second.logits(firstEmb, emb, m.valid, first)
	second := NewCategorical(it.secondLogits).Sample(rng)

	it.edgeLogits = p.edge.logits(firstEmb, rowOf(emb, second))
	edge := NewCategorical(it.edgeLogits).Sample(rng)

	it.action = Action{first, second, edge}
	return it
}

// evaluate recomputes the second-node and edge-type logits as if acReal had
// been taken. It draws no randomness.
func (p *GCNPolicy) evaluate(emb *mat.Dense, m elementMask, acReal Action) (second, edge []float64) {
	firstEmb := rowOf(emb, acReal.First())
	second = p.second.logits(firstEmb, emb, m.valid, acReal.First())
	edge = p.edge.logits(firstEmb, rowOf(emb, acReal.Second()))
	return second, edge
}

// forward encodes every element once and runs the interaction path, plus the
// evaluation path when acReal is non-nil.
func (p *GCNPolicy) forward(ob Observation, acReal []Action) ([]elementOut, error) {
	if err := ob.validate(p.obSpace); err != nil {
		return nil, err
	}
	bsz, n := ob.BatchSize(), ob.Nodes()
	if acReal != nil {
		if len(acReal) != bsz {
			return nil, fmt.Errorf("%w: %d actions for batch of %d", ErrBatchMismatch, len(acReal), bsz)
		}
		for b, a := range acReal {
			if a.First() < 0 || a.First() >= n || a.Second() < 0 || a.Second() >= n || a.Edge() < 0 || a.Edge() >= p.obSpace.EdgeTypes {
				return nil, fmt.Errorf("%w: element %d action %v with %d nodes and %d edge types", ErrActionRange, b, a, n, p.obSpace.EdgeTypes)
			}
		}
	}

	seeds := make([]uint64, bsz)
	p.rngMu.Lock()
	for b := range seeds {
		seeds[b] = p.rng.Uint64()
	}
	p.rngMu.Unlock()

	p.params.rlock()
	defer p.params.runlock()

	out := make([]elementOut, bsz)
	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for b := 0; b < bsz; b++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seeds[b], uint64(b)))
			el := &out[b]
			el.emb = p.enc.encode(ob.Adj.Sub(b), ob.Node.Matrix(b, 0))
			el.mask = maskElement(ob.Node.Matrix(b, 0), p.atomTypeNum)
			el.inter = p.interact(el.emb, el.mask, rng)
			el.value = p.vf.value(el.emb)
			if acReal != nil {
				el.secondReal, el.edgeReal = p.evaluate(el.emb, el.mask, acReal[b])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for b := range out {
		if out[b].mask.firstLen <= 0 {
			p.log.WithFields(logrus.Fields{"element": b, "valid_len": out[b].mask.validLen}).Debug("no first-eligible node")
		}
	}
	return out, nil
}

// Act samples one action per batch element and estimates each state's value.
//
// stochastic is accepted for interface compatibility; actions are always
// sampled.
func (p *GCNPolicy) Act(stochastic bool, ob Observation) ([]Action, []float64, *Diagnostics, error) {
	out, err := p.forward(ob, nil)
	if err != nil {
		return nil, nil, nil, err
	}

	bsz := len(out)
	actions := make([]Action, bsz)
	values := make([]float64, bsz)
	embs := make([]*mat.Dense, bsz)
	first := make([][]float64, bsz)
	second := make([][]float64, bsz)
	edge := make([][]float64, bsz)
	diag := &Diagnostics{
		ObNodeShape: append([]int(nil), ob.Node.Shape...),
		ObAdjShape:  append([]int(nil), ob.Adj.Shape...),
		Masks: Masks{
			Valid:         make([][]bool, bsz),
			FirstEligible: make([][]bool, bsz),
			ValidLen:      make([]int, bsz),
			FirstLen:      make([]int, bsz),
		},
		SecondMask: make([][]bool, bsz),
	}
	for b, el := range out {
		actions[b] = el.inter.action
		values[b] = el.value
		embs[b] = el.emb
		first[b], second[b], edge[b] = el.inter.firstLogits, el.inter.secondLogits, el.inter.edgeLogits
		diag.Masks.Valid[b], diag.Masks.FirstEligible[b] = el.mask.valid, el.mask.first
		diag.Masks.ValidLen[b], diag.Masks.FirstLen[b] = el.mask.validLen, el.mask.firstLen
		diag.SecondMask[b] = el.inter.secondMask
	}
	diag.Actions = actions
	if diag.Embeddings, err = tensor.StackMatrices(embs); err != nil {
		return nil, nil, nil, err
	}
	if diag.FirstLogits, err = tensor.Stack(first); err != nil {
		return nil, nil, nil, err
	}
	if diag.SecondLogits, err = tensor.Stack(second); err != nil {
		return nil, nil, nil, err
	}
	if diag.EdgeLogits, err = tensor.Stack(edge); err != nil {
		return nil, nil, nil, err
	}
	return actions, values, diag, nil
}

// Evaluate builds the action distribution used for log-probability
// computation: first-node logits as usual, second-node and edge-type logits
// conditioned on the recorded action acReal rather than on a fresh sample.
func (p *GCNPolicy) Evaluate(ob Observation, acReal []Action) (*Evaluation, error) {
	if acReal == nil {
		acReal = []Action{}
	}
	out, err := p.forward(ob, acReal)
	if err != nil {
		return nil, err
	}
	bsz := len(out)
	ev := &Evaluation{Values: make([]float64, bsz), Sampled: make([]Action, bsz)}
	first := make([][]float64, bsz)
	second := make([][]float64, bsz)
	edge := make([][]float64, bsz)
	for b, el := range out {
		first[b], second[b], edge[b] = el.inter.firstLogits, el.secondReal, el.edgeReal
		ev.Values[b] = el.value
		ev.Sampled[b] = el.inter.action
	}
	if ev.Dist, err = NewMultiCategorical(first, second, edge); err != nil {
		return nil, err
	}
	if ev.FirstLogits, err = tensor.Stack(first); err != nil {
		return nil, err
	}
	if ev.SecondLogits, err = tensor.Stack(second); err != nil {
		return nil, err
	}
	if ev.EdgeLogits, err = tensor.Stack(edge); err != nil {
		return nil, err
	}
	return ev, nil
}

// Encode returns node embeddings [B, n, EmbedDim] for a batch.
func (p *GCNPolicy) Encode(ob Observation) (*tensor.Tensor, error) {
	if err := ob.validate(p.obSpace); err != nil {
		return nil, err
	}
	p.params.rlock()
	defer p.params.runlock()
	bsz := ob.BatchSize()
	out := tensor.New(bsz, ob.Nodes(), EmbedDim)
	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for b := 0; b < bsz; b++ {
		g.Go(func() error {
			out.SetMatrix(p.enc.encode(ob.Adj.Sub(b), ob.Node.Matrix(b, 0)), b)
			return nil
		})
	}
	return out, g.Wait()
}

// Values returns the state-value estimate per batch element.
func (p *GCNPolicy) Values(ob Observation) ([]float64, error) {
	if err := ob.validate(p.obSpace); err != nil {
		return nil, err
	}
	p.params.rlock()
	defer p.params.runlock()
	out := make([]float64, ob.BatchSize())
	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for b := range out {
		g.Go(func() error {
			out[b] = p.vf.value(p.enc.encode(ob.Adj.Sub(b), ob.Node.Matrix(b, 0)))
			return nil
		})
	}
	return out, g.Wait()
}

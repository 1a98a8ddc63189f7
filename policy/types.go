package policy

import (
	"fmt"

	"github.com/jason-s-yu/molgraph/tensor"
)

const (
	// EmbedDim is the node embedding width produced by every GCN layer.
	EmbedDim = 32
	// HiddenDim is the width of the hidden dense layer in the first-node
	// selector and the value head.
	HiddenDim = 32
	// MaskSentinel overwrites logits of ineligible nodes. It is not -Inf so
	// masked entries keep a residual probability of roughly e^-100.
	MaskSentinel = -100.0
)

// Action indices inside an Action triple.
const (
	ActFirst  = 0
	ActSecond = 1
	ActEdge   = 2
)

// Action is one graph edit: (first node, second node, edge type).
type Action [3]int

// First returns the initiating node index.
func (a Action) First() int { return a[ActFirst] }

// Second returns the target node index.
func (a Action) Second() int { return a[ActSecond] }

// Edge returns the edge-type index.
func (a Action) Edge() int { return a[ActEdge] }

func (a Action) String() string {
	return fmt.Sprintf("(%d,%d,%d)", a[0], a[1], a[2])
}

// ObservationSpace fixes the channel count and feature width of observations,
// and bounds the node-slot capacity.
type ObservationSpace struct {
	EdgeTypes  int // E: adjacency channels
	MaxNodes   int // upper bound on n
	FeatureDim int // D: node feature width
}

// ActionSpace is a MultiDiscrete space over (first, second, edge type).
type ActionSpace struct {
	NVec [3]int
}

// ActionSpaceFor returns the action space matching an observation space.
func ActionSpaceFor(ob ObservationSpace) ActionSpace {
	return ActionSpace{NVec: [3]int{ob.MaxNodes, ob.MaxNodes, ob.EdgeTypes}}
}

func (s ObservationSpace) validate() error {
	if s.EdgeTypes <= 0 || s.MaxNodes <= 0 || s.FeatureDim <= 0 {
		return fmt.Errorf("%w: observation space %+v", ErrBadSpace, s)
	}
	return nil
}

func (s ActionSpace) validate(ob ObservationSpace) error {
	if s.NVec != ActionSpaceFor(ob).NVec {
		return fmt.Errorf("%w: action space %v does not match observation space %+v", ErrBadSpace, s.NVec, ob)
	}
	return nil
}

// Observation is a batch of graph states.
//
//	Adj:  [B, E, n, n]  one adjacency matrix per edge type
//	Node: [B, 1, n, D]  node features; unused slots are all-zero rows
type Observation struct {
	Adj  *tensor.Tensor
	Node *tensor.Tensor
}

// NewObservation allocates a zero observation with batch size b and n slots.
func NewObservation(b, n int, sp ObservationSpace) Observation {
	return Observation{
		Adj:  tensor.New(b, sp.EdgeTypes, n, n),
		Node: tensor.New(b, 1, n, sp.FeatureDim),
	}
}

// BatchSize returns B.
func (o Observation) BatchSize() int { return o.Node.Dim(0) }

// Nodes returns the slot capacity n of this observation.
func (o Observation) Nodes() int { return o.Node.Dim(2) }

// Element returns a batch-of-one view of element b.
func (o Observation) Element(b int) Observation {
	adj := o.Adj.Sub(b)
	node := o.Node.Sub(b)
	return Observation{
		Adj:  &tensor.Tensor{Shape: append([]int{1}, adj.Shape...), Data: adj.Data},
		Node: &tensor.Tensor{Shape: append([]int{1}, node.Shape...), Data: node.Data},
	}
}

// Concat joins observations along the batch axis. All inputs must share n.
func Concat(obs ...Observation) (Observation, error) {
	if len(obs) == 0 {
		return Observation{}, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}
	first := obs[0]
	b := 0
	for i, o := range obs {
		if !tensor.EqualShape(o.Adj.Shape[1:], first.Adj.Shape[1:]) || !tensor.EqualShape(o.Node.Shape[1:], first.Node.Shape[1:]) {
			return Observation{}, fmt.Errorf("%w: observation %d has adj %v node %v, want adj %v node %v",
				ErrShape, i, o.Adj.Shape, o.Node.Shape, first.Adj.Shape, first.Node.Shape)
		}
		b += o.BatchSize()
	}
	out := Observation{
		Adj:  tensor.New(append([]int{b}, first.Adj.Shape[1:]...)...),
		Node: tensor.New(append([]int{b}, first.Node.Shape[1:]...)...),
	}
	adjOff, nodeOff := 0, 0
	for _, o := range obs {
		adjOff += copy(out.Adj.Data[adjOff:], o.Adj.Data)
		nodeOff += copy(out.Node.Data[nodeOff:], o.Node.Data)
	}
	return out, nil
}

// validate checks o against the space the policy was built for.
func (o Observation) validate(sp ObservationSpace) error {
	if o.Adj == nil || o.Node == nil {
		return fmt.Errorf("%w: missing adjacency or node tensor", ErrShape)
	}
	if o.Adj.Rank() != 4 || o.Node.Rank() != 4 {
		return fmt.Errorf("%w: adj %v and node %v must both be rank 4", ErrShape, o.Adj.Shape, o.Node.Shape)
	}
	b, n := o.Node.Dim(0), o.Node.Dim(2)
	switch {
	case b == 0:
		return fmt.Errorf("%w: empty batch", ErrShape)
	case n == 0 || n > sp.MaxNodes:
		return fmt.Errorf("%w: %d node slots, capacity is %d", ErrShape, n, sp.MaxNodes)
	case o.Node.Dim(1) != 1:
		return fmt.Errorf("%w: node axis 1 is %d, want 1", ErrShape, o.Node.Dim(1))
	case o.Node.Dim(3) != sp.FeatureDim:
		return fmt.Errorf("%w: feature dim %d, want %d", ErrShape, o.Node.Dim(3), sp.FeatureDim)
	case !tensor.EqualShape(o.Adj.Shape, []int{b, sp.EdgeTypes, n, n}):
		return fmt.Errorf("%w: adj %v, want %v", ErrShape, o.Adj.Shape, []int{b, sp.EdgeTypes, n, n})
	}
	return nil
}

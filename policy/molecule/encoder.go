package molecule

import (
	"fmt"

	"github.com/jason-s-yu/molgraph/policy"
)

// DefaultAtomTypes is the heavy-atom vocabulary used for drug-like molecules.
var DefaultAtomTypes = []string{"C", "N", "O", "S", "P", "F", "I", "Cl", "Br"}

const (
	DefaultMaxAtoms  = 38
	DefaultEdgeTypes = 3 // single, double, triple
)

// Encoder converts molecules to observations of a fixed slot capacity.
type Encoder struct {
	AtomTypes []string
	MaxAtoms  int
	EdgeTypes int

	index map[string]int
}

// NewEncoder validates the configuration and returns an Encoder.
func NewEncoder(atomTypes []string, maxAtoms, edgeTypes int) (*Encoder, error) {
	if len(atomTypes) == 0 || maxAtoms <= 0 || edgeTypes <= 0 {
		return nil, fmt.Errorf("%w: %d atom types, %d max atoms, %d edge types", ErrBadEncoder, len(atomTypes), maxAtoms, edgeTypes)
	}
	idx := make(map[string]int, len(atomTypes))
	for i, a := range atomTypes {
		if _, dup := idx[a]; dup {
			return nil, fmt.Errorf("%w: duplicate atom type %q", ErrBadEncoder, a)
		}
		idx[a] = i
	}
	return &Encoder{
		AtomTypes: append([]string(nil), atomTypes...),
		MaxAtoms:  maxAtoms,
		EdgeTypes: edgeTypes,
		index:     idx,
	}, nil
}

// AtomTypeNum returns the number of atom types, which is also the number of
// reserved new-atom slots.
func (e *Encoder) AtomTypeNum() int { return len(e.AtomTypes) }

// Slots returns the slot capacity n.
func (e *Encoder) Slots() int { return e.MaxAtoms + len(e.AtomTypes) }

// Spaces returns the observation and action spaces a policy for this encoder
// must be built with.
func (e *Encoder) Spaces() (policy.ObservationSpace, policy.ActionSpace) {
	ob := policy.ObservationSpace{EdgeTypes: e.EdgeTypes, MaxNodes: e.Slots(), FeatureDim: len(e.AtomTypes)}
	return ob, policy.ActionSpaceFor(ob)
}

// AtomIndex returns the feature index of an atom symbol.
func (e *Encoder) AtomIndex(symbol string) (int, bool) {
	i, ok := e.index[symbol]
	return i, ok
}

// Encode returns a batch-of-one observation for m.
func (e *Encoder) Encode(m *Molecule) (policy.Observation, error) {
	return e.EncodeBatch([]*Molecule{m})
}

// EncodeBatch encodes every molecule into one observation batch.
func (e *Encoder) EncodeBatch(ms []*Molecule) (policy.Observation, error) {
	sp, _ := e.Spaces()
	ob := policy.NewObservation(len(ms), e.Slots(), sp)
	for b, m := range ms {
		if err := e.encodeInto(ob, b, m); err != nil {
			return policy.Observation{}, fmt.Errorf("molecule %d: %w", b, err)
		}
	}
	return ob, nil
}

func (e *Encoder) encodeInto(ob policy.Observation, b int, m *Molecule) error {
	k := len(m.Atoms)
	if k > e.MaxAtoms {
		return fmt.Errorf("%w: %d atoms, capacity %d", ErrTooManyAtoms, k, e.MaxAtoms)
	}
	for i, a := range m.Atoms {
		t, ok := e.index[a]
		if !ok {
			return fmt.Errorf("%w: %q at atom %d", ErrUnknownAtom, a, i)
		}
		ob.Node.Set(1, b, 0, i, t)
	}
	for t := range e.AtomTypes {
		ob.Node.Set(1, b, 0, k+t, t)
	}

	occupied := k + len(e.AtomTypes)
	for ch := 0; ch < e.EdgeTypes; ch++ {
		for i := 0; i < occupied; i++ {
			ob.Adj.Set(1, b, ch, i, i)
		}
	}
	for _, bd := range m.Bonds {
		if bd.A < 0 || bd.A >= k || bd.B < 0 || bd.B >= k || bd.Type < 0 || bd.Type >= e.EdgeTypes {
			return fmt.Errorf("%w: %+v with %d atoms", ErrBadBond, bd, k)
		}
		ob.Adj.Set(1, b, bd.Type, bd.A, bd.B)
		ob.Adj.Set(1, b, bd.Type, bd.B, bd.A)
	}
	return nil
}

// Decode interprets a policy action against the molecule it was sampled for.
// A second node inside the new-atom block means "add an atom of that type
// bonded to first"; otherwise both nodes are existing atoms.
func (e *Encoder) Decode(a policy.Action, m *Molecule) (Edit, error) {
	k := len(m.Atoms)
	switch {
	case a.First() < 0 || a.First() >= k:
		return Edit{}, fmt.Errorf("%w: first node %d is not one of %d atoms", ErrInvalidAction, a.First(), k)
	case a.Edge() < 0 || a.Edge() >= e.EdgeTypes:
		return Edit{}, fmt.Errorf("%w: edge type %d", ErrInvalidAction, a.Edge())
	case a.Second() == a.First():
		return Edit{}, fmt.Errorf("%w: self bond on %d", ErrInvalidAction, a.First())
	case a.Second() >= 0 && a.Second() < k:
		return Edit{Kind: EditBond, From: a.First(), To: a.Second(), BondType: a.Edge()}, nil
	case a.Second() >= k && a.Second() < k+len(e.AtomTypes):
		if k >= e.MaxAtoms {
			return Edit{}, fmt.Errorf("%w: cannot add atom %d", ErrTooManyAtoms, k+1)
		}
		return Edit{
			Kind:     EditAddAtom,
			From:     a.First(),
			To:       k,
			AtomType: e.AtomTypes[a.Second()-k],
			BondType: a.Edge(),
		}, nil
	default:
		return Edit{}, fmt.Errorf("%w: second node %d outside %d occupied slots", ErrInvalidAction, a.Second(), k+len(e.AtomTypes))
	}
}

// Step decodes a and applies it to m.
func (e *Encoder) Step(a policy.Action, m *Molecule) (Edit, error) {
	ed, err := e.Decode(a, m)
	if err != nil {
		return Edit{}, err
	}
	if err := m.Apply(ed); err != nil {
		return Edit{}, err
	}
	return ed, nil
}

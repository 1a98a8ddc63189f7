// Package molecule maps molecular graphs to policy observations and policy
// actions back to graph edits.
//
// Slot layout of an encoded molecule with k atoms and T atom types:
//
//	0 .. k-1        existing atoms, one-hot atom type
//	k .. k+T-1      one candidate new atom per type, one-hot that type
//	k+T .. n-1      empty (zero features, no edges)
//
// The trailing T occupied slots are exactly the ones the policy refuses to
// start an edit from, so the policy must be built with atomTypeNum = T.
package molecule

import (
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrUnknownAtom   = errors.New("unknown atom type")
	ErrTooManyAtoms  = errors.New("molecule exceeds atom capacity")
	ErrInvalidAction = errors.New("action does not map to an edit")
	ErrBondExists    = errors.New("bond already exists")
	ErrBadBond       = errors.New("bond references a missing atom or edge type")
	ErrBadEncoder    = errors.New("bad encoder configuration")
)

// Bond joins atoms A and B with bond type Type (an edge channel index).
type Bond struct {
	A    int `json:"a"`
	B    int `json:"b"`
	Type int `json:"type"`
}

// Molecule is a graph of typed atoms.
type Molecule struct {
	Atoms []string `json:"atoms"`
	Bonds []Bond   `json:"bonds"`
}

// New returns a molecule with a single atom, the usual starting state.
func New(atom string) *Molecule {
	return &Molecule{Atoms: []string{atom}}
}

// NumAtoms returns the number of atoms.
func (m *Molecule) NumAtoms() int { return len(m.Atoms) }

// Clone returns a deep copy.
func (m *Molecule) Clone() *Molecule {
	return &Molecule{
		Atoms: append([]string(nil), m.Atoms...),
		Bonds: append([]Bond(nil), m.Bonds...),
	}
}

// HasBond reports whether atoms a and b are bonded, with any bond type.
func (m *Molecule) HasBond(a, b int) bool {
	for _, bd := range m.Bonds {
		if (bd.A == a && bd.B == b) || (bd.A == b && bd.B == a) {
			return true
		}
	}
	return false
}

// Formula returns the atom counts in first-seen order, e.g. "C3O1".
func (m *Molecule) Formula() string {
	var order []string
	counts := make(map[string]int)
	for _, a := range m.Atoms {
		if counts[a] == 0 {
			order = append(order, a)
		}
		counts[a]++
	}
	var sb strings.Builder
	for _, a := range order {
		fmt.Fprintf(&sb, "%s%d", a, counts[a])
	}
	return sb.String()
}

// EditKind distinguishes the two edits an action can describe.
type EditKind uint8

const (
	EditBond    EditKind = iota // bond two existing atoms
	EditAddAtom                 // add a new atom bonded to an existing one
)

func (k EditKind) String() string {
	switch k {
	case EditBond:
		return "bond"
	case EditAddAtom:
		return "add_atom"
	default:
		return fmt.Sprintf("EditKind(%d)", uint8(k))
	}
}

// Edit is a decoded action.
type Edit struct {
	Kind     EditKind `json:"kind"`
	From     int      `json:"from"`
	To       int      `json:"to"` // existing atom for EditBond, index the new atom will get for EditAddAtom
	AtomType string   `json:"atom_type,omitempty"`
	BondType int      `json:"bond_type"`
}

// Apply performs ed in place. A failed edit leaves m unchanged.
func (m *Molecule) Apply(ed Edit) error {
	k := len(m.Atoms)
	if ed.From < 0 || ed.From >= k {
		return fmt.Errorf("%w: from atom %d of %d", ErrBadBond, ed.From, k)
	}
	switch ed.Kind {
	case EditAddAtom:
		if ed.AtomType == "" {
			return fmt.Errorf("%w: add atom without a type", ErrInvalidAction)
		}
		m.Atoms = append(m.Atoms, ed.AtomType)
		m.Bonds = append(m.Bonds, Bond{A: ed.From, B: k, Type: ed.BondType})
		return nil
	case EditBond:
		if ed.To < 0 || ed.To >= k || ed.To == ed.From {
			return fmt.Errorf("%w: bond %d-%d in %d atoms", ErrBadBond, ed.From, ed.To, k)
		}
		if m.HasBond(ed.From, ed.To) {
			return fmt.Errorf("%w: %d-%d", ErrBondExists, ed.From, ed.To)
		}
		a, b := ed.From, ed.To
		if a > b {
			a, b = b, a
		}
		m.Bonds = append(m.Bonds, Bond{A: a, B: b, Type: ed.BondType})
		return nil
	default:
		return fmt.Errorf("%w: edit kind %s", ErrInvalidAction, ed.Kind)
	}
}

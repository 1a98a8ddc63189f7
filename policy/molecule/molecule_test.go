package molecule

import (
	"errors"
	"testing"

	"github.com/jason-s-yu/molgraph/policy"
)

func testEncoder(t testing.TB) *Encoder {
	t.Helper()
	e, err := NewEncoder([]string{"C", "N", "O"}, 5, 3)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	return e
}

// TestNewEncoderValidation verifies bad configurations are rejected.
func TestNewEncoderValidation(t *testing.T) {
	tests := []struct {
		name  string
		atoms []string
		max   int
		edges int
	}{
		{"no atoms", nil, 5, 3},
		{"zero capacity", []string{"C"}, 0, 3},
		{"zero edges", []string{"C"}, 5, 0},
		{"duplicate", []string{"C", "C"}, 5, 3},
	}
	for _, tt := range tests {
		if _, err := NewEncoder(tt.atoms, tt.max, tt.edges); !errors.Is(err, ErrBadEncoder) {
			t.Errorf("%s: expected ErrBadEncoder, got %v", tt.name, err)
		}
	}
}

// TestEncodeLayout verifies features, self-loops and bonds of an encoded
// molecule.
func TestEncodeLayout(t *testing.T) {
	e := testEncoder(t)
	m := &Molecule{Atoms: []string{"C", "O"}, Bonds: []Bond{{A: 0, B: 1, Type: 1}}}
	ob, err := e.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n := ob.Nodes(); n != 8 {
		t.Fatalf("slots = %d, want 8", n)
	}

	// Existing atoms, then one new-atom slot per type, then empty slots.
	wantType := []int{0, 2, 0, 1, 2, -1, -1, -1}
	for i, wt := range wantType {
		for f := 0; f < 3; f++ {
			want := 0.0
			if f == wt {
				want = 1
			}
			if got := ob.Node.At(0, 0, i, f); got != want {
				t.Errorf("node[%d][%d] = %f, want %f", i, f, got, want)
			}
		}
	}
	for ch := 0; ch < 3; ch++ {
		for i := 0; i < 8; i++ {
			want := 0.0
			if i < 5 {
				want = 1
			}
			if got := ob.Adj.At(0, ch, i, i); got != want {
				t.Errorf("self loop ch %d slot %d = %f, want %f", ch, i, got, want)
			}
		}
	}
	if ob.Adj.At(0, 1, 0, 1) != 1 || ob.Adj.At(0, 1, 1, 0) != 1 {
		t.Errorf("bond 0-1 missing in channel 1")
	}
	if ob.Adj.At(0, 0, 0, 1) != 0 || ob.Adj.At(0, 2, 0, 1) != 0 {
		t.Errorf("bond 0-1 leaked into other channels")
	}

	masks := policy.Mask(ob.Node, e.AtomTypeNum())
	if masks.ValidLen[0] != 5 || masks.FirstLen[0] != 2 {
		t.Errorf("mask lengths (%d, %d), want (5, 2)", masks.ValidLen[0], masks.FirstLen[0])
	}
}

// TestEncodeErrors verifies malformed molecules are rejected.
func TestEncodeErrors(t *testing.T) {
	e := testEncoder(t)
	tests := []struct {
		name string
		m    *Molecule
		want error
	}{
		{"unknown atom", &Molecule{Atoms: []string{"Xe"}}, ErrUnknownAtom},
		{"too many", &Molecule{Atoms: []string{"C", "C", "C", "C", "C", "C"}}, ErrTooManyAtoms},
		{"dangling bond", &Molecule{Atoms: []string{"C"}, Bonds: []Bond{{A: 0, B: 1}}}, ErrBadBond},
		{"bad bond type", &Molecule{Atoms: []string{"C", "C"}, Bonds: []Bond{{A: 0, B: 1, Type: 3}}}, ErrBadBond},
	}
	for _, tt := range tests {
		if _, err := e.EncodeBatch([]*Molecule{New("C"), tt.m}); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

// TestDecode verifies the mapping of actions to edits.
func TestDecode(t *testing.T) {
	e := testEncoder(t)
	m := &Molecule{Atoms: []string{"C", "C"}}
	tests := []struct {
		name string
		a    policy.Action
		want Edit
		err  error
	}{
		{"bond existing", policy.Action{0, 1, 2}, Edit{Kind: EditBond, From: 0, To: 1, BondType: 2}, nil},
		{"add nitrogen", policy.Action{1, 3, 0}, Edit{Kind: EditAddAtom, From: 1, To: 2, AtomType: "N", BondType: 0}, nil},
		{"add oxygen", policy.Action{0, 4, 1}, Edit{Kind: EditAddAtom, From: 0, To: 2, AtomType: "O", BondType: 1}, nil},
		{"first is new-atom slot", policy.Action{2, 0, 0}, Edit{}, ErrInvalidAction},
		{"self bond", policy.Action{1, 1, 0}, Edit{}, ErrInvalidAction},
		{"second empty slot", policy.Action{0, 5, 0}, Edit{}, ErrInvalidAction},
		{"edge out of range", policy.Action{0, 1, 3}, Edit{}, ErrInvalidAction},
	}
	for _, tt := range tests {
		got, err := e.Decode(tt.a, m)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.err, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
	}

	full := &Molecule{Atoms: []string{"C", "C", "C", "C", "C"}}
	if _, err := e.Decode(policy.Action{0, 5, 0}, full); !errors.Is(err, ErrTooManyAtoms) {
		t.Errorf("full molecule: expected ErrTooManyAtoms, got %v", err)
	}
}

// TestApply verifies edits mutate the molecule and duplicates are refused.
func TestApply(t *testing.T) {
	e := testEncoder(t)
	m := New("C")
	steps := []policy.Action{
		{0, 1, 0}, // add C
		{1, 4, 1}, // add O double-bonded to atom 1
		{0, 2, 0}, // bond 0-2
	}
	for i, a := range steps {
		if _, err := e.Step(a, m); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if m.Formula() != "C2O1" {
		t.Errorf("Formula = %q, want C2O1", m.Formula())
	}
	if len(m.Bonds) != 3 || !m.HasBond(2, 0) {
		t.Errorf("bonds = %+v", m.Bonds)
	}
	before := m.Clone()
	if _, err := e.Step(policy.Action{2, 0, 2}, m); !errors.Is(err, ErrBondExists) {
		t.Errorf("duplicate bond: expected ErrBondExists, got %v", err)
	}
	if len(m.Bonds) != len(before.Bonds) {
		t.Errorf("failed edit changed the molecule")
	}
	if err := m.Apply(Edit{Kind: EditKind(9), From: 0}); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("unknown kind: expected ErrInvalidAction, got %v", err)
	}
}

// TestPolicyRollout builds a policy for the encoder and grows a molecule
// with sampled actions.
func TestPolicyRollout(t *testing.T) {
	e, err := NewEncoder(DefaultAtomTypes, 12, DefaultEdgeTypes)
	if err != nil {
		t.Fatal(err)
	}
	ob, ac := e.Spaces()
	p, err := policy.Build("pi", ob, ac, policy.KindSmall, e.AtomTypeNum(), policy.WithSeed(4))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	m := New("C")
	applied := 0
	for step := 0; step < 40 && m.NumAtoms() < e.MaxAtoms; step++ {
		obs, err := e.Encode(m)
		if err != nil {
			t.Fatalf("step %d Encode: %v", step, err)
		}
		acts, _, diag, err := p.Act(true, obs)
		if err != nil {
			t.Fatalf("step %d Act: %v", step, err)
		}
		if diag.Masks.FirstLen[0] != m.NumAtoms() {
			t.Fatalf("step %d: first_len %d, want %d", step, diag.Masks.FirstLen[0], m.NumAtoms())
		}
		_, err = e.Step(acts[0], m)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, ErrBondExists):
			// Legal for the policy, rejected by the graph.
		default:
			t.Fatalf("step %d: action %v: %v", step, acts[0], err)
		}
	}
	if applied == 0 {
		t.Errorf("no edit applied in 40 steps")
	}
	if _, err := e.Encode(m); err != nil {
		t.Errorf("final Encode: %v", err)
	}
}

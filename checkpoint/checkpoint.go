// Package checkpoint captures policy parameters into snapshots and persists
// them to a file directory, Redis, Postgres or SQLite.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jason-s-yu/molgraph/policy"
	"github.com/jason-s-yu/molgraph/tensor"
)

// Errors
var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrMismatch = errors.New("checkpoint does not match policy")
)

// Variable is one parameter tensor, named relative to the policy scope so a
// snapshot of "pi" can be restored into "oldpi".
type Variable struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Snapshot is a point-in-time copy of every policy parameter.
type Snapshot struct {
	ID        uuid.UUID  `json:"id"`
	Scope     string     `json:"scope"`
	Kind      string     `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
	Variables []Variable `json:"variables"`
}

// Info describes a stored snapshot without its parameters.
type Info struct {
	ID         uuid.UUID `json:"id"`
	Scope      string    `json:"scope"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
	Parameters int       `json:"parameters"`
}

// Info summarises s.
func (s *Snapshot) Info() Info {
	n := 0
	for _, v := range s.Variables {
		n += len(v.Data)
	}
	return Info{ID: s.ID, Scope: s.Scope, Kind: s.Kind, CreatedAt: s.CreatedAt, Parameters: n}
}

// Store persists snapshots keyed by scope.
type Store interface {
	// Save stores s. Saving the same ID twice overwrites it.
	Save(ctx context.Context, s *Snapshot) error
	// Load returns the most recent snapshot of scope.
	Load(ctx context.Context, scope string) (*Snapshot, error)
	// Get returns one snapshot by ID.
	Get(ctx context.Context, scope string, id uuid.UUID) (*Snapshot, error)
	// List returns every snapshot of scope, oldest first.
	List(ctx context.Context, scope string) ([]Info, error)
	Close() error
}

// Capture copies every variable of p into a new snapshot.
func Capture(p *policy.GCNPolicy) *Snapshot {
	prefix := p.Scope() + "/"
	vars := p.Params().Snapshot()
	s := &Snapshot{
		ID:        uuid.New(),
		Scope:     p.Scope(),
		Kind:      p.Kind().String(),
		CreatedAt: time.Now().UTC(),
		Variables: make([]Variable, len(vars)),
	}
	for i, v := range vars {
		s.Variables[i] = Variable{Name: strings.TrimPrefix(v.Name, prefix), Shape: v.Value.Shape, Data: v.Value.Data}
	}
	return s
}

// Restore writes s into p. The snapshot must hold exactly p's variables with
// matching shapes; otherwise nothing is written.
func Restore(p *policy.GCNPolicy, s *Snapshot) error {
	if s.Kind != "" && s.Kind != p.Kind().String() {
		return fmt.Errorf("%w: snapshot kind %s, policy kind %s", ErrMismatch, s.Kind, p.Kind())
	}
	want := p.Variables()
	if len(s.Variables) != len(want) {
		return fmt.Errorf("%w: %d variables, policy has %d", ErrMismatch, len(s.Variables), len(want))
	}
	values := make(map[string]*tensor.Tensor, len(s.Variables))
	for _, v := range s.Variables {
		t, err := tensor.FromData(v.Data, v.Shape...)
		if err != nil {
			return fmt.Errorf("%w: variable %s: %v", ErrMismatch, v.Name, err)
		}
		values[p.Scope()+"/"+v.Name] = t
	}
	if err := p.Params().Assign(values); err != nil {
		return fmt.Errorf("%w: %v", ErrMismatch, err)
	}
	return nil
}

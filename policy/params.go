package policy

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"github.com/jason-s-yu/molgraph/tensor"
)

// Initializer fills a freshly created variable.
type Initializer func(t *tensor.Tensor, rng *rand.Rand)

// GlorotUniform draws from U(-limit, limit) with limit = sqrt(6/(fanIn+fanOut)).
// For rank > 2 the leading axes form the receptive field, as in TensorFlow.
func GlorotUniform(t *tensor.Tensor, rng *rand.Rand) {
	fanIn, fanOut := computeFans(t.Shape)
	limit := math.Sqrt(6 / (fanIn + fanOut))
	for i := range t.Data {
		t.Data[i] = (2*rng.Float64() - 1) * limit
	}
}

// Zeros leaves the variable at zero.
func Zeros(*tensor.Tensor, *rand.Rand) {}

func computeFans(shape []int) (fanIn, fanOut float64) {
	switch len(shape) {
	case 0:
		return 1, 1
	case 1:
		return float64(shape[0]), float64(shape[0])
	case 2:
		return float64(shape[0]), float64(shape[1])
	}
	receptive := float64(tensor.Volume(shape[:len(shape)-2]))
	return float64(shape[len(shape)-2]) * receptive, float64(shape[len(shape)-1]) * receptive
}

// Variable is a named parameter tensor.
type Variable struct {
	Name      string
	Value     *tensor.Tensor
	Trainable bool
}

// Params owns every parameter created under a scope. Variables are created
// once by name and reused afterwards, so two layers built under the same
// name share weights.
//
// Forward passes hold the read lock; Update holds the write lock.
type Params struct {
	mu    sync.RWMutex
	scope string
	vars  map[string]*Variable
	rng   *rand.Rand
}

// NewParams creates an empty container whose initializers draw from seed.
func NewParams(scope string, seed uint64) *Params {
	return &Params{
		scope: scope,
		vars:  make(map[string]*Variable),
		rng:   rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)),
	}
}

// Scope returns the name prefix of every variable.
func (p *Params) Scope() string { return p.scope }

func (p *Params) fullName(name string) string {
	if p.scope == "" {
		return name
	}
	return p.scope + "/" + name
}

// getOrCreate returns the variable called name, creating it with init when
// absent. An existing variable must have the requested shape.
func (p *Params) getOrCreate(name string, shape []int, init Initializer) (*tensor.Tensor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	full := p.fullName(name)
	if v, ok := p.vars[full]; ok {
		if !tensor.EqualShape(v.Value.Shape, shape) {
			return nil, fmt.Errorf("variable %s has shape %v, requested %v: %w", full, v.Value.Shape, shape, tensor.ErrShape)
		}
		return v.Value, nil
	}
	t := tensor.New(shape...)
	init(t, p.rng)
	p.vars[full] = &Variable{Name: full, Value: t, Trainable: true}
	return t, nil
}

// Get returns the variable with the given scope-relative or full name.
func (p *Params) Get(name string) (*tensor.Tensor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.vars[name]; ok {
		return v.Value, true
	}
	v, ok := p.vars[p.fullName(name)]
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// Variables returns every variable sorted by name. The tensors are live:
// mutate them only through Update, or when no forward pass is in flight.
func (p *Params) Variables() []Variable {
	return p.filter(func(*Variable) bool { return true })
}

// TrainableVariables returns the trainable subset sorted by name.
func (p *Params) TrainableVariables() []Variable {
	return p.filter(func(v *Variable) bool { return v.Trainable })
}

func (p *Params) filter(keep func(*Variable) bool) []Variable {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Variable, 0, len(p.vars))
	for _, v := range p.vars {
		if keep(v) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns a deep copy of every variable, sorted by name, taken
// under the read lock so it never observes a partial Update.
func (p *Params) Snapshot() []Variable {
	vars := p.Variables()
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := range vars {
		vars[i].Value = vars[i].Value.Clone()
	}
	return vars
}

// Count returns the total number of scalar parameters.
func (p *Params) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, v := range p.vars {
		n += v.Value.Len()
	}
	return n
}

// Update runs fn with exclusive access to the variables, keyed by full name.
// fn may modify tensor data in place but must not replace or reshape tensors.
func (p *Params) Update(fn func(vars map[string]*tensor.Tensor) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	view := make(map[string]*tensor.Tensor, len(p.vars))
	for name, v := range p.vars {
		view[name] = v.Value
	}
	return fn(view)
}

// Assign copies values into existing variables by full name. Unknown names
// and shape mismatches fail before anything is written.
func (p *Params) Assign(values map[string]*tensor.Tensor) error {
	return p.Update(func(vars map[string]*tensor.Tensor) error {
		for name, src := range values {
			dst, ok := vars[name]
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownVariable, name)
			}
			if !dst.SameShape(src) {
				return fmt.Errorf("variable %s has shape %v, got %v: %w", name, dst.Shape, src.Shape, tensor.ErrShape)
			}
		}
		for name, src := range values {
			copy(vars[name].Data, src.Data)
		}
		return nil
	})
}

// CopyFrom assigns every variable of src whose name, with src's scope
// replaced by p's, exists in p. Used to sync an old-policy copy.
func (p *Params) CopyFrom(src *Params) error {
	vals := make(map[string]*tensor.Tensor)
	for _, v := range src.Snapshot() {
		rel := strings.TrimPrefix(v.Name, src.scope+"/")
		vals[p.fullName(rel)] = v.Value
	}
	return p.Assign(vals)
}

func (p *Params) rlock()   { p.mu.RLock() }
func (p *Params) runlock() { p.mu.RUnlock() }

package policy

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/jason-s-yu/molgraph/tensor"
)

// Kind selects the graph encoder architecture.
type Kind uint8

const (
	KindSmall Kind = iota // two 32-wide GCN layers
)

var kindNames = map[Kind]string{
	KindSmall: "small",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps an architecture name to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

// encoder turns one graph (adj [E, n, n], features [n, D]) into node
// embeddings [n, EmbedDim].
type encoder interface {
	encode(adj *tensor.Tensor, x mat.Matrix) *mat.Dense
}

type encoderFactory func(p *Params, sp ObservationSpace) (encoder, error)

// architectures holds one encoder per supported Kind.
var architectures = map[Kind]encoderFactory{
	KindSmall: newSmallEncoder,
}

func newEncoder(kind Kind, p *Params, sp ObservationSpace) (encoder, error) {
	f, ok := architectures[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	return f(p, sp)
}

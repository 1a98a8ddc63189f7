package policy

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/jason-s-yu/molgraph/tensor"
)

// testSpace returns an observation space with the given sizes.
func testSpace(edgeTypes, maxNodes, featureDim int) ObservationSpace {
	return ObservationSpace{EdgeTypes: edgeTypes, MaxNodes: maxNodes, FeatureDim: featureDim}
}

// buildTest builds a seeded small policy or fails the test.
func buildTest(t testing.TB, sp ObservationSpace, atomTypeNum int, seed uint64) *GCNPolicy {
	t.Helper()
	p, err := Build("pi", sp, ActionSpaceFor(sp), KindSmall, atomTypeNum, WithSeed(seed))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return p
}

// fullyConnected returns b copies of an n-slot graph with every adjacency
// entry set to one and every feature set to one.
func fullyConnected(b, n int, sp ObservationSpace) Observation {
	return Observation{
		Adj:  tensor.Full(1, b, sp.EdgeTypes, n, n),
		Node: tensor.Full(1, b, 1, n, sp.FeatureDim),
	}
}

// randomObservation fills valid[b] leading slots of each element with one-hot
// features and random symmetric adjacency with self-loops. Trailing slots are
// left zero.
func randomObservation(rng *rand.Rand, n int, valid []int, sp ObservationSpace) Observation {
	ob := NewObservation(len(valid), n, sp)
	for b, k := range valid {
		for i := 0; i < k; i++ {
			ob.Node.Set(1, b, 0, i, rng.IntN(sp.FeatureDim))
			for e := 0; e < sp.EdgeTypes; e++ {
				ob.Adj.Set(1, b, e, i, i)
			}
			for j := 0; j < i; j++ {
				if rng.IntN(3) == 0 {
					e := rng.IntN(sp.EdgeTypes)
					ob.Adj.Set(1, b, e, i, j)
					ob.Adj.Set(1, b, e, j, i)
				}
			}
		}
	}
	return ob
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func countTrue(m []bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

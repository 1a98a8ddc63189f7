package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/molgraph/policy"
	"github.com/jason-s-yu/molgraph/tensor"
)

var testSpace = policy.ObservationSpace{EdgeTypes: 3, MaxNodes: 6, FeatureDim: 4}

func buildPolicy(t *testing.T, scope string, seed uint64) *policy.GCNPolicy {
	t.Helper()
	p, err := policy.Build(scope, testSpace, policy.ActionSpaceFor(testSpace), policy.KindSmall, 1, policy.WithSeed(seed))
	require.NoError(t, err)
	return p
}

func testObservation() policy.Observation {
	ob := policy.NewObservation(2, 5, testSpace)
	for b := 0; b < 2; b++ {
		for i := 0; i < 4-b; i++ {
			ob.Node.Set(1, b, 0, i, i%4)
			for e := 0; e < 3; e++ {
				ob.Adj.Set(1, b, e, i, i)
			}
		}
	}
	ob.Adj.Set(1, 0, 1, 0, 1)
	ob.Adj.Set(1, 0, 1, 1, 0)
	return ob
}

// snapshotAt returns a fresh snapshot of a small policy with a fixed time.
func snapshotAt(t *testing.T, scope string, seed uint64, at time.Time) *Snapshot {
	t.Helper()
	s := Capture(buildPolicy(t, scope, seed))
	s.CreatedAt = at
	return s
}

func TestCaptureRestoreAcrossScopes(t *testing.T) {
	src := buildPolicy(t, "pi", 1)
	dst := buildPolicy(t, "oldpi", 2)
	ob := testObservation()

	before, err := dst.Values(ob)
	require.NoError(t, err)
	want, err := src.Values(ob)
	require.NoError(t, err)
	assert.NotEqual(t, want, before)

	snap := Capture(src)
	assert.Equal(t, "pi", snap.Scope)
	assert.Equal(t, "small", snap.Kind)
	assert.Len(t, snap.Variables, 14)
	for _, v := range snap.Variables {
		assert.NotContains(t, v.Name, "pi/")
	}
	assert.Equal(t, src.Params().Count(), snap.Info().Parameters)

	require.NoError(t, Restore(dst, snap))
	got, err := dst.Values(ob)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCaptureIsACopy(t *testing.T) {
	p := buildPolicy(t, "pi", 1)
	snap := Capture(p)
	orig := snap.Variables[0].Data[0]
	require.NoError(t, p.Params().Update(func(vars map[string]*tensor.Tensor) error {
		for _, v := range vars {
			for i := range v.Data {
				v.Data[i] += 1
			}
		}
		return nil
	}))
	assert.Equal(t, orig, snap.Variables[0].Data[0])
}

func TestRestoreMismatch(t *testing.T) {
	p := buildPolicy(t, "pi", 1)
	snap := Capture(p)

	short := *snap
	short.Variables = snap.Variables[1:]
	assert.ErrorIs(t, Restore(p, &short), ErrMismatch)

	renamed := *snap
	renamed.Variables = append([]Variable(nil), snap.Variables...)
	renamed.Variables[0].Name = "nope"
	assert.ErrorIs(t, Restore(p, &renamed), ErrMismatch)

	reshaped := *snap
	reshaped.Variables = append([]Variable(nil), snap.Variables...)
	reshaped.Variables[0].Shape = []int{len(reshaped.Variables[0].Data)}
	assert.ErrorIs(t, Restore(p, &reshaped), ErrMismatch)

	kind := *snap
	kind.Kind = "large"
	assert.ErrorIs(t, Restore(p, &kind), ErrMismatch)

	bigger := buildPolicyWithSpace(t, policy.ObservationSpace{EdgeTypes: 4, MaxNodes: 6, FeatureDim: 4})
	assert.ErrorIs(t, Restore(bigger, snap), ErrMismatch)
}

func buildPolicyWithSpace(t *testing.T, sp policy.ObservationSpace) *policy.GCNPolicy {
	t.Helper()
	p, err := policy.Build("pi", sp, policy.ActionSpaceFor(sp), policy.KindSmall, 1)
	require.NoError(t, err)
	return p
}

// storeContract exercises the behaviour every backend shares.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Load(ctx, "pi")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "pi", uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	first := snapshotAt(t, "pi", 1, base)
	second := snapshotAt(t, "pi", 2, base.Add(time.Minute))
	other := snapshotAt(t, "vf", 3, base.Add(2*time.Minute))
	// Out of order on purpose: latest is decided by CreatedAt.
	require.NoError(t, s.Save(ctx, second))
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, other))

	latest, err := s.Load(ctx, "pi")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.True(t, second.CreatedAt.Equal(latest.CreatedAt))
	assert.Equal(t, second.Variables, latest.Variables)

	got, err := s.Get(ctx, "pi", first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Variables, got.Variables)

	list, err := s.List(ctx, "pi")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, first.Info().Parameters, list[0].Parameters)

	empty, err := s.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)

	// The restored parameters drive a policy exactly like the captured one.
	p := buildPolicy(t, "pi", 99)
	require.NoError(t, Restore(p, latest))
	want, err := buildPolicy(t, "pi", 2).Values(testObservation())
	require.NoError(t, err)
	have, err := p.Values(testObservation())
	require.NoError(t, err)
	assert.Equal(t, want, have)
}

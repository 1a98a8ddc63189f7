// internal/episode/episode_test.go
package episode

import (
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/molgraph/policy"
	"github.com/jason-s-yu/molgraph/policy/molecule"
)

func newTestEpisode(t *testing.T, maxAtoms, maxSteps int) *Episode {
	t.Helper()
	enc, err := molecule.NewEncoder([]string{"C", "N", "O"}, maxAtoms, 3)
	require.NoError(t, err)
	ob, ac := enc.Spaces()
	pi, err := policy.Build("pi", ob, ac, policy.KindSmall, enc.AtomTypeNum(), policy.WithSeed(7))
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	ep, err := New(enc, pi, "C", maxSteps, log)
	require.NoError(t, err)
	return ep
}

func TestNewEpisodeValidation(t *testing.T) {
	enc, err := molecule.NewEncoder([]string{"C"}, 4, 3)
	require.NoError(t, err)
	ob, ac := enc.Spaces()
	pi, err := policy.Build("pi", ob, ac, policy.KindSmall, 1)
	require.NoError(t, err)

	_, err = New(enc, pi, "Xe", 5, logrus.New())
	assert.ErrorIs(t, err, molecule.ErrUnknownAtom)
	_, err = New(enc, pi, "C", 0, logrus.New())
	assert.Error(t, err)
}

func TestEpisodeRunsToEnd(t *testing.T) {
	ep := newTestEpisode(t, 6, 30)

	var mu sync.Mutex
	var events []Event
	ep.BroadcastFn = func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	var ended uuid.UUID
	var final *molecule.Molecule
	ep.OnEnd = func(id uuid.UUID, m *molecule.Molecule) { ended, final = id, m }

	ep.Begin()
	require.NoError(t, ep.Run())
	assert.True(t, ep.Done())

	st := ep.State()
	assert.True(t, st.Done)
	assert.True(t, st.Molecule.NumAtoms() == 6 || st.Step == 30, "ended early: %+v", st)
	assert.Equal(t, ep.ID, ended)
	require.NotNil(t, final)
	assert.Equal(t, st.Formula, final.Formula())

	require.NotEmpty(t, events)
	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, EventEnd, events[len(events)-1].Type)
	steps := 0
	for _, ev := range events {
		if ev.Type == EventStep || ev.Type == EventRejected {
			steps++
			require.NotNil(t, ev.Action)
			require.NotNil(t, ev.Value)
		}
		if ev.Type == EventStep {
			require.NotNil(t, ev.Edit)
		}
	}
	assert.Equal(t, st.Step, steps)
	assert.Equal(t, st.Step-st.Rejected, len(final.Bonds))

	_, err := ep.Step()
	assert.ErrorIs(t, err, ErrFinished)
}

func TestEpisodeStepLimit(t *testing.T) {
	ep := newTestEpisode(t, 30, 3)
	for i := 0; i < 3; i++ {
		ev, err := ep.Step()
		require.NoError(t, err)
		assert.Equal(t, i+1, ev.Step)
	}
	assert.True(t, ep.Done())
	assert.Equal(t, 3, ep.State().Step)
}

func TestEpisodeStateIsACopy(t *testing.T) {
	ep := newTestEpisode(t, 6, 10)
	st := ep.State()
	st.Molecule.Atoms[0] = "O"
	assert.Equal(t, "C", ep.State().Molecule.Atoms[0])

	var got Event
	ep.BroadcastFn = func(ev Event) { got = ev }
	ep.Sync()
	assert.Equal(t, EventSync, got.Type)
	require.NotNil(t, got.State)
	assert.Equal(t, "C1", got.State.Formula)
}

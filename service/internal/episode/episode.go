// internal/episode/episode.go
package episode

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/molgraph/policy"
	"github.com/jason-s-yu/molgraph/policy/molecule"
)

// ErrFinished is returned by Step once the episode has ended.
var ErrFinished = errors.New("episode finished")

// EventType identifies an Event sent to the episode's client.
type EventType string

// Event types emitted while an episode runs.
const (
	EventStart    EventType = "episode_start"    // episode created, carries the initial state
	EventStep     EventType = "episode_step"     // an edit was applied
	EventRejected EventType = "episode_rejected" // the sampled edit was refused by the molecule
	EventEnd      EventType = "episode_end"      // capacity or step limit reached
	EventSync     EventType = "episode_sync"     // full state on request
)

// Event is the message broadcast for every episode change.
type Event struct {
	Type    EventType      `json:"type"`
	Episode uuid.UUID      `json:"episode"`
	Step    int            `json:"step"`
	Action  *policy.Action `json:"action,omitempty"`
	Edit    *molecule.Edit `json:"edit,omitempty"`
	Value   *float64       `json:"value,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	State   *State         `json:"state,omitempty"`
}

// State is a snapshot of an episode for client synchronisation.
type State struct {
	ID        uuid.UUID          `json:"id"`
	Step      int                `json:"step"`
	MaxSteps  int                `json:"max_steps"`
	Done      bool               `json:"done"`
	Rejected  int                `json:"rejected"`
	Formula   string             `json:"formula"`
	Molecule  *molecule.Molecule `json:"molecule"`
	StartedAt time.Time          `json:"started_at"`
}

// OnEndFunc runs once when an episode ends, with the final molecule.
type OnEndFunc func(id uuid.UUID, m *molecule.Molecule)

// Episode grows one molecule by repeatedly sampling the policy. Every method
// is safe for concurrent use.
type Episode struct {
	ID       uuid.UUID
	MaxSteps int

	enc    *molecule.Encoder
	pi     *policy.GCNPolicy
	log    logrus.FieldLogger
	mol    *molecule.Molecule
	step   int
	reject int
	done   bool
	start  time.Time

	Mu sync.Mutex

	BroadcastFn func(ev Event)
	OnEnd       OnEndFunc
}

// New starts an episode from a single atom of type startAtom.
func New(enc *molecule.Encoder, pi *policy.GCNPolicy, startAtom string, maxSteps int, log logrus.FieldLogger) (*Episode, error) {
	if _, ok := enc.AtomIndex(startAtom); !ok {
		return nil, fmt.Errorf("%w: %q", molecule.ErrUnknownAtom, startAtom)
	}
	if maxSteps <= 0 {
		return nil, fmt.Errorf("episode: max steps must be positive, got %d", maxSteps)
	}
	id := uuid.New()
	return &Episode{
		ID:       id,
		MaxSteps: maxSteps,
		enc:      enc,
		pi:       pi,
		log:      log.WithField("episode", id),
		mol:      molecule.New(startAtom),
		start:    time.Now().UTC(),
	}, nil
}

// Begin broadcasts the initial state.
func (e *Episode) Begin() {
	e.Mu.Lock()
	defer e.Mu.Unlock()
	st := e.stateLocked()
	e.broadcast(Event{Type: EventStart, Episode: e.ID, State: &st})
	e.log.WithField("start", e.mol.Formula()).Debug("episode started")
}

// Step samples one action, applies it and broadcasts the outcome. A refused
// edit (a bond that already exists) still consumes the step.
func (e *Episode) Step() (Event, error) {
	e.Mu.Lock()
	defer e.Mu.Unlock()

	if e.done {
		return Event{}, ErrFinished
	}
	ob, err := e.enc.Encode(e.mol)
	if err != nil {
		return Event{}, err
	}
	acts, vals, _, err := e.pi.Act(true, ob)
	if err != nil {
		return Event{}, err
	}
	a, v := acts[0], vals[0]
	e.step++

	ev := Event{Type: EventStep, Episode: e.ID, Step: e.step, Action: &a, Value: &v}
	ed, err := e.enc.Step(a, e.mol)
	switch {
	case err == nil:
		ev.Edit = &ed
	case errors.Is(err, molecule.ErrBondExists), errors.Is(err, molecule.ErrInvalidAction), errors.Is(err, molecule.ErrTooManyAtoms):
		e.reject++
		ev.Type = EventRejected
		ev.Reason = err.Error()
	default:
		return Event{}, err
	}
	e.log.WithFields(logrus.Fields{"step": e.step, "action": a.String(), "type": ev.Type}).Debug("episode step")
	e.broadcast(ev)

	if e.mol.NumAtoms() >= e.enc.MaxAtoms || e.step >= e.MaxSteps {
		e.finishLocked()
	}
	return ev, nil
}

// Run steps until the episode ends.
func (e *Episode) Run() error {
	for {
		if _, err := e.Step(); err != nil {
			if errors.Is(err, ErrFinished) {
				return nil
			}
			return err
		}
	}
}

// Done reports whether the episode has ended.
func (e *Episode) Done() bool {
	e.Mu.Lock()
	defer e.Mu.Unlock()
	return e.done
}

// State returns a copy of the current state.
func (e *Episode) State() State {
	e.Mu.Lock()
	defer e.Mu.Unlock()
	return e.stateLocked()
}

// Sync broadcasts the current state.
func (e *Episode) Sync() {
	e.Mu.Lock()
	defer e.Mu.Unlock()
	st := e.stateLocked()
	e.broadcast(Event{Type: EventSync, Episode: e.ID, Step: e.step, State: &st})
}

// stateLocked assumes e.Mu is held.
func (e *Episode) stateLocked() State {
	return State{
		ID:        e.ID,
		Step:      e.step,
		MaxSteps:  e.MaxSteps,
		Done:      e.done,
		Rejected:  e.reject,
		Formula:   e.mol.Formula(),
		Molecule:  e.mol.Clone(),
		StartedAt: e.start,
	}
}

// finishLocked assumes e.Mu is held.
func (e *Episode) finishLocked() {
	e.done = true
	st := e.stateLocked()
	e.broadcast(Event{Type: EventEnd, Episode: e.ID, Step: e.step, State: &st})
	e.log.WithFields(logrus.Fields{"steps": e.step, "rejected": e.reject, "formula": st.Formula}).Info("episode finished")
	if e.OnEnd != nil {
		e.OnEnd(e.ID, st.Molecule)
	}
}

func (e *Episode) broadcast(ev Event) {
	if e.BroadcastFn != nil {
		e.BroadcastFn(ev)
	}
}

// internal/server/handlers.go
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/molgraph/checkpoint"
	"github.com/jason-s-yu/molgraph/policy"
	"github.com/jason-s-yu/molgraph/policy/molecule"
	"github.com/jason-s-yu/molgraph/tensor"
)

var errNoInput = errors.New("request needs molecules or an observation")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoInput),
		errors.Is(err, policy.ErrShape),
		errors.Is(err, policy.ErrActionRange),
		errors.Is(err, policy.ErrBatchMismatch),
		errors.Is(err, tensor.ErrShape),
		errors.Is(err, molecule.ErrUnknownAtom),
		errors.Is(err, molecule.ErrTooManyAtoms),
		errors.Is(err, molecule.ErrBadBond),
		errors.Is(err, molecule.ErrBondExists):
		return http.StatusBadRequest
	case errors.Is(err, checkpoint.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkpoint.ErrMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := requestLog(r).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeError(w, r, status, err)
}

// observation turns request input into a batched observation.
func (s *Server) observation(in Input) (policy.Observation, error) {
	if len(in.Molecules) > 0 {
		for i, m := range in.Molecules {
			if m == nil || len(m.Atoms) == 0 {
				return policy.Observation{}, fmt.Errorf("%w: molecule %d is empty", errNoInput, i)
			}
		}
		return s.enc.EncodeBatch(in.Molecules)
	}
	if in.Observation == nil || in.Observation.Adj == nil || in.Observation.Node == nil {
		return policy.Observation{}, errNoInput
	}
	adj, err := tensor.FromData(in.Observation.Adj.Data, in.Observation.Adj.Shape...)
	if err != nil {
		return policy.Observation{}, fmt.Errorf("adj: %w", err)
	}
	node, err := tensor.FromData(in.Observation.Node.Data, in.Observation.Node.Shape...)
	if err != nil {
		return policy.Observation{}, fmt.Errorf("node: %w", err)
	}
	return policy.Observation{Adj: adj, Node: node}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"scope":      s.pi.Scope(),
		"kind":       s.pi.Kind().String(),
		"parameters": s.pi.Params().Count(),
		"episodes":   s.LiveEpisodes(),
	})
}

func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	var req ActRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", errNoInput, err))
		return
	}
	resp, err := s.act(requestID(r), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	requestLog(r).WithFields(logrus.Fields{"batch": len(resp.Actions), "subject": subject(r.Context())}).Debug("act")
	writeJSON(w, http.StatusOK, resp)
}

// act is shared by the HTTP and websocket paths.
func (s *Server) act(id uuid.UUID, req *ActRequest) (*ActResponse, error) {
	ob, err := s.observation(req.Input)
	if err != nil {
		return nil, err
	}
	stochastic := req.Stochastic == nil || *req.Stochastic
	actions, values, diag, err := s.pi.Act(stochastic, ob)
	if err != nil {
		return nil, err
	}
	resp := &ActResponse{RequestID: id, Actions: actions, Values: values}
	if len(req.Molecules) > 0 {
		resp.Edits = make([]Decoded, len(actions))
		for b, a := range actions {
			ed, err := s.enc.Decode(a, req.Molecules[b])
			if err != nil {
				resp.Edits[b].Error = err.Error()
				continue
			}
			resp.Edits[b].Edit = &ed
		}
	}
	if req.Debug {
		resp.Debug = &Debug{
			ObNodeShape:  diag.ObNodeShape,
			ObAdjShape:   diag.ObAdjShape,
			FirstLogits:  diag.FirstLogits,
			SecondLogits: diag.SecondLogits,
			EdgeLogits:   diag.EdgeLogits,
			ValidLen:     diag.Masks.ValidLen,
			FirstLen:     diag.Masks.FirstLen,
			NoFirst:      make([]bool, len(actions)),
		}
		for b := range actions {
			resp.Debug.NoFirst[b] = diag.NoFirst(b)
		}
	}
	return resp, nil
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", errNoInput, err))
		return
	}
	ob, err := s.observation(req.Input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Actions == nil {
		s.fail(w, r, fmt.Errorf("%w: evaluate needs actions", policy.ErrBatchMismatch))
		return
	}
	ev, err := s.pi.Evaluate(ob, req.Actions)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logp, err := ev.Dist.LogProb(req.Actions)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EvaluateResponse{
		RequestID: requestID(r),
		LogProb:   logp,
		Entropy:   ev.Dist.Entropy(),
		Values:    ev.Values,
		Sampled:   ev.Sampled,
	})
}

// ---------------------------------------------------------------------------
// Checkpoints
// ---------------------------------------------------------------------------

var errNoStore = errors.New("no checkpoint store configured")

func (s *Server) checkpointStore(w http.ResponseWriter, r *http.Request) bool {
	if s.store == nil {
		writeError(w, r, http.StatusNotImplemented, errNoStore)
		return false
	}
	return true
}

func (s *Server) handleSaveCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.checkpointStore(w, r) {
		return
	}
	snap := checkpoint.Capture(s.pi)
	if err := s.store.Save(r.Context(), snap); err != nil {
		s.fail(w, r, err)
		return
	}
	info := snap.Info()
	requestLog(r).WithFields(logrus.Fields{"checkpoint": info.ID, "parameters": info.Parameters}).Info("checkpoint saved")
	writeJSON(w, http.StatusCreated, CheckpointResponse{RequestID: requestID(r), Checkpoint: info})
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if !s.checkpointStore(w, r) {
		return
	}
	infos, err := s.store.List(r.Context(), s.pi.Scope())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(infos) == 0 {
		s.fail(w, r, fmt.Errorf("%w: scope %q", checkpoint.ErrNotFound, s.pi.Scope()))
		return
	}
	writeJSON(w, http.StatusOK, CheckpointResponse{
		RequestID:  requestID(r),
		Checkpoint: infos[len(infos)-1],
		History:    infos,
	})
}

// handleRestoreCheckpoint restores ?id=<uuid>, or the latest snapshot.
func (s *Server) handleRestoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.checkpointStore(w, r) {
		return
	}
	var (
		snap *checkpoint.Snapshot
		err  error
	)
	if raw := r.URL.Query().Get("id"); raw != "" {
		id, perr := uuid.Parse(raw)
		if perr != nil {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("bad checkpoint id: %w", perr))
			return
		}
		snap, err = s.store.Get(r.Context(), s.pi.Scope(), id)
	} else {
		snap, err = s.store.Load(r.Context(), s.pi.Scope())
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := checkpoint.Restore(s.pi, snap); err != nil {
		s.fail(w, r, err)
		return
	}
	requestLog(r).WithField("checkpoint", snap.ID).Info("checkpoint restored")
	writeJSON(w, http.StatusOK, CheckpointResponse{RequestID: requestID(r), Checkpoint: snap.Info()})
}

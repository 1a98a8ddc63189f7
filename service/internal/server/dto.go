// internal/server/dto.go
package server

import (
	"github.com/google/uuid"

	"github.com/jason-s-yu/molgraph/checkpoint"
	"github.com/jason-s-yu/molgraph/policy"
	"github.com/jason-s-yu/molgraph/policy/molecule"
	"github.com/jason-s-yu/molgraph/service/internal/episode"
	"github.com/jason-s-yu/molgraph/tensor"
)

// ObservationJSON is a raw batched observation.
type ObservationJSON struct {
	Adj  *tensor.Tensor `json:"adj"`  // [B, E, n, n]
	Node *tensor.Tensor `json:"node"` // [B, 1, n, D]
}

// Input is either a list of molecules or a raw observation. Molecules win
// when both are present.
type Input struct {
	Molecules   []*molecule.Molecule `json:"molecules,omitempty"`
	Observation *ObservationJSON     `json:"observation,omitempty"`
}

// ActRequest asks for one action per molecule or observation element.
type ActRequest struct {
	Input
	Stochastic *bool `json:"stochastic,omitempty"`
	Debug      bool  `json:"debug,omitempty"`
}

// Decoded is the edit an action maps to, or why it maps to none.
type Decoded struct {
	Edit  *molecule.Edit `json:"edit,omitempty"`
	Error string         `json:"error,omitempty"`
}

// Debug mirrors policy.Diagnostics.
type Debug struct {
	ObNodeShape  []int          `json:"ob_node_shape"`
	ObAdjShape   []int          `json:"ob_adj_shape"`
	FirstLogits  *tensor.Tensor `json:"logits_first"`
	SecondLogits *tensor.Tensor `json:"logits_second"`
	EdgeLogits   *tensor.Tensor `json:"logits_edge"`
	ValidLen     []int          `json:"ob_len"`
	FirstLen     []int          `json:"ob_len_first"`
	NoFirst      []bool         `json:"no_first"`
}

// ActResponse carries sampled actions and value estimates.
type ActResponse struct {
	RequestID uuid.UUID       `json:"request_id"`
	Actions   []policy.Action `json:"actions"`
	Values    []float64       `json:"values"`
	Edits     []Decoded       `json:"edits,omitempty"`
	Debug     *Debug          `json:"debug,omitempty"`
}

// EvaluateRequest asks for log-probabilities of recorded actions.
type EvaluateRequest struct {
	Input
	Actions []policy.Action `json:"actions"`
}

// EvaluateResponse carries the ground-truth-conditioned distribution
// statistics per element.
type EvaluateResponse struct {
	RequestID uuid.UUID       `json:"request_id"`
	LogProb   []float64       `json:"logp"`
	Entropy   []float64       `json:"entropy"`
	Values    []float64       `json:"values"`
	Sampled   []policy.Action `json:"sampled"`
}

// CheckpointResponse describes one stored snapshot.
type CheckpointResponse struct {
	RequestID  uuid.UUID         `json:"request_id"`
	Checkpoint checkpoint.Info   `json:"checkpoint"`
	History    []checkpoint.Info `json:"history,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	RequestID uuid.UUID `json:"request_id"`
	Error     string    `json:"error"`
}

// WSMessageType identifies a client websocket message.
type WSMessageType string

const (
	WSReset WSMessageType = "reset" // start a new episode
	WSStep  WSMessageType = "step"  // advance the current episode by one edit
	WSRun   WSMessageType = "run"   // advance until the episode ends
	WSSync  WSMessageType = "sync"  // resend the current state
	WSAct   WSMessageType = "act"   // one-off act request, same body as POST /v1/act
)

// WSMessage is one client message.
type WSMessage struct {
	Type  WSMessageType `json:"type"`
	Start string        `json:"start,omitempty"`
	Act   *ActRequest   `json:"act,omitempty"`
}

// WSReply wraps every server message on the socket.
type WSReply struct {
	Type  string         `json:"type"`
	Event *episode.Event `json:"event,omitempty"`
	Act   *ActResponse   `json:"act,omitempty"`
	Error string         `json:"error,omitempty"`
}

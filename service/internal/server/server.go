// internal/server/server.go
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/molgraph/checkpoint"
	"github.com/jason-s-yu/molgraph/policy"
	"github.com/jason-s-yu/molgraph/policy/molecule"
)

// maxBody bounds request bodies; a full 47-slot batch of 64 is well below it.
const maxBody = 32 << 20

// Server exposes a policy over HTTP and websocket.
type Server struct {
	pi       *policy.GCNPolicy
	enc      *molecule.Encoder
	store    checkpoint.Store // nil disables the checkpoint endpoints
	secret   string
	maxSteps int
	log      *logrus.Logger

	mu       sync.Mutex
	episodes map[uuid.UUID]struct{} // live websocket episodes
}

// Options configures New.
type Options struct {
	Policy    *policy.GCNPolicy
	Encoder   *molecule.Encoder
	Store     checkpoint.Store
	JWTSecret string
	MaxSteps  int
	Logger    *logrus.Logger
}

// New returns a server. Policy, Encoder and Logger are required.
func New(o Options) (*Server, error) {
	if o.Policy == nil || o.Encoder == nil || o.Logger == nil {
		return nil, errors.New("server: policy, encoder and logger are required")
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = 64
	}
	return &Server{
		pi:       o.Policy,
		enc:      o.Encoder,
		store:    o.Store,
		secret:   o.JWTSecret,
		maxSteps: o.MaxSteps,
		log:      o.Logger,
		episodes: make(map[uuid.UUID]struct{}),
	}, nil
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("POST /v1/act", s.requireAuth(http.HandlerFunc(s.handleAct)))
	mux.Handle("POST /v1/evaluate", s.requireAuth(http.HandlerFunc(s.handleEvaluate)))
	mux.Handle("GET /v1/ws", s.requireAuth(http.HandlerFunc(s.handleWS)))
	mux.Handle("POST /v1/checkpoints", s.requireAuth(http.HandlerFunc(s.handleSaveCheckpoint)))
	mux.Handle("GET /v1/checkpoints", s.requireAuth(http.HandlerFunc(s.handleListCheckpoints)))
	mux.Handle("POST /v1/checkpoints/restore", s.requireAuth(http.HandlerFunc(s.handleRestoreCheckpoint)))
	return s.withRequestID(mux)
}

// RestoreLatest loads the newest snapshot for the policy scope, if any.
// A missing snapshot is not an error.
func (s *Server) RestoreLatest(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.Load(ctx, s.pi.Scope())
	if errors.Is(err, checkpoint.ErrNotFound) {
		s.log.WithField("scope", s.pi.Scope()).Info("no checkpoint to restore, using fresh parameters")
		return nil
	}
	if err != nil {
		return err
	}
	if err := checkpoint.Restore(s.pi, snap); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"scope": snap.Scope, "checkpoint": snap.ID, "created_at": snap.CreatedAt}).Info("restored checkpoint")
	return nil
}

// LiveEpisodes returns how many websocket episodes are running.
func (s *Server) LiveEpisodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.episodes)
}

// ---------------------------------------------------------------------------
// Request plumbing
// ---------------------------------------------------------------------------

type requestIDKey struct{}
type loggerKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New()
		if h := r.Header.Get("X-Request-ID"); h != "" {
			if parsed, err := uuid.Parse(h); err == nil {
				id = parsed
			}
		}
		w.Header().Set("X-Request-ID", id.String())
		entry := s.log.WithFields(logrus.Fields{"request_id": id, "method": r.Method, "path": r.URL.Path})
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = context.WithValue(ctx, loggerKey{}, entry)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		entry.WithFields(logrus.Fields{"status": sw.status, "duration": time.Since(start)}).Debug("request served")
	})
}

// statusWriter records the status code. Hijack is forwarded so websocket
// upgrades pass through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func requestID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(requestIDKey{}).(uuid.UUID)
	return id
}

func requestLog(r *http.Request) logrus.FieldLogger {
	if l, ok := r.Context().Value(loggerKey{}).(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, ErrorResponse{RequestID: requestID(r), Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// internal/server/ws.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/molgraph/policy/molecule"
	"github.com/jason-s-yu/molgraph/service/internal/episode"
)

// wsConn serialises writes to one websocket and owns its current episode.
type wsConn struct {
	s   *Server
	c   *websocket.Conn
	ctx context.Context
	log logrus.FieldLogger
	wmu sync.Mutex
	ep  *episode.Episode
}

func (wc *wsConn) write(reply WSReply) {
	wc.wmu.Lock()
	defer wc.wmu.Unlock()
	if err := wsjson.Write(wc.ctx, wc.c, reply); err != nil {
		wc.log.WithError(err).Debug("websocket write failed")
	}
}

func (wc *wsConn) writeErr(err error) {
	wc.write(WSReply{Type: "error", Error: err.Error()})
}

// handleWS upgrades the request and serves episode messages until the client
// disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		requestLog(r).WithError(err).Warn("websocket accept failed")
		return
	}
	defer c.CloseNow()

	wc := &wsConn{s: s, c: c, ctx: r.Context(), log: requestLog(r)}
	defer wc.release()
	wc.log.Info("websocket connected")

	for {
		var msg WSMessage
		if err := wsjson.Read(wc.ctx, c, &msg); err != nil {
			if st := websocket.CloseStatus(err); st == websocket.StatusNormalClosure || st == websocket.StatusGoingAway {
				wc.log.Info("websocket closed")
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			wc.log.WithError(err).Warn("websocket read failed")
			c.Close(websocket.StatusUnsupportedData, "bad message")
			return
		}
		wc.handle(msg)
	}
}

func (wc *wsConn) handle(msg WSMessage) {
	switch msg.Type {
	case WSReset:
		wc.reset(msg.Start)
	case WSStep:
		if wc.ep == nil {
			wc.writeErr(errors.New("no episode, send reset first"))
			return
		}
		if _, err := wc.ep.Step(); err != nil {
			wc.writeErr(err)
		}
	case WSRun:
		if wc.ep == nil {
			wc.writeErr(errors.New("no episode, send reset first"))
			return
		}
		if err := wc.ep.Run(); err != nil {
			wc.writeErr(err)
		}
	case WSSync:
		if wc.ep == nil {
			wc.writeErr(errors.New("no episode, send reset first"))
			return
		}
		wc.ep.Sync()
	case WSAct:
		if msg.Act == nil {
			wc.writeErr(errNoInput)
			return
		}
		resp, err := wc.s.act(uuid.New(), msg.Act)
		if err != nil {
			wc.writeErr(err)
			return
		}
		wc.write(WSReply{Type: string(WSAct), Act: resp})
	default:
		wc.writeErr(fmt.Errorf("unknown message type %q", msg.Type))
	}
}

// reset replaces the connection's episode with a fresh one.
func (wc *wsConn) reset(start string) {
	if start == "" {
		start = wc.s.enc.AtomTypes[0]
	}
	ep, err := episode.New(wc.s.enc, wc.s.pi, start, wc.s.maxSteps, wc.log)
	if err != nil {
		wc.writeErr(err)
		return
	}
	ep.BroadcastFn = func(ev episode.Event) {
		wc.write(WSReply{Type: string(ev.Type), Event: &ev})
	}
	ep.OnEnd = func(id uuid.UUID, m *molecule.Molecule) {
		wc.log.WithFields(logrus.Fields{"episode": id, "formula": m.Formula(), "bonds": len(m.Bonds)}).Info("generated molecule")
	}

	wc.release()
	wc.ep = ep
	wc.s.mu.Lock()
	wc.s.episodes[ep.ID] = struct{}{}
	wc.s.mu.Unlock()
	ep.Begin()
}

func (wc *wsConn) release() {
	if wc.ep == nil {
		return
	}
	wc.s.mu.Lock()
	delete(wc.s.episodes, wc.ep.ID)
	wc.s.mu.Unlock()
	wc.ep = nil
}

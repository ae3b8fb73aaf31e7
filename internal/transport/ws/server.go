package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tickpilot.dev/internal/protocol"
	"tickpilot.dev/internal/sim/state"
)

// Peer is a minimal stand-in for the authoritative server: on connect it
// sends the map and the start state, then collects every ticks batch.
type Peer struct {
	mapRaw json.RawMessage
	start  state.GameState
	log    *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	received []protocol.TicksMsg
	notify   chan struct{}
}

func NewPeer(mapRaw json.RawMessage, start state.GameState, logger *log.Logger) *Peer {
	return &Peer{
		mapRaw: mapRaw,
		start:  start,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		notify: make(chan struct{}, 1),
	}
}

// Received returns a copy of every ticks batch seen so far.
func (p *Peer) Received() []protocol.TicksMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.TicksMsg(nil), p.received...)
}

// Notify fires (coalesced) after each received batch.
func (p *Peer) Notify() <-chan struct{} { return p.notify }

func (p *Peer) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := p.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := writeJSON(conn, protocol.MapMsg{Type: protocol.TypeMap, Map: p.mapRaw}); err != nil {
			return
		}
		if err := writeJSON(conn, protocol.StartStateMsg{Type: protocol.TypeStartState, State: p.start}); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeTicks {
				continue
			}
			var ticks protocol.TicksMsg
			if err := json.Unmarshal(msg, &ticks); err != nil {
				if p.log != nil {
					p.log.Printf("peer: bad ticks: %v", err)
				}
				continue
			}
			p.mu.Lock()
			p.received = append(p.received, ticks)
			p.mu.Unlock()
			select {
			case p.notify <- struct{}{}:
			default:
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/wtdbg/wtdbg/internal/debugmanager"
	"github.com/wtdbg/wtdbg/internal/logger"
)

// interruptFlag is the Pending HTTP slot's cancellation handle: an opaque
// flag the core polls via interrupt() and the collaborator sets via a
// separate POST .../interrupt call, joining the in-flight continue.
type interruptFlag struct{ set atomic.Bool }

func (f *interruptFlag) isSet() bool { return f.set.Load() }

// pendingContinue is the concrete value stored in Session.PendingHTTPSlot
// for the duration of one in-flight `/continue` request: the core neither
// constructs nor reads its fields, it only holds it. handleContinue sets it
// before ContinueAndWait and clears it once that returns; nothing reads the
// method+URL back.
type pendingContinue struct {
	method string
	url    string
}

// eventHub fans out session lifecycle events to connected websocket
// clients and tracks one interruptFlag per in-flight continue request,
// mirroring the teacher's handlePTYWS broadcast pattern scaled down to
// session-transition notifications instead of terminal bytes.
type eventHub struct {
	mu         sync.Mutex
	clients    map[*eventClient]struct{}
	interrupts map[string]*interruptFlag
}

type eventClient struct {
	send chan debugmanager.Event
}

func newEventHub() *eventHub {
	return &eventHub{
		clients:    make(map[*eventClient]struct{}),
		interrupts: make(map[string]*interruptFlag),
	}
}

func (h *eventHub) broadcast(ev debugmanager.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Slow consumer: drop rather than block the manager's event
			// emission path.
		}
	}
}

func (h *eventHub) add(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *eventHub) remove(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *eventHub) registerInterrupt(sessionID string) *interruptFlag {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := &interruptFlag{}
	h.interrupts[sessionID] = f
	return f
}

func (h *eventHub) clearInterrupt(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.interrupts, sessionID)
}

func (h *eventHub) setInterrupt(sessionID string) {
	h.mu.Lock()
	f, ok := h.interrupts[sessionID]
	h.mu.Unlock()
	if ok {
		f.set.Store(true)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("control: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	client := &eventClient{send: make(chan debugmanager.Event, 32)}
	s.hub.add(client)
	defer s.hub.remove(client)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-client.send:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/raphaelgruber/jobpilot/internal/service"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
	inboxSize    = 64
)

var errConnClosed = errors.New("websocket connection closed")

// frame is one websocket message: either a request envelope (Type set) or
// the reply to a request the hub pushed (Type empty).
type frame struct {
	ID      string             `json:"id,omitempty"`
	Type    models.MessageType `json:"type,omitempty"`
	TabID   models.TabID       `json:"tabId,omitempty"`
	Payload json.RawMessage    `json:"payload,omitempty"`
	Success bool               `json:"success,omitempty"`
	Data    json.RawMessage    `json:"data,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// wsConn is one connected content script.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}

	mu      sync.Mutex
	tab     models.TabID
	pending map[string]chan models.Response
}

func (c *wsConn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) boundTab() models.TabID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tab
}

// Hub accepts websocket connections from content scripts running in remote
// tabs. Each connection is bound to the tab of its REGISTER_TAB; the hub can
// push prompts to a bound assistant tab.
type Hub struct {
	dispatch Handler
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[models.TabID]*wsConn
}

// NewHub creates a hub that hands every request to dispatch.
func NewHub(dispatch Handler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		dispatch: dispatch,
		upgrader: websocket.Upgrader{
			// Content scripts connect from the job sites' origins.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		conns:  make(map[models.TabID]*wsConn),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := &wsConn{
		ws:      ws,
		done:    make(chan struct{}),
		pending: make(map[string]chan models.Response),
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// requests of one connection are handled in the order they arrive
	inbox := make(chan models.Message, inboxSize)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for msg := range inbox {
			h.handle(ctx, conn, msg)
		}
	}()

	go h.keepAlive(conn)
	h.serve(ctx, conn, inbox)
	close(inbox)
	<-drained
	h.closeConn(conn)
}

func (h *Hub) keepAlive(conn *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			conn.writeMu.Lock()
			err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			conn.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) serve(ctx context.Context, conn *wsConn, inbox chan<- models.Message) {
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := conn.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "tab_id", conn.boundTab(), "error", err)
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		if f.Type == "" {
			h.deliver(conn, f)
			continue
		}

		msg := models.Message{ID: f.ID, Type: f.Type, TabID: f.TabID, Payload: f.Payload}
		if msg.TabID == "" {
			msg.TabID = conn.boundTab()
		}
		// prompts wait on the assistant for minutes and do not hold up
		// the reports queued behind them
		if msg.Type == models.MsgProxyPrompt {
			go h.handle(ctx, conn, msg)
			continue
		}
		inbox <- msg
	}
}

func (h *Hub) handle(ctx context.Context, conn *wsConn, msg models.Message) {
	resp := h.dispatch(ctx, msg)
	if msg.Type == models.MsgRegisterTab && resp.Success && msg.TabID != "" {
		h.bind(conn, msg.TabID)
	}
	if err := conn.write(resp); err != nil {
		h.logger.Debug("failed to write response", "tab_id", msg.TabID, "type", msg.Type, "error", err)
	}
}

// bind records tab as the tab behind conn. A newer connection for the same
// tab replaces the older one.
func (h *Hub) bind(conn *wsConn, tab models.TabID) {
	conn.mu.Lock()
	prev := conn.tab
	conn.tab = tab
	conn.mu.Unlock()

	h.mu.Lock()
	if prev != "" && prev != tab && h.conns[prev] == conn {
		delete(h.conns, prev)
	}
	h.conns[tab] = conn
	h.mu.Unlock()
}

func (h *Hub) deliver(conn *wsConn, f frame) {
	conn.mu.Lock()
	ch, ok := conn.pending[f.ID]
	delete(conn.pending, f.ID)
	conn.mu.Unlock()
	if !ok {
		h.logger.Debug("reply without pending request", "id", f.ID)
		return
	}
	ch <- models.Response{ID: f.ID, Success: f.Success, Data: f.Data, Error: f.Error}
}

// closeConn unbinds conn and reports its tab as closed.
func (h *Hub) closeConn(conn *wsConn) {
	close(conn.done)
	_ = conn.ws.Close()

	tab := conn.boundTab()
	owned := false
	h.mu.Lock()
	if tab != "" && h.conns[tab] == conn {
		delete(h.conns, tab)
		owned = true
	}
	h.mu.Unlock()

	if !owned {
		return
	}
	h.logger.Info("remote tab disconnected", "tab_id", tab)
	msg := models.Message{ID: uuid.NewString(), Type: models.MsgTabClosed, TabID: tab}
	h.dispatch(context.Background(), msg)
}

// Has reports whether a connection is bound to tab.
func (h *Hub) Has(tab models.TabID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[tab]
	return ok
}

// Prompt pushes a PROMPT_GPT request to the connection bound to tab and
// waits for its reply. It returns service.ErrTabNotFound when no connection
// is bound to tab.
func (h *Hub) Prompt(ctx context.Context, tab models.TabID, prompt string) (string, error) {
	h.mu.Lock()
	conn := h.conns[tab]
	h.mu.Unlock()
	if conn == nil {
		return "", fmt.Errorf("remote tab %s: %w", tab, service.ErrTabNotFound)
	}

	msg, err := models.NewMessage(uuid.NewString(), models.MsgPromptGPT, tab, models.PromptPayload{Prompt: prompt})
	if err != nil {
		return "", err
	}
	ch := make(chan models.Response, 1)
	conn.mu.Lock()
	conn.pending[msg.ID] = ch
	conn.mu.Unlock()
	defer func() {
		conn.mu.Lock()
		delete(conn.pending, msg.ID)
		conn.mu.Unlock()
	}()

	if err := conn.write(msg); err != nil {
		return "", fmt.Errorf("send prompt: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-conn.done:
		return "", errConnClosed
	case resp := <-ch:
		var answer string
		if err := resp.DecodeData(&answer); err != nil {
			return "", fmt.Errorf("prompt tab %s: %w", tab, err)
		}
		return answer, nil
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendBuffer = 16
	writeWait  = 10 * time.Second
)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type client struct {
	patientID uuid.UUID
	send      chan []byte
	conn      Conn
}

// Hub tracks the open WebSocket connections of patients on this instance.
type Hub struct {
	mu       sync.RWMutex
	clients  map[uuid.UUID]map[*client]struct{}
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws_hub").Logger(),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Deliver sends ev to the patient's local connections. Having none is not an
// error: the patient is simply offline.
func (h *Hub) Deliver(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	h.Send(ev.PatientID, data)
	return nil
}

// Send queues data on every connection of patientID and returns how many
// accepted it. Slow connections drop the message.
func (h *Hub) Send(patientID uuid.UUID, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients[patientID] {
		select {
		case c.send <- data:
			n++
		default:
			h.log.Debug().Str("patient_id", patientID.String()).Msg("slow websocket client, message dropped")
		}
	}
	return n
}

// ClientCount returns the number of open connections for patientID.
func (h *Hub) ClientCount(patientID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[patientID])
}

// ServeWS upgrades the request and streams the patient's events until the
// connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, patientID uuid.UUID) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serve(ws, patientID)
	return nil
}

func (h *Hub) serve(conn Conn, patientID uuid.UUID) {
	c := &client{
		patientID: patientID,
		send:      make(chan []byte, sendBuffer),
		conn:      conn,
	}
	h.register(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()

	// clients only listen; reading detects disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(c)
	<-done
	_ = conn.Close()
}

func (h *Hub) writePump(c *client) {
	for msg := range c.send {
		if ws, ok := c.conn.(*websocket.Conn); ok {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			_ = c.conn.Close()
			// drain until unregister closes the channel
			for range c.send {
			}
			return
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.patientID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.patientID] = set
	}
	set[c] = struct{}{}
	h.log.Debug().Str("patient_id", c.patientID.String()).Msg("websocket client connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[c.patientID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.patientID)
	}
	close(c.send)
}

package livefeed

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/NotCoffee418/obis_meter_reader/pkg/meter"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

const writeTimeout = 5 * time.Second

type client struct {
	conn *websocket.Conn
	// gorilla allows one writer per connection
	mu sync.Mutex
}

func (c *client) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub broadcasts device events to every connected websocket client. It is a
// meter.Listener.
type Hub struct {
	sessionID string
	snapshot  func() []*Message
	log       zerolog.Logger
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a hub. snapshot, when set, provides the messages a new
// client receives before live events.
func NewHub(snapshot func() []*Message, log zerolog.Logger) *Hub {
	return &Hub{
		sessionID: uuid.NewString(),
		snapshot:  snapshot,
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]bool),
	}
}

// SessionID identifies this process run, it changes on restart.
func (h *Hub) SessionID() string {
	return h.sessionID
}

// ServeHTTP upgrades the request and keeps the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn}
	h.add(c)

	if h.snapshot != nil {
		for _, m := range h.snapshot() {
			m.SessionID = h.sessionID
			if err := c.write(m.ToJsonBytes()); err != nil {
				h.remove(c)
				return
			}
		}
	}

	// Keep connection alive, this also answers pings
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) Broadcast(m *Message) {
	m.SessionID = h.sessionID
	b := m.ToJsonBytes()

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(b); err != nil {
			h.log.Debug().Err(err).Msg("dropping websocket client")
			h.remove(c)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.log.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("websocket client connected")
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]bool)
	h.mu.Unlock()
	for c := range clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
}

func (h *Hub) ValueAdded(device string, v types.MeterValue) {
	h.Broadcast(valueMessage(h.sessionID, device, EventAdded, v))
}

func (h *Hub) ValueChanged(device string, v types.MeterValue) {
	h.Broadcast(valueMessage(h.sessionID, device, EventChanged, v))
}

func (h *Hub) ValueRemoved(device string, v types.MeterValue) {
	h.Broadcast(valueMessage(h.sessionID, device, EventRemoved, v))
}

func (h *Hub) ErrorOccurred(device string, err error) {
	h.Broadcast(&Message{Device: device, Event: EventError, Error: err.Error(), Timestamp: time.Now().UTC()})
}

func (h *Hub) StatusChanged(device string, status meter.Status) {
	h.Broadcast(&Message{Device: device, Event: EventStatus, Status: &status, Timestamp: time.Now().UTC()})
}

// SnapshotOf renders the cached values of devices as added events.
func SnapshotOf(devices []*meter.Device) []*Message {
	var out []*Message
	for _, d := range devices {
		for _, v := range d.Values() {
			out = append(out, valueMessage("", d.ID(), EventAdded, v))
		}
	}
	return out
}

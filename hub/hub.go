// Package hub implements the WebSocket fan-out for live log viewers.
//
// Architecture:
//   - One reader and one writer goroutine per connected client
//   - Publish is fire-and-forget: per-client buffered channels with
//     non-blocking sends, so one slow viewer never stalls the rest
//   - A periodic keepalive probes every client; a client that missed the
//     previous round-trip is forcibly disconnected
//
// A new subscriber always receives an "init" envelope carrying a snapshot of
// the live buffer before any incremental envelope. Reconnecting clients get a
// fresh snapshot; there is no replay.
package hub

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is a typed message pushed to subscribers.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Envelope types delivered to subscribers.
const (
	TypeInit    = "init"
	TypeNew     = "new"
	TypeArchive = "archive"
)

// ArchiveNotice is the payload of an "archive" envelope. Archived is nil when
// the transition produced no snapshot file.
type ArchiveNotice struct {
	Archived *string `json:"archived"`
	Cleared  bool    `json:"cleared"`
}

const (
	defaultClientBuffer = 64
	writeDeadline       = 10 * time.Second
)

// Options configures the hub.
type Options struct {
	// Subscribe runs deliver with a copy of the live buffer while holding
	// whatever lock orders buffer mutation against broadcast, so a record
	// published concurrently with a subscription lands either in the init
	// snapshot or in the client's queue, never in neither. The engine's
	// Subscribe method is the production implementation.
	Subscribe func(deliver func(snapshot []string))
	// KeepaliveInterval is the ping cycle period; 30s when zero.
	KeepaliveInterval time.Duration
	// ClientBuffer is the per-client send queue capacity.
	ClientBuffer int
	// CheckOrigin overrides the upgrader origin policy; nil allows all
	// origins, matching a same-host viewer page served next to the API.
	CheckOrigin func(r *http.Request) bool
}

// Hub tracks connected subscribers and pushes envelopes to each of them.
type Hub struct {
	upgrader  websocket.Upgrader
	subscribe func(deliver func(snapshot []string))
	keepalive time.Duration
	buffer    int

	mu      sync.RWMutex
	clients map[*Client]struct{}

	shutdown  chan struct{}
	closeOnce sync.Once

	clientDrops atomic.Uint64
	published   atomic.Uint64
}

// Client represents one connected subscriber.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	address string
	alive   atomic.Bool

	closeOnce sync.Once
}

// New creates a hub; call Start to begin the keepalive cycle.
func New(opts Options) *Hub {
	keepalive := opts.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	buffer := opts.ClientBuffer
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	subscribe := opts.Subscribe
	if subscribe == nil {
		subscribe = func(deliver func(snapshot []string)) { deliver([]string{}) }
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		subscribe: subscribe,
		keepalive: keepalive,
		buffer:    buffer,
		clients:   make(map[*Client]struct{}),
		shutdown:  make(chan struct{}),
	}
}

// Start launches the keepalive loop.
func (h *Hub) Start() {
	go h.keepaliveLoop()
}

// Stop disconnects all clients and stops the keepalive loop.
func (h *Hub) Stop() {
	h.closeOnce.Do(func() { close(h.shutdown) })

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DropCount returns the cumulative number of envelopes dropped because a
// client send queue was full.
func (h *Hub) DropCount() uint64 {
	return h.clientDrops.Load()
}

// ServeWS upgrades an HTTP request into a subscription. The new client
// receives an init envelope with the current live buffer before anything
// else.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		log.Printf("hub: upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, h.buffer),
		address: r.RemoteAddr,
	}
	client.alive.Store(true)

	// Snapshot and registration happen inside the subscribe callback, which
	// the buffer owner runs under its own lock. A concurrent Publish either
	// completed before the snapshot (record in init) or starts after
	// registration (record queued as an incremental envelope).
	registered := false
	h.subscribe(func(snapshot []string) {
		init := Envelope{Type: TypeInit, Data: snapshot}
		data, err := json.Marshal(init)
		if err != nil {
			log.Printf("hub: marshal init envelope: %v", err)
			return
		}
		// The send queue is empty here, so the init envelope always fits and
		// is written before any published envelope.
		client.send <- data

		h.mu.Lock()
		h.clients[client] = struct{}{}
		count := len(h.clients)
		h.mu.Unlock()
		registered = true
		log.Printf("hub: client %s connected (%d total)", client.address, count)
	})
	if !registered {
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

// Publish broadcasts an envelope to every connected client. Delivery is
// fire-and-forget per client: a full send queue drops the envelope for that
// client only.
func (h *Hub) Publish(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("hub: marshal %s envelope: %v", env.Type, err)
		return
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			drops := h.clientDrops.Add(1)
			if shouldLogDrop(drops) {
				log.Printf("hub: client %s send queue full, dropping %s envelope (total drops=%d)", client.address, env.Type, drops)
			}
		}
	}
}

// keepaliveLoop probes every client each cycle. A client that never answered
// the previous probe is removed; a failed probe write is only logged, and the
// client gets one more cycle to respond.
func (h *Hub) keepaliveLoop() {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-h.shutdown:
			return
		case <-ticker.C:
			for _, client := range h.clientList() {
				if !client.alive.Load() {
					log.Printf("hub: client %s missed keepalive, disconnecting", client.address)
					h.remove(client)
					continue
				}
				client.alive.Store(false)
				deadline := time.Now().Add(writeDeadline)
				if err := client.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					log.Printf("hub: ping to %s failed: %v", client.address, err)
				}
			}
		}
	}
}

// clientList returns a snapshot of the client set so keepalive iteration
// tolerates concurrent disconnects.
func (h *Hub) clientList() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	client.close()
	if present {
		log.Printf("hub: client %s disconnected (%d total)", client.address, count)
	}
}

func (h *Hub) writePump(client *Client) {
	for data := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("hub: write to %s failed: %v", client.address, err)
			h.remove(client)
			return
		}
	}
	deadline := time.Now().Add(writeDeadline)
	_ = client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (h *Hub) readPump(client *Client) {
	client.conn.SetPongHandler(func(string) error {
		client.alive.Store(true)
		return nil
	})
	for {
		// Inbound messages are discarded; the read loop exists to service
		// pong frames and to notice disconnects.
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

func shouldLogDrop(total uint64) bool {
	return total == 1 || total%100 == 0
}

package web

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appLog "uspacecal/internal/log"
)

const writeWait = 2 * time.Second

// Broadcaster fans export progress out to connected websocket clients.
type Broadcaster struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]bool
	last     []byte
	upgrader websocket.Upgrader
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			// allow all origins; the server listens on loopback by default
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// progressMessage is the payload of every broadcast.
type progressMessage struct {
	Percentage int `json:"percentage"`
}

// HandleConnections upgrades the request and keeps the client registered
// until it disconnects. The last progress value is sent on connect.
func (b *Broadcaster) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		appLog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	b.mu.Lock()
	if b.last != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b.last); err != nil {
			appLog.Warn("sending initial progress failed", "remote", conn.RemoteAddr().String(), "err", err)
		}
	}
	b.clients[conn] = true
	count := len(b.clients)
	b.mu.Unlock()
	appLog.Debug("progress client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	// Clients never send; ReadMessage returns once they go away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	b.mu.Lock()
	delete(b.clients, conn)
	count = len(b.clients)
	b.mu.Unlock()
	appLog.Debug("progress client removed", "remote", conn.RemoteAddr().String(), "clients", count)
}

// Broadcast sends message to every client. Clients that cannot keep up
// within writeWait are dropped.
func (b *Broadcaster) Broadcast(message []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = message
	for client := range b.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			appLog.Warn("dropping progress client", "remote", client.RemoteAddr().String(), "err", err)
			_ = client.Close()
			delete(b.clients, client)
		}
	}
}

// Progress broadcasts a fraction in [0, 1] as {"percentage":N}.
// It satisfies pipeline.ProgressFunc.
func (b *Broadcaster) Progress(fraction float64) {
	msg, err := json.Marshal(progressMessage{Percentage: int(math.Round(fraction * 100))})
	if err != nil {
		return
	}
	b.Broadcast(msg)
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Package ws hosts the chat WebSocket hub. A single goroutine owns the room
// registry; HTTP handlers register upgraded connections into a chat room and
// the chat service broadcasts room events through it.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/durvesh-thorat/RETRIVA/metrics"
)

// Event is the envelope every room broadcast carries.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// UserRoom is the room name of a user's personal alert stream, as opposed to
// the per-chat rooms keyed by chat id.
func UserRoom(userID string) string {
	return "user:" + userID
}

type roomMessage struct {
	room string
	data []byte
}

// Hub tracks connected chat listeners grouped by room (chat id).
type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan roomMessage
	done       chan struct{}
	mutex      sync.RWMutex

	writeWait  time.Duration
	pongWait   time.Duration
	maxMsgSize int64
}

// NewHub creates a hub. Run must be started on its own goroutine before
// clients register.
func NewHub(writeWait, pongWait time.Duration, maxMsgSize int64) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan roomMessage, 64),
		done:       make(chan struct{}),
		writeWait:  writeWait,
		pongWait:   pongWait,
		maxMsgSize: maxMsgSize,
	}
}

// Run owns the room registry until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			if h.rooms[client.room] == nil {
				h.rooms[client.room] = make(map[*Client]bool)
			}
			h.rooms[client.room][client] = true
			h.mutex.Unlock()
			metrics.WSConnectedClients.Inc()
			log.Infof("websocket client registered: user %s, chat %s", client.userID, client.room)

		case client := <-h.unregister:
			h.mutex.Lock()
			h.dropClient(client)
			h.mutex.Unlock()
			log.Infof("websocket client unregistered: user %s, chat %s", client.userID, client.room)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.rooms[message.room] {
				select {
				case client.send <- message.data:
				default:
					// slow consumer, drop it rather than stall the room
					h.dropClient(client)
				}
			}
			h.mutex.Unlock()

		case <-h.done:
			h.mutex.Lock()
			for room := range h.rooms {
				for client := range h.rooms[room] {
					h.dropClient(client)
				}
			}
			h.mutex.Unlock()
			return
		}
	}
}

// Stop disconnects every client and ends the Run loop.
func (h *Hub) Stop() {
	close(h.done)
}

// Register attaches an upgraded connection to a chat room and starts its
// pumps.
func (h *Hub) Register(conn *websocket.Conn, room, userID string) {
	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		room:   room,
		userID: userID,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// Broadcast sends an event to every listener in a room.
func (h *Hub) Broadcast(room string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("failed to serialize %s event for chat %s: %v", event.Type, room, err)
		return
	}
	select {
	case h.broadcast <- roomMessage{room: room, data: data}:
	case <-h.done:
	}
}

// Viewers returns the distinct user ids currently listening to a room.
func (h *Hub) Viewers(room string) []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	seen := make(map[string]bool, len(h.rooms[room]))
	var viewers []string
	for client := range h.rooms[room] {
		if !seen[client.userID] {
			seen[client.userID] = true
			viewers = append(viewers, client.userID)
		}
	}
	return viewers
}

// ClientCount returns the number of connections across all rooms.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	total := 0
	for _, clients := range h.rooms {
		total += len(clients)
	}
	return total
}

// dropClient must be called with the mutex held.
func (h *Hub) dropClient(client *Client) {
	clients, ok := h.rooms[client.room]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.room)
	}
	metrics.WSConnectedClients.Dec()
}

package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vnkhanh/submission-ingest-backend/models"
)

type Client struct {
	Conn *websocket.Conn
	Send chan []byte
}

// Hub fans out upload progress to sockets subscribed per file id.
type Hub struct {
	clients map[string]map[*websocket.Conn]*Client
	mu      sync.RWMutex
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]*Client),
		log:     log.With().Str("component", "ws_hub").Logger(),
	}
}

// FileEvent is the message pushed to subscribers of one upload.
type FileEvent struct {
	Type      string                  `json:"type"`
	FileID    string                  `json:"file_id"`
	Status    models.ProcessingStatus `json:"status,omitempty"`
	Step      string                  `json:"step,omitempty"`
	StepState models.StepStatus       `json:"step_status,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Error     string                  `json:"error,omitempty"`
	At        time.Time               `json:"at"`
}

func (h *Hub) Register(fileID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[fileID]; !ok {
		h.clients[fileID] = make(map[*websocket.Conn]*Client)
	}
	client := &Client{
		Conn: conn,
		Send: make(chan []byte, 256),
	}
	h.clients[fileID][conn] = client

	go h.writePump(client)
	return client
}

func (h *Hub) Unregister(fileID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[fileID]; ok {
		if client, ok := clients[conn]; ok {
			close(client.Send)
			delete(clients, conn)
		}
		if len(clients) == 0 {
			delete(h.clients, fileID)
		}
	}
}

// Broadcast drops the message for clients whose buffer is full.
func (h *Hub) Broadcast(fileID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[fileID] {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// sendTo queues data for one client, if it is still subscribed to fileID.
func (h *Hub) sendTo(fileID string, client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.clients[fileID][client.Conn] != client {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) encode(ev FileEvent) ([]byte, bool) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal file event")
		return nil, false
	}
	return data, true
}

func (h *Hub) send(ev FileEvent) {
	if data, ok := h.encode(ev); ok {
		h.Broadcast(ev.FileID, data)
	}
}

func (h *Hub) StepRecorded(entry models.ProcessingLogEntry) {
	h.send(FileEvent{
		Type:      "step",
		FileID:    entry.FileID.String(),
		Step:      entry.Step,
		StepState: entry.Status,
		Message:   entry.Message,
		At:        entry.CreatedAt,
	})
}

func statusEvent(file models.UploadedFile) FileEvent {
	ev := FileEvent{
		Type:   "status",
		FileID: file.ID.String(),
		Status: file.ProcessingStatus,
		At:     time.Now(),
	}
	if file.ErrorMessage != nil {
		ev.Error = *file.ErrorMessage
	}
	return ev
}

func (h *Hub) StatusChanged(file models.UploadedFile) {
	h.send(statusEvent(file))
}

// SendStatus pushes the current status of file to a single subscriber.
func (h *Hub) SendStatus(client *Client, file models.UploadedFile) bool {
	ev := statusEvent(file)
	data, ok := h.encode(ev)
	if !ok {
		return false
	}
	return h.sendTo(ev.FileID, client, data)
}

func (h *Hub) GetStats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := 0
	for _, clients := range h.clients {
		conns += len(clients)
	}
	return map[string]int{
		"files":       len(h.clients),
		"connections": conns,
	}
}

func (h *Hub) writePump(client *Client) {
	defer func() {
		client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
		client.Conn.Close()
	}()
	for msg := range client.Send {
		client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := client.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

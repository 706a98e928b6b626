// Package websocket streams engine events (reminders sent, jobs finished) to
// connected operator dashboards.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/pursue/internal/model"
)

// Entities and actions carried in Message.
const (
	EntityReminder = "reminder"
	EntityJob      = "job"

	ActionSent      = "sent"
	ActionCompleted = "completed"
)

// Message is one event broadcast to every connected client.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	At     time.Time      `json:"at"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   entity + "_" + action,
		Entity: entity,
		Action: action,
		ID:     id,
		At:     time.Now().UTC(),
		Extra:  extra,
	}
}

// ReminderSent describes a reminder that was dispatched.
func ReminderSent(e model.ReminderHistoryEntry) Message {
	return NewMessage(EntityReminder, ActionSent, e.ID, map[string]any{
		"user_id":    e.UserID,
		"goal_id":    e.GoalID,
		"tier":       e.Tier,
		"local_date": e.SentAtLocalDate,
	})
}

// JobCompleted describes a finished batch job run.
func JobCompleted(run model.JobRun) Message {
	return NewMessage(EntityJob, ActionCompleted, run.ID, map[string]any{
		"job":       run.Job,
		"run_id":    run.RunID,
		"result":    run.Result,
		"processed": run.Processed,
		"skipped":   run.Skipped,
		"errored":   run.Errored,
	})
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", "clients", n)
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients. Slow clients miss
// messages rather than block the sender.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Package ws streams project status events to connected panel clients.
package ws

import (
	"encoding/json"
	"time"

	"log/slog"

	"github.com/hacker-cb/docklite/internal/domain"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// StatusEvent is the wire form of a project status transition.
type StatusEvent struct {
	Type      string    `json:"type"`
	ProjectID string    `json:"project_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription scopes what a client receives: a single project's events, or
// the full stream for admin clients.
type Subscription struct {
	ProjectID   string
	AllProjects bool
}

type registration struct {
	client Subscriber
	sub    Subscription
}

type statusEvent struct {
	projectID string
	payload   []byte
}

// Hub fans project status events out to connected clients according to
// their subscriptions.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	clients   map[Subscriber]Subscription
	register  chan registration
	unreg     chan Subscriber
	broadcast chan statusEvent
}

// NewHub creates a running Hub.
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		logger:    logger,
		now:       time.Now,
		clients:   make(map[Subscriber]Subscription),
		register:  make(chan registration),
		unreg:     make(chan Subscriber),
		broadcast: make(chan statusEvent),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case reg := <-h.register:
			h.clients[reg.client] = reg.sub
		case client := <-h.unreg:
			delete(h.clients, client)
		case event := <-h.broadcast:
			for client, sub := range h.clients {
				if !sub.AllProjects && sub.ProjectID != event.projectID {
					continue
				}
				if err := client.Send(event.payload); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
		}
	}
}

// Register adds a client to the event stream. Visibility of the subscribed
// project must be checked by the caller before registering.
func (h *Hub) Register(client Subscriber, sub Subscription) {
	h.register <- registration{client: client, sub: sub}
}

// Unregister removes a client.
func (h *Hub) Unregister(client Subscriber) {
	h.unreg <- client
}

// NotifyStatus broadcasts a project status transition to subscribed clients.
func (h *Hub) NotifyStatus(projectID string, status domain.ProjectStatus, reason string) {
	payload, err := json.Marshal(StatusEvent{
		Type:      "project_status",
		ProjectID: projectID,
		Status:    string(status),
		Reason:    reason,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		h.logger.Error("failed to encode status event", "error", err)
		return
	}
	h.broadcast <- statusEvent{projectID: projectID, payload: payload}
}

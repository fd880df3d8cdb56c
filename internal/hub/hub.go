// Package hub maintains logical rooms over persistent duplex connections and
// fans newly sent messages out to every session joined to the relevant rooms.
// Rooms are keyed by user_id, plus the shared admin room.
package hub

import (
	"sync"

	"github.com/mercura/order-chat/internal/broker"
	"github.com/mercura/order-chat/internal/models"
	"github.com/mercura/order-chat/pkg/logger"

	"go.uber.org/zap"
)

// AdminRoom is the shared room every admin console connection joins.
const AdminRoom = "admin"

// Envelope is one outbound event delivered to sessions in a room.
type Envelope struct {
	Type     string          `json:"type"`
	Room     string          `json:"room,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	Message  *models.Message `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
}

const (
	EventReceiveMessage = "receive_message"
	EventAck            = "ack"
	EventError          = "error"
)

// Session is a transport-agnostic connection. Send must not block; it
// reports false when the session can no longer accept events.
type Session interface {
	ID() string
	Send(env Envelope) bool
}

// room serializes delivery through a single dispatch goroutine, so fan-out
// order within a room matches enqueue order. Different rooms never contend.
type room struct {
	name    string
	mu      sync.RWMutex
	members map[Session]struct{}
	queue   chan Envelope
}

func (r *room) run(wg *sync.WaitGroup) {
	defer wg.Done()

	for env := range r.queue {
		r.mu.RLock()
		sessions := make([]Session, 0, len(r.members))
		for s := range r.members {
			sessions = append(sessions, s)
		}
		r.mu.RUnlock()

		for _, s := range sessions {
			if !s.Send(env) {
				logger.Log.Warn("Hub: dropped event for slow session",
					zap.String("room", r.name),
					zap.String("session_id", s.ID()),
				)
			}
		}
	}
}

// Hub is an explicitly constructed relay instance with a defined start/stop
// lifecycle. Duplicate Start calls are no-ops rather than second listeners.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*room
	running bool
	nodeID  string
	broker  broker.EventBroker
	wg      sync.WaitGroup
}

// New creates a hub. The broker may be nil for single-node deployments.
func New(nodeID string, b broker.EventBroker) *Hub {
	return &Hub{
		rooms:  make(map[string]*room),
		nodeID: nodeID,
		broker: b,
	}
}

func (h *Hub) NodeID() string {
	return h.nodeID
}

// Start begins consuming remote events from the broker. Idempotent.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	if h.broker == nil {
		return nil
	}

	events, err := h.broker.Subscribe()
	if err != nil {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		return err
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for ev := range events {
			// Skip events this node already fanned out locally.
			if ev.NodeID == h.nodeID {
				continue
			}
			for _, roomID := range ev.Rooms {
				h.Broadcast(roomID, Envelope{
					Type:     EventReceiveMessage,
					Room:     roomID,
					ClientID: ev.ClientID,
					Message:  ev.Message,
				})
			}
		}
	}()

	return nil
}

// Stop drains every room and stops the broker loop. Safe to call twice.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	for _, r := range h.rooms {
		close(r.queue)
	}
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	if h.broker != nil {
		h.broker.Close()
	}
	h.wg.Wait()
}

// Join adds the session to a room, creating the room (and its dispatch
// goroutine) on first use. Authorization of room membership is the caller's
// concern, not the hub's.
func (h *Hub) Join(roomID string, s Session) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{
			name:    roomID,
			members: make(map[Session]struct{}),
			queue:   make(chan Envelope, 256),
		}
		h.rooms[roomID] = r
		h.wg.Add(1)
		go r.run(&h.wg)
	}
	h.mu.Unlock()

	r.mu.Lock()
	r.members[s] = struct{}{}
	r.mu.Unlock()

	logger.Log.Debug("Hub: session joined room",
		zap.String("room", roomID),
		zap.String("session_id", s.ID()),
	)
}

// Leave removes the session from a room; the last member leaving tears the
// room down.
func (h *Hub) Leave(roomID string, s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.members, s)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		close(r.queue)
		delete(h.rooms, roomID)
	}
}

// LeaveAll removes the session from every room it joined, for dropped
// connections.
func (h *Hub) LeaveAll(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID, r := range h.rooms {
		r.mu.Lock()
		if _, ok := r.members[s]; !ok {
			r.mu.Unlock()
			continue
		}
		delete(r.members, s)
		empty := len(r.members) == 0
		r.mu.Unlock()

		if empty {
			close(r.queue)
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast enqueues an event for a room. A room with no members is a no-op.
// Enqueue order is the delivery order within the room.
func (h *Hub) Broadcast(roomID string, env Envelope) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}

	select {
	case r.queue <- env:
	default:
		logger.Log.Warn("Hub: room queue full, dropping event",
			zap.String("room", roomID),
			zap.String("type", env.Type),
		)
	}
	h.mu.Unlock()
}

// FanOut broadcasts one persisted message to every target room and, when a
// broker is configured, publishes it for other relay nodes.
func (h *Hub) FanOut(rooms []string, clientID string, msg *models.Message) {
	for _, roomID := range rooms {
		h.Broadcast(roomID, Envelope{
			Type:     EventReceiveMessage,
			Room:     roomID,
			ClientID: clientID,
			Message:  msg,
		})
	}

	if h.broker == nil {
		return
	}
	err := h.broker.Publish(broker.Event{
		NodeID:   h.nodeID,
		Rooms:    rooms,
		ClientID: clientID,
		Message:  msg,
	})
	if err != nil {
		logger.Log.Error("Hub: broker publish failed",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

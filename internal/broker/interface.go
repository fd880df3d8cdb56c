package broker

import "github.com/mercura/order-chat/internal/models"

// Event is one persisted message plus its fan-out targets, published after
// the local broadcast so other relay nodes can deliver to their own rooms.
type Event struct {
	NodeID   string          `json:"node_id"`
	Rooms    []string        `json:"rooms"`
	ClientID string          `json:"client_id,omitempty"`
	Message  *models.Message `json:"message"`
}

// EventBroker fans message events across relay nodes. A single-node
// deployment may run without one.
type EventBroker interface {
	Publish(ev Event) error
	Subscribe() (<-chan Event, error)
	Close() error
}

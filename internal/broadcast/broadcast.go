// Package broadcast fans a document's accepted changes out to every
// connection subscribed to it, across instances, per spec §4.4. A Bus
// handles the cross-instance leg (in-memory for a single process, Redis
// pub/sub across a fleet); Rooms handle local delivery to connections held
// by this process.
package broadcast

import (
	"context"
	"encoding/json"
)

// Message is one change notification carried over the bus.
type Message struct {
	DocumentID string `json:"documentId"`
	// Event names the outbound wire event this message should become for a
	// local member (e.g. "receive-changes", "user-left"); members that only
	// understand one kind of notification may ignore it.
	Event   string `json:"event,omitempty"`
	Payload []byte `json:"payload"`
	Version int64  `json:"version"`
	// OriginInstance identifies the process that produced this message, so a
	// subscriber can recognize and skip its own locally-originated publishes
	// when the bus loops them back.
	OriginInstance string `json:"originInstance"`
}

// Handler processes one message delivered off a subscription.
type Handler func(ctx context.Context, msg Message)

// Bus is the cross-instance fan-out fabric. Publish reaches the subscribers
// registered when it is called and is never retried or redelivered;
// Subscribe delivers messages for one topic (document id) in the order the
// bus received them, per spec §4.4's per-channel FIFO guarantee.
type Bus interface {
	Publish(ctx context.Context, documentID string, msg Message) error
	Subscribe(ctx context.Context, documentID string, handler Handler) (unsubscribe func(), err error)
	Close() error
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}

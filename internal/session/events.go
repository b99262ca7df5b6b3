// Package session is the connection and session manager of spec §4.1: it
// validates handshakes, routes the five inbound events to the permission
// gate, OT engine, and persistence pipeline, and emits the seven outbound
// events documented in spec §6.
package session

import "collabdocs/internal/document"

// Inbound event type tags, per spec §6's client-to-server event table.
const (
	EventHandshake    = "handshake"
	EventGetDocument  = "get-document"
	EventSendChanges  = "send-changes"
	EventSaveDocument = "save-document"
	EventDisconnect   = "disconnect"
)

// Outbound event type tags, per spec §6's server-to-client event table.
const (
	EventLoadDocument      = "load-document"
	EventReceiveChanges    = "receive-changes"
	EventAck               = "ack"
	EventAccessDenied      = "access-denied"
	EventPermissionError   = "permission-error"
	EventRateLimitExceeded = "rate-limit-exceeded"
	EventUserLeft          = "user-left"
)

// Inbound is one event read off a connection, decoded into the shape the
// manager needs without committing to the wire's exact JSON layout (that's
// transport/ws's job).
type Inbound struct {
	Type         string
	UserID       string
	Username     string
	DocumentID   string
	DocumentName string
	Ops          []document.Operation
	BaseVersion  int64
}

// Outbound is one event the manager hands back to the transport layer to
// serialize and write to one or more connections.
type Outbound struct {
	Type           string               `json:"type"`
	Data           string               `json:"data,omitempty"`
	Version        int64                `json:"version,omitempty"`
	Role           string               `json:"role,omitempty"`
	CanEdit        bool                 `json:"canEdit,omitempty"`
	Delta          []document.Operation `json:"delta,omitempty"`
	OriginClientID string               `json:"originClientId,omitempty"`
	Transformed    bool                 `json:"transformed,omitempty"`
	Error          string               `json:"error,omitempty"`
	Event          string               `json:"event,omitempty"`
	UserID         string               `json:"userId,omitempty"`
	Username       string               `json:"username,omitempty"`
}

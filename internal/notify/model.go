// Package notify holds the wire-level notification model shared by the
// gateway, the dispatcher and the subscriber client.
package notify

import "encoding/json"

// Wire event names. Inbound events are sent by clients, outbound events by
// the server.
const (
	EventJoin         = "join-user"              // inbound: declare identity
	EventBroadcast    = "broadcast-notification" // inbound: relay a broadcast
	EventJoinedRooms  = "joined-rooms"           // outbound: room assignment ack
	EventNotification = "new-notification"       // outbound: fan-out payload
)

// TypeGlobal marks a broadcast addressed to every live connection.
const TypeGlobal = "global"

// Envelope is the framing for every message on the realtime channel.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Identity is what a client declares about itself after connecting. The
// server never assumes any field is non-empty.
type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"userRole"`
	Email  string `json:"userEmail"`
}

// JoinedRooms acknowledges an identity announcement with the rooms the
// connection was placed in.
type JoinedRooms struct {
	UserRoom string `json:"userRoom"`
	RoleRoom string `json:"roleRoom"`
}

// BroadcastRequest describes an audience and a payload to deliver. The
// audience clauses are evaluated independently; a request matching more than
// one clause delivers once per matching clause.
type BroadcastRequest struct {
	Type         string          `json:"type,omitempty"`
	TargetRole   string          `json:"targetRole,omitempty"`
	TargetUsers  []string        `json:"targetUsers,omitempty"`
	Notification json.RawMessage `json:"notification"`
}

// Empty reports whether the request addresses no audience at all. Such a
// request is a silent no-op, not an error.
func (r BroadcastRequest) Empty() bool {
	return r.Type != TypeGlobal && r.TargetRole == "" && len(r.TargetUsers) == 0
}

// Payload is the typed edge of the otherwise opaque notification record.
// Only producers and the client UI interpret these fields; the gateway
// relays the raw bytes verbatim.
type Payload struct {
	Message        string `json:"message"`
	Description    string `json:"description,omitempty"`
	ActionURL      string `json:"actionUrl,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	AdjustmentType string `json:"adjustmentType,omitempty"`
	Product        string `json:"product,omitempty"`
	Warehouse      string `json:"warehouse,omitempty"`
}

// Raw marshals the payload for transport. Marshaling a Payload cannot fail.
func (p Payload) Raw() json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

// Frame marshals an envelope for transport.
func Frame(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

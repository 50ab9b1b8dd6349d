package models

import (
	"encoding/json"
	"time"
)

// WebSocket message types
const (
	// Server -> Client
	MsgTypeStateUpdate    = "stateUpdate"
	MsgTypeResolvedUpdate = "resolvedUpdate"
	MsgTypeConnected      = "connected"
	MsgTypeError          = "error"
	MsgTypePong           = "pong"

	// Client -> Server (control path only, except ping)
	MsgTypeStateChange = "stateChange"
	MsgTypeDragStart   = "dragStart"
	MsgTypeDragEnd     = "dragEnd"
	MsgTypePing        = "ping"
)

// Envelope is the WebSocket message frame. Tagged change messages use the change
// kind as Type and the change payload as Data.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ResolvedUpdate is the payload of a resolvedUpdate message.
type ResolvedUpdate struct {
	Subject string      `json:"subject"`
	Values  ResolvedMap `json:"values"`
	Status  string      `json:"status"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(msgType, id string, data any) (Envelope, error) {
	env := Envelope{Type: msgType, ID: id, Timestamp: time.Now().UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = raw
	}
	return env, nil
}

// IsChangeKind reports whether a message type names a tagged change variant.
func IsChangeKind(msgType string) bool {
	for _, k := range ChangeKinds {
		if string(k) == msgType {
			return true
		}
	}
	return false
}

// Package types holds the wire message shapes shared with clients.
package types

import "encoding/json"

// ClientMessage is the inbound envelope. Data stays raw until the router
// knows which event it is dispatching.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is the outbound envelope.
type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Outbound event names.
const (
	EventPhaseChange        = "phase_change"
	EventPlayerDisconnected = "player_disconnected"
	EventPlayerReconnected  = "player_reconnected"
	EventBotActivated       = "bot_activated"
	EventBotDeactivated     = "bot_deactivated"
	EventError              = "error"
	EventPong               = "pong"
)

// ErrorData is the payload of an "error" message, sent only to the
// connection whose message caused it.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

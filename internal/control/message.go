// Package control is the WebSocket endpoint through which a running error
// simulator is told which fault to inject next.
package control

import "github.com/1ureka/tftp3303/internal/faultsim"

// MessageType identifies the kind of control message.
type MessageType string

const (
	// Controller → relay.
	MsgTypeArm    MessageType = "arm"
	MsgTypeDisarm MessageType = "disarm"
	MsgTypeStatus MessageType = "status"

	// Relay → controller.
	MsgTypeArmed    MessageType = "armed"
	MsgTypeDisarmed MessageType = "disarmed"
	MsgTypeFired    MessageType = "fired"
	MsgTypeError    MessageType = "error"
)

// Message is the JSON structure exchanged over the WebSocket.
type Message struct {
	Type  MessageType    `json:"type"`
	Fault *faultsim.Spec `json:"fault,omitempty"`
	ID    string         `json:"id,omitempty"`   // fault ID from Arm
	Text  string         `json:"text,omitempty"` // error text, or what a fired fault hit
}

package websockets

import "github.com/chris/cash-settlement/pkg/notify"

// MessageType defines the type of a WebSocket message.
type MessageType string

const (
	// MessageTypeTransactionUpdate announces a completed or failed transaction.
	MessageTypeTransactionUpdate MessageType = "transactionUpdate"
)

// Message represents a generic WebSocket message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewTransactionUpdate wraps a notification for the wire.
func NewTransactionUpdate(msg notify.Message) Message {
	return Message{Type: MessageTypeTransactionUpdate, Payload: msg}
}

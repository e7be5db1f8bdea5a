package amqp

import (
	"encoding/json"
	"time"
)

// SlotChangedMessage announces that a persisted slot was rewritten.
// It carries no payload; consumers read the slot from the primary store.
type SlotChangedMessage struct {
	Slot      string    `json:"slot"`
	Revision  int64     `json:"revision"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSlotChangedMessage(slot string, revision int64) *SlotChangedMessage {
	return &SlotChangedMessage{
		Slot:      slot,
		Revision:  revision,
		Timestamp: time.Now(),
	}
}

func (m *SlotChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SlotChangedMessageFromJSON(data []byte) (*SlotChangedMessage, error) {
	var msg SlotChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

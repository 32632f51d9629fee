package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sync operations carried by a SyncMessage.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// SyncMessage asks the worker to mirror one local record. Upserts carry the
// local id and the worker reads the current row itself; deletes carry the
// remote id because the local row is already gone.
type SyncMessage struct {
	Entity    string    `json:"entity"`
	ID        int64     `json:"id,omitempty"`
	Op        string    `json:"op"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewUpsertMessage(entity string, id int64) *SyncMessage {
	return &SyncMessage{
		Entity:    entity,
		ID:        id,
		Op:        OpUpsert,
		Timestamp: time.Now(),
	}
}

func NewDeleteMessage(entity, remoteID string) *SyncMessage {
	return &SyncMessage{
		Entity:    entity,
		Op:        OpDelete,
		RemoteID:  remoteID,
		Timestamp: time.Now(),
	}
}

// Validate checks that the message carries what its operation needs
func (m *SyncMessage) Validate() error {
	if m.Entity == "" {
		return errors.New("sync message without entity")
	}
	switch m.Op {
	case OpUpsert:
		if m.ID <= 0 {
			return fmt.Errorf("upsert %s message without id", m.Entity)
		}
	case OpDelete:
		if m.RemoteID == "" {
			return fmt.Errorf("delete %s message without remote id", m.Entity)
		}
	default:
		return fmt.Errorf("unknown sync operation %q", m.Op)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *SyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncMessageFromJSON decodes and validates a message body
func SyncMessageFromJSON(data []byte) (*SyncMessage, error) {
	var msg SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

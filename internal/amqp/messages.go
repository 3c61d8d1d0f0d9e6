package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"carelink/internal/core"
)

// EntriesChangedMessage is the fanout payload announcing a journal change.
// Consumers refetch the patient's entries; the entry itself is not carried.
type EntriesChangedMessage struct {
	PatientID int64         `json:"patient_id"`
	EntryID   string        `json:"entry_id"`
	Op        core.ChangeOp `json:"op"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewEntriesChangedMessage(change core.EntryChange) *EntriesChangedMessage {
	ts := change.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &EntriesChangedMessage{
		PatientID: change.PatientID,
		EntryID:   change.EntryID,
		Op:        change.Op,
		Timestamp: ts,
	}
}

func (m *EntriesChangedMessage) Change() core.EntryChange {
	return core.EntryChange{
		PatientID: m.PatientID,
		EntryID:   m.EntryID,
		Op:        m.Op,
		Timestamp: m.Timestamp,
	}
}

func (m *EntriesChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EntriesChangedMessageFromJSON decodes and checks a message body.
func EntriesChangedMessageFromJSON(data []byte) (*EntriesChangedMessage, error) {
	var msg EntriesChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.PatientID <= 0 {
		return nil, fmt.Errorf("message without patient_id")
	}
	switch msg.Op {
	case core.OpCreated, core.OpDeleted:
	default:
		return nil, fmt.Errorf("unknown op %q", msg.Op)
	}
	return &msg, nil
}

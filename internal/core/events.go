package core

import "time"

type ChangeOp string

const (
	OpCreated ChangeOp = "created"
	OpDeleted ChangeOp = "deleted"
)

// EntryChange signals that a patient's journal changed. Receivers refetch rather
// than patch their copy.
type EntryChange struct {
	PatientID int64     `json:"patient_id"`
	EntryID   string    `json:"entry_id"`
	Op        ChangeOp  `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

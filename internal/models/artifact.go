package models

import "time"

// Artifact is an extracted document stored in the remote knowledge
// service. FileID is the remote identifier; Filename keeps the original
// upload name, not the staging name used for transport.
type Artifact struct {
	FileID    string    `json:"file_id"`
	SessionID int64     `json:"session_id"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

package models

import "time"

// Session groups a conversation's history and its uploaded artifacts.
// ThreadID is empty until the first turn creates the remote thread;
// once set it never changes for the session's lifetime.
type Session struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

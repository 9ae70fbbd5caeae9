package models

// Annotation is an inline citation marker inside a raw assistant
// message. Text is the exact substring to rewrite; FileCitation is nil
// for annotation kinds that do not reference an uploaded artifact.
type Annotation struct {
	Text         string        `json:"text"`
	FileCitation *FileCitation `json:"file_citation,omitempty"`
}

// FileCitation points an annotation at a remote artifact.
type FileCitation struct {
	FileID string `json:"file_id"`
	Quote  string `json:"quote"`
}

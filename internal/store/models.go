package store

import "time"

// RowSet is an ordered result set as returned by the business database.
// Column order inside a row map is not meaningful; row order is.
type RowSet []map[string]any

// Turn is one stored exchange in a caller's conversation.
type Turn struct {
	ID        string    `json:"id"` // UUID
	Usercode  string    `json:"usercode"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Audio     []byte    `json:"-"` // optional voice recording, not exposed over JSON
	CreatedAt time.Time `json:"created_at"`
}

// DataChunk is an embedded fragment of an uploaded document.
type DataChunk struct {
	ID            int64     `json:"id"`
	DocumentID    string    `json:"document_id"`
	Content       string    `json:"content"`
	Embedding     []float32 `json:"-"`
	EmbeddingJSON string    `json:"-"` // Store as JSON string for DB
}

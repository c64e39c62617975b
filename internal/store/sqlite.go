package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore persists conversation history keyed by usercode, plus the
// embedded document chunks used by the document question-answering variant.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS turns (
        id TEXT PRIMARY KEY, -- UUID
        usercode TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT '',
        message TEXT NOT NULL,
        response TEXT NOT NULL,
        audio BLOB,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_turns_usercode_created ON turns (usercode, created_at);

    CREATE TABLE IF NOT EXISTS data_chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        document_id TEXT NOT NULL,
        content TEXT NOT NULL,
        embedding_json TEXT -- Storing as JSON string of []float32
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Conversation methods

// AppendTurn stores one question/answer exchange under the caller's
// usercode. Exactly one turn is appended per pipeline request.
func (s *SQLiteStore) AppendTurn(turn *Turn) error {
	turn.ID = uuid.NewString()
	turn.CreatedAt = time.Now()

	stmt, err := s.db.Prepare("INSERT INTO turns (id, usercode, role, message, response, audio, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare turn insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(turn.ID, turn.Usercode, turn.Role, turn.Message, turn.Response, turn.Audio, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute turn insert: %w", err)
	}
	return nil
}

// LastTurns returns the most recent n turns for a usercode in chronological
// order. The pipeline only ever asks for a small trailing window.
func (s *SQLiteStore) LastTurns(usercode string, n int) ([]Turn, error) {
	query := `
        SELECT id, usercode, role, message, response, created_at
        FROM (
            SELECT rowid AS rid, id, usercode, role, message, response, created_at
            FROM turns
            WHERE usercode = ?
            ORDER BY created_at DESC, rid DESC
            LIMIT ?
        )
        ORDER BY created_at ASC, rid ASC
    `
	rows, err := s.db.Query(query, usercode, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Usercode, &t.Role, &t.Message, &t.Response, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ListTurns returns a usercode's full conversation in chronological order.
func (s *SQLiteStore) ListTurns(usercode string) ([]Turn, error) {
	query := `
        SELECT id, usercode, role, message, response, created_at
        FROM turns
        WHERE usercode = ?
        ORDER BY created_at ASC, rowid ASC
    `
	rows, err := s.db.Query(query, usercode)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Usercode, &t.Role, &t.Message, &t.Response, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// DataChunk methods (for document question answering)

func (s *SQLiteStore) CreateDataChunk(chunk *DataChunk) error {
	embeddingBytes, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	chunk.EmbeddingJSON = string(embeddingBytes)

	stmt, err := s.db.Prepare("INSERT INTO data_chunks (document_id, content, embedding_json) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare data_chunk insert: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(chunk.DocumentID, chunk.Content, chunk.EmbeddingJSON)
	if err != nil {
		return fmt.Errorf("failed to execute data_chunk insert: %w", err)
	}
	chunk.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetAllDataChunks() ([]DataChunk, error) {
	rows, err := s.db.Query("SELECT id, document_id, content, embedding_json FROM data_chunks")
	if err != nil {
		return nil, fmt.Errorf("failed to query data_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []DataChunk
	for rows.Next() {
		var chunk DataChunk
		var embeddingJSON string
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Content, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan data_chunk row: %w", err)
		}
		if embeddingJSON != "" {
			if err := json.Unmarshal([]byte(embeddingJSON), &chunk.Embedding); err != nil {
				log.Printf("Warning: failed to unmarshal embedding for chunk %d (content: %.50s...): %v. Embedding will be empty.", chunk.ID, chunk.Content, err)
				chunk.Embedding = nil
			}
		} else {
			log.Printf("Warning: empty embedding_json for chunk ID %d. Embedding will be empty.", chunk.ID)
			chunk.Embedding = nil
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) ClearDataChunks() error {
	_, err := s.db.Exec("DELETE FROM data_chunks")
	if err != nil {
		return fmt.Errorf("failed to delete data_chunks: %w", err)
	}
	return nil
}

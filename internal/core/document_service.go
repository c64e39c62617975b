package core

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"apexcise.com/sql-assistant/internal/store"
	"apexcise.com/sql-assistant/internal/utils"
)

const (
	chunkSize         = 1000 // characters per chunk
	chunkOverlap      = 150
	numRelevantChunks = 4

	documentAnswerInstruction = `Answer strictly using the provided document content.
If the answer is not found, reply: "Information not found in context."`

	// NoContextMessage is returned when retrieval finds nothing at all.
	NoContextMessage = "No relevant context found."
)

// DocumentService answers questions over uploaded documents using vector
// retrieval. Chunks and their embeddings are persisted in SQLite and cached
// in memory for scoring.
type DocumentService struct {
	dbStore  *store.SQLiteStore
	llm      Completer
	embedder Embedder

	mu     sync.RWMutex
	chunks []store.DataChunk
}

func NewDocumentService(db *store.SQLiteStore, llm Completer, embedder Embedder) (*DocumentService, error) {
	chunks, err := db.GetAllDataChunks()
	if err != nil {
		return nil, fmt.Errorf("failed to load data chunks: %w", err)
	}
	if len(chunks) == 0 {
		log.Println("DocumentService initialized with no data chunks. Upload a document to enable document questions.")
	} else {
		log.Printf("DocumentService initialized with %d data chunks.", len(chunks))
	}
	return &DocumentService{dbStore: db, llm: llm, embedder: embedder, chunks: chunks}, nil
}

// IngestPDF extracts the plain text of a PDF file and ingests it.
func (s *DocumentService) IngestPDF(ctx context.Context, path, name string) (int, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return 0, fmt.Errorf("failed to extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return 0, fmt.Errorf("failed to read pdf text: %w", err)
	}
	return s.IngestText(ctx, name, buf.String())
}

// IngestText chunks, embeds and persists one document's text, then refreshes
// the in-memory cache. Returns how many chunks were stored.
func (s *DocumentService) IngestText(ctx context.Context, name, text string) (int, error) {
	rawChunks := chunkText(text, chunkSize, chunkOverlap)
	if len(rawChunks) == 0 {
		return 0, fmt.Errorf("document %s contained no text", name)
	}

	documentID := uuid.NewString()
	log.Printf("Ingesting document %s (%s): %d chunks to embed...", name, documentID, len(rawChunks))

	count := 0
	for i, raw := range rawChunks {
		embedding, err := s.embedder.GetEmbedding(ctx, raw)
		if err != nil {
			log.Printf("Failed to embed chunk %d of %s: %v. Skipping.", i+1, name, err)
			continue
		}
		chunk := store.DataChunk{
			DocumentID: documentID,
			Content:    raw,
			Embedding:  embedding,
		}
		if err := s.dbStore.CreateDataChunk(&chunk); err != nil {
			log.Printf("Failed to store chunk %d of %s: %v. Skipping.", i+1, name, err)
			continue
		}
		count++
	}

	chunks, err := s.dbStore.GetAllDataChunks()
	if err != nil {
		return count, fmt.Errorf("failed to reload data chunks: %w", err)
	}
	s.mu.Lock()
	s.chunks = chunks
	s.mu.Unlock()

	log.Printf("Ingested %d/%d chunks for document %s.", count, len(rawChunks), name)
	return count, nil
}

type scoredChunk struct {
	chunk      store.DataChunk
	similarity float32
}

// Answer retrieves the top matching chunks for the question and asks the
// model to answer strictly from them.
func (s *DocumentService) Answer(ctx context.Context, question string) (string, error) {
	contextText, err := s.retrieveContext(ctx, question)
	if err != nil {
		return "", err
	}
	if contextText == "" {
		return NoContextMessage, nil
	}

	instruction := fmt.Sprintf("%s\n\nContext:\n%s", documentAnswerInstruction, contextText)
	answer, err := s.llm.Complete(ctx, instruction, []Message{{Speaker: SpeakerUser, Text: question}})
	if err != nil {
		return "", fmt.Errorf("document answer failed: %w", err)
	}
	return answer, nil
}

func (s *DocumentService) retrieveContext(ctx context.Context, question string) (string, error) {
	s.mu.RLock()
	chunks := s.chunks
	s.mu.RUnlock()

	if len(chunks) == 0 {
		return "", nil
	}

	queryEmbedding, err := s.embedder.GetEmbedding(ctx, question)
	if err != nil {
		return "", fmt.Errorf("failed to embed question: %w", err)
	}

	scored := make([]scoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		similarity, err := utils.CosineSimilarity(queryEmbedding, chunk.Embedding)
		if err != nil {
			log.Printf("Error scoring chunk %d: %v. Skipping.", chunk.ID, err)
			continue
		}
		scored = append(scored, scoredChunk{chunk: chunk, similarity: similarity})
	}
	if len(scored) == 0 {
		return "", nil
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].similarity > scored[j].similarity
	})

	var b strings.Builder
	for i := 0; i < len(scored) && i < numRelevantChunks; i++ {
		b.WriteString(scored[i].chunk.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

// chunkText splits text into overlapping windows. Windows advance by
// size-overlap so consecutive chunks share context.
func chunkText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

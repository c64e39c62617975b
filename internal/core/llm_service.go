package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"apexcise.com/sql-assistant/internal/config"
)

// Speaker identifies who produced a conversation message.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Message is one conversation turn as seen by the pipeline.
type Message struct {
	Speaker Speaker
	Text    string
}

// Completer is the text-generation boundary. The pipeline talks to two
// logical completers: a fast one for SQL and a quality one for answers.
type Completer interface {
	Complete(ctx context.Context, systemInstruction string, history []Message) (string, error)
}

// Embedder produces embedding vectors for document retrieval.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// LLMService owns the Gemini client shared by all completers.
type LLMService struct {
	client *genai.Client
}

func NewLLMService(ctx context.Context) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		}
	}
}

// Completer binds a model name and sampling temperature. The SQL completer
// is pinned to temperature 0 to keep generation as deterministic as the
// model allows.
func (s *LLMService) Completer(model string, temperature float32) *ModelCompleter {
	return &ModelCompleter{
		client:      s.client,
		model:       model,
		temperature: temperature,
	}
}

type ModelCompleter struct {
	client      *genai.Client
	model       string
	temperature float32
}

func (c *ModelCompleter) Complete(ctx context.Context, systemInstruction string, history []Message) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("history is empty for completion")
	}
	last := history[len(history)-1]
	if last.Speaker != SpeakerUser {
		return "", fmt.Errorf("last message in history is not from 'user', cannot request completion")
	}

	model := c.client.GenerativeModel(c.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}
	temp := c.temperature
	model.GenerationConfig = genai.GenerationConfig{Temperature: &temp}

	session := model.StartChat()
	for _, msg := range history[:len(history)-1] {
		session.History = append(session.History, &genai.Content{
			Role:  string(msg.Speaker),
			Parts: []genai.Part{genai.Text(msg.Text)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(last.Text))
	if err != nil {
		return "", fmt.Errorf("gemini SendMessage failed: %w", err)
	}
	return collectText(resp)
}

// GetEmbedding implements Embedder on the shared client.
func (s *LLMService) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(config.AppConfig.EmbeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Transcribe implements Transcriber by handing the recording to the fast
// model as an inline audio part.
func (s *LLMService) Transcribe(ctx context.Context, mimeType string, audio []byte) (string, error) {
	model := s.client.GenerativeModel(config.AppConfig.SQLModel)

	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: audio},
		genai.Text("Transcribe this recording verbatim. Return only the transcript text, nothing else."),
	)
	if err != nil {
		return "", fmt.Errorf("gemini transcription request failed: %w", err)
	}
	return collectText(resp)
}

func collectText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response was empty or had no valid candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gemini response contained no text parts")
	}
	return b.String(), nil
}

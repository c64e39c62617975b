package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"apexcise.com/sql-assistant/internal/core"
	"apexcise.com/sql-assistant/internal/store"
)

const maxUploadBytes = 32 << 20 // 32 MiB

// QueryProcessor is the pipeline boundary the handlers call into.
type QueryProcessor interface {
	Process(ctx context.Context, question, usercode, role string, history []core.Message) (string, error)
}

// HistoryStore is the conversation persistence boundary.
type HistoryStore interface {
	AppendTurn(turn *store.Turn) error
	LastTurns(usercode string, n int) ([]store.Turn, error)
	ListTurns(usercode string) ([]store.Turn, error)
}

// DocumentAnswerer is the document question-answering boundary.
type DocumentAnswerer interface {
	IngestPDF(ctx context.Context, path, name string) (int, error)
	IngestText(ctx context.Context, name, text string) (int, error)
	Answer(ctx context.Context, question string) (string, error)
}

type APIHandler struct {
	pipeline    QueryProcessor
	history     HistoryStore
	docs        DocumentAnswerer
	transcriber core.Transcriber
	speech      core.SpeechSynthesizer // nil when voice output is not configured
}

func NewAPIHandler(pipeline QueryProcessor, history HistoryStore, docs DocumentAnswerer, transcriber core.Transcriber, speech core.SpeechSynthesizer) *APIHandler {
	return &APIHandler{
		pipeline:    pipeline,
		history:     history,
		docs:        docs,
		transcriber: transcriber,
		speech:      speech,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type AnalyzeRequest struct {
	Query    string `json:"query"`
	Usercode string `json:"usercode,omitempty"`
	Role     string `json:"role,omitempty"`
}

type AnalyzeResponse struct {
	Query     string `json:"query"`
	Usercode  string `json:"usercode"`
	Response  string `json:"response"`
	Audio     string `json:"audio,omitempty"` // base64, voice endpoint only
	AudioMime string `json:"audio_mime,omitempty"`
}

// AnalyzeHandler runs the full question → SQL → answer pipeline.
func (h *APIHandler) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	h.answerQuestion(w, r, req, nil)
}

// answerQuestion is shared by the text and voice entry points. The empty
// question check happens here, before any pipeline component is touched.
func (h *APIHandler) answerQuestion(w http.ResponseWriter, r *http.Request, req AnalyzeRequest, audio []byte) {
	question := strings.TrimSpace(req.Query)
	if question == "" {
		writeError(w, http.StatusBadRequest, "query field is required")
		return
	}

	history := h.recentMessages(req.Usercode)

	response, err := h.pipeline.Process(r.Context(), question, req.Usercode, req.Role, history)
	if err != nil {
		log.Printf("Pipeline failure for usercode %q: %v", req.Usercode, err)
		writeError(w, http.StatusInternalServerError, "failed to process query")
		return
	}

	turn := &store.Turn{
		Usercode: req.Usercode,
		Role:     req.Role,
		Message:  question,
		Response: response,
		Audio:    audio,
	}
	if err := h.history.AppendTurn(turn); err != nil {
		log.Printf("Failed to persist turn for usercode %q: %v", req.Usercode, err)
	}

	resp := AnalyzeResponse{Query: question, Usercode: req.Usercode, Response: response}
	if h.speech != nil {
		if audioOut, mime, err := h.speech.Synthesize(r.Context(), response); err != nil {
			log.Printf("Speech synthesis failed: %v", err)
		} else {
			resp.Audio = base64.StdEncoding.EncodeToString(audioOut)
			resp.AudioMime = mime
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// recentMessages expands the trailing stored exchanges into the flat
// message window the synthesizer consumes.
func (h *APIHandler) recentMessages(usercode string) []core.Message {
	turns, err := h.history.LastTurns(usercode, 2)
	if err != nil {
		log.Printf("Failed to load history for usercode %q: %v. Proceeding without history.", usercode, err)
		return nil
	}
	var messages []core.Message
	for _, t := range turns {
		messages = append(messages,
			core.Message{Speaker: core.SpeakerUser, Text: t.Message},
			core.Message{Speaker: core.SpeakerModel, Text: t.Response},
		)
	}
	return messages
}

// VoiceHandler transcribes an uploaded recording and runs the same pipeline.
func (h *APIHandler) VoiceHandler(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		writeError(w, http.StatusNotImplemented, "voice input is not configured")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body: "+err.Error())
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio: "+err.Error())
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "audio/wav"
	}

	question, err := h.transcriber.Transcribe(r.Context(), mimeType, audio)
	if err != nil {
		log.Printf("Transcription failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to transcribe audio")
		return
	}

	req := AnalyzeRequest{
		Query:    question,
		Usercode: r.FormValue("usercode"),
		Role:     r.FormValue("role"),
	}
	h.answerQuestion(w, r, req, audio)
}

// UploadDocumentHandler ingests a PDF, CSV or plain-text document for the
// document question-answering variant.
func (h *APIHandler) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "document file is required")
		return
	}
	defer file.Close()

	name := header.Filename
	var count int
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		tmp, err := os.CreateTemp("", "upload-*.pdf")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to stage upload")
			return
		}
		defer os.Remove(tmp.Name())
		if _, err := io.Copy(tmp, file); err != nil {
			tmp.Close()
			writeError(w, http.StatusInternalServerError, "failed to stage upload")
			return
		}
		tmp.Close()
		count, err = h.docs.IngestPDF(r.Context(), tmp.Name(), name)
		if err != nil {
			log.Printf("PDF ingestion failed for %s: %v", name, err)
			writeError(w, http.StatusInternalServerError, "failed to process document")
			return
		}
	default:
		content, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read document: "+err.Error())
			return
		}
		count, err = h.docs.IngestText(r.Context(), name, string(content))
		if err != nil {
			log.Printf("Document ingestion failed for %s: %v", name, err)
			writeError(w, http.StatusInternalServerError, "failed to process document")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Document processed and embeddings stored.",
		"chunks":  count,
	})
}

type DocQueryRequest struct {
	Query string `json:"query"`
}

// DocQueryHandler answers a question strictly from uploaded documents.
func (h *APIHandler) DocQueryHandler(w http.ResponseWriter, r *http.Request) {
	var req DocQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	question := strings.TrimSpace(req.Query)
	if question == "" {
		writeError(w, http.StatusBadRequest, "query field is required")
		return
	}

	answer, err := h.docs.Answer(r.Context(), question)
	if err != nil {
		log.Printf("Document query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to answer question")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"question": question,
		"answer":   answer,
	})
}

// HistoryHandler returns a caller's full conversation in order.
func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	usercode := chi.URLParam(r, "usercode")
	turns, err := h.history.ListTurns(usercode)
	if err != nil {
		log.Printf("Failed to list history for usercode %q: %v", usercode, err)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

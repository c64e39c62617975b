package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apexcise.com/sql-assistant/internal/core"
	"apexcise.com/sql-assistant/internal/store"
)

type fakeProcessor struct {
	response string
	err      error
	calls    int

	lastQuestion string
	lastUsercode string
	lastRole     string
	lastHistory  []core.Message
}

func (f *fakeProcessor) Process(_ context.Context, question, usercode, role string, history []core.Message) (string, error) {
	f.calls++
	f.lastQuestion = question
	f.lastUsercode = usercode
	f.lastRole = role
	f.lastHistory = history
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeHistory struct {
	turns    []store.Turn
	appended []store.Turn
}

func (f *fakeHistory) AppendTurn(turn *store.Turn) error {
	f.appended = append(f.appended, *turn)
	return nil
}

func (f *fakeHistory) LastTurns(usercode string, n int) ([]store.Turn, error) {
	if len(f.turns) > n {
		return f.turns[len(f.turns)-n:], nil
	}
	return f.turns, nil
}

func (f *fakeHistory) ListTurns(usercode string) ([]store.Turn, error) {
	return f.turns, nil
}

type fakeDocs struct {
	answer string
	calls  int

	pdfNames  []string
	textNames []string
	lastText  string
}

func (f *fakeDocs) IngestPDF(_ context.Context, path, name string) (int, error) {
	f.pdfNames = append(f.pdfNames, name)
	return 3, nil
}

func (f *fakeDocs) IngestText(_ context.Context, name, text string) (int, error) {
	f.textNames = append(f.textNames, name)
	f.lastText = text
	return 1, nil
}

func (f *fakeDocs) Answer(_ context.Context, question string) (string, error) {
	f.calls++
	return f.answer, nil
}

type fakeTranscriber struct {
	text      string
	err       error
	lastMime  string
	lastAudio []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, mimeType string, audio []byte) (string, error) {
	f.lastMime = mimeType
	f.lastAudio = audio
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func newTestRouter(p *fakeProcessor, h *fakeHistory, d *fakeDocs) http.Handler {
	return NewRouter(NewAPIHandler(p, h, d, nil, nil))
}

func postMultipart(t *testing.T, router http.Handler, path string, fields map[string]string, fileField, fileName string, fileContent []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = part.Write(fileContent)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeSuccess(t *testing.T) {
	processor := &fakeProcessor{response: "12 orders shipped last week."}
	history := &fakeHistory{}
	router := newTestRouter(processor, history, &fakeDocs{})

	rec := postJSON(t, router, "/api/analyze", `{"query":"How many orders shipped last week?","usercode":"DEPO01"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "How many orders shipped last week?", resp.Query)
	assert.Equal(t, "DEPO01", resp.Usercode)
	assert.Equal(t, "12 orders shipped last week.", resp.Response)

	assert.Equal(t, 1, processor.calls)
	assert.Equal(t, "DEPO01", processor.lastUsercode)

	// Exactly one turn appended per request.
	require.Len(t, history.appended, 1)
	assert.Equal(t, "How many orders shipped last week?", history.appended[0].Message)
	assert.Equal(t, "12 orders shipped last week.", history.appended[0].Response)
}

func TestAnalyzeEmptyQuery(t *testing.T) {
	processor := &fakeProcessor{}
	history := &fakeHistory{}
	router := newTestRouter(processor, history, &fakeDocs{})

	for _, body := range []string{`{"query":""}`, `{"query":"   "}`, `{}`} {
		rec := postJSON(t, router, "/api/analyze", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "query field is required")
	}

	assert.Equal(t, 0, processor.calls, "pipeline must not run for empty questions")
	assert.Empty(t, history.appended)
}

func TestAnalyzeInvalidBody(t *testing.T) {
	processor := &fakeProcessor{}
	router := newTestRouter(processor, &fakeHistory{}, &fakeDocs{})

	rec := postJSON(t, router, "/api/analyze", `not-json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, processor.calls)
}

func TestAnalyzePipelineFailure(t *testing.T) {
	processor := &fakeProcessor{err: assert.AnError}
	history := &fakeHistory{}
	router := newTestRouter(processor, history, &fakeDocs{})

	rec := postJSON(t, router, "/api/analyze", `{"query":"q"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
	assert.Empty(t, history.appended, "failed requests are not persisted")
}

func TestAnalyzePassesRecentHistory(t *testing.T) {
	processor := &fakeProcessor{response: "ok"}
	history := &fakeHistory{turns: []store.Turn{
		{Usercode: "DEPO01", Message: "old question", Response: "old answer"},
		{Usercode: "DEPO01", Message: "newer question", Response: "newer answer"},
	}}
	router := newTestRouter(processor, history, &fakeDocs{})

	rec := postJSON(t, router, "/api/analyze", `{"query":"next","usercode":"DEPO01"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Each stored exchange expands to a user and a model message.
	require.Len(t, processor.lastHistory, 4)
	assert.Equal(t, core.SpeakerUser, processor.lastHistory[0].Speaker)
	assert.Equal(t, "old question", processor.lastHistory[0].Text)
	assert.Equal(t, core.SpeakerModel, processor.lastHistory[3].Speaker)
	assert.Equal(t, "newer answer", processor.lastHistory[3].Text)
}

func TestDocQuery(t *testing.T) {
	docs := &fakeDocs{answer: "Information not found in context."}
	router := newTestRouter(&fakeProcessor{}, &fakeHistory{}, docs)

	rec := postJSON(t, router, "/api/userquery", `{"query":"what is the excise rate?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Information not found in context.")
	assert.Equal(t, 1, docs.calls)

	rec = postJSON(t, router, "/api/userquery", `{"query":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	history := &fakeHistory{turns: []store.Turn{
		{Usercode: "DEPO01", Message: "q1", Response: "a1"},
	}}
	router := newTestRouter(&fakeProcessor{}, history, &fakeDocs{})

	req := httptest.NewRequest(http.MethodGet, "/api/history/DEPO01", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var turns []store.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turns))
	require.Len(t, turns, 1)
	assert.Equal(t, "q1", turns[0].Message)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(&fakeProcessor{}, &fakeHistory{}, &fakeDocs{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestVoiceSuccess(t *testing.T) {
	processor := &fakeProcessor{response: "DEPO01 shipped 40 cases."}
	history := &fakeHistory{}
	transcriber := &fakeTranscriber{text: "How many cases did we ship?"}
	router := NewRouter(NewAPIHandler(processor, history, &fakeDocs{}, transcriber, nil))

	recording := []byte("fake-wav-bytes")
	rec := postMultipart(t, router, "/api/voice",
		map[string]string{"usercode": "DEPO01"}, "audio", "question.wav", recording)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "How many cases did we ship?", resp.Query)
	assert.Equal(t, "DEPO01 shipped 40 cases.", resp.Response)

	// The transcript runs through the same pipeline as a typed question.
	assert.Equal(t, 1, processor.calls)
	assert.Equal(t, "How many cases did we ship?", processor.lastQuestion)
	assert.Equal(t, "DEPO01", processor.lastUsercode)
	assert.Equal(t, recording, transcriber.lastAudio)

	// The recording is kept on the stored turn.
	require.Len(t, history.appended, 1)
	assert.Equal(t, recording, history.appended[0].Audio)
}

func TestVoiceNotConfigured(t *testing.T) {
	router := NewRouter(NewAPIHandler(&fakeProcessor{}, &fakeHistory{}, &fakeDocs{}, nil, nil))

	rec := postMultipart(t, router, "/api/voice", nil, "audio", "question.wav", []byte("x"))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestVoiceMissingAudio(t *testing.T) {
	processor := &fakeProcessor{}
	router := NewRouter(NewAPIHandler(processor, &fakeHistory{}, &fakeDocs{}, &fakeTranscriber{}, nil))

	rec := postMultipart(t, router, "/api/voice", map[string]string{"usercode": "DEPO01"}, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "audio file is required")
	assert.Equal(t, 0, processor.calls)
}

func TestUploadDocumentPDF(t *testing.T) {
	docs := &fakeDocs{}
	router := newTestRouter(&fakeProcessor{}, &fakeHistory{}, docs)

	rec := postMultipart(t, router, "/api/documents", nil, "file", "Annual Report.PDF", []byte("%PDF-1.4"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chunks":3`)
	require.Len(t, docs.pdfNames, 1)
	assert.Equal(t, "Annual Report.PDF", docs.pdfNames[0])
	assert.Empty(t, docs.textNames)
}

func TestUploadDocumentText(t *testing.T) {
	docs := &fakeDocs{}
	router := newTestRouter(&fakeProcessor{}, &fakeHistory{}, docs)

	content := "entity,qty\nDEPO01,10\n"
	rec := postMultipart(t, router, "/api/documents", nil, "file", "closing.csv", []byte(content))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chunks":1`)
	require.Len(t, docs.textNames, 1)
	assert.Equal(t, "closing.csv", docs.textNames[0])
	assert.Equal(t, content, docs.lastText)
	assert.Empty(t, docs.pdfNames)
}

func TestUploadDocumentMissingFile(t *testing.T) {
	docs := &fakeDocs{}
	router := newTestRouter(&fakeProcessor{}, &fakeHistory{}, docs)

	rec := postMultipart(t, router, "/api/documents", map[string]string{"note": "no file"}, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "document file is required")
	assert.Empty(t, docs.pdfNames)
	assert.Empty(t, docs.textNames)
}

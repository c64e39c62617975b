package core

import (
	"context"
	"encoding/json"
	"fmt"

	"apexcise.com/sql-assistant/internal/store"
)

// PermissionDeniedMessage is returned whenever the access rules decided the
// question was out of scope, either via the sentinel row or the optional
// statement guard.
const PermissionDeniedMessage = "You do not have permission to access this information."

// historyWindow is how many trailing conversation messages are fed to the
// answer model. Fixed-size slice, never the full history.
const historyWindow = 2

const dataAnalystInstruction = `You are a senior data analyst.
Your job is to interpret SQL results and give clear business-style answers.
Keep answers short, factual, and direct.
Do NOT mention schema or SQL rules in the answer.`

// AnswerSynthesizer turns a raw result set back into a short prose answer
// using the quality model.
type AnswerSynthesizer struct {
	llm Completer
}

func NewAnswerSynthesizer(llm Completer) *AnswerSynthesizer {
	return &AnswerSynthesizer{llm: llm}
}

// Synthesize builds the second request: persona instruction, up to the last
// two conversation messages, then a block with question, SQL and result. A
// sentinel NOT_ALLOWED row short-circuits to the fixed denial sentence with
// no model call.
func (a *AnswerSynthesizer) Synthesize(ctx context.Context, question, sqlQuery string, result store.RowSet, history []Message) (string, error) {
	if ResultDenied(result) {
		return PermissionDeniedMessage, nil
	}

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{
		Speaker: SpeakerUser,
		Text: fmt.Sprintf("User Question: %s\nSQL Query: %s\nSQL Result: %s",
			question, sqlQuery, formatRowSet(result)),
	})

	answer, err := a.llm.Complete(ctx, dataAnalystInstruction, messages)
	if err != nil {
		return "", fmt.Errorf("answer synthesis failed: %w", err)
	}
	return answer, nil
}

// ResultDenied reports whether the first row carries the NOT_ALLOWED
// sentinel in any of its fields.
func ResultDenied(result store.RowSet) bool {
	if len(result) == 0 {
		return false
	}
	for _, value := range result[0] {
		if s, ok := value.(string); ok && s == notAllowedSentinel {
			return true
		}
	}
	return false
}

func formatRowSet(rows store.RowSet) string {
	if len(rows) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(rows)
	if err != nil {
		return fmt.Sprintf("%v", rows)
	}
	return string(encoded)
}

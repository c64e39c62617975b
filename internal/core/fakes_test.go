package core

import (
	"context"

	"apexcise.com/sql-assistant/internal/store"
)

// fakeCompleter records every request and replies with canned text.
type fakeCompleter struct {
	response  string
	err       error
	calls     int
	systems   []string
	histories [][]Message
}

func (f *fakeCompleter) Complete(_ context.Context, systemInstruction string, history []Message) (string, error) {
	f.calls++
	f.systems = append(f.systems, systemInstruction)
	copied := make([]Message, len(history))
	copy(copied, history)
	f.histories = append(f.histories, copied)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// fakeRunner stands in for the business database.
type fakeRunner struct {
	rows    store.RowSet
	err     error
	calls   int
	lastSQL string
}

func (f *fakeRunner) Run(_ context.Context, sql string) (store.RowSet, error) {
	f.calls++
	f.lastSQL = sql
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

// fakeEmbedder returns a fixed-direction vector whose first component
// depends on the text length, enough to make similarity rankings stable.
type fakeEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (f *fakeEmbedder) GetEmbedding(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

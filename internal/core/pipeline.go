package core

import (
	"context"
	"errors"
	"fmt"

	"apexcise.com/sql-assistant/internal/auth"
	"apexcise.com/sql-assistant/internal/store"
)

// Runner executes a generated statement against the business database.
// Implemented by store.MySQLStore.
type Runner interface {
	Run(ctx context.Context, sql string) (store.RowSet, error)
}

// Pipeline sequences generation, execution and answer synthesis for one
// request. It holds no per-request state; the read-only schema lives inside
// the generator.
type Pipeline struct {
	generator   *SQLGenerator
	runner      Runner
	synthesizer *AnswerSynthesizer
	guard       *StatementGuard // nil unless enabled
}

func NewPipeline(generator *SQLGenerator, runner Runner, synthesizer *AnswerSynthesizer, guard *StatementGuard) *Pipeline {
	return &Pipeline{
		generator:   generator,
		runner:      runner,
		synthesizer: synthesizer,
		guard:       guard,
	}
}

// Process runs the three-step sequence. Execution failures short-circuit
// into a user-visible diagnostic string carrying the database message and
// the exact SQL attempted; the synthesizer is never called for them.
// Generation failures come back as errors for the boundary to map to an
// internal error.
func (p *Pipeline) Process(ctx context.Context, question, usercode, rawRole string, history []Message) (string, error) {
	role := auth.ResolveRole(usercode, rawRole)

	sqlText, err := p.generator.Generate(ctx, question, usercode, role)
	if err != nil {
		return "", err
	}

	if p.guard != nil {
		if err := p.guard.Check(sqlText, role); err != nil {
			var violation *PolicyViolation
			if errors.As(err, &violation) {
				return PermissionDeniedMessage, nil
			}
			return "", err
		}
	}

	result, err := p.runner.Run(ctx, sqlText)
	if err != nil {
		var execErr *store.ExecutionError
		if errors.As(err, &execErr) {
			return fmt.Sprintf("SQL Error: %s\nGenerated SQL: %s", execErr.Message, execErr.SQL), nil
		}
		return "", err
	}

	return p.synthesizer.Synthesize(ctx, question, sqlText, result, history)
}

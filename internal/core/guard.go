package core

import (
	"fmt"
	"strings"

	"apexcise.com/sql-assistant/internal/auth"
)

// PolicyViolation is returned by the statement guard when a generated
// statement falls outside the caller's scope.
type PolicyViolation struct {
	Reason string
	SQL    string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation: %s", e.Reason)
}

// StatementGuard is an opt-in static check between generation and execution.
// The baseline pipeline trusts the instruction-level rules and the sentinel
// convention; enabling the guard additionally rejects non-SELECT statements,
// multi-statement payloads, and references to the role's forbidden tables.
// The check is a conservative token scan, not a full SQL parse: string
// literals are not understood, so a `;` or a forbidden table name inside a
// quoted value is still rejected.
type StatementGuard struct{}

func NewStatementGuard() *StatementGuard {
	return &StatementGuard{}
}

func (g *StatementGuard) Check(sqlText string, role auth.Role) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return &PolicyViolation{Reason: "empty statement", SQL: sqlText}
	}

	body := strings.TrimSuffix(trimmed, ";")
	if strings.Contains(body, ";") {
		return &PolicyViolation{Reason: "multiple statements are not allowed", SQL: sqlText}
	}

	fields := strings.Fields(strings.ToLower(body))
	if len(fields) == 0 {
		return &PolicyViolation{Reason: "empty statement", SQL: sqlText}
	}
	switch fields[0] {
	case "select", "with":
	default:
		return &PolicyViolation{Reason: fmt.Sprintf("statement type %q is not allowed", fields[0]), SQL: sqlText}
	}

	scope, ok := roleScopes[role]
	if !ok {
		// Unknown roles have no table rules; shape checks above still apply.
		return nil
	}
	lowered := strings.ToLower(body)
	for _, table := range scope.forbidden {
		if containsIdentifier(lowered, table) {
			return &PolicyViolation{Reason: fmt.Sprintf("table %s is not permitted for role %s", table, role), SQL: sqlText}
		}
	}
	return nil
}

// containsIdentifier looks for the table name delimited by non-identifier
// characters so that e.g. poc_retail does not match poc_retail_summary.
func containsIdentifier(sqlLower, name string) bool {
	for start := 0; ; {
		idx := strings.Index(sqlLower[start:], name)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(name)
		beforeOK := idx == 0 || !isIdentifierChar(sqlLower[idx-1])
		afterOK := end == len(sqlLower) || !isIdentifierChar(sqlLower[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isIdentifierChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

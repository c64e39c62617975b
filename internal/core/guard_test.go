package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apexcise.com/sql-assistant/internal/auth"
)

func TestStatementGuard(t *testing.T) {
	guard := NewStatementGuard()

	tests := []struct {
		name   string
		sql    string
		role   auth.Role
		wantOK bool
	}{
		{"select in scope", "SELECT count(*) FROM poc_wholesale", auth.RoleDepot, true},
		{"trailing semicolon allowed", "SELECT 1;", auth.RoleDepot, true},
		{"with clause allowed", "WITH t AS (SELECT 1) SELECT * FROM t", auth.RoleDepot, true},
		{"keyword match is case-insensitive", "select 1", auth.RoleDepot, true},
		{"drop rejected", "DROP TABLE poc_wholesale", auth.RoleDepot, false},
		{"update rejected", "UPDATE poc_wholesale SET qty = 0", auth.RoleDepot, false},
		{"multi-statement rejected", "SELECT 1; DROP TABLE poc_wholesale", auth.RoleDepot, false},
		{"forbidden table for depot", "SELECT * FROM poc_distillery", auth.RoleDepot, false},
		{"forbidden table for distillery", "SELECT * FROM poc_wholesale", auth.RoleDistillery, false},
		{"same table allowed for owning role", "SELECT * FROM poc_distillery", auth.RoleDistillery, true},
		{"prefix of forbidden name is not a match", "SELECT * FROM poc_retail_summary_view", auth.RoleDepot, true},
		{"empty statement rejected", "   ", auth.RoleDepot, false},
		{"semicolon inside string literal still rejected", "SELECT * FROM poc_wholesale WHERE note = 'a;b'", auth.RoleDepot, false},
		{"unknown role gets shape checks only", "SELECT * FROM poc_distillery", auth.Role("auditor"), true},
		{"unknown role still select-only", "DELETE FROM poc_distillery", auth.Role("auditor"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(tt.sql, tt.role)
			if tt.wantOK {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var violation *PolicyViolation
			assert.ErrorAs(t, err, &violation)
		})
	}
}

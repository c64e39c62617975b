package core

import (
	"context"
	"fmt"
	"strings"

	"apexcise.com/sql-assistant/internal/auth"
)

// Table names in the excise proof-of-concept schema.
const (
	tableDistillery   = "poc_distillery"
	tableWholesale    = "poc_wholesale"
	tableRetail       = "poc_retail"
	tableStockClosing = "poc_stock_closing"
)

// notAllowedSentinel is the agreed marker the instructed model emits as a
// one-row result when a question asks for out-of-scope data. The answer
// synthesizer watches for it. Enforcement of the access rules lives entirely
// in the instruction text; there is no structural check unless the optional
// statement guard is enabled.
const notAllowedSentinel = "NOT_ALLOWED"

const businessFlowText = `Business flow:
- Distilleries produce spirits and dispatch consignments to depots; dispatches are recorded in poc_distillery.
- Depots receive stock and sell wholesale to retailers; wholesale movements are recorded in poc_wholesale.
- Retailer sales are recorded in poc_retail.
- Daily closing stock for every entity is recorded in poc_stock_closing.`

type tableScope struct {
	allowed     []string
	forbidden   []string
	perspective string
	// column used to pin rows to the caller in the role's primary table
	filterColumn string
	primaryTable string
}

var roleScopes = map[auth.Role]tableScope{
	auth.RoleDepot: {
		allowed:      []string{tableWholesale, tableStockClosing},
		forbidden:    []string{tableDistillery, tableRetail},
		perspective:  "ALWAYS answer from the depot perspective using poc_wholesale and poc_stock_closing only.",
		filterColumn: "from_entity_code",
		primaryTable: tableWholesale,
	},
	auth.RoleDistillery: {
		allowed:      []string{tableDistillery, tableStockClosing},
		forbidden:    []string{tableWholesale, tableRetail},
		perspective:  "ALWAYS answer from the distillery perspective using poc_distillery and poc_stock_closing only.",
		filterColumn: "from_entity_code",
		primaryTable: tableDistillery,
	},
}

// SQLGenerator turns a business question into one MySQL statement using the
// cached schema description and the caller's resolved scope.
type SQLGenerator struct {
	schema string
	llm    Completer
}

func NewSQLGenerator(schemaText string, llm Completer) *SQLGenerator {
	return &SQLGenerator{schema: schemaText, llm: llm}
}

// Generate sends the instruction block plus the raw question as a
// two-message exchange and returns the cleaned statement. The returned
// string is not validated further.
func (g *SQLGenerator) Generate(ctx context.Context, question, usercode string, role auth.Role) (string, error) {
	instruction := buildSQLInstruction(g.schema, role, usercode)
	raw, err := g.llm.Complete(ctx, instruction, []Message{{Speaker: SpeakerUser, Text: question}})
	if err != nil {
		return "", fmt.Errorf("sql generation failed: %w", err)
	}
	return CleanSQL(raw), nil
}

func buildSQLInstruction(schema string, role auth.Role, usercode string) string {
	var b strings.Builder

	b.WriteString("You are an expert MySQL analyst.\n")
	b.WriteString("You know the following database schema:\n\n<SCHEMA>\n")
	b.WriteString(schema)
	b.WriteString("\n</SCHEMA>\n\n")
	b.WriteString(businessFlowText)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Access rules for this caller (role: %s, usercode: %s):\n", role, usercode)
	if scope, ok := roleScopes[role]; ok {
		fmt.Fprintf(&b, "- %s\n", scope.perspective)
		fmt.Fprintf(&b, "- You may query: %s.\n", strings.Join(scope.allowed, ", "))
		fmt.Fprintf(&b, "- You must NEVER query: %s.\n", strings.Join(scope.forbidden, ", "))
		fmt.Fprintf(&b, "- Always filter %s with %s = '%s' and %s with entity_code = '%s'.\n",
			scope.primaryTable, scope.filterColumn, usercode, tableStockClosing, usercode)
	} else {
		// Explicit roles we have no rule table for are passed through
		// verbatim with only the row filter predicates.
		fmt.Fprintf(&b, "- Always filter by from_entity_code = '%s' or entity_code = '%s' where those columns exist.\n",
			usercode, usercode)
	}
	fmt.Fprintf(&b, "- If the question asks for tables or rows outside this scope, return exactly: SELECT '%s' AS message;\n", notAllowedSentinel)

	b.WriteString(`
Rules:
- Always produce ONLY SQL.
- Never add explanations.
- Never repeat schema.
- Use correct table/column names.`)

	return b.String()
}

// CleanSQL strips markdown code-fence markers and surrounding whitespace
// from the model's raw output. Idempotent.
func CleanSQL(q string) string {
	q = strings.ReplaceAll(q, "```sql", "")
	q = strings.ReplaceAll(q, "```", "")
	return strings.TrimSpace(q)
}

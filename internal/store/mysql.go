package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore wraps the pooled connection to the business database. It is the
// execution side of the pipeline: the schema description is read from it once
// at startup and generated statements run against it single-shot.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(dsn string, poolSize, poolOverflow int) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}

	// Pool sizing mirrors a base pool plus an overflow allowance.
	db.SetMaxOpenConns(poolSize + poolOverflow)
	db.SetMaxIdleConns(poolSize)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping mysql database: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

// NewMySQLStoreFromDB wires an existing handle, used by tests with sqlmock.
func NewMySQLStoreFromDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// SchemaText builds the textual table/column listing handed to the SQL model.
// Called once at startup; the result is cached by the caller for the process
// lifetime. Failure here is fatal to startup.
func (s *MySQLStore) SchemaText(ctx context.Context) (string, error) {
	query := `
        SELECT table_name, column_name, column_type
        FROM information_schema.columns
        WHERE table_schema = DATABASE()
        ORDER BY table_name, ordinal_position
    `
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to read information_schema: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	currentTable := ""
	for rows.Next() {
		var table, column, columnType string
		if err := rows.Scan(&table, &column, &columnType); err != nil {
			return "", fmt.Errorf("failed to scan schema row: %w", err)
		}
		if table != currentTable {
			if currentTable != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "Table %s:\n", table)
			currentTable = table
		}
		fmt.Fprintf(&b, "  %s %s\n", column, columnType)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed while reading schema rows: %w", err)
	}
	if currentTable == "" {
		return "", fmt.Errorf("no tables found in current database")
	}
	return strings.TrimSpace(b.String()), nil
}

// Run executes one generated statement and returns its rows in order. Any
// failure is returned as an *ExecutionError carrying the database message and
// the exact SQL attempted. No retry: the statement will not change by
// retrying.
func (s *MySQLStore) Run(ctx context.Context, sqlText string) (RowSet, error) {
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, newExecutionError(err, sqlText)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, newExecutionError(err, sqlText)
	}

	var result RowSet
	for rows.Next() {
		values := make([]any, len(columns))
		holders := make([]any, len(columns))
		for i := range values {
			holders[i] = &values[i]
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, newExecutionError(err, sqlText)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			// The MySQL driver hands back []byte for most text-ish types.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, newExecutionError(err, sqlText)
	}
	return result, nil
}

func newExecutionError(err error, sqlText string) *ExecutionError {
	return &ExecutionError{
		Kind:    classifyError(err),
		Message: err.Error(),
		SQL:     sqlText,
	}
}

func classifyError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1064, 1054, 1146: // parse error, unknown column, unknown table
			return ErrKindSyntax
		case 1044, 1045, 1142, 1143: // denied access variants
			return ErrKindPermission
		}
		return ErrKindUnknown
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return ErrKindConnectivity
	}
	return ErrKindUnknown
}

// IngestCSV loads one CSV file into a table named after the file, replacing
// any previous contents. Table and column names pass through
// normalizeIdentifier, and records are written in batches of csvBatchRows
// per INSERT.
func (s *MySQLStore) IngestCSV(ctx context.Context, path string) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open csv file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return "", 0, fmt.Errorf("failed to read csv header: %w", err)
	}

	table := normalizeIdentifier(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if table == "" {
		return "", 0, fmt.Errorf("file name %s yields no usable table name", filepath.Base(path))
	}
	columns := make([]string, len(header))
	for i, col := range header {
		columns[i] = normalizeIdentifier(col)
		if columns[i] == "" {
			columns[i] = fmt.Sprintf("col_%d", i+1)
		}
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", table)); err != nil {
		return "", 0, fmt.Errorf("failed to drop existing table %s: %w", table, err)
	}

	var ddl strings.Builder
	fmt.Fprintf(&ddl, "CREATE TABLE `%s` (", table)
	for i, col := range columns {
		if i > 0 {
			ddl.WriteString(", ")
		}
		fmt.Fprintf(&ddl, "`%s` TEXT", col)
	}
	ddl.WriteString(")")
	if _, err := s.db.ExecContext(ctx, ddl.String()); err != nil {
		return "", 0, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	insertPrefix := fmt.Sprintf("INSERT INTO `%s` (`%s`) VALUES ", table, strings.Join(columns, "`, `"))

	flush := func(batch []any, rows int) error {
		if rows == 0 {
			return nil
		}
		stmt := insertPrefix + strings.TrimSuffix(strings.Repeat(placeholders+",", rows), ",")
		_, err := s.db.ExecContext(ctx, stmt, batch...)
		return err
	}

	count := 0
	var batch []any
	batchRows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Skipping malformed csv record at row %d: %v", count+batchRows+2, err)
			continue
		}
		for i := range columns {
			if i < len(record) {
				batch = append(batch, record[i])
			} else {
				batch = append(batch, "")
			}
		}
		batchRows++
		if batchRows == csvBatchRows {
			if err := flush(batch, batchRows); err != nil {
				return table, count, fmt.Errorf("failed to insert csv rows after row %d: %w", count+1, err)
			}
			count += batchRows
			batch = batch[:0]
			batchRows = 0
		}
	}
	if err := flush(batch, batchRows); err != nil {
		return table, count, fmt.Errorf("failed to insert csv rows after row %d: %w", count+1, err)
	}
	count += batchRows
	return table, count, nil
}

// csvBatchRows is how many CSV records one INSERT carries.
const csvBatchRows = 500

// normalizeIdentifier maps a header or file name to a safe SQL identifier:
// lowercased, spaces and hyphens to underscores, everything outside
// [a-z0-9_] dropped. The result is interpolated into DDL, so nothing else
// may survive.
func normalizeIdentifier(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ' || r == '-' || r == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "_")
}

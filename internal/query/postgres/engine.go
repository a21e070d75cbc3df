package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/drugquery/drugquery/internal/query"
	"github.com/drugquery/drugquery/internal/sqltext"
)

const DefaultStatementTimeout = 30 * time.Second

// Engine runs screened SQL on a dedicated pooled connection whose
// statement_timeout is set before the query and reset on every exit path.
type Engine struct {
	DB               *sql.DB
	StatementTimeout time.Duration
}

func NewEngine(db *sql.DB, statementTimeout time.Duration) *Engine {
	if statementTimeout <= 0 {
		statementTimeout = DefaultStatementTimeout
	}
	return &Engine{DB: db, StatementTimeout: statementTimeout}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (result query.Result, err error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.DB == nil {
		return query.Result{}, fmt.Errorf("database is required")
	}

	sqlText := request.SQL
	if request.RowLimit > 0 {
		sqlText = sqltext.EnsureLimit(sqlText, request.RowLimit)
	}

	start := time.Now()
	conn, err := e.DB.Conn(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, setTimeoutSQL(e.timeout())); err != nil {
		return query.Result{}, fmt.Errorf("set statement timeout: %w", err)
	}
	defer func() {
		resetErr := resetTimeout(ctx, conn)
		if resetErr != nil && err == nil {
			err = resetErr
		}
	}()

	columns, rows, err := scanAll(ctx, conn, sqlText, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}

	return query.Result{
		Columns:     columns,
		Rows:        rows,
		RowCount:    len(rows),
		ExecutedSQL: sqlText,
		Duration:    time.Since(start),
	}, nil
}

func (e *Engine) timeout() time.Duration {
	if e.StatementTimeout <= 0 {
		return DefaultStatementTimeout
	}
	return e.StatementTimeout
}

func setTimeoutSQL(timeout time.Duration) string {
	return fmt.Sprintf("SET statement_timeout = '%dms'", timeout.Milliseconds())
}

// resetTimeout runs detached from the request context so a cancelled
// request still restores the session. A connection that cannot be reset is
// discarded instead of going back to the pool.
func resetTimeout(ctx context.Context, conn *sql.Conn) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(ctx, "RESET statement_timeout"); err != nil {
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		return fmt.Errorf("reset statement timeout: %w", err)
	}
	return nil
}

func scanAll(ctx context.Context, conn *sql.Conn, sqlText string, rowLimit int) ([]string, [][]any, error) {
	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		if rowLimit > 0 && len(resultRows) >= rowLimit {
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}

	if len(resultRows) == 0 {
		return []string{}, resultRows, nil
	}
	return columns, resultRows, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

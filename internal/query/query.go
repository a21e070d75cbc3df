package query

import (
	"context"
	"time"
)

// Request carries SQL that has already passed the keyword screen.
type Request struct {
	SQL      string
	RowLimit int
}

// Result is a fixed-shape table: every row has len(Columns) values in column
// order. An empty result has no columns and no rows.
type Result struct {
	Columns     []string
	Rows        [][]any
	RowCount    int
	ExecutedSQL string
	Duration    time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

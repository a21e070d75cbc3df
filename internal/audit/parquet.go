package audit

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Entry summarizes one answered, rejected or failed question.
type Entry struct {
	Time               time.Time
	TraceID            string
	Question           string
	GeneratedSQL       string
	Status             string
	RejectedKeyword    string
	RowCount           int64
	SQLModel           string
	SQLInputTokens     int64
	SQLOutputTokens    int64
	AnswerModel        string
	AnswerInputTokens  int64
	AnswerOutputTokens int64
	DurationMs         int64
	Error              string
}

type parquetEntry struct {
	TimeUnixMs         int64  `parquet:"time_unix_ms"`
	TraceID            string `parquet:"trace_id"`
	Question           string `parquet:"question"`
	GeneratedSQL       string `parquet:"generated_sql"`
	Status             string `parquet:"status"`
	RejectedKeyword    string `parquet:"rejected_keyword"`
	RowCount           int64  `parquet:"row_count"`
	SQLModel           string `parquet:"sql_model"`
	SQLInputTokens     int64  `parquet:"sql_input_tokens"`
	SQLOutputTokens    int64  `parquet:"sql_output_tokens"`
	AnswerModel        string `parquet:"answer_model"`
	AnswerInputTokens  int64  `parquet:"answer_input_tokens"`
	AnswerOutputTokens int64  `parquet:"answer_output_tokens"`
	DurationMs         int64  `parquet:"duration_ms"`
	Error              string `parquet:"error"`
}

type EncodeResult struct {
	Data        []byte
	RecordCount int64
	MinTime     time.Time
	MaxTime     time.Time
}

func EncodeEntries(entries []Entry) (EncodeResult, error) {
	if len(entries) == 0 {
		return EncodeResult{}, fmt.Errorf("entries are required")
	}

	rows := make([]parquetEntry, 0, len(entries))
	var minTime, maxTime time.Time
	for i, entry := range entries {
		ts := entry.Time.UTC()
		if i == 0 || ts.Before(minTime) {
			minTime = ts
		}
		if i == 0 || ts.After(maxTime) {
			maxTime = ts
		}
		rows = append(rows, parquetEntry{
			TimeUnixMs:         ts.UnixMilli(),
			TraceID:            entry.TraceID,
			Question:           entry.Question,
			GeneratedSQL:       entry.GeneratedSQL,
			Status:             entry.Status,
			RejectedKeyword:    entry.RejectedKeyword,
			RowCount:           entry.RowCount,
			SQLModel:           entry.SQLModel,
			SQLInputTokens:     entry.SQLInputTokens,
			SQLOutputTokens:    entry.SQLOutputTokens,
			AnswerModel:        entry.AnswerModel,
			AnswerInputTokens:  entry.AnswerInputTokens,
			AnswerOutputTokens: entry.AnswerOutputTokens,
			DurationMs:         entry.DurationMs,
			Error:              entry.Error,
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetEntry](buf)
	if _, err := writer.Write(rows); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return EncodeResult{
		Data:        buf.Bytes(),
		RecordCount: int64(len(rows)),
		MinTime:     minTime,
		MaxTime:     maxTime,
	}, nil
}

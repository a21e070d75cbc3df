package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/drugquery/drugquery/internal/audit"
	"github.com/drugquery/drugquery/internal/llm"
	"github.com/drugquery/drugquery/internal/observability"
	"github.com/drugquery/drugquery/internal/prompt"
	"github.com/drugquery/drugquery/internal/query"
	"github.com/drugquery/drugquery/internal/sqltext"
)

var ErrInvalidQuestion = errors.New("invalid question")

const (
	StatusAnswered = "answered"
	StatusRejected = "rejected"
	StatusInvalid  = "invalid"
	StatusFailed   = "failed"
)

const (
	stageSQL    = "sql"
	stageAnswer = "answer"
)

type Options struct {
	MaxQuestionLength int
	RowLimit          int
	AnswerPreviewRows int
	SQLModel          string
	SQLMaxTokens      int
	AnswerModel       string
	AnswerMaxTokens   int
	AnswerEnabled     bool
}

type Rejection struct {
	Keyword string
	Message string
}

// Outcome is filled as far as the pipeline got; on error it still carries
// the question and any SQL the model produced.
type Outcome struct {
	Question     string
	GeneratedSQL string
	ExecutedSQL  string
	Result       query.Result
	Answer       string
	SQLUsage     llm.Usage
	AnswerUsage  llm.Usage
	Rejection    *Rejection
	Elapsed      time.Duration
}

func (o Outcome) Status(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuestion):
		return StatusInvalid
	case err != nil:
		return StatusFailed
	case o.Rejection != nil:
		return StatusRejected
	default:
		return StatusAnswered
	}
}

type Recorder interface {
	Record(entry audit.Entry)
}

type Dependencies struct {
	Completions   llm.Client
	Engine        query.Engine
	SchemaContext string
	Recorder      Recorder
	Logger        *slog.Logger
}

type Service struct {
	completions   llm.Client
	engine        query.Engine
	schemaContext string
	recorder      Recorder
	logger        *slog.Logger
	options       Options
}

func NewService(deps Dependencies, options Options) (*Service, error) {
	if deps.Completions == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if options.MaxQuestionLength <= 0 {
		return nil, fmt.Errorf("max question length must be > 0")
	}
	if options.RowLimit <= 0 {
		return nil, fmt.Errorf("row limit must be > 0")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		completions:   deps.Completions,
		engine:        deps.Engine,
		schemaContext: deps.SchemaContext,
		recorder:      deps.Recorder,
		logger:        logger,
		options:       options,
	}, nil
}

func (s *Service) SchemaContext() string {
	return s.schemaContext
}

func (s *Service) MaxQuestionLength() int {
	return s.options.MaxQuestionLength
}

// Ask runs one question through generation, screening, execution and the
// optional answer summary. A rejected query is a successful Outcome with
// Rejection set; the database is never touched in that case.
func (s *Service) Ask(ctx context.Context, question string) (outcome Outcome, err error) {
	start := time.Now()
	outcome.Question = question
	defer func() {
		outcome.Elapsed = time.Since(start)
		s.finish(ctx, outcome, err)
	}()

	if strings.TrimSpace(question) == "" || utf8.RuneCountInString(question) > s.options.MaxQuestionLength {
		return outcome, fmt.Errorf("%w: length must be between 1 and %d characters", ErrInvalidQuestion, s.options.MaxQuestionLength)
	}

	sqlResp, err := s.generate(ctx, stageSQL, llm.Request{
		Prompt:          prompt.BuildSQLPrompt(question, s.schemaContext),
		Model:           s.options.SQLModel,
		MaxOutputTokens: s.options.SQLMaxTokens,
	})
	if err != nil {
		return outcome, fmt.Errorf("generate sql: %w", err)
	}
	outcome.SQLUsage = sqlResp.Usage
	outcome.GeneratedSQL = sqltext.Extract(sqlResp.Text)
	s.logger.DebugContext(ctx, "sql_generated",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("sql", outcome.GeneratedSQL),
	)

	if verdict := sqltext.Validate(outcome.GeneratedSQL); !verdict.Allowed {
		outcome.Rejection = &Rejection{Keyword: verdict.Keyword, Message: verdict.Message}
		observability.IncrementRejection(verdict.Keyword)
		return outcome, nil
	}
	if outcome.GeneratedSQL == "" {
		return outcome, fmt.Errorf("generate sql: model returned empty SQL")
	}

	result, err := s.engine.Execute(ctx, query.Request{SQL: outcome.GeneratedSQL, RowLimit: s.options.RowLimit})
	if err != nil {
		return outcome, fmt.Errorf("execute query: %w", err)
	}
	outcome.Result = result
	outcome.ExecutedSQL = result.ExecutedSQL
	observability.ObserveQueryExecution(result.RowCount, result.Duration)

	if !s.options.AnswerEnabled {
		return outcome, nil
	}
	answerResp, err := s.generate(ctx, stageAnswer, llm.Request{
		Prompt:          prompt.BuildAnswerPrompt(question, outcome.GeneratedSQL, result, s.options.AnswerPreviewRows),
		Model:           s.options.AnswerModel,
		MaxOutputTokens: s.options.AnswerMaxTokens,
	})
	if err != nil {
		return outcome, fmt.Errorf("generate answer: %w", err)
	}
	outcome.AnswerUsage = answerResp.Usage
	outcome.Answer = strings.TrimSpace(answerResp.Text)
	return outcome, nil
}

func (s *Service) generate(ctx context.Context, stage string, req llm.Request) (llm.Response, error) {
	start := time.Now()
	resp, err := s.completions.Generate(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return llm.Response{}, err
	}
	observability.ObserveCompletion(stage, req.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, elapsed)
	s.logger.DebugContext(ctx, "completion_done",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("stage", stage),
		slog.String("model", req.Model),
		slog.String("duration", elapsed.String()),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}

func (s *Service) finish(ctx context.Context, outcome Outcome, err error) {
	status := outcome.Status(err)
	observability.ObserveQuestion(status)
	traceID := observability.TraceIDFromContext(ctx)

	if err != nil && status == StatusFailed {
		s.logger.ErrorContext(ctx, "question_failed",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()),
			slog.String("generated_sql", outcome.GeneratedSQL),
		)
	}

	if s.recorder == nil {
		return
	}
	entry := audit.Entry{
		Time:               time.Now().UTC(),
		TraceID:            traceID,
		Question:           outcome.Question,
		GeneratedSQL:       outcome.GeneratedSQL,
		Status:             status,
		RowCount:           int64(outcome.Result.RowCount),
		SQLModel:           outcome.SQLUsage.Model,
		SQLInputTokens:     int64(outcome.SQLUsage.InputTokens),
		SQLOutputTokens:    int64(outcome.SQLUsage.OutputTokens),
		AnswerModel:        outcome.AnswerUsage.Model,
		AnswerInputTokens:  int64(outcome.AnswerUsage.InputTokens),
		AnswerOutputTokens: int64(outcome.AnswerUsage.OutputTokens),
		DurationMs:         outcome.Elapsed.Milliseconds(),
	}
	if outcome.Rejection != nil {
		entry.RejectedKeyword = outcome.Rejection.Keyword
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.recorder.Record(entry)
}

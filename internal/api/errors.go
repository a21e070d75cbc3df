package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/drugquery/drugquery/internal/llm"
	"github.com/drugquery/drugquery/internal/pipeline"
)

// Postgres SQLSTATE for query_canceled, raised when statement_timeout fires.
const pgQueryCanceled = "57014"

const debugSnippetLength = 100

type failure struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
}

// classify maps a pipeline error to what the caller sees. Matching on error
// text is a heuristic; the underlying error is logged by the pipeline.
func classify(err error, maxQuestionLength int) failure {
	if maxQuestionLength <= 0 {
		maxQuestionLength = 500
	}
	text := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, pipeline.ErrInvalidQuestion):
		return failure{
			Status:  http.StatusBadRequest,
			Code:    "INVALID_QUESTION",
			Message: fmt.Sprintf("Please enter a question between 1 and %d characters.", maxQuestionLength),
		}
	case errors.Is(err, llm.ErrCompletionFailed) && isAuthFailure(text):
		return failure{
			Status:  http.StatusBadGateway,
			Code:    "AI_AUTH_FAILED",
			Message: "API authentication failed. Please check your API key configuration.",
		}
	case errors.Is(err, llm.ErrCompletionFailed):
		return failure{
			Status:    http.StatusServiceUnavailable,
			Code:      "AI_UNAVAILABLE",
			Message:   "The AI service is currently unavailable. Please try again in a moment.",
			Retryable: true,
		}
	case isStatementTimeout(err, text):
		return failure{
			Status:  http.StatusGatewayTimeout,
			Code:    "QUERY_TIMEOUT",
			Message: "Your query took too long to execute. Try asking a more specific question.",
		}
	case strings.Contains(text, "connection"):
		return failure{
			Status:    http.StatusServiceUnavailable,
			Code:      "DB_CONNECTION",
			Message:   "Database connection error. Please try again.",
			Retryable: true,
		}
	default:
		return fallbackFailure(err.Error())
	}
}

func fallbackFailure(detail string) failure {
	return failure{
		Status:  http.StatusUnprocessableEntity,
		Code:    "QUERY_FAILED",
		Message: "Unable to execute query. Please try rephrasing your question. (Debug: " + truncateRunes(detail, debugSnippetLength) + ")",
	}
}

func isAuthFailure(text string) bool {
	for _, marker := range []string{"api key", "authentication", "unauthorized", "status=401"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func isStatementTimeout(err error, text string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled {
		return true
	}
	return strings.Contains(text, "statement timeout")
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

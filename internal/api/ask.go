package api

import (
	"encoding/json"
	"net/http"

	"github.com/drugquery/drugquery/internal/llm"
	"github.com/drugquery/drugquery/internal/observability"
	"github.com/drugquery/drugquery/internal/ui"
)

const maxAskBodyBytes = 64 << 10

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Question     string    `json:"question"`
	Columns      []string  `json:"columns"`
	Rows         [][]any   `json:"rows"`
	RowCount     int       `json:"row_count"`
	GeneratedSQL string    `json:"generated_sql"`
	ExecutedSQL  string    `json:"executed_sql"`
	LLMAnswer    string    `json:"llm_answer,omitempty"`
	SQLUsage     llm.Usage `json:"sql_usage"`
	AnswerUsage  llm.Usage `json:"answer_usage"`
	DurationMs   int64     `json:"duration_ms"`
	TraceID      string    `json:"trace_id"`
}

type askFailure struct {
	ErrorCode       string `json:"error_code"`
	Error           string `json:"error"`
	Retryable       bool   `json:"retryable"`
	Question        string `json:"question"`
	GeneratedSQL    string `json:"generated_sql,omitempty"`
	RejectedKeyword string `json:"rejected_keyword,omitempty"`
	TraceID         string `json:"trace_id"`
}

func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	if h.deps.Service == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}

	outcome, err := h.deps.Service.Ask(r.Context(), request.Question)
	traceID := observability.TraceIDFromContext(r.Context())
	if err != nil {
		failure := classify(err, h.deps.Service.MaxQuestionLength())
		writeJSON(w, failure.Status, askFailure{
			ErrorCode: failure.Code,
			Error:     failure.Message,
			Retryable: failure.Retryable,
			Question:  request.Question,
			TraceID:   traceID,
		})
		return
	}
	if outcome.Rejection != nil {
		writeJSON(w, http.StatusUnprocessableEntity, askFailure{
			ErrorCode:       "QUERY_REJECTED",
			Error:           outcome.Rejection.Message,
			Question:        request.Question,
			GeneratedSQL:    outcome.GeneratedSQL,
			RejectedKeyword: outcome.Rejection.Keyword,
			TraceID:         traceID,
		})
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Question:     outcome.Question,
		Columns:      outcome.Result.Columns,
		Rows:         nonNilRows(outcome.Result.Rows),
		RowCount:     outcome.Result.RowCount,
		GeneratedSQL: outcome.GeneratedSQL,
		ExecutedSQL:  outcome.ExecutedSQL,
		LLMAnswer:    outcome.Answer,
		SQLUsage:     outcome.SQLUsage,
		AnswerUsage:  outcome.AnswerUsage,
		DurationMs:   outcome.Elapsed.Milliseconds(),
		TraceID:      traceID,
	})
}

func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	ui.Render(w, http.StatusOK, ui.IndexPage(h.page("")))
}

func (h *handler) handleQueryForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBodyBytes)
	if err := r.ParseForm(); err != nil {
		page := h.page("")
		page.Error = "Invalid form submission."
		ui.Render(w, http.StatusBadRequest, ui.IndexPage(page))
		return
	}
	question := r.PostFormValue("question")
	page := h.page(question)

	if h.deps.Service == nil {
		page.Error = "The question pipeline is not configured."
		ui.Render(w, http.StatusNotImplemented, ui.IndexPage(page))
		return
	}

	outcome, err := h.deps.Service.Ask(r.Context(), question)
	switch {
	case err != nil:
		failure := classify(err, h.deps.Service.MaxQuestionLength())
		page.Error = failure.Message
		page.TraceID = observability.TraceIDFromContext(r.Context())
		ui.Render(w, failure.Status, ui.IndexPage(page))
	case outcome.Rejection != nil:
		page.Error = outcome.Rejection.Message
		page.RejectedSQL = outcome.GeneratedSQL
		ui.Render(w, http.StatusUnprocessableEntity, ui.IndexPage(page))
	default:
		page.Results = &ui.Results{
			Answer:      outcome.Answer,
			SQL:         outcome.GeneratedSQL,
			Columns:     outcome.Result.Columns,
			Rows:        outcome.Result.Rows,
			RowCount:    outcome.Result.RowCount,
			SQLUsage:    outcome.SQLUsage,
			AnswerUsage: outcome.AnswerUsage,
			Duration:    outcome.Elapsed,
		}
		ui.Render(w, http.StatusOK, ui.IndexPage(page))
	}
}

func (h *handler) page(question string) ui.Page {
	page := ui.Page{Question: question, StaticPath: staticPrefix}
	if h.deps.Service != nil {
		page.MaxLength = h.deps.Service.MaxQuestionLength()
	}
	return page
}

func nonNilRows(rows [][]any) [][]any {
	if rows == nil {
		return [][]any{}
	}
	return rows
}

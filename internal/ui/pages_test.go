package ui

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/drugquery/drugquery/internal/llm"
)

func render(t *testing.T, page Page) string {
	t.Helper()
	var b strings.Builder
	if err := IndexPage(page).Render(&b); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return b.String()
}

func TestIndexPageRendersEmptyForm(t *testing.T) {
	out := render(t, Page{MaxLength: 500, StaticPath: "/static/"})
	for _, want := range []string{
		`action="/query"`,
		`name="question"`,
		`maxlength="500"`,
		`href="/static/app.css"`,
		"DrugCentral Query Interface",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("page missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<table") {
		t.Fatal("empty page should not render a table")
	}
}

func TestIndexPageRendersResults(t *testing.T) {
	out := render(t, Page{
		Question: "what is aspirin",
		Results: &Results{
			Answer:   "Aspirin is an NSAID.",
			SQL:      "SELECT primary_name FROM drug_search_all LIMIT 1000",
			Columns:  []string{"primary_name", "cas_reg_no"},
			Rows:     [][]any{{"aspirin", nil}},
			RowCount: 1,
			SQLUsage: llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		},
	})
	for _, want := range []string{
		"Aspirin is an NSAID.",
		"SELECT primary_name FROM drug_search_all LIMIT 1000",
		"<th>cas_reg_no</th>",
		"<td>NULL</td>",
		"10 in / 5 out / 15 total",
		"1 row(s)",
		`data-bind`,
		`data-show`,
		">what is aspirin</textarea>",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("page missing %q:\n%s", want, out)
		}
	}
}

func TestIndexPageRendersNoRowsMessage(t *testing.T) {
	out := render(t, Page{Results: &Results{SQL: "SELECT 1", Columns: []string{}}})
	if !strings.Contains(out, "No rows matched.") {
		t.Fatalf("expected empty result message:\n%s", out)
	}
}

func TestIndexPageRendersErrorWithRejectedSQL(t *testing.T) {
	out := render(t, Page{
		Question:    "drop it",
		Error:       "Query rejected for security reasons. Only SELECT queries are allowed. Found dangerous keyword: DROP",
		RejectedSQL: "DROP TABLE structures",
		TraceID:     "trace-1",
	})
	for _, want := range []string{"Found dangerous keyword: DROP", "DROP TABLE structures", "Trace ID: trace-1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("page missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEscapesUserInput(t *testing.T) {
	out := render(t, Page{Question: "<script>alert(1)</script>", Error: "bad"})
	if strings.Contains(out, "<script>alert(1)</script>") {
		t.Fatal("question was not escaped")
	}
}

func TestRenderSetsContentType(t *testing.T) {
	rr := httptest.NewRecorder()
	Render(rr, http.StatusBadRequest, IndexPage(Page{Error: "bad"}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("content type = %q", got)
	}
}

func TestStaticHandlerServesStylesheet(t *testing.T) {
	srv := httptest.NewServer(StaticHandler("/static/"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/static/app.css")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), ".app-shell") {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
}

func TestCellString(t *testing.T) {
	if CellString(nil) != "NULL" || CellString(int64(3)) != "3" || CellString("x") != "x" {
		t.Fatal("unexpected cell formatting")
	}
}

package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/drugquery/drugquery/internal/query"
)

func TestBuildSQLPromptIncludesSchemaQuestionAndRules(t *testing.T) {
	got := BuildSQLPrompt("what is aspirin", "VIEW drug_info(...)")

	for _, want := range []string{
		"You are a PostgreSQL SQL expert.",
		"Database: DrugCentral PostgreSQL database",
		"Schema information:\nVIEW drug_info(...)\n",
		"User question: what is aspirin\n",
		"- Return ONLY a valid PostgreSQL SELECT query",
		"- Limit results to 1000 rows with LIMIT clause",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
	}
	if !strings.HasSuffix(got, "SQL Query:") {
		t.Fatalf("prompt should end with SQL Query:, got %q", got[len(got)-20:])
	}
}

func TestBuildSQLPromptIsDeterministic(t *testing.T) {
	if BuildSQLPrompt("q", "s") != BuildSQLPrompt("q", "s") {
		t.Fatal("BuildSQLPrompt() not deterministic")
	}
}

func TestBuildAnswerPromptEmptyResult(t *testing.T) {
	got := BuildAnswerPrompt("any drugs named zzz?", "SELECT 1", query.Result{Columns: []string{}}, 20)

	if !strings.Contains(got, "Query Results:\nNumber of results: 0\n") {
		t.Fatalf("missing empty count:\n%s", got)
	}
	if strings.Contains(got, "Columns:") || strings.Contains(got, "Results:\n1.") {
		t.Fatalf("empty result should not list columns or rows:\n%s", got)
	}
	if !strings.HasSuffix(got, "Answer:") {
		t.Fatal("prompt should end with Answer:")
	}
}

func TestBuildAnswerPromptListsRowsInColumnOrder(t *testing.T) {
	result := query.Result{
		Columns:  []string{"name", "approval_date", "dose"},
		Rows:     [][]any{{"aspirin", nil, 81}},
		RowCount: 1,
	}
	got := BuildAnswerPrompt("aspirin?", "SELECT name FROM drug_info", result, 20)

	if !strings.Contains(got, "Columns: name, approval_date, dose\n\nResults:\n1. {name: aspirin, approval_date: null, dose: 81}\n") {
		t.Fatalf("unexpected rows section:\n%s", got)
	}
	if strings.Contains(got, "more results") {
		t.Fatal("single row result should not mention omitted rows")
	}
	if !strings.Contains(got, "SQL Query Executed:\nSELECT name FROM drug_info\n") {
		t.Fatalf("missing sql:\n%s", got)
	}
}

func TestBuildAnswerPromptReportsOmittedRows(t *testing.T) {
	rows := make([][]any, 0, 57)
	for i := range 57 {
		rows = append(rows, []any{fmt.Sprintf("drug-%d", i)})
	}
	result := query.Result{Columns: []string{"name"}, Rows: rows, RowCount: len(rows)}

	got := BuildAnswerPrompt("list drugs", "SELECT name FROM drug_info", result, 20)

	if !strings.Contains(got, "Number of results: 57") {
		t.Fatalf("missing count:\n%s", got)
	}
	if !strings.Contains(got, "20. {name: drug-19}\n") {
		t.Fatalf("missing 20th row:\n%s", got)
	}
	if strings.Contains(got, "21. {name: drug-20}") {
		t.Fatal("listed more than the preview rows")
	}
	if !strings.Contains(got, "\n... and 37 more results") {
		t.Fatalf("missing omitted count:\n%s", got)
	}
}

func TestBuildAnswerPromptDefaultsPreviewRows(t *testing.T) {
	rows := make([][]any, 0, 25)
	for i := range 25 {
		rows = append(rows, []any{i})
	}
	got := BuildAnswerPrompt("q", "SELECT n", query.Result{Columns: []string{"n"}, Rows: rows, RowCount: 25}, 0)
	if !strings.Contains(got, "... and 5 more results") {
		t.Fatalf("expected default preview of %d rows:\n%s", DefaultPreviewRows, got)
	}
}

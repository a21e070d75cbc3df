package drugqueryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const askBody = `{
  "question": "What is aspirin used for?",
  "columns": ["drug_name", "indication"],
  "rows": [["aspirin", "pain"], ["aspirin", null]],
  "row_count": 2,
  "generated_sql": "SELECT drug_name, indication FROM drug_info WHERE drug_name ILIKE '%aspirin%'",
  "executed_sql": "SELECT drug_name, indication FROM drug_info WHERE drug_name ILIKE '%aspirin%' LIMIT 1000",
  "llm_answer": "Aspirin is used for pain.",
  "sql_usage": {"input_tokens": 120, "output_tokens": 30, "total_tokens": 150, "model": "claude"},
  "answer_usage": {"input_tokens": 200, "output_tokens": 40, "total_tokens": 240, "model": "claude"},
  "duration_ms": 812,
  "trace_id": "trace-1"
}`

func TestRunHealthCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "--api-key", "k1", "health"}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodGet || gotPath != "/v1/health" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" {
		t.Fatalf("api key header = %q", gotAPIKey)
	}
	if !strings.Contains(stdout.String(), `"status": "ok"`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunUsesOptionDefaults(t *testing.T) {
	var gotPath, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"ready"}, Options{BaseURL: srv.URL + "/", APIKey: "from-env"})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotPath != "/v1/ready" || gotAPIKey != "from-env" {
		t.Fatalf("path=%q api_key=%q", gotPath, gotAPIKey)
	}
}

func TestRunSchemaPrintsGuideText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"schema_context":"# Views\n- drug_info"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "schema"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if stdout.String() != "# Views\n- drug_info\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunAskCommandRendersResult(t *testing.T) {
	var gotMethod, gotPath, gotContentType string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(askBody))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "--no-color", "ask", "What", "is", "aspirin", "used", "for?"}, Options{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/ask" || gotContentType != "application/json" {
		t.Fatalf("request = %s %s (%s)", gotMethod, gotPath, gotContentType)
	}
	if gotBody["question"] != "What is aspirin used for?" {
		t.Fatalf("question = %q", gotBody["question"])
	}

	out := stdout.String()
	for _, want := range []string{
		"Aspirin is used for pain.",
		"SELECT drug_name, indication FROM drug_info",
		"drug_name",
		"NULL",
		"2 row(s)",
		"SQL tokens: 120 in / 30 out / 150 total (claude)",
		"Answer tokens: 200 in / 40 out / 240 total (claude)",
		"trace-1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q:\n%s", want, out)
		}
	}
}

func TestRunAskCommandTruncatesTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(askBody))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "--no-color", "ask", "--max-rows", "1", "aspirin"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "... 1 more row(s) not shown") {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunAskCommandJSONOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(askBody))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "--json", "ask", "aspirin"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	var decoded map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout.String())
	}
	if decoded["row_count"] != float64(2) {
		t.Fatalf("row_count = %#v", decoded["row_count"])
	}
}

func TestRunAskCommandEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"columns":["drug_name"],"rows":[],"row_count":0,"generated_sql":"SELECT drug_name FROM drug_info","sql_usage":{"total_tokens":10}}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "--no-color", "ask", "nothing"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "No rows matched.") {
		t.Fatalf("stdout = %s", stdout.String())
	}
	if strings.Contains(stdout.String(), "Answer tokens") {
		t.Fatalf("answer usage should be omitted:\n%s", stdout.String())
	}
}

func TestRunAskCommandRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error_code":"QUERY_REJECTED","error":"Query contains forbidden keyword: DROP","generated_sql":"DROP TABLE drug_info"}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "drop everything"}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	msg := stderr.String()
	if !strings.Contains(msg, "http 422 QUERY_REJECTED") || !strings.Contains(msg, "forbidden keyword: DROP") {
		t.Fatalf("stderr = %q", msg)
	}
	if !strings.Contains(msg, "rejected SQL: DROP TABLE drug_info") {
		t.Fatalf("stderr missing rejected SQL: %q", msg)
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout should be empty, got %q", stdout.String())
	}
}

func TestRunReportsGenericErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error_code":"UNAUTHORIZED","message":"missing API key"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "schema"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "http 401 UNAUTHORIZED: missing API key") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	cases := [][]string{
		{"unknown-command"},
		{"ask"},
		{"health", "extra"},
		{"--timeout", "soon", "health"},
	}
	for _, args := range cases {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Stderr: &stderr})
		if code != 2 {
			t.Fatalf("args %v: exit code = %d, want 2", args, code)
		}
		if !strings.Contains(stderr.String(), "Usage:") {
			t.Fatalf("args %v: stderr missing usage: %q", args, stderr.String())
		}
	}
}

func TestRunConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", url, "health"}, Options{Stderr: &stderr, Timeout: time.Second})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "request failed") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

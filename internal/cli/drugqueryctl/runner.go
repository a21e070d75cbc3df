package drugqueryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// requestError marks failures that happened after argument parsing, so Run
// can tell them apart from usage errors.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }

type runner struct {
	options Options
	baseURL string
	apiKey  string
	timeout time.Duration
	asJSON  bool
	noColor bool
	maxRows int
}

// Run executes one CLI invocation and returns the process exit code:
// 0 on success, 1 when the request fails, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	if defaults.Stdout == nil {
		defaults.Stdout = io.Discard
	}
	if defaults.Stderr == nil {
		defaults.Stderr = io.Discard
	}

	r := &runner{options: defaults}
	root := r.rootCommand()
	root.SetArgs(args)
	root.SetOut(defaults.Stdout)
	root.SetErr(defaults.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		_, _ = fmt.Fprintln(defaults.Stderr, reqErr.Error())
		return 1
	}
	_, _ = fmt.Fprintf(defaults.Stderr, "error: %v\n\n", err)
	_, _ = fmt.Fprint(defaults.Stderr, root.UsageString())
	return 2
}

func (r *runner) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "drugqueryctl",
		Short:         "Command-line client for the drugquery API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&r.baseURL, "base-url", firstNonEmpty(r.options.BaseURL, "http://localhost:8080"), "drugquery API base URL")
	flags.StringVar(&r.apiKey, "api-key", r.options.APIKey, "API key for authenticated requests")
	flags.DurationVar(&r.timeout, "timeout", durationOr(r.options.Timeout, 3*time.Minute), "HTTP timeout (e.g. 90s)")
	flags.BoolVar(&r.asJSON, "json", false, "print raw JSON responses")
	flags.BoolVar(&r.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		r.getCommand("health", "Check that the API is running", "/v1/health"),
		r.getCommand("ready", "Check database and audit store readiness", "/v1/ready"),
		r.schemaCommand(),
		r.askCommand(),
	)
	return root
}

func (r *runner) getCommand(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := r.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			writeJSONBody(cmd.OutOrStdout(), body)
			return nil
		},
	}
}

func (r *runner) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the schema guide given to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := r.do(cmd.Context(), http.MethodGet, "/v1/schema", nil)
			if err != nil {
				return err
			}
			if r.asJSON {
				writeJSONBody(cmd.OutOrStdout(), body)
				return nil
			}
			var payload struct {
				SchemaContext string `json:"schema_context"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return &requestError{err: fmt.Errorf("decode schema response: %w", err)}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), payload.SchemaContext)
			return nil
		},
	}
}

func (r *runner) askCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a question in plain English",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			payload, err := json.Marshal(map[string]string{"question": question})
			if err != nil {
				return err
			}
			body, err := r.do(cmd.Context(), http.MethodPost, "/v1/ask", payload)
			if err != nil {
				return err
			}
			if r.asJSON {
				writeJSONBody(cmd.OutOrStdout(), body)
				return nil
			}
			var result askResult
			if err := json.Unmarshal(body, &result); err != nil {
				return &requestError{err: fmt.Errorf("decode ask response: %w", err)}
			}
			return renderAnswer(cmd.OutOrStdout(), result, r.maxRows, r.noColor)
		},
	}
	cmd.Flags().IntVar(&r.maxRows, "max-rows", 50, "maximum rows to print in the result table")
	return cmd
}

func (r *runner) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	client := r.options.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: r.timeout}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(r.baseURL, "/")+path, reader)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(r.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return nil, &requestError{err: describeFailure(resp.StatusCode, body)}
	}
	return body, nil
}

// describeFailure prefers the user-facing message from either error envelope.
func describeFailure(status int, body []byte) error {
	var envelope struct {
		Error        string `json:"error"`
		Message      string `json:"message"`
		ErrorCode    string `json:"error_code"`
		GeneratedSQL string `json:"generated_sql"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(body)))
	}
	message := firstNonEmpty(envelope.Error, envelope.Message)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	text := fmt.Sprintf("http %d", status)
	if envelope.ErrorCode != "" {
		text += " " + envelope.ErrorCode
	}
	text += ": " + message
	if envelope.GeneratedSQL != "" {
		text += "\nrejected SQL: " + envelope.GeneratedSQL
	}
	return errors.New(text)
}

func writeJSONBody(w io.Writer, body []byte) {
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(w, pretty)
		return
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(w, string(body))
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

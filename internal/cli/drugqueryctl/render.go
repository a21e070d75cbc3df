package drugqueryctl

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

type usage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
	Model        string `json:"model"`
}

type askResult struct {
	Question     string   `json:"question"`
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	RowCount     int      `json:"row_count"`
	GeneratedSQL string   `json:"generated_sql"`
	ExecutedSQL  string   `json:"executed_sql"`
	LLMAnswer    string   `json:"llm_answer"`
	SQLUsage     usage    `json:"sql_usage"`
	AnswerUsage  usage    `json:"answer_usage"`
	DurationMs   int64    `json:"duration_ms"`
	TraceID      string   `json:"trace_id"`
}

func renderAnswer(w io.Writer, result askResult, maxRows int, noColor bool) error {
	if noColor {
		pterm.DisableStyling()
		defer pterm.EnableStyling()
	}

	if result.LLMAnswer != "" {
		_, _ = fmt.Fprintln(w, pterm.Bold.Sprint("Answer"))
		_, _ = fmt.Fprintln(w, result.LLMAnswer)
		_, _ = fmt.Fprintln(w)
	}
	_, _ = fmt.Fprintln(w, pterm.Bold.Sprint("SQL"))
	_, _ = fmt.Fprintln(w, result.GeneratedSQL)
	_, _ = fmt.Fprintln(w)

	if result.RowCount == 0 {
		_, _ = fmt.Fprintln(w, "No rows matched.")
	} else {
		table, err := renderTable(result, maxRows)
		if err != nil {
			return &requestError{err: fmt.Errorf("render table: %w", err)}
		}
		_, _ = fmt.Fprint(w, table)
		if maxRows > 0 && len(result.Rows) > maxRows {
			_, _ = fmt.Fprintf(w, "... %d more row(s) not shown\n", len(result.Rows)-maxRows)
		}
		_, _ = fmt.Fprintf(w, "%d row(s)\n", result.RowCount)
	}

	_, _ = fmt.Fprintf(w, "SQL tokens: %s\n", usageText(result.SQLUsage))
	if result.AnswerUsage.TotalTokens > 0 {
		_, _ = fmt.Fprintf(w, "Answer tokens: %s\n", usageText(result.AnswerUsage))
	}
	_, _ = fmt.Fprintf(w, "Took %dms (trace %s)\n", result.DurationMs, result.TraceID)
	return nil
}

func renderTable(result askResult, maxRows int) (string, error) {
	rows := result.Rows
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	data := make(pterm.TableData, 0, len(rows)+1)
	data = append(data, result.Columns)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, value := range row {
			if value == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", value)
		}
		data = append(data, cells)
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
}

func usageText(u usage) string {
	text := fmt.Sprintf("%d in / %d out / %d total", u.InputTokens, u.OutputTokens, u.TotalTokens)
	if u.Model != "" {
		text += " (" + u.Model + ")"
	}
	return text
}

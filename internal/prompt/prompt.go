// Package prompt renders the two model prompts used per question: one that
// asks for a PostgreSQL query and one that summarizes the rows it returned.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drugquery/drugquery/internal/query"
)

const DefaultPreviewRows = 20

func BuildSQLPrompt(question, schemaContext string) string {
	var b strings.Builder
	b.WriteString("You are a PostgreSQL SQL expert. Generate a SQL query for the following question.\n\n")
	b.WriteString("Database: DrugCentral PostgreSQL database\n")
	b.WriteString("Schema information:\n")
	b.WriteString(schemaContext)
	b.WriteString("\n\nUser question: ")
	b.WriteString(question)
	b.WriteString("\n\nInstructions:\n")
	b.WriteString("- Return ONLY a valid PostgreSQL SELECT query\n")
	b.WriteString("- Do not include explanations or markdown formatting\n")
	b.WriteString("- Use proper PostgreSQL syntax\n")
	b.WriteString("- Limit results to 1000 rows with LIMIT clause\n")
	b.WriteString("- Return the SQL query directly without any wrapper text\n\n")
	b.WriteString("SQL Query:")
	return b.String()
}

// BuildAnswerPrompt lists at most previewRows rows; a non-positive value
// falls back to DefaultPreviewRows.
func BuildAnswerPrompt(question, sql string, result query.Result, previewRows int) string {
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}

	var b strings.Builder
	b.WriteString("You are a helpful assistant explaining database query results to a user.\n\n")
	b.WriteString("User's Question: ")
	b.WriteString(question)
	b.WriteString("\n\nSQL Query Executed:\n")
	b.WriteString(sql)
	b.WriteString("\n\nQuery Results:\n")
	b.WriteString(resultsSection(result, previewRows))
	b.WriteString("\n\nInstructions:\n")
	for _, line := range answerInstructions {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\nAnswer:")
	return b.String()
}

var answerInstructions = []string{
	"Provide a BRIEF answer (2-3 sentences maximum) based ONLY on the query results above",
	"State the number of results found and provide a high-level summary",
	`If multiple results exist, do NOT list individual items - instead tell the user to "view the complete list in the table below"`,
	"For single results, you may briefly describe the finding",
	"If the results are empty, explain that no matching data was found",
	"Do NOT provide information not present in the query results",
	"Do NOT provide medical advice or recommendations",
	"Do NOT speculate beyond the data provided",
	"Do NOT use markdown formatting (no asterisks, no bold, no italics) - write in plain text only",
	"Keep your answer SHORT and direct the user to the detailed results table below",
}

func resultsSection(result query.Result, previewRows int) string {
	var b strings.Builder
	b.WriteString("Number of results: ")
	b.WriteString(strconv.Itoa(result.RowCount))
	b.WriteString("\n\n")
	if result.RowCount <= 0 {
		return b.String()
	}

	b.WriteString("Columns: ")
	b.WriteString(strings.Join(result.Columns, ", "))
	b.WriteString("\n\nResults:\n")

	shown := min(previewRows, len(result.Rows))
	for i, row := range result.Rows[:shown] {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(formatRow(result.Columns, row))
		b.WriteString("\n")
	}
	if result.RowCount > shown {
		fmt.Fprintf(&b, "\n... and %d more results", result.RowCount-shown)
	}
	return b.String()
}

func formatRow(columns []string, row []any) string {
	parts := make([]string, 0, len(columns))
	for i, column := range columns {
		var value any
		if i < len(row) {
			value = row[i]
		}
		parts = append(parts, column+": "+formatValue(value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(typed)
	}
}

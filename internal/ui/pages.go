package ui

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gomponents "maragu.dev/gomponents"
	data "maragu.dev/gomponents-datastar"
	html "maragu.dev/gomponents/html"

	"github.com/drugquery/drugquery/internal/llm"
)

const datastarScript = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.7/bundles/datastar.js"

// Results is the rendered form of an answered question.
type Results struct {
	Answer      string
	SQL         string
	Columns     []string
	Rows        [][]any
	RowCount    int
	SQLUsage    llm.Usage
	AnswerUsage llm.Usage
	Duration    time.Duration
}

type Page struct {
	Title       string
	Question    string
	MaxLength   int
	StaticPath  string
	Error       string
	RejectedSQL string
	TraceID     string
	Results     *Results
}

func Render(w http.ResponseWriter, status int, node gomponents.Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = node.Render(w)
}

func IndexPage(page Page) gomponents.Node {
	title := page.Title
	if title == "" {
		title = "DrugCentral Query Interface"
	}
	return html.HTML(
		html.Lang("en"),
		html.Head(
			html.Meta(html.Charset("utf-8")),
			html.Meta(html.Name("viewport"), html.Content("width=device-width, initial-scale=1")),
			html.TitleEl(gomponents.Text(title)),
			html.Link(html.Rel("icon"), html.Href("data:,")),
			gomponents.If(page.StaticPath != "", html.Link(html.Rel("stylesheet"), html.Href(strings.TrimSuffix(page.StaticPath, "/")+"/app.css"))),
			html.Script(html.Type("module"), html.Src(datastarScript)),
		),
		html.Body(
			html.Main(
				html.Class("app-shell"),
				html.H1(gomponents.Text(title)),
				html.P(html.Class("muted"), gomponents.Text("Ask a question about drugs, targets, products or approvals in plain English.")),
				questionForm(page),
				html.Section(html.ID("results"), ResultsSection(page)),
			),
		),
	)
}

func questionForm(page Page) gomponents.Node {
	maxLength := page.MaxLength
	if maxLength <= 0 {
		maxLength = 500
	}
	return html.Div(
		html.Class("card"),
		html.Form(
			html.Method("post"),
			html.Action("/query"),
			html.Label(html.For("question"), gomponents.Text("Question")),
			html.Textarea(
				html.ID("question"),
				html.Name("question"),
				html.Required(),
				html.MaxLength(strconv.Itoa(maxLength)),
				html.Placeholder("Which drugs target the COX-2 enzyme?"),
				gomponents.Text(page.Question),
			),
			html.Div(html.Button(html.Type("submit"), html.Class("btn-primary"), gomponents.Text("Ask"))),
		),
	)
}

// ResultsSection renders only the area below the form.
func ResultsSection(page Page) gomponents.Node {
	switch {
	case page.Error != "":
		return errorCard(page)
	case page.Results != nil:
		return resultsCard(*page.Results)
	default:
		return gomponents.Group(nil)
	}
}

func errorCard(page Page) gomponents.Node {
	return html.Div(
		html.Class("card error"),
		html.H2(gomponents.Text("Error")),
		html.P(gomponents.Text(page.Error)),
		gomponents.If(page.RejectedSQL != "", gomponents.Group([]gomponents.Node{
			html.H3(gomponents.Text("Generated SQL")),
			html.Pre(html.Code(gomponents.Text(page.RejectedSQL))),
		})),
		gomponents.If(page.TraceID != "", html.P(html.Class("muted"), gomponents.Text("Trace ID: "+page.TraceID))),
	)
}

func resultsCard(results Results) gomponents.Node {
	nodes := make([]gomponents.Node, 0, 4)
	if results.Answer != "" {
		nodes = append(nodes, html.Div(
			html.Class("card"),
			html.H2(gomponents.Text("Answer")),
			html.P(gomponents.Text(results.Answer)),
		))
	}
	nodes = append(nodes,
		html.Div(
			html.Class("card"),
			html.H2(gomponents.Text("SQL")),
			html.Pre(html.Code(gomponents.Text(results.SQL))),
			usageLine(results),
		),
		tableCard(results),
	)
	return gomponents.Group(nodes)
}

func usageLine(results Results) gomponents.Node {
	items := []gomponents.Node{
		html.Span(gomponents.Text("SQL tokens: " + usageText(results.SQLUsage))),
	}
	if results.AnswerUsage.TotalTokens > 0 || results.AnswerUsage.Model != "" {
		items = append(items, html.Span(gomponents.Text("Answer tokens: "+usageText(results.AnswerUsage))))
	}
	if results.Duration > 0 {
		items = append(items, html.Span(gomponents.Text("Took "+results.Duration.Round(time.Millisecond).String())))
	}
	return html.Div(html.Class("usage muted"), gomponents.Group(items))
}

func usageText(usage llm.Usage) string {
	return fmt.Sprintf("%d in / %d out / %d total", usage.InputTokens, usage.OutputTokens, usage.TotalTokens)
}

func tableCard(results Results) gomponents.Node {
	if results.RowCount == 0 {
		return html.Div(
			html.Class("card"),
			html.H2(gomponents.Text("Results")),
			html.P(html.Class("muted"), gomponents.Text("No rows matched.")),
		)
	}

	header := make([]gomponents.Node, 0, len(results.Columns))
	for _, column := range results.Columns {
		header = append(header, html.Th(gomponents.Text(column)))
	}

	rows := make([]gomponents.Node, 0, len(results.Rows))
	for _, row := range results.Rows {
		cells := make([]gomponents.Node, 0, len(row))
		text := make([]string, 0, len(row))
		for _, value := range row {
			cell := CellString(value)
			text = append(text, cell)
			cells = append(cells, html.Td(gomponents.Text(cell)))
		}
		rows = append(rows, html.Tr(data.Show(containsExpr(strings.Join(text, " "))), gomponents.Group(cells)))
	}

	return html.Div(
		html.Class("card table-wrap"),
		data.Signals(map[string]any{"q": ""}),
		html.H2(gomponents.Text("Results")),
		html.P(html.Class("muted"), gomponents.Text(fmt.Sprintf("%d row(s)", results.RowCount))),
		html.Input(html.Type("text"), data.Bind("q"), html.Placeholder("Filter rows")),
		html.Table(
			html.THead(html.Tr(gomponents.Group(header))),
			html.TBody(gomponents.Group(rows)),
		),
	)
}

func CellString(value any) string {
	if value == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", value)
}

func containsExpr(value string) string {
	lower := strings.ToLower(value)
	return "$q === '' || " + strconv.Quote(lower) + ".includes($q.toLowerCase())"
}

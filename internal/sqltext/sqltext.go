// Package sqltext cleans, screens and caps model-generated SQL before it
// reaches the database. The screen is a keyword blacklist, not a parser:
// string literals or identifiers containing a listed word are rejected, and
// mutating statements outside the list pass through.
package sqltext

import (
	"regexp"
	"strconv"
	"strings"
)

// DangerousKeywords are checked in order; the first match decides the verdict.
var DangerousKeywords = []string{
	"INSERT",
	"UPDATE",
	"DELETE",
	"DROP",
	"ALTER",
	"CREATE",
	"TRUNCATE",
	"REPLACE",
	"MERGE",
}

const rejectionPrefix = "Query rejected for security reasons. Only SELECT queries are allowed. Found dangerous keyword: "

var (
	fencePattern   = regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)\\s*```")
	limitPattern   = regexp.MustCompile(`(?i)\bLIMIT\b`)
	keywordPattern = compileKeywordPatterns(DangerousKeywords)
)

type Verdict struct {
	Allowed bool
	Keyword string
	Message string
}

// Extract returns the interior of the first fenced code block, or the whole
// text when there is none. Surrounding whitespace is always trimmed.
func Extract(text string) string {
	if match := fencePattern.FindStringSubmatch(text); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(text)
}

func Validate(sql string) Verdict {
	for i, keyword := range DangerousKeywords {
		if keywordPattern[i].MatchString(sql) {
			return Verdict{
				Allowed: false,
				Keyword: keyword,
				Message: rejectionPrefix + keyword,
			}
		}
	}
	return Verdict{Allowed: true}
}

// EnsureLimit appends a row cap unless the text already mentions LIMIT
// anywhere, including inside subqueries or literals. Only one trailing
// terminator is removed and trailing whitespace is left as is.
func EnsureLimit(sql string, limit int) string {
	if limitPattern.MatchString(sql) {
		return sql
	}
	return strings.TrimSuffix(sql, ";") + " LIMIT " + strconv.Itoa(limit)
}

func compileKeywordPatterns(keywords []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(keywords))
	for _, keyword := range keywords {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(keyword)+`\b`))
	}
	return patterns
}

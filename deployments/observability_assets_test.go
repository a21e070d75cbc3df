package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	content := readAsset(t, "grafana", "drugquery_slo_dashboard.json")

	var decoded map[string]any
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}

	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	text := readAsset(t, "prometheus", "drugquery_rules.yaml")

	requiredAlerts := []string{
		"DrugQueryAskLatencyP95High",
		"DrugQueryHTTPErrorRateHigh",
		"DrugQueryQuestionFailuresHigh",
		"DrugQueryRejectionSpike",
		"DrugQueryCompletionLatencyHigh",
		"DrugQueryAuditEntriesDropped",
		"DrugQueryAuditUploadsFailing",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}
}

func TestAlertsOnlyUseRecordedSeries(t *testing.T) {
	alerts := readAsset(t, "prometheus", "drugquery_rules.yaml")
	records := readAsset(t, "prometheus", "drugquery_recording_rules.yaml")

	for _, name := range regexp.MustCompile(`drugquery:[a-z0-9_]+`).FindAllString(alerts, -1) {
		if !strings.Contains(records, "record: "+name) {
			t.Fatalf("alert references %q which is not recorded", name)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := readAsset(t, "prometheus", "prometheus-scrape.example.yaml")

	for _, token := range []string{
		"metrics_path: /v1/metrics",
		"drugquery_rules.yaml",
		"drugquery_recording_rules.yaml",
		"job_name: drugquery-api",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func TestAssetsReferenceExportedMetrics(t *testing.T) {
	exported := exportedMetricNames(t)
	if len(exported) == 0 {
		t.Fatal("no metric names found in observability package")
	}

	suffixes := regexp.MustCompile(`_(bucket|sum|count)$`)
	metricRef := regexp.MustCompile(`\bdrugquery_[a-z0-9_]+`)
	assets := []string{
		readAsset(t, "prometheus", "drugquery_recording_rules.yaml"),
		readAsset(t, "grafana", "drugquery_slo_dashboard.json"),
	}
	for _, text := range assets {
		for _, ref := range metricRef.FindAllString(text, -1) {
			name := ref
			if !exported[name] {
				name = suffixes.ReplaceAllString(ref, "")
			}
			if !exported[name] {
				t.Fatalf("asset references unknown metric %q", ref)
			}
		}
	}
}

func exportedMetricNames(t *testing.T) map[string]bool {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(repoRoot(t), "internal", "observability", "*.go"))
	if err != nil {
		t.Fatalf("glob observability sources: %v", err)
	}
	pattern := regexp.MustCompile(`Name:\s+"(drugquery_[a-z0-9_]+)"`)
	names := make(map[string]bool)
	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		for _, match := range pattern.FindAllStringSubmatch(string(content), -1) {
			names[match[1]] = true
		}
	}
	return names
}

func readAsset(t *testing.T, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{repoRoot(t), "deployments", "observability"}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(content)
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}

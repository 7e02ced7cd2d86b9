package deployments

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Record string            `yaml:"record"`
			Alert  string            `yaml:"alert"`
			Expr   string            `yaml:"expr"`
			Labels map[string]string `yaml:"labels"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

// exportedMetrics are the series the API registers with Prometheus.
var exportedMetrics = []string{
	"querybridge_translations_total",
	"querybridge_translation_latency_seconds",
	"querybridge_dispatch_total",
	"querybridge_dispatch_latency_seconds",
	"querybridge_result_documents",
	"querybridge_improvement_failures_total",
	"querybridge_pipeline_runs_total",
	"querybridge_http_requests_total",
	"querybridge_http_request_duration_seconds",
}

func TestRecordingRulesReferenceExportedMetrics(t *testing.T) {
	rules := loadRules(t, "querybridge_recording_rules.yaml")

	records := map[string]bool{}
	for _, group := range rules.Groups {
		for _, rule := range group.Rules {
			if rule.Record == "" {
				t.Fatalf("group %s has a rule without record", group.Name)
			}
			records[rule.Record] = true
			if !referencesExportedMetric(rule.Expr) {
				t.Fatalf("record %s does not use an exported metric: %s", rule.Record, rule.Expr)
			}
		}
	}
	for _, name := range []string{
		"querybridge:prompt_success_ratio_5m",
		"querybridge:translation_latency_seconds_p95",
		"querybridge:dispatch_latency_seconds_p95",
		"querybridge:contract_violations_15m",
		"querybridge:improvement_failures_15m",
		"querybridge:http_error_rate_5m",
	} {
		if !records[name] {
			t.Fatalf("recording rules missing record %q", name)
		}
	}
}

func TestAlertRulesUseRecordedSeries(t *testing.T) {
	recorded := map[string]bool{}
	for _, group := range loadRules(t, "querybridge_recording_rules.yaml").Groups {
		for _, rule := range group.Rules {
			recorded[rule.Record] = true
		}
	}

	alerts := 0
	for _, group := range loadRules(t, "querybridge_rules.yaml").Groups {
		for _, rule := range group.Rules {
			if rule.Alert == "" {
				t.Fatalf("group %s has a rule without alert", group.Name)
			}
			alerts++
			series := strings.FieldsFunc(rule.Expr, func(r rune) bool {
				return r == ' ' || r == '{' || r == '<' || r == '>'
			})[0]
			if !recorded[series] {
				t.Fatalf("alert %s references unknown series %q", rule.Alert, series)
			}
			switch rule.Labels["severity"] {
			case "critical", "warning":
			default:
				t.Fatalf("alert %s has severity %q", rule.Alert, rule.Labels["severity"])
			}
		}
	}
	if alerts == 0 {
		t.Fatal("no alerts defined")
	}
}

func TestPrometheusScrapeExampleTargetsMetricsPath(t *testing.T) {
	content, err := os.ReadFile(filepath.Join(repoRoot(t), "deployments", "observability", "prometheus", "prometheus-scrape.example.yaml"))
	if err != nil {
		t.Fatalf("read scrape example: %v", err)
	}
	var scrape struct {
		RuleFiles     []string `yaml:"rule_files"`
		ScrapeConfigs []struct {
			JobName     string `yaml:"job_name"`
			MetricsPath string `yaml:"metrics_path"`
		} `yaml:"scrape_configs"`
	}
	if err := yaml.Unmarshal(content, &scrape); err != nil {
		t.Fatalf("parse scrape example: %v", err)
	}
	if len(scrape.ScrapeConfigs) != 1 || scrape.ScrapeConfigs[0].JobName != "querybridge-api" || scrape.ScrapeConfigs[0].MetricsPath != "/v1/metrics" {
		t.Fatalf("scrape configs = %+v", scrape.ScrapeConfigs)
	}
	for _, name := range []string{"querybridge_rules.yaml", "querybridge_recording_rules.yaml"} {
		found := false
		for _, file := range scrape.RuleFiles {
			found = found || file == name
		}
		if !found {
			t.Fatalf("scrape example missing rule file %s", name)
		}
	}
}

func TestComposeDeclaresBackingServices(t *testing.T) {
	content, err := os.ReadFile(filepath.Join(repoRoot(t), "deployments", "docker-compose.yml"))
	if err != nil {
		t.Fatalf("read compose file: %v", err)
	}
	var compose struct {
		Services map[string]map[string]any `yaml:"services"`
	}
	if err := yaml.Unmarshal(content, &compose); err != nil {
		t.Fatalf("parse compose file: %v", err)
	}
	for _, name := range []string{"mongo", "postgres", "minio", "prometheus"} {
		if _, ok := compose.Services[name]; !ok {
			t.Fatalf("compose file missing service %s", name)
		}
	}
}

func loadRules(t *testing.T, name string) ruleFile {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(repoRoot(t), "deployments", "observability", "prometheus", name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	var rules ruleFile
	if err := yaml.Unmarshal(content, &rules); err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	if len(rules.Groups) == 0 {
		t.Fatalf("%s has no rule groups", name)
	}
	return rules
}

func referencesExportedMetric(expr string) bool {
	for _, metric := range exportedMetrics {
		if strings.Contains(expr, metric) {
			return true
		}
	}
	return false
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}

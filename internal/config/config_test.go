package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Governor.PendingTTL)
	assert.Equal(t, 20.0, cfg.Reconciler.CostThresholdPct)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
logLevel: debug
storage:
  backend: bolt
  boltPath: /var/lib/cartograph/graph.db
monitor:
  interval: 1h
  maxAlertsPerCycle: 5
  webhookURL: http://alerts.internal/hook
reconciler:
  planPath: plan.yaml
  executionPath: execution.yaml
  autoRemediate: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "bolt", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/cartograph/graph.db", cfg.Storage.BoltPath)
	assert.Equal(t, time.Hour, cfg.Monitor.Interval)
	assert.Equal(t, 5, cfg.Monitor.MaxAlertsPerCycle)
	assert.True(t, cfg.Reconciler.AutoRemediate)
	// Untouched sections keep defaults.
	assert.Equal(t, 30*time.Minute, cfg.Monitor.AlertCooldown)
	assert.Equal(t, 24*time.Hour, cfg.Governor.PendingTTL)
}

func TestLoadFileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to load")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "LogLevel"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "dynamo" }, "Storage.Backend"},
		{"bolt without path", func(c *Config) { c.Storage.Backend = "bolt"; c.Storage.BoltPath = "" }, "BoltPath"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "PostgresDSN"},
		{"odd sync interval", func(c *Config) { c.Monitor.Interval = 7 * time.Minute }, "Monitor.Interval"},
		{"zero alert cap", func(c *Config) { c.Monitor.MaxAlertsPerCycle = 0 }, "MaxAlertsPerCycle"},
		{"plan without execution", func(c *Config) { c.Reconciler.PlanPath = "plan.yaml" }, "set together"},
		{"negative cost threshold", func(c *Config) { c.Reconciler.CostThresholdPct = -1 }, "CostThresholdPct"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "Tracing.Endpoint"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadRulesFileValid(t *testing.T) {
	path := writeFile(t, "rules.yaml", `schema_version: v1
rules:
  - id: orphan
    enabled: true
  - id: spof
    enabled: false
`)

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", rules.SchemaVersion)
	require.Len(t, rules.Rules, 2)
	assert.Equal(t, "orphan", rules.Rules[0].ID)
	assert.True(t, rules.Rules[0].Enabled)
	assert.False(t, rules.Rules[1].Enabled)
}

func TestLoadRulesFileRejectsBadSchema(t *testing.T) {
	for name, content := range map[string]string{
		"wrong version": "schema_version: v2\nrules: []\n",
		"missing id":    "schema_version: v1\nrules:\n  - id: \"\"\n    enabled: true\n",
		"duplicate id":  "schema_version: v1\nrules:\n  - id: orphan\n    enabled: true\n  - id: orphan\n    enabled: false\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "rules.yaml", content)
			rules, err := LoadRulesFile(path)
			assert.Error(t, err)
			assert.Nil(t, rules)
			assert.Contains(t, err.Error(), "validation failed")
		})
	}
}

func TestWriteRulesFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	in := &RulesFile{
		SchemaVersion: "v1",
		Rules: []RuleToggle{
			{ID: "orphan", Enabled: false},
			{ID: "cost-anomaly", Enabled: true},
		},
	}
	require.NoError(t, WriteRulesFile(path, in))

	out, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Equal(t, in.Rules, out.Rules)

	// No temp leftovers.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

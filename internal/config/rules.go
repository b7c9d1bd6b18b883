package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// RulesSchemaVersion is the only schema version the loader accepts.
const RulesSchemaVersion = "v1"

// RulesFile is the alert-rule toggle file. It enables or disables monitor
// rules by id without a restart.
//
// Example YAML structure:
//
//	schema_version: v1
//	rules:
//	  - id: orphan
//	    enabled: true
//	  - id: spof
//	    enabled: false
type RulesFile struct {
	// SchemaVersion is the explicit config schema version (e.g., "v1").
	SchemaVersion string `yaml:"schema_version"`

	// Rules is the list of per-rule toggles. Rules not listed keep their
	// built-in default.
	Rules []RuleToggle `yaml:"rules"`
}

// RuleToggle enables or disables one monitor rule by id.
type RuleToggle struct {
	ID      string `yaml:"id"`
	Enabled bool   `yaml:"enabled"`
}

// Validate checks that the RulesFile is valid.
func (f *RulesFile) Validate() error {
	if f.SchemaVersion != RulesSchemaVersion {
		return NewConfigError(fmt.Sprintf(
			"unsupported schema_version: %q (expected %q)",
			f.SchemaVersion, RulesSchemaVersion,
		))
	}

	seen := make(map[string]bool)
	for i, toggle := range f.Rules {
		if toggle.ID == "" {
			return NewConfigError(fmt.Sprintf("rules[%d]: id is required", i))
		}
		if seen[toggle.ID] {
			return NewConfigError(fmt.Sprintf("rules[%d]: duplicate rule id %q", i, toggle.ID))
		}
		seen[toggle.ID] = true
	}

	return nil
}

// LoadRulesFile loads and validates an alert-rule toggle file.
func LoadRulesFile(path string) (*RulesFile, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load rules config from %q: %w", path, err)
	}

	var rules RulesFile
	if err := k.UnmarshalWithConf("", &rules, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse rules config from %q: %w", path, err)
	}

	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules config validation failed for %q: %w", path, err)
	}

	return &rules, nil
}

// WriteRulesFile atomically writes a RulesFile using the temp-file-then-rename
// pattern, so readers never observe a partial write.
func WriteRulesFile(path string, rules *RulesFile) error {
	data, err := yamlv3.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules config: %w", err)
	}

	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".rules.*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if _, err := os.Stat(tmpPath); err == nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Rename is atomic on POSIX filesystems.
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %q: %w", path, err)
	}

	return nil
}

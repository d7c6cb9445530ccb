package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hybrid-ids/internal/model"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []model.Rule `yaml:"rules" json:"rules"`
}

// LoadRulesFromJSON loads rule overrides from a JSON file
func LoadRulesFromJSON(filename string) ([]model.Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules rulesFile
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", filename, err)
	}

	return rules.Rules, nil
}

// LoadRulesFromYAML loads rule overrides from a YAML file
func LoadRulesFromYAML(filename string) ([]model.Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules rulesFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules file %s: %w", filename, err)
	}

	return rules.Rules, nil
}

// LoadRules picks the decoder from the file extension; unknown extensions
// are tried as YAML first, then JSON.
func LoadRules(filename string) ([]model.Rule, error) {
	if filename == "" {
		return nil, fmt.Errorf("rules file path is empty")
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return LoadRulesFromYAML(filename)
	case ".json":
		return LoadRulesFromJSON(filename)
	}

	if rules, err := LoadRulesFromYAML(filename); err == nil {
		return rules, nil
	}
	return LoadRulesFromJSON(filename)
}

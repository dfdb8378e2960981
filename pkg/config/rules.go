package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleSpec is one classification rule in a seed file
type RuleSpec struct {
	Name                string   `yaml:"name"`
	Priority            int      `yaml:"priority"`
	DescriptionContains string   `yaml:"description_contains"`
	AmountMin           *string  `yaml:"amount_min"`
	AmountMax           *string  `yaml:"amount_max"`
	CategoryID          string   `yaml:"category_id"`
	Category            string   `yaml:"category"`
	Tags                []string `yaml:"tags"`
}

// AliasSpec maps a payee substring to a canonical vendor
type AliasSpec struct {
	Match    string `yaml:"match"`
	VendorID string `yaml:"vendor_id"`
	Vendor   string `yaml:"vendor"`
}

// RulesFile holds the rules and aliases to import for a connection
type RulesFile struct {
	Rules   []RuleSpec  `yaml:"rules"`
	Aliases []AliasSpec `yaml:"aliases"`
}

// LoadRulesFile loads a rule/alias seed file from YAML
func LoadRulesFile(path string) (*RulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	return ParseRulesFile(data)
}

// ParseRulesFile parses and validates rule/alias YAML
func ParseRulesFile(data []byte) (*RulesFile, error) {
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	for i, r := range file.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if r.DescriptionContains == "" && r.AmountMin == nil && r.AmountMax == nil {
			return nil, fmt.Errorf("rule %q: at least one condition is required", r.Name)
		}
		if r.CategoryID == "" && r.Category == "" && len(r.Tags) == 0 {
			return nil, fmt.Errorf("rule %q: at least one action is required", r.Name)
		}
	}

	for i, a := range file.Aliases {
		if a.Match == "" || (a.VendorID == "" && a.Vendor == "") {
			return nil, fmt.Errorf("alias %d: match and vendor are required", i)
		}
	}

	return &file, nil
}

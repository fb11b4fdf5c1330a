// Package rules loads and caches the per-category rules corpus: few-shot
// examples, business rules, schema fragments and SQL patterns.
package rules

import (
	"sort"
	"time"

	"github.com/ziadkadry99/menusql/internal/category"
)

// Example is one few-shot (question, SQL) pair.
type Example struct {
	Query string `yaml:"query" json:"query"`
	SQL   string `yaml:"sql" json:"sql"`
}

// RuleSet is everything the prompt needs for one category. A RuleSet is
// shared between callers once cached and must not be mutated.
type RuleSet struct {
	Category category.Category   `json:"category"`
	Examples []Example           `json:"examples"`
	Rules    map[string]string   `json:"rules"`
	Schema   map[string][]string `json:"schema"`
	Patterns map[string]string   `json:"patterns"`
	LoadedAt time.Time           `json:"loaded_at"`

	// Degraded is set when part of the corpus could not be read and the
	// category fell back to empty rules.
	Degraded bool `json:"degraded,omitempty"`
}

// Tables returns the schema table names in sorted order.
func (r *RuleSet) Tables() []string { return sortedKeys(r.Schema) }

// RuleNames returns the business rule names in sorted order.
func (r *RuleSet) RuleNames() []string { return sortedKeys(r.Rules) }

// PatternNames returns the pattern names in sorted order.
func (r *RuleSet) PatternNames() []string { return sortedKeys(r.Patterns) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func emptyRuleSet(c category.Category) *RuleSet {
	return &RuleSet{
		Category: c,
		Examples: []Example{},
		Rules:    map[string]string{},
		Schema:   map[string][]string{},
		Patterns: map[string]string{},
	}
}

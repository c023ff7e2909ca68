package enrich

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var keywordsYAML []byte

type keywordCatalog struct {
	Version    int                 `yaml:"version"`
	Techniques map[string][]string `yaml:"techniques"`
}

func loadKeywordCatalog() (*keywordCatalog, error) {
	var cat keywordCatalog
	if err := yaml.Unmarshal(keywordsYAML, &cat); err != nil {
		return nil, fmt.Errorf("keyword catalog: %w", err)
	}
	return &cat, nil
}

// Terms builds the ordered search terms for a technique. The display name
// comes first, then the curated entries for that id, skipping duplicates.
// Unknown techniques fall back to the name alone.
func (c *keywordCatalog) Terms(techniqueID, name string) []string {
	terms := make([]string, 0, 4)
	seen := make(map[string]bool)
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		key := strings.ToLower(t)
		if seen[key] {
			return
		}
		seen[key] = true
		terms = append(terms, t)
	}
	add(name)
	for _, t := range c.Techniques[techniqueID] {
		add(t)
	}
	return terms
}

package rules

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/dinqhq/profile-engine/engine/store"
)

// yamlDocument is the overlay file shape: a full replacement plan per
// source, for operators tuning priorities/groups/dependencies without a
// recompile.
type yamlDocument struct {
	Sources map[string][]yamlCard `yaml:"sources"`
}

type yamlCard struct {
	CardType         string            `yaml:"card_type"`
	DependsOn        []string          `yaml:"depends_on"`
	Priority         int               `yaml:"priority"`
	ConcurrencyGroup string            `yaml:"concurrency_group"`
	Input            map[string]string `yaml:"input"`
}

// LoadYAML reads an overlay document from r and registers a replacement
// Planner for every source it names, entirely replacing that source's
// built-in plan (partial per-card overrides are not supported; operators
// supply the whole DAG for any source they customize).
func (e *Engine) LoadYAML(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("rules: reading overlay: %w", err)
	}
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("rules: parsing overlay: %w", err)
	}
	for source, cards := range doc.Sources {
		descriptors := make([]store.CardDescriptor, 0, len(cards))
		for _, c := range cards {
			input := c.Input
			if input == nil {
				input = map[string]string{}
			}
			descriptors = append(descriptors, store.CardDescriptor{
				CardType:         c.CardType,
				DependsOn:        c.DependsOn,
				Priority:         c.Priority,
				ConcurrencyGroup: c.ConcurrencyGroup,
				Input:            input,
			})
		}
		plan := descriptors
		e.Register(source, func() []store.CardDescriptor {
			out := make([]store.CardDescriptor, len(plan))
			copy(out, plan)
			return out
		})
	}
	return nil
}

package classify

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docintel/internal/core/domain"
)

//go:embed rules.yaml
var rulesYAML []byte

type ruleSpec struct {
	DocType          string   `yaml:"doc_type"`
	Priority         int      `yaml:"priority"`
	Keywords         []string `yaml:"keywords"`
	Patterns         []string `yaml:"patterns"`
	NegativeKeywords []string `yaml:"negative_keywords"`
}

type rulesFile struct {
	Rules         []ruleSpec          `yaml:"rules"`
	FilenameHints map[string][]string `yaml:"filename_hints"`
}

type typeRule struct {
	docType          domain.DocumentType
	priority         int
	keywords         []string
	patterns         []*regexp.Regexp
	negativeKeywords []string
}

type ruleSet struct {
	rules         []typeRule
	filenameHints map[domain.DocumentType][]string
}

func loadRules() (*ruleSet, error) {
	var file rulesFile
	if err := yaml.Unmarshal(rulesYAML, &file); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	set := &ruleSet{
		filenameHints: make(map[domain.DocumentType][]string, len(file.FilenameHints)),
	}
	for _, spec := range file.Rules {
		rule := typeRule{
			docType:          domain.DocumentType(spec.DocType),
			priority:         spec.Priority,
			keywords:         spec.Keywords,
			negativeKeywords: spec.NegativeKeywords,
		}
		for _, p := range spec.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q for %s: %w", p, spec.DocType, err)
			}
			rule.patterns = append(rule.patterns, re)
		}
		set.rules = append(set.rules, rule)
	}
	sort.Slice(set.rules, func(i, j int) bool {
		return set.rules[i].priority < set.rules[j].priority
	})

	for docType, hints := range file.FilenameHints {
		set.filenameHints[domain.DocumentType(docType)] = hints
	}
	return set, nil
}

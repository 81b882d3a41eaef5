package config

import (
	"errors"
	"fmt"

	"fswalk/internal/walk"

	"github.com/grafana/regexp"
)

// Rule is one registration declared in the config file. Pattern holds
// whatever YAML value was written and is resolved by walk.MatcherFrom;
// Regexp is the alternative for regular expressions.
type Rule struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Pattern any    `yaml:"pattern"`
	Regexp  string `yaml:"regexp"`
	Watch   bool   `yaml:"watch"`
}

var errPatternAndRegexp = errors.New("pattern and regexp are mutually exclusive")

// Matcher resolves the rule's criterion.
func (r Rule) Matcher() (walk.Matcher, error) {
	if r.Regexp == "" {
		return walk.MatcherFrom(r.Pattern)
	}
	if r.Pattern != nil {
		return walk.Matcher{}, errPatternAndRegexp
	}
	re, err := regexp.Compile(r.Regexp)
	if err != nil {
		return walk.Matcher{}, fmt.Errorf("%w: %v", walk.ErrInvalidPattern, err)
	}
	return walk.Regexp(re), nil
}

func (r Rule) kind() (walk.RuleKind, error) {
	return walk.ParseRuleKind(r.Kind)
}

func (r Rule) label(index int) string {
	if r.Name != "" {
		return "rule " + r.Name
	}
	return fmt.Sprintf("rule %d", index+1)
}

// HandlerFunc supplies the callbacks for a configured rule. The rule name is
// already defaulted.
type HandlerFunc func(rule Rule) walk.Handler

// Options translates the config into walker options. Rules without watch keep
// only their Found callback.
func (c Config) Options(handlerFor HandlerFunc) (walk.Options, error) {
	if err := c.Validate(); err != nil {
		return walk.Options{}, err
	}
	patterns, err := c.IgnorePatterns()
	if err != nil {
		return walk.Options{}, err
	}
	rules := make([]walk.Rule, 0, len(c.Rules))
	for index, rule := range c.Rules {
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("rule%d", index+1)
		}
		kind, err := rule.kind()
		if err != nil {
			return walk.Options{}, invalid(rule.label(index), err)
		}
		matcher, err := rule.Matcher()
		if err != nil {
			return walk.Options{}, invalid(rule.label(index), err)
		}
		var handler walk.Handler
		if handlerFor != nil {
			handler = handlerFor(rule)
		}
		if !rule.Watch {
			handler.Changed = nil
		}
		rules = append(rules, walk.Rule{
			Name:    rule.Name,
			Kind:    kind,
			Matcher: matcher,
			Handler: handler,
		})
	}
	return walk.Options{
		Root:           c.Path,
		IgnorePatterns: patterns,
		Watch:          c.Watch,
		Debounce:       c.Debounce,
		MaxWatches:     c.MaxWatches,
		Rules:          rules,
	}, nil
}

package walk

import (
	"context"
	"fmt"
)

// FoundFunc is invoked during the walk for every entry a registration
// matches. A returned error aborts the walk.
type FoundFunc func(ctx context.Context, entry Entry) error

// ChangedFunc is invoked after readiness with the root-relative path of a
// modified entry the registration matched during the walk.
type ChangedFunc func(path string)

// Handler holds the callbacks of a registration. It can be written as a
// literal with named fields or built with Found or Handlers.
type Handler struct {
	Found   FoundFunc
	Changed ChangedFunc
}

// Found wraps a bare match callback.
func Found(fn FoundFunc) Handler {
	return Handler{Found: fn}
}

// Handlers pairs a match callback with a change callback.
func Handlers(found FoundFunc, changed ChangedFunc) Handler {
	return Handler{Found: found, Changed: changed}
}

func (h Handler) validate() error {
	if h.Found == nil && h.Changed == nil {
		return configErr("handler", ErrInvalidHandler)
	}
	return nil
}

// RuleKind restricts which entries a Rule considers.
type RuleKind string

const (
	RuleAny       RuleKind = "any"
	RuleFile      RuleKind = "file"
	RuleDirectory RuleKind = "directory"
)

// ParseRuleKind accepts "any", "file" and "directory" plus a few aliases; an
// empty value means RuleAny.
func ParseRuleKind(value string) (RuleKind, error) {
	switch value {
	case "", "any", "all", "match":
		return RuleAny, nil
	case "file", "files":
		return RuleFile, nil
	case "directory", "directories", "dir", "dirs":
		return RuleDirectory, nil
	default:
		return "", configErr("rule kind", fmt.Errorf("unknown kind %q", value))
	}
}

// Rule is a registration expressed as data.
type Rule struct {
	Name    string
	Kind    RuleKind
	Matcher Matcher
	Handler Handler
}

type registration struct {
	index     int
	label     string
	predicate Predicate
	found     FoundFunc
	changed   ChangedFunc
	// watchedPaths is appended only from the walk loop, in walk order.
	watchedPaths []string
}

func (r *registration) matches(ctx context.Context, entry Entry) (bool, error) {
	if r.predicate == nil {
		return true, nil
	}
	return r.predicate(ctx, entry)
}

// OnMatch registers handler for every entry accepted by pred. A nil pred
// accepts every entry.
func (w *Walker) OnMatch(pred Predicate, handler Handler) error {
	label := "any"
	if pred != nil {
		label = "func"
	}
	return w.register(label, pred, handler)
}

// OnFile registers handler for regular files accepted by m.
func (w *Walker) OnFile(m Matcher, handler Handler) error {
	return w.registerKind("file "+m.String(), m, handler, Entry.IsFile)
}

// OnDirectory registers handler for directories accepted by m.
func (w *Walker) OnDirectory(m Matcher, handler Handler) error {
	return w.registerKind("directory "+m.String(), m, handler, Entry.IsDir)
}

// Register adds a Rule, dispatching on its Kind.
func (w *Walker) Register(rule Rule) error {
	label := rule.Name
	switch rule.Kind {
	case RuleFile:
		if label == "" {
			label = "file " + rule.Matcher.String()
		}
		return w.registerKind(label, rule.Matcher, rule.Handler, Entry.IsFile)
	case RuleDirectory:
		if label == "" {
			label = "directory " + rule.Matcher.String()
		}
		return w.registerKind(label, rule.Matcher, rule.Handler, Entry.IsDir)
	case RuleAny, "":
		pred, err := rule.Matcher.predicate()
		if err != nil {
			return err
		}
		if label == "" {
			label = rule.Matcher.String()
		}
		return w.register(label, pred, rule.Handler)
	default:
		return configErr("rule "+rule.Name, fmt.Errorf("unknown kind %q", rule.Kind))
	}
}

func (w *Walker) registerKind(label string, m Matcher, handler Handler, kind func(Entry) bool) error {
	pred, err := m.predicate()
	if err != nil {
		return err
	}
	combined := func(ctx context.Context, entry Entry) (bool, error) {
		if !kind(entry) {
			return false, nil
		}
		if pred == nil {
			return true, nil
		}
		return pred(ctx, entry)
	}
	return w.register(label, combined, handler)
}

func (w *Walker) register(label string, pred Predicate, handler Handler) error {
	if err := handler.validate(); err != nil {
		return err
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.stack = append(w.stack, &registration{
		index:     len(w.stack),
		label:     label,
		predicate: pred,
		found:     handler.Found,
		changed:   handler.Changed,
	})
	return nil
}

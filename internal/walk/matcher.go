package walk

import (
	"context"
	"fmt"
	"reflect"

	"github.com/bmatcuk/doublestar/v4"
)

// Predicate decides whether an entry matches. It may block.
type Predicate func(ctx context.Context, entry Entry) (bool, error)

// StringMatcher is satisfied by *regexp.Regexp from the standard library and
// from github.com/grafana/regexp.
type StringMatcher interface {
	MatchString(s string) bool
}

type matcherKind uint8

const (
	matchAny matcherKind = iota
	matchGlob
	matchRegexp
	matchFunc
)

// Matcher is a match criterion. The zero value matches every entry.
type Matcher struct {
	kind matcherKind
	glob string
	re   StringMatcher
	fn   Predicate
}

// Any matches every entry.
func Any() Matcher {
	return Matcher{}
}

// Glob matches Entry.Path against a doublestar pattern ("*.txt", "**/*.go").
func Glob(pattern string) Matcher {
	return Matcher{kind: matchGlob, glob: pattern}
}

// Regexp matches Entry.Path against a regular expression.
func Regexp(re StringMatcher) Matcher {
	return Matcher{kind: matchRegexp, re: re}
}

// Func matches with an arbitrary predicate.
func Func(fn Predicate) Matcher {
	return Matcher{kind: matchFunc, fn: fn}
}

// MatcherFrom resolves a dynamically typed criterion, as decoded from a
// config file: nil matches everything, a string is a glob, a StringMatcher a
// regular expression and a function a predicate. Anything else is a
// configuration error.
func MatcherFrom(value any) (Matcher, error) {
	switch typed := value.(type) {
	case nil:
		return Any(), nil
	case Matcher:
		return typed, typed.validate()
	case string:
		m := Glob(typed)
		return m, m.validate()
	case StringMatcher:
		m := Regexp(typed)
		return m, m.validate()
	case Predicate:
		m := Func(typed)
		return m, m.validate()
	case func(context.Context, Entry) (bool, error):
		m := Func(typed)
		return m, m.validate()
	case func(Entry) bool:
		if typed == nil {
			return Matcher{}, configErr("matcher", fmt.Errorf("%w: nil func", ErrUnsupportedMatcher))
		}
		return Func(func(_ context.Context, entry Entry) (bool, error) {
			return typed(entry), nil
		}), nil
	default:
		return Matcher{}, configErr("matcher", fmt.Errorf("%w: %T", ErrUnsupportedMatcher, value))
	}
}

func (m Matcher) validate() error {
	switch m.kind {
	case matchAny:
		return nil
	case matchGlob:
		if !doublestar.ValidatePattern(m.glob) {
			return configErr("matcher", fmt.Errorf("%w: glob %q", ErrInvalidPattern, m.glob))
		}
	case matchRegexp:
		if isNil(m.re) {
			return configErr("matcher", fmt.Errorf("%w: nil regexp", ErrUnsupportedMatcher))
		}
	case matchFunc:
		if m.fn == nil {
			return configErr("matcher", fmt.Errorf("%w: nil func", ErrUnsupportedMatcher))
		}
	default:
		return configErr("matcher", ErrUnsupportedMatcher)
	}
	return nil
}

// predicate returns the uniform predicate for m, or nil when m matches
// everything.
func (m Matcher) predicate() (Predicate, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	switch m.kind {
	case matchGlob:
		pattern := m.glob
		return func(_ context.Context, entry Entry) (bool, error) {
			return doublestar.MatchUnvalidated(pattern, entry.Path), nil
		}, nil
	case matchRegexp:
		re := m.re
		return func(_ context.Context, entry Entry) (bool, error) {
			return re.MatchString(entry.Path), nil
		}, nil
	case matchFunc:
		return m.fn, nil
	default:
		return nil, nil
	}
}

func (m Matcher) String() string {
	switch m.kind {
	case matchGlob:
		return "glob:" + m.glob
	case matchRegexp:
		if stringer, ok := m.re.(fmt.Stringer); ok && !isNil(m.re) {
			return "regexp:" + stringer.String()
		}
		return "regexp"
	case matchFunc:
		return "func"
	default:
		return "any"
	}
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	kind := reflect.ValueOf(value)
	switch kind.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return kind.IsNil()
	default:
		return false
	}
}

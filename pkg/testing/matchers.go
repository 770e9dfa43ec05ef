package testing

import (
	"fmt"
	"regexp"
	"strings"
)

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

type funcMatcher struct {
	match func(string) bool
	desc  string
}

func (m funcMatcher) Match(s string) bool { return m.match(s) }

func (m funcMatcher) Description() string { return m.desc }

// Contains matches strings containing substr.
func Contains(substr string) StringMatcher {
	return funcMatcher{
		match: func(s string) bool { return strings.Contains(s, substr) },
		desc:  fmt.Sprintf("contains %q", substr),
	}
}

// Equals matches exactly expected.
func Equals(expected string) StringMatcher {
	return funcMatcher{
		match: func(s string) bool { return s == expected },
		desc:  fmt.Sprintf("equals %q", expected),
	}
}

// Regex matches against a regular expression. An invalid pattern never
// matches.
func Regex(pattern string) StringMatcher {
	re, err := regexp.Compile(pattern)
	return funcMatcher{
		match: func(s string) bool { return err == nil && re.MatchString(s) },
		desc:  fmt.Sprintf("matches regex %q", pattern),
	}
}

// HasPrefix matches strings starting with prefix.
func HasPrefix(prefix string) StringMatcher {
	return funcMatcher{
		match: func(s string) bool { return strings.HasPrefix(s, prefix) },
		desc:  fmt.Sprintf("has prefix %q", prefix),
	}
}

// HasSuffix matches strings ending with suffix.
func HasSuffix(suffix string) StringMatcher {
	return funcMatcher{
		match: func(s string) bool { return strings.HasSuffix(s, suffix) },
		desc:  fmt.Sprintf("has suffix %q", suffix),
	}
}

// Not inverts a matcher.
func Not(m StringMatcher) StringMatcher {
	return funcMatcher{
		match: func(s string) bool { return !m.Match(s) },
		desc:  "not " + m.Description(),
	}
}

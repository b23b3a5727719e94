package telemetry

import (
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// FilterConfig declares how sensitive data should be sanitized before it is
// attached to spans or written to logs.
type FilterConfig struct {
	// Mask is the replacement string applied whenever a pattern matches.
	Mask string
	// Patterns augments the default expressions.
	Patterns []string
}

// Filter masks strings that should never reach telemetry backends.
type Filter struct {
	mask     string
	patterns []*regexp.Regexp
}

// PINs are four digits; longer runs may be account or phone numbers.
var defaultPatterns = []string{
	`\d{4,}`,
	`(?i)(token|secret|bearer)[\s:=]+[a-z0-9\-_.]{8,}`,
}

var defaultFilter, _ = NewFilter(FilterConfig{})

// NewFilter compiles the configured mask and regex patterns.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	mask := strings.TrimSpace(cfg.Mask)
	if mask == "" {
		mask = "****"
	}
	patterns := make([]string, 0, len(defaultPatterns)+len(cfg.Patterns))
	patterns = append(patterns, defaultPatterns...)
	patterns = append(patterns, cfg.Patterns...)

	seen := map[string]struct{}{}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("telemetry: compile filter %q: %w", raw, err)
		}
		compiled = append(compiled, re)
		seen[raw] = struct{}{}
	}
	return &Filter{mask: mask, patterns: compiled}, nil
}

// MaskText replaces all matching segments in value.
func (f *Filter) MaskText(value string) string {
	if f == nil || value == "" {
		return value
	}
	for _, re := range f.patterns {
		value = re.ReplaceAllString(value, f.mask)
	}
	return value
}

// MaskAttributes returns a copy of attrs with string values masked.
func (f *Filter) MaskAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	if f == nil || len(attrs) == 0 {
		return attrs
	}
	clean := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		// Session ids carry clock digits and are not sensitive.
		if attr.Key == AttrSessionID || attr.Value.Type() != attribute.STRING {
			clean[i] = attr
			continue
		}
		clean[i] = attribute.String(string(attr.Key), f.MaskText(attr.Value.AsString()))
	}
	return clean
}

// MaskText masks value with the default filter.
func MaskText(value string) string {
	return defaultFilter.MaskText(value)
}

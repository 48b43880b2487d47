package normalization

import (
	"fmt"
	"sort"
	"strings"
)

// Enum maps loosely formatted strings (any case, surrounding space) onto a
// closed set of values.
type Enum[T comparable] struct {
	name   string
	values map[string]T
	keys   []string
}

// NewEnum registers the accepted spellings for an enum.
func NewEnum[T comparable](name string, values map[string]T) *Enum[T] {
	e := &Enum[T]{name: name, values: make(map[string]T, len(values))}
	for k, v := range values {
		key := clean(k)
		e.values[key] = v
		e.keys = append(e.keys, key)
	}
	sort.Strings(e.keys)
	return e
}

// Parse resolves raw to a value or reports the valid options.
func (e *Enum[T]) Parse(raw string) (T, error) {
	if v, ok := e.values[clean(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q, valid options: %s", e.name, raw, strings.Join(e.keys, ", "))
}

// ParseOr resolves raw, returning def for unknown input.
func (e *Enum[T]) ParseOr(raw string, def T) T {
	if v, err := e.Parse(raw); err == nil {
		return v
	}
	return def
}

// Keys returns the sorted accepted spellings.
func (e *Enum[T]) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

func clean(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Package wizard wraps the structured business description collected by the
// intake wizard and gives the engines typed, nil-safe access to it.
package wizard

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Data is the raw wizard document as decoded from JSON.
type Data map[string]any

// Parse decodes a wizard JSON document.
func Parse(raw []byte) (Data, error) {
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode wizard data: %w", err)
	}
	if d == nil {
		d = Data{}
	}
	return d, nil
}

// Lookup resolves a dotted path such as "contactInfo.address.city".
// Numeric segments index into arrays.
func (d Data) Lookup(path string) (any, bool) {
	if d == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(d)
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case Data:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether path resolves to a truthy value.
func (d Data) Has(path string) bool {
	v, ok := d.Lookup(path)
	return ok && Truthy(v)
}

// String returns the trimmed string at path, or "".
func (d Data) String(path string) string {
	v, ok := d.Lookup(path)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64, bool, int:
		return fmt.Sprint(s)
	}
	return ""
}

// Map returns the object at path, or nil.
func (d Data) Map(path string) map[string]any {
	v, _ := d.Lookup(path)
	switch m := v.(type) {
	case map[string]any:
		return m
	case Data:
		return m
	}
	return nil
}

// Strings returns the string list at path. Object items contribute their
// "id" or "name" field; a scalar string yields a single element.
func (d Data) Strings(path string) []string {
	v, ok := d.Lookup(path)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case string:
		if s := strings.TrimSpace(list); s != "" {
			return []string{s}
		}
		return nil
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := itemLabel(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func itemLabel(item any) string {
	switch it := item.(type) {
	case string:
		return strings.TrimSpace(it)
	case map[string]any:
		for _, k := range []string{"id", "name", "title"} {
			if s, ok := it[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// Truthy mirrors the intake form's notion of "answered": empty strings,
// zero numbers, false, empty lists and empty objects are not.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case Data:
		return len(t) > 0
	}
	return true
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

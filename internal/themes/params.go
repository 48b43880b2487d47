package themes

import (
	"strings"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// MapParameters applies the theme's parameter mapping to wizard data and
// returns a nested document keyed by the mapping targets. Sources that are
// absent or empty are skipped.
func (d *Definition) MapParameters(data wizard.Data) (map[string]any, error) {
	out := map[string]any{}
	for _, m := range d.ParameterMapping {
		v, ok := data.Lookup(m.Source)
		if !ok || !wizard.Truthy(v) {
			continue
		}
		if m.Kind == MappingTransform {
			tv, err := ApplyTransform(m.Ref, v)
			if err != nil {
				return nil, derrors.WrapError(err, derrors.CategoryValidation, "parameter transform failed").
					WithContext("theme_id", d.ID).
					WithContext("source", m.Source).
					WithContext("transform", m.Ref).Build()
			}
			v = tv
		}
		SetPath(out, m.Target, v)
	}
	return out, nil
}

// SetPath stores v under a dotted key, creating intermediate objects.
func SetPath(doc map[string]any, path string, v any) {
	segs := strings.Split(path, ".")
	cur := doc
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

// Merge deep-merges src into dst; src wins on conflicts.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		sm, sok := v.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if sok && dok {
			dst[k] = Merge(dm, sm)
			continue
		}
		dst[k] = v
	}
	return dst
}

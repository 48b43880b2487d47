package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/themes"
)

// RenderSiteConfig maps wizard data into a Hugo configuration document:
// base settings, then the theme's own params, then its parameter mapping,
// then colors and user customizations.
func (b *Builder) RenderSiteConfig(bs *BuildState) (map[string]any, error) {
	in := bs.Input
	def := bs.Theme

	title := in.Data.BusinessName()
	if title == "" {
		title = "My New Site"
	}
	cfg := map[string]any{
		"baseURL":                    b.baseURL,
		"languageCode":               "en-us",
		"title":                      title,
		"theme":                      def.ID,
		"disableKinds":               []string{"taxonomy", "term"},
		"summaryLength":              30,
		"params":                     themes.Merge(map[string]any{}, deepCopy(def.HugoParams)),
		"markup":                     map[string]any{"goldmark": map[string]any{"renderer": map[string]any{"unsafe": true}}},
		"menu":                       map[string]any{"main": menuEntries(in)},
		"enableEmoji":                true,
		"disableHugoGeneratorInject": true,
	}

	mapped, err := def.MapParameters(in.Data)
	if err != nil {
		return nil, err
	}
	themes.Merge(cfg, mapped)

	colors := b.engine.ResolveColorScheme(in.Data, def.ID)
	themes.SetPath(cfg, "params.colors", map[string]any{
		"primary":    colors.Primary,
		"secondary":  colors.Secondary,
		"accent":     colors.Accent,
		"background": colors.Background,
		"text":       colors.Text,
		"source":     string(colors.Source),
	})
	params := cfg["params"].(map[string]any)
	if _, ok := params["description"]; !ok {
		if desc := siteDescription(in); desc != "" {
			params["description"] = desc
		}
	}
	if len(in.SEO) > 0 {
		themes.SetPath(cfg, "params.seo", deepCopy(in.SEO))
	}
	if len(in.Customizations) > 0 {
		themes.Merge(params, deepCopy(in.Customizations))
	}
	return cfg, nil
}

func (b *Builder) stageConfigRender(_ context.Context, bs *BuildState) error {
	cfg, err := b.RenderSiteConfig(bs)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryInternal, "failed to encode site config").Build()
	}
	for _, name := range manifestNames {
		_ = os.Remove(filepath.Join(bs.SiteDir, name))
	}
	if err := os.WriteFile(filepath.Join(bs.SiteDir, "hugo.yaml"), data, 0o600); err != nil {
		return derrors.WrapError(err, derrors.CategoryFileSystem, "failed to write site config").Build()
	}
	bs.Logf("rendered hugo.yaml for theme %s", bs.Theme.ID)
	return nil
}

func menuEntries(in Input) []map[string]any {
	entries := []map[string]any{}
	for i, p := range in.Plan.StaticPages {
		if p.Path == "/" {
			continue
		}
		entries = append(entries, map[string]any{
			"identifier": p.Key,
			"name":       p.Title,
			"url":        p.Path,
			"weight":     (i + 1) * 10,
		})
	}
	return entries
}

func siteDescription(in Input) string {
	if home, ok := in.Content.ForPage("home"); ok && home.MetaDescription != "" {
		return home.MetaDescription
	}
	if d, ok := in.SEO["description"].(string); ok {
		return d
	}
	return ""
}

// deepCopy clones nested maps and slices so theme definitions stay read-only.
func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = copyValue(e)
		}
		return cp
	default:
		return v
	}
}

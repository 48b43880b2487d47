package themes

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
)

//go:embed registry.yaml
var embeddedRegistry []byte

// MappingKind tags a parameter mapping entry.
type MappingKind string

const (
	MappingField     MappingKind = "field"
	MappingTransform MappingKind = "transform"
)

// ParameterMapping copies one wizard value into the site configuration,
// either verbatim (field) or through a named transform.
type ParameterMapping struct {
	Source string      `yaml:"source" validate:"required"`
	Target string      `yaml:"target" validate:"required"`
	Kind   MappingKind `yaml:"kind" validate:"required,oneof=field transform"`
	Ref    string      `yaml:"ref" validate:"required_if=Kind transform"`
}

// InstallSource says where a theme's files come from. Local is relative to
// the configured themes directory. Archive overrides the tarball URL derived
// from Repo and Branch.
type InstallSource struct {
	Local   string `yaml:"local,omitempty"`
	Repo    string `yaml:"repo,omitempty" validate:"omitempty,url"`
	Branch  string `yaml:"branch,omitempty"`
	Archive string `yaml:"archive,omitempty" validate:"omitempty,url"`
}

// ArchiveURL returns the tar.gz snapshot URL for the theme, or "".
// GitHub and Gitea/Forgejo layouts are derived from Repo.
func (s InstallSource) ArchiveURL() string {
	if s.Archive != "" {
		return s.Archive
	}
	if s.Repo == "" {
		return ""
	}
	branch := s.Branch
	if branch == "" {
		branch = "main"
	}
	repo := strings.TrimSuffix(strings.TrimRight(s.Repo, "/"), ".git")
	if strings.HasPrefix(repo, "https://github.com/") {
		return repo + "/archive/refs/heads/" + branch + ".tar.gz"
	}
	return repo + "/archive/" + branch + ".tar.gz"
}

// ColorScheme is a named set of site colors.
type ColorScheme struct {
	Primary    string `yaml:"primary" json:"primary" validate:"required,hexcolor"`
	Secondary  string `yaml:"secondary" json:"secondary" validate:"required,hexcolor"`
	Accent     string `yaml:"accent" json:"accent" validate:"required,hexcolor"`
	Background string `yaml:"background" json:"background" validate:"required,hexcolor"`
	Text       string `yaml:"text" json:"text" validate:"required,hexcolor"`
}

// Definition is one registered theme. Definitions are read-only once loaded.
type Definition struct {
	ID               string             `yaml:"id" validate:"required,lowercase"`
	Name             string             `yaml:"name" validate:"required"`
	Categories       []string           `yaml:"categories" validate:"min=1"`
	WebsiteTypes     []string           `yaml:"website_types"`
	Goals            []string           `yaml:"goals"`
	Suitability      map[string]int     `yaml:"suitability" validate:"dive,min=0,max=100"`
	Features         []string           `yaml:"features"`
	Required         []string           `yaml:"required"`
	Pitch            map[string]string  `yaml:"pitch,omitempty"`
	Layouts          map[string]string  `yaml:"layouts"`
	Palette          *ColorScheme       `yaml:"palette,omitempty" validate:"omitempty"`
	Install          InstallSource      `yaml:"install"`
	HugoParams       map[string]any     `yaml:"hugo_params,omitempty"`
	ParameterMapping []ParameterMapping `yaml:"parameter_mapping" validate:"dive"`
}

// HasCategory reports whether the theme lists category.
func (d *Definition) HasCategory(category string) bool { return contains(d.Categories, category) }

// HasFeature reports whether the theme supports feature.
func (d *Definition) HasFeature(feature string) bool { return contains(d.Features, feature) }

// Layout returns the layout for a page type, or "" to use the theme default.
func (d *Definition) Layout(pageType string) string { return d.Layouts[pageType] }

// Recommendation is optional wizard data whose absence produces a warning.
type Recommendation struct {
	Path    string `yaml:"path" validate:"required"`
	Message string `yaml:"message"`
}

type registryFile struct {
	Version           string            `yaml:"version" validate:"required"`
	DefaultTheme      string            `yaml:"default_theme" validate:"required"`
	Domains           []string          `yaml:"domains" validate:"min=1"`
	Recommended       []Recommendation  `yaml:"recommended" validate:"dive"`
	CategoryFallbacks map[string]string `yaml:"category_fallbacks"`
	Palettes          palettes          `yaml:"palettes"`
	Themes            []*Definition     `yaml:"themes" validate:"min=1,dive"`
}

type palettes struct {
	Default  ColorScheme            `yaml:"default"`
	Industry map[string]ColorScheme `yaml:"industry" validate:"dive"`
}

// Registry is the versioned, read-only set of theme definitions. Iteration
// order is the file's insertion order.
type Registry struct {
	version           string
	defaultTheme      string
	domains           []string
	recommended       []Recommendation
	categoryFallbacks map[string]string
	palettes          palettes
	themes            []*Definition
	byID              map[string]*Definition
}

// LoadDefaultRegistry parses the registry embedded in the binary.
func LoadDefaultRegistry() (*Registry, error) {
	return ParseRegistry(embeddedRegistry)
}

// LoadRegistryFile parses an external registry. A missing file is an error.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "read theme registry").
			WithContext("path", path).Fatal().Build()
	}
	return ParseRegistry(data)
}

// LoadRegistry returns the file registry when path is set, otherwise the embedded one.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return LoadDefaultRegistry()
	}
	return LoadRegistryFile(path)
}

// ParseRegistry decodes and validates registry YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "decode theme registry").Build()
	}
	if err := validator.New().Struct(&f); err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "invalid theme registry").Build()
	}

	r := &Registry{
		version:           f.Version,
		defaultTheme:      f.DefaultTheme,
		domains:           f.Domains,
		recommended:       f.Recommended,
		categoryFallbacks: f.CategoryFallbacks,
		palettes:          f.Palettes,
		themes:            f.Themes,
		byID:              make(map[string]*Definition, len(f.Themes)),
	}
	for _, t := range f.Themes {
		if _, dup := r.byID[t.ID]; dup {
			return nil, derrors.ConfigError("duplicate theme id").WithContext("theme_id", t.ID).Build()
		}
		if t.Install.Local == "" && t.Install.Repo == "" {
			return nil, derrors.ConfigError("theme has no install source").WithContext("theme_id", t.ID).Build()
		}
		for domain := range t.Suitability {
			if !contains(r.domains, domain) {
				return nil, derrors.ConfigError(fmt.Sprintf("unknown suitability domain %q", domain)).
					WithContext("theme_id", t.ID).Build()
			}
		}
		for _, m := range t.ParameterMapping {
			if m.Kind == MappingTransform && !HasTransform(m.Ref) {
				return nil, derrors.ConfigError(fmt.Sprintf("unknown transform %q", m.Ref)).
					WithContext("theme_id", t.ID).Build()
			}
		}
		r.byID[t.ID] = t
	}
	if _, ok := r.byID[r.defaultTheme]; !ok {
		return nil, derrors.ConfigError("default theme is not registered").WithContext("theme_id", r.defaultTheme).Build()
	}
	for category, id := range r.categoryFallbacks {
		if _, ok := r.byID[id]; !ok {
			return nil, derrors.ConfigError("category fallback references unknown theme").
				WithContext("category", category).WithContext("theme_id", id).Build()
		}
	}
	return r, nil
}

// WithDefault returns a copy of the registry using id as the global default theme.
func (r *Registry) WithDefault(id string) (*Registry, error) {
	if id == "" || id == r.defaultTheme {
		return r, nil
	}
	if _, ok := r.byID[id]; !ok {
		return nil, derrors.ConfigError("default theme is not registered").WithContext("theme_id", id).Build()
	}
	cp := *r
	cp.defaultTheme = id
	return &cp, nil
}

// Version identifies the registry revision.
func (r *Registry) Version() string { return r.version }

// DefaultTheme is the global fallback theme id.
func (r *Registry) DefaultTheme() string { return r.defaultTheme }

// Domains returns the fixed suitability domain set.
func (r *Registry) Domains() []string { return append([]string(nil), r.domains...) }

// Themes returns definitions in insertion order.
func (r *Registry) Themes() []*Definition { return append([]*Definition(nil), r.themes...) }

// Get looks a theme up by id.
func (r *Registry) Get(id string) (*Definition, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// CategoryFallback returns the fixed fallback theme for a category, if any.
func (r *Registry) CategoryFallback(category string) (string, bool) {
	id, ok := r.categoryFallbacks[category]
	return id, ok
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

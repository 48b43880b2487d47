// Package pagestructure resolves which pages, service pages and blog posts a
// generated site contains.
package pagestructure

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
)

//go:embed templates.yaml
var embeddedTemplates []byte

// Page types. Each carries a size weight in the plan estimate.
const (
	PageTypeHome    = "home"
	PageTypePage    = "page"
	PageTypeService = "service"
	PageTypePost    = "post"
)

// PageSpec is one static page declared by a template.
type PageSpec struct {
	Key       string   `yaml:"key" json:"key" validate:"required"`
	Path      string   `yaml:"path" json:"path" validate:"required,startswith=/"`
	Title     string   `yaml:"title" json:"title" validate:"required"`
	Type      string   `yaml:"type" json:"type" validate:"oneof=home page"`
	Required  bool     `yaml:"required" json:"required"`
	DependsOn string   `yaml:"depends_on,omitempty" json:"dependsOn,omitempty"`
	Sections  []string `yaml:"sections" json:"sections"`
}

// BlogSpec enables sample posts.
type BlogSpec struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
	Count   int    `yaml:"count" validate:"min=0"`
}

// Template is the static page layout for one (category, theme, structure) triple.
type Template struct {
	Category    string     `yaml:"category" validate:"required"`
	Theme       string     `yaml:"theme" validate:"required"`
	Structure   string     `yaml:"structure" validate:"required,oneof=multi-page single-page"`
	Default     bool       `yaml:"default"`
	ServicePath string     `yaml:"service_path"`
	Blog        BlogSpec   `yaml:"blog"`
	Pages       []PageSpec `yaml:"pages" validate:"min=1,dive"`
}

// Key identifies the template.
func (t *Template) Key() string { return tableKey(t.Category, t.Theme, t.Structure) }

type templateFile struct {
	Version       string              `yaml:"version" validate:"required"`
	BlogPostCount int                 `yaml:"blog_post_count" validate:"min=1"`
	TitleBanks    map[string][]string `yaml:"title_banks" validate:"required"`
	Templates     []*Template         `yaml:"templates" validate:"min=1,dive"`
}

// Table is the read-only template table.
type Table struct {
	version       string
	blogPostCount int
	titleBanks    map[string][]string
	templates     []*Template
	byKey         map[string]*Template
}

func tableKey(category, theme, structure string) string {
	return category + "|" + theme + "|" + structure
}

// LoadDefaultTable parses the table embedded in the binary.
func LoadDefaultTable() (*Table, error) { return ParseTable(embeddedTemplates) }

// LoadTable returns the file table when path is set, otherwise the embedded
// one. A configured path that cannot be read is an error.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return LoadDefaultTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "read page templates").
			WithContext("path", path).Fatal().Build()
	}
	return ParseTable(data)
}

// ParseTable decodes and validates template YAML.
func ParseTable(data []byte) (*Table, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "decode page templates").Build()
	}
	if err := validator.New().Struct(&f); err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "invalid page templates").Build()
	}
	if len(f.TitleBanks[genericBank]) == 0 {
		return nil, derrors.ConfigError("page templates need a generic title bank").Build()
	}
	t := &Table{
		version:       f.Version,
		blogPostCount: f.BlogPostCount,
		titleBanks:    f.TitleBanks,
		templates:     f.Templates,
		byKey:         make(map[string]*Template, len(f.Templates)),
	}
	for _, tpl := range f.Templates {
		if _, dup := t.byKey[tpl.Key()]; dup {
			return nil, derrors.ConfigError(fmt.Sprintf("duplicate page template %s", tpl.Key())).Build()
		}
		if !hasRequiredPage(tpl) {
			return nil, derrors.ConfigError(fmt.Sprintf("page template %s has no required page", tpl.Key())).Build()
		}
		t.byKey[tpl.Key()] = tpl
	}
	return t, nil
}

func hasRequiredPage(t *Template) bool {
	for _, p := range t.Pages {
		if p.Required {
			return true
		}
	}
	return false
}

// Version identifies the table revision.
func (t *Table) Version() string { return t.version }

// Templates returns all templates in file order.
func (t *Table) Templates() []*Template { return append([]*Template(nil), t.templates...) }

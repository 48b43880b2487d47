package pagestructure

import (
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/foundation/normalization"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

const genericBank = "generic"

// Size weights in kilobytes per page type, plus a fixed theme/asset base.
const (
	weightHomeKB    = 60
	weightPageKB    = 25
	weightServiceKB = 20
	weightPostKB    = 15
	baseAssetsKB    = 150

	smallSiteKB  = 400
	mediumSiteKB = 900
)

// Page is a materialized static page.
type Page struct {
	Key      string   `json:"key"`
	Path     string   `json:"path"`
	Title    string   `json:"title"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Sections []string `json:"sections"`
}

// ServicePage is one page per wizard-selected service.
type ServicePage struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// BlogPost is a sample post stub.
type BlogPost struct {
	Title string    `json:"title"`
	Slug  string    `json:"slug"`
	Path  string    `json:"path"`
	Year  int       `json:"year"`
	Date  time.Time `json:"date"`
}

// Expansion is a template expanded against wizard data, before filtering.
type Expansion struct {
	StaticPages  []Page        `json:"staticPages"`
	ServicePages []ServicePage `json:"servicePages"`
	BlogPosts    []BlogPost    `json:"blogPosts"`
}

// Totals counts plan entries.
type Totals struct {
	Static   int `json:"static"`
	Services int `json:"services"`
	Posts    int `json:"posts"`
	All      int `json:"all"`
}

// Plan is the final list of pages to materialize.
type Plan struct {
	TemplateKey     string        `json:"templateKey"`
	Structure       string        `json:"structure"`
	StaticPages     []Page        `json:"staticPages"`
	ServicePages    []ServicePage `json:"servicePages"`
	BlogPosts       []BlogPost    `json:"blogPosts"`
	Totals          Totals        `json:"totals"`
	EstimatedSizeKB int           `json:"estimatedSizeKb"`
	SizeEstimate    string        `json:"sizeEstimate"`
}

// Resolver answers template lookups and builds plans. It is pure apart from
// the injected clock used to date sample posts.
type Resolver struct {
	table *Table
	now   func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the clock used for blog post dates.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// NewResolver binds a resolver to a template table.
func NewResolver(t *Table, opts ...Option) *Resolver {
	r := &Resolver{table: t, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve looks up the template for an exact (category, theme, structure)
// triple. No match is not an error; callers decide what to do.
func (r *Resolver) Resolve(category, themeID, structure string) (*Template, bool) {
	t, ok := r.table.byKey[tableKey(category, themeID, structure)]
	return t, ok
}

// ResolveOrDefault tries the exact triple, then the theme's general
// template, then the table default for the structure type. exact reports
// whether the first lookup matched.
func (r *Resolver) ResolveOrDefault(category, themeID, structure string) (tpl *Template, exact bool) {
	if t, ok := r.Resolve(category, themeID, structure); ok {
		return t, true
	}
	if t, ok := r.Resolve("general", themeID, structure); ok {
		return t, false
	}
	for _, t := range r.table.templates {
		if t.Default && t.Structure == structure {
			return t, false
		}
	}
	for _, t := range r.table.templates {
		if t.Default {
			return t, false
		}
	}
	return r.table.templates[0], false
}

// Expand copies the template's static pages, adds a page per selected
// service and generates sample blog posts when the template enables them.
// Service slugs are not de-duplicated.
func (r *Resolver) Expand(t *Template, data wizard.Data) Expansion {
	exp := Expansion{
		StaticPages:  make([]Page, 0, len(t.Pages)),
		ServicePages: []ServicePage{},
		BlogPosts:    []BlogPost{},
	}
	for _, p := range t.Pages {
		exp.StaticPages = append(exp.StaticPages, Page{
			Key:      p.Key,
			Path:     p.Path,
			Title:    p.Title,
			Type:     p.Type,
			Required: p.Required,
			Sections: append([]string(nil), p.Sections...),
		})
	}
	if t.ServicePath != "" {
		for _, svc := range data.Services() {
			slug := normalization.Slugify(svc.Name)
			if slug == "" {
				continue
			}
			exp.ServicePages = append(exp.ServicePages, ServicePage{
				Name:        svc.Name,
				Slug:        slug,
				Path:        strings.ReplaceAll(t.ServicePath, "{slug}", slug),
				Description: svc.Description,
			})
		}
	}
	if t.Blog.Enabled {
		exp.BlogPosts = r.blogPosts(t, data.BusinessCategory())
	}
	return exp
}

func (r *Resolver) blogPosts(t *Template, category string) []BlogPost {
	count := t.Blog.Count
	if count <= 0 {
		count = r.table.blogPostCount
	}
	bank := r.table.titleBanks[category]
	if len(bank) == 0 {
		bank = r.table.titleBanks[genericBank]
	}

	now := r.now().UTC()
	currentHalf := (count + 1) / 2
	posts := make([]BlogPost, 0, count)
	for i := 0; i < count; i++ {
		title := bank[i%len(bank)]
		if i >= len(bank) {
			title = fmt.Sprintf("%s (Part %d)", title, i/len(bank)+1)
		}
		var date time.Time
		if i < currentHalf {
			month := max(int(now.Month())-i, 1)
			date = time.Date(now.Year(), time.Month(month), 1, 9, 0, 0, 0, time.UTC)
		} else {
			j := i - currentHalf
			month := max(12-2*j, 1)
			date = time.Date(now.Year()-1, time.Month(month), 15, 9, 0, 0, 0, time.UTC)
		}
		slug := normalization.Slugify(title)
		posts = append(posts, BlogPost{
			Title: title,
			Slug:  slug,
			Path:  strings.ReplaceAll(t.Blog.Path, "{slug}", slug),
			Year:  date.Year(),
			Date:  date,
		})
	}
	return posts
}

// Plan expands the template and drops optional pages whose dependency path is
// empty in the wizard data. Required pages are always kept.
func (r *Resolver) Plan(t *Template, data wizard.Data) Plan {
	exp := r.Expand(t, data)

	deps := make(map[string]string, len(t.Pages))
	for _, p := range t.Pages {
		deps[p.Key] = p.DependsOn
	}
	static := make([]Page, 0, len(exp.StaticPages))
	for _, p := range exp.StaticPages {
		if !p.Required {
			if dep := deps[p.Key]; dep != "" && !data.Has(dep) {
				continue
			}
		}
		static = append(static, p)
	}

	plan := Plan{
		TemplateKey:  t.Key(),
		Structure:    t.Structure,
		StaticPages:  static,
		ServicePages: exp.ServicePages,
		BlogPosts:    exp.BlogPosts,
	}
	plan.Totals = Totals{
		Static:   len(static),
		Services: len(exp.ServicePages),
		Posts:    len(exp.BlogPosts),
	}
	plan.Totals.All = plan.Totals.Static + plan.Totals.Services + plan.Totals.Posts
	plan.EstimatedSizeKB, plan.SizeEstimate = estimateSize(plan)
	return plan
}

func estimateSize(p Plan) (int, string) {
	kb := baseAssetsKB
	for _, pg := range p.StaticPages {
		if pg.Type == PageTypeHome {
			kb += weightHomeKB
		} else {
			kb += weightPageKB
		}
	}
	kb += weightServiceKB * len(p.ServicePages)
	kb += weightPostKB * len(p.BlogPosts)
	switch {
	case kb < smallSiteKB:
		return kb, "small"
	case kb < mediumSiteKB:
		return kb, "medium"
	default:
		return kb, "large"
	}
}

package services

import (
	"context"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/sitebuilder/internal/foundation/normalization"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// ContentGenerator produces marketing copy for a project. *Client talks to the
// remote service; LocalContentGenerator works offline.
type ContentGenerator interface {
	RequestContentGeneration(ctx context.Context, req ContentRequest, progress func(ContentProgress)) (*ContentResult, error)
}

var (
	_ ContentGenerator = (*Client)(nil)
	_ ContentGenerator = LocalContentGenerator{}
)

// LocalContentGenerator derives plain copy straight from wizard data. It is
// used when no content service is configured and by the CLI.
type LocalContentGenerator struct{}

// RequestContentGeneration never fails unless ctx is done.
func (LocalContentGenerator) RequestContentGeneration(ctx context.Context, req ContentRequest, progress func(ContentProgress)) (*ContentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(ContentProgress{Status: ContentGenerating, Progress: 50, CurrentStep: "Drafting copy from project data"})
	}
	content := DraftContent(req.WizardData)
	if progress != nil {
		progress(ContentProgress{Status: ContentCompleted, Progress: 100, CurrentStep: "Copy ready"})
	}
	return &ContentResult{Content: content, Status: ContentCompleted}, nil
}

// DraftContent builds baseline copy for the standard pages and every selected
// service.
func DraftContent(data wizard.Data) *GeneratedContent {
	name := data.BusinessName()
	if name == "" {
		name = "Our Business"
	}
	description := data.String(wizard.PathBusinessDescription)
	tagline := data.String(wizard.PathTagline)
	city := data.String(wizard.PathCity)

	intro := description
	if intro == "" {
		intro = fmt.Sprintf("Welcome to %s.", name)
	}

	var home strings.Builder
	if tagline != "" {
		fmt.Fprintf(&home, "## %s\n\n", tagline)
	}
	home.WriteString(intro)
	home.WriteString("\n")
	services := data.Services()
	if len(services) > 0 {
		home.WriteString("\n## What we offer\n\n")
		for _, s := range services {
			fmt.Fprintf(&home, "- %s\n", s.Name)
		}
	}

	about := fmt.Sprintf("%s is a %s business", name, normalization.Humanize(orDefault(data.BusinessCategory(), "local")))
	if city != "" {
		about += " based in " + city
	}
	about += ".\n"
	if description != "" {
		about += "\n" + description + "\n"
	}

	var contact strings.Builder
	contact.WriteString("Get in touch with us.\n\n")
	for _, f := range []struct{ label, path string }{
		{"Phone", wizard.PathPhone},
		{"Email", wizard.PathEmail},
		{"Emergency", wizard.PathEmergencyPhone},
	} {
		if v := data.String(f.path); v != "" {
			fmt.Fprintf(&contact, "- **%s:** %s\n", f.label, v)
		}
	}

	out := &GeneratedContent{
		Homepage: &PageContent{
			Title:           name,
			Content:         home.String(),
			MetaDescription: summary(intro),
			SEOTitle:        name,
		},
		About:   &PageContent{Title: "About " + name, Content: about, MetaDescription: summary(about)},
		Contact: &PageContent{Title: "Contact", Content: contact.String(), MetaDescription: "Contact " + name},
	}
	for _, s := range services {
		body := s.Description
		if body == "" {
			body = fmt.Sprintf("%s provides %s.", name, strings.ToLower(s.Name))
		}
		if s.Price != "" {
			body += "\n\n**Price:** " + s.Price
		}
		if s.Duration != "" {
			body += "\n\n**Duration:** " + s.Duration
		}
		out.Services = append(out.Services, PageContent{
			Title:           s.Name,
			Slug:            normalization.Slugify(s.Name),
			Content:         body + "\n",
			MetaDescription: summary(body),
		})
	}
	return out
}

func summary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const limit = 155
	if len(s) <= limit {
		return s
	}
	cut := strings.LastIndex(s[:limit], " ")
	if cut <= 0 {
		cut = limit
	}
	return s[:cut] + "..."
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inful/mdfp"
	"gopkg.in/yaml.v3"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/foundation/normalization"
	"git.home.luguber.info/inful/sitebuilder/internal/markdown"
	"git.home.luguber.info/inful/sitebuilder/internal/services"
)

const (
	markdownContentType = "text/markdown"
	descriptionLimit    = 155
)

// Front matter keys excluded from the content fingerprint.
var fingerprintExcluded = map[string]bool{mdfp.FingerprintField: true, "uid": true, "lastmod": true, "date": true}

// contentFile is one planned Markdown file.
type contentFile struct {
	rel    string
	fields map[string]any
	body   string
}

func (b *Builder) stageContentRender(ctx context.Context, bs *BuildState) error {
	files := b.planContent(bs)
	contentDir := filepath.Join(bs.SiteDir, "content")

	written := map[string]bool{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if written[f.rel] {
			bs.Logf("skipped duplicate content path %s", f.rel)
			continue
		}
		written[f.rel] = true
		bs.Content = append(bs.Content, writeContentFile(bs, contentDir, f))
	}

	missing := 0
	for i := range bs.Content {
		rec := &bs.Content[i]
		if _, err := os.Stat(filepath.Join(contentDir, filepath.FromSlash(rec.Path))); err != nil {
			rec.Success = false
			if rec.Error == "" {
				rec.Error = "file missing after write"
			}
			bs.Errorf("content file %s is missing: %s", rec.Path, rec.Error)
			missing++
		}
	}
	checkInternalLinks(bs, files)

	if missing == len(bs.Content) {
		return derrors.FileSystemError("no content files were written").Build()
	}
	bs.Logf("rendered %d content files (%d missing)", len(bs.Content)-missing, missing)
	return nil
}

// planContent turns the page plan into files, adding section indexes for
// directories that have children but no page of their own.
func (b *Builder) planContent(bs *BuildState) []contentFile {
	in := bs.Input
	plan := in.Plan
	draft := services.DraftContent(in.Data)
	now := b.now().UTC()

	parents := map[string]bool{}
	for _, p := range plan.ServicePages {
		parents[parentDir(p.Path)] = true
	}
	for _, p := range plan.BlogPosts {
		parents[parentDir(p.Path)] = true
	}

	var files []contentFile
	hasIndex := map[string]bool{}
	for i, p := range plan.StaticPages {
		pc, ok := in.Content.ForPage(p.Key)
		if !ok {
			pc, _ = draft.ForPage(p.Key)
		}
		fields := map[string]any{
			"title":    firstNonEmpty(pc.Title, p.Title),
			"date":     now.Format(time.RFC3339),
			"weight":   (i + 1) * 10,
			"sections": p.Sections,
			"key":      p.Key,
		}
		if p.Path == "/" {
			fields["title"] = firstNonEmpty(in.Data.BusinessName(), pc.Title, p.Title)
		}
		rel := contentPath(p.Path, parents)
		if strings.HasSuffix(rel, "_index.md") {
			hasIndex[path.Dir(rel)] = true
		}
		files = append(files, newContentFile(bs, rel, p.Type, fields, pc, p.Title))
	}

	for _, p := range plan.ServicePages {
		pc, ok := in.Content.ForService(p.Slug, p.Name)
		if !ok {
			pc, _ = draft.ForService(p.Slug, p.Name)
		}
		if pc.Content == "" && p.Description != "" {
			pc.Content = p.Description
		}
		fields := map[string]any{
			"title": firstNonEmpty(pc.Title, p.Name),
			"date":  now.Format(time.RFC3339),
		}
		files = append(files, newContentFile(bs, contentPath(p.Path, parents), "service", fields, pc, p.Name))
	}

	for i, p := range plan.BlogPosts {
		pc, _ := in.Content.ForPost(i, p.Slug)
		fields := map[string]any{
			"title": firstNonEmpty(pc.Title, p.Title),
			"date":  p.Date.UTC().Format(time.RFC3339),
		}
		if pc.Content == "" {
			pc.Content = fmt.Sprintf("%s shares news and updates here. This post is a placeholder for %q.\n",
				firstNonEmpty(in.Data.BusinessName(), "We"), p.Title)
		}
		files = append(files, newContentFile(bs, contentPath(p.Path, parents), "post", fields, pc, p.Title))
	}

	dirs := make([]string, 0, len(parents))
	for d := range parents {
		if d != "" && !hasIndex[d] {
			dirs = append(dirs, d)
		}
	}
	sort.Strings(dirs)
	for _, d := range dirs {
		title := normalization.Humanize(path.Base(d))
		files = append(files, contentFile{
			rel:    path.Join(d, "_index.md"),
			fields: map[string]any{"title": title, "date": now.Format(time.RFC3339)},
		})
	}
	return files
}

func newContentFile(bs *BuildState, rel, pageType string, fields map[string]any, pc services.PageContent, fallbackTitle string) contentFile {
	body := strings.TrimSpace(pc.Content)
	if body == "" {
		body = fallbackTitle
	}
	desc := pc.MetaDescription
	if desc == "" {
		desc = markdown.Summary([]byte(body), descriptionLimit)
	}
	fields["description"] = desc
	fields["draft"] = false
	if len(pc.Keywords) > 0 {
		fields["keywords"] = pc.Keywords
	}
	if pc.SEOTitle != "" {
		fields["seo_title"] = pc.SEOTitle
	}
	if bs.Theme != nil && pageType != "home" {
		if layout := bs.Theme.Layout(pageType); layout != "" {
			fields["layout"] = layout
		}
	}
	fields["page_type"] = pageType
	return contentFile{rel: rel, fields: fields, body: body + "\n"}
}

// writeContentFile stamps uid and fingerprint, then writes the file.
func writeContentFile(bs *BuildState, contentDir string, f contentFile) ContentArtifactRecord {
	rec := ContentArtifactRecord{Path: f.rel, ContentType: markdownContentType, FrontMatter: f.fields}
	fields := f.fields
	fields["uid"] = uuid.NewString()

	fp, err := fingerprint(fields, f.body)
	if err != nil {
		rec.Error = err.Error()
		bs.Errorf("content file %s: %v", f.rel, err)
		return rec
	}
	fields[mdfp.FingerprintField] = fp

	fm, err := yaml.Marshal(fields)
	if err != nil {
		rec.Error = err.Error()
		bs.Errorf("content file %s: %v", f.rel, err)
		return rec
	}
	doc := "---\n" + string(fm) + "---\n\n" + f.body

	target := filepath.Join(contentDir, filepath.FromSlash(f.rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		rec.Error = err.Error()
		bs.Errorf("content file %s: %v", f.rel, err)
		return rec
	}
	if err := os.WriteFile(target, []byte(doc), 0o600); err != nil {
		rec.Error = err.Error()
		bs.Errorf("content file %s: %v", f.rel, err)
		return rec
	}
	rec.Size = int64(len(doc))
	rec.Success = true
	return rec
}

// fingerprint hashes the stable front matter plus body.
func fingerprint(fields map[string]any, body string) (string, error) {
	stable := make(map[string]any, len(fields))
	for k, v := range fields {
		if !fingerprintExcluded[k] {
			stable[k] = v
		}
	}
	fm, err := yaml.Marshal(stable)
	if err != nil {
		return "", err
	}
	return mdfp.CalculateFingerprintFromParts(strings.TrimSuffix(string(fm), "\n"), body), nil
}

// checkInternalLinks warns about site-relative links to pages not in the plan.
func checkInternalLinks(bs *BuildState, files []contentFile) {
	known := map[string]bool{"/": true}
	for _, f := range files {
		known[urlFor(f.rel)] = true
	}
	for _, f := range files {
		for _, l := range markdown.ExtractLinks([]byte(f.body)) {
			if !l.Internal() {
				continue
			}
			dest := l.Destination
			if i := strings.IndexAny(dest, "#?"); i >= 0 {
				dest = dest[:i]
			}
			if !strings.HasSuffix(dest, "/") && path.Ext(dest) == "" {
				dest += "/"
			}
			if path.Ext(dest) == "" && !known[dest] {
				bs.Logf("WARN %s links to unknown page %s", f.rel, l.Destination)
			}
		}
	}
}

// contentPath maps a URL path to a file under content/. Paths that are
// parents of other pages become section indexes.
func contentPath(urlPath string, parents map[string]bool) string {
	p := strings.Trim(urlPath, "/")
	if p == "" {
		return "_index.md"
	}
	if parents[p] {
		return p + "/_index.md"
	}
	return p + ".md"
}

func urlFor(rel string) string {
	rel = strings.TrimSuffix(rel, ".md")
	rel = strings.TrimSuffix(rel, "_index")
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return "/"
	}
	return "/" + rel + "/"
}

func parentDir(urlPath string) string {
	p := strings.Trim(urlPath, "/")
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

package pipeline

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
)

var assetDirs = []string{"static/images", "static/css", "static/js", "assets/css", "assets/js"}

const robotsTxt = `User-agent: *
Allow: /
`

// A single-letter placeholder icon tinted with the site's primary color.
const faviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 64 64">
<rect width="64" height="64" rx="12" fill="%s"/>
<text x="32" y="44" font-family="sans-serif" font-size="36" text-anchor="middle" fill="#ffffff">%s</text>
</svg>
`

func (b *Builder) stageAssetScaffold(_ context.Context, bs *BuildState) error {
	for _, d := range assetDirs {
		if err := os.MkdirAll(filepath.Join(bs.SiteDir, filepath.FromSlash(d)), 0o750); err != nil {
			return derrors.WrapError(err, derrors.CategoryFileSystem, "failed to create asset directory").
				WithContext("dir", d).Build()
		}
	}

	colors := b.engine.ResolveColorScheme(bs.Input.Data, bs.Theme.ID)
	initial := "S"
	if name := []rune(bs.Input.Data.BusinessName()); len(name) > 0 {
		initial = string(name[0])
	}
	files := map[string]string{
		"static/robots.txt":  robots(b.baseURL),
		"static/favicon.svg": fmt.Sprintf(faviconSVG, html.EscapeString(colors.Primary), html.EscapeString(initial)),
	}
	for rel, body := range files {
		target := filepath.Join(bs.SiteDir, filepath.FromSlash(rel))
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := os.WriteFile(target, []byte(body), 0o600); err != nil {
			return derrors.WrapError(err, derrors.CategoryFileSystem, "failed to write baseline asset").
				WithContext("file", rel).Build()
		}
	}
	bs.Logf("scaffolded static assets")
	return nil
}

// robots names the sitemap only when the site has an absolute base URL;
// crawlers ignore relative Sitemap lines.
func robots(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return robotsTxt
	}
	return robotsTxt + "\nSitemap: " + strings.TrimSuffix(u.String(), "/") + "/sitemap.xml\n"
}

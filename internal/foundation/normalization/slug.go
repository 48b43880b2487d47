package normalization

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	slugDisallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces     = regexp.MustCompile(`\s+`)
	slugHyphens    = regexp.MustCompile(`-+`)
)

// Slugify converts free text into a URL path segment.
// The result only contains [a-z0-9-], never repeats or starts/ends with a
// hyphen, and Slugify(Slugify(s)) == Slugify(s).
func Slugify(s string) string {
	out := cases.Lower(language.Und).String(s)
	out = slugDisallowed.ReplaceAllString(out, "")
	out = slugSpaces.ReplaceAllString(strings.TrimSpace(out), "-")
	out = slugHyphens.ReplaceAllString(out, "-")
	return strings.Trim(out, "-")
}

// TitleCase upper-cases the first letter of every word.
func TitleCase(s string) string {
	return cases.Title(language.English).String(strings.TrimSpace(s))
}

// Humanize turns a slug or dotted key back into a readable title.
func Humanize(slug string) string {
	r := strings.NewReplacer("-", " ", "_", " ", ".", " ")
	return TitleCase(r.Replace(slug))
}

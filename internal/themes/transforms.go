package themes

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/foundation/normalization"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// Transform is a pure function turning a wizard value into a site parameter.
type Transform func(value any) (any, error)

var transforms = map[string]Transform{
	"business_hours": BusinessHours,
	"social_links":   SocialLinks,
	"address":        FormatAddress,
	"phone_link":     PhoneLink,
	"services_list":  ServicesList,
}

// HasTransform reports whether name is a registered transform.
func HasTransform(name string) bool {
	_, ok := transforms[name]
	return ok
}

// TransformNames lists registered transforms.
func TransformNames() []string {
	names := make([]string, 0, len(transforms))
	for n := range transforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ApplyTransform runs the named transform.
func ApplyTransform(name string, value any) (any, error) {
	fn, ok := transforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	return fn(value)
}

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// BusinessHours formats a day -> hours object into an ordered week list.
// Day values may be strings ("9-5", "closed") or objects with open/close/closed.
func BusinessHours(value any) (any, error) {
	days, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("business hours: expected object, got %T", value)
	}
	lower := make(map[string]any, len(days))
	for k, v := range days {
		lower[strings.ToLower(strings.TrimSpace(k))] = v
	}
	out := make([]map[string]any, 0, len(weekdays))
	for _, day := range weekdays {
		v, ok := lower[day]
		if !ok {
			continue
		}
		out = append(out, map[string]any{"day": normalization.TitleCase(day), "hours": formatDayHours(v)})
	}
	return out, nil
}

func formatDayHours(v any) string {
	switch h := v.(type) {
	case string:
		if strings.EqualFold(strings.TrimSpace(h), "closed") || strings.TrimSpace(h) == "" {
			return "Closed"
		}
		return strings.TrimSpace(h)
	case map[string]any:
		d := wizard.Data(h)
		if closed, _ := h["closed"].(bool); closed {
			return "Closed"
		}
		open, closeAt := d.String("open"), d.String("close")
		if open == "" || closeAt == "" {
			return "Closed"
		}
		return clock(open) + " - " + clock(closeAt)
	case bool:
		if !h {
			return "Closed"
		}
	}
	return "Closed"
}

// clock renders 24h "HH:MM" as "3:04 PM"; other inputs pass through.
func clock(s string) string {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return s
	}
	return t.Format("3:04 PM")
}

var socialBases = []struct{ key, name, base string }{
	{"facebook", "Facebook", "https://facebook.com/"},
	{"instagram", "Instagram", "https://instagram.com/"},
	{"twitter", "X", "https://x.com/"},
	{"x", "X", "https://x.com/"},
	{"linkedin", "LinkedIn", "https://linkedin.com/company/"},
	{"youtube", "YouTube", "https://youtube.com/@"},
	{"tiktok", "TikTok", "https://tiktok.com/@"},
	{"yelp", "Yelp", "https://yelp.com/biz/"},
	{"pinterest", "Pinterest", "https://pinterest.com/"},
}

// SocialLinks turns a platform -> handle/url object into ordered {name,url} links.
// Known platforms come first in a fixed order, then others alphabetically;
// unknown platforms are only kept when given as a full URL.
func SocialLinks(value any) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("social links: expected object, got %T", value)
	}
	out := make([]map[string]any, 0, len(m))
	seen := map[string]bool{}
	for _, sb := range socialBases {
		raw, ok := m[sb.key].(string)
		if !ok || seen[sb.name] {
			continue
		}
		if u := socialURL(raw, sb.base); u != "" {
			out = append(out, map[string]any{"name": sb.name, "url": u})
			seen[sb.name] = true
		}
	}
	for _, k := range wizard.SortedKeys(m) {
		if isKnownSocial(k) {
			continue
		}
		raw, _ := m[k].(string)
		if u := socialURL(raw, ""); u != "" {
			out = append(out, map[string]any{"name": normalization.TitleCase(k), "url": u})
		}
	}
	return out, nil
}

func isKnownSocial(k string) bool {
	for _, sb := range socialBases {
		if sb.key == k {
			return true
		}
	}
	return false
}

func socialURL(raw, base string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "http://"):
		return raw
	case strings.HasPrefix(raw, "www."), strings.Contains(raw, ".com/"):
		return "https://" + raw
	case base == "":
		return ""
	}
	return base + strings.TrimPrefix(raw, "@")
}

// FormatAddress renders a postal address object on one line.
func FormatAddress(value any) (any, error) {
	switch a := value.(type) {
	case string:
		return strings.TrimSpace(a), nil
	case map[string]any:
		d := wizard.Data(a)
		street := joinNonEmpty(" ", d.String("street"), d.String("suite"))
		region := joinNonEmpty(" ", d.String("state"), d.String("zipCode"))
		return joinNonEmpty(", ", street, d.String("city"), region, d.String("country")), nil
	}
	return nil, fmt.Errorf("address: expected string or object, got %T", value)
}

// PhoneLink converts a display phone number into a tel: URI.
func PhoneLink(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("phone: expected string, got %T", value)
	}
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		if (r >= '0' && r <= '9') || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", nil
	}
	return "tel:" + b.String(), nil
}

// ServicesList normalizes selectedServices into {name, slug, description, price} items.
func ServicesList(value any) (any, error) {
	svcs := wizard.Data{wizard.PathServices: value}.Services()
	out := make([]map[string]any, 0, len(svcs))
	for _, s := range svcs {
		item := map[string]any{"name": s.Name, "slug": normalization.Slugify(s.Name)}
		if s.Description != "" {
			item["description"] = s.Description
		}
		if s.Price != "" {
			item["price"] = s.Price
		}
		out = append(out, item)
	}
	return out, nil
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

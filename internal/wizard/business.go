package wizard

import (
	"strings"

	"git.home.luguber.info/inful/sitebuilder/internal/foundation/normalization"
)

// Common wizard paths.
const (
	PathBusinessName        = "businessInfo.name"
	PathBusinessDescription = "businessInfo.description"
	PathBusinessCategory    = "businessInfo.category"
	PathBusinessIndustry    = "businessInfo.industry"
	PathWebsiteType         = "websiteType.type"
	PathWebsiteCategory     = "websiteType.category"
	PathPurposePrimary      = "websitePurpose.primary"
	PathPurposeSecondary    = "websitePurpose.secondary"
	PathFeatures            = "websiteFeatures"
	PathStructureType       = "websiteStructure.type"
	PathSelectedPages       = "websiteStructure.selectedPages"
	PathServices            = "selectedServices"
	PathPhone               = "contactInfo.phone"
	PathEmail               = "contactInfo.email"
	PathEmergencyPhone      = "contactInfo.emergencyPhone"
	PathAddress             = "contactInfo.address"
	PathBusinessHours       = "contactInfo.businessHours"
	PathSocialMedia         = "contactInfo.socialMedia"
	PathCity                = "locationInfo.city"
	PathState               = "locationInfo.state"
	PathLocations           = "locationInfo.locations"
	PathTeam                = "team"
	PathTagline             = "branding.tagline"
)

// Structure types.
const (
	StructureMultiPage  = "multi-page"
	StructureSinglePage = "single-page"
)

// categoryAliases folds the free-form industry labels users type into the
// fixed business-category set used by the theme registry.
var categoryAliases = map[string]string{
	"restaurant": "restaurant", "restaurants": "restaurant", "cafe": "restaurant", "bakery": "restaurant",
	"food": "restaurant", "food-beverage": "restaurant", "catering": "restaurant", "bar": "restaurant",
	"healthcare": "healthcare", "health": "healthcare", "medical": "healthcare", "clinic": "healthcare",
	"dental": "healthcare", "dentist": "healthcare", "therapy": "healthcare", "veterinary": "healthcare",
	"retail": "retail", "shop": "retail", "store": "retail", "ecommerce": "retail", "boutique": "retail",
	"professional": "professional", "professional-services": "professional", "consulting": "professional",
	"legal": "professional", "law": "professional", "accounting": "professional", "finance": "professional",
	"insurance": "professional", "real-estate": "professional",
	"creative": "creative", "photography": "creative", "design": "creative", "art": "creative",
	"music": "creative", "agency": "creative",
	"home-services": "home-services", "plumbing": "home-services", "electrical": "home-services",
	"hvac": "home-services", "construction": "home-services", "cleaning": "home-services",
	"landscaping": "home-services", "roofing": "home-services", "contractor": "home-services",
	"beauty": "beauty", "salon": "beauty", "spa": "beauty", "wellness": "beauty", "barber": "beauty",
	"fitness": "fitness", "gym": "fitness", "yoga": "fitness", "personal-training": "fitness",
	"education": "education", "school": "education", "tutoring": "education", "training": "education",
	"nonprofit": "nonprofit", "non-profit": "nonprofit", "charity": "nonprofit", "church": "nonprofit",
	"technology": "technology", "tech": "technology", "software": "technology", "it-services": "technology",
}

// BusinessName returns businessInfo.name.
func (d Data) BusinessName() string { return d.String(PathBusinessName) }

// BusinessCategory returns the canonical business category, derived from
// businessInfo.category, businessInfo.industry or websiteType.category in
// that order. Unknown labels are returned slugified.
func (d Data) BusinessCategory() string {
	for _, p := range []string{PathBusinessCategory, PathBusinessIndustry, PathWebsiteCategory} {
		raw := normalization.Slugify(d.String(p))
		if raw == "" {
			continue
		}
		if c, ok := categoryAliases[raw]; ok {
			return c
		}
		if raw != "business" {
			return raw
		}
	}
	return ""
}

// WebsiteType returns websiteType.type, defaulting to "business".
func (d Data) WebsiteType() string {
	if t := normalization.Slugify(d.String(PathWebsiteType)); t != "" {
		return t
	}
	return "business"
}

// Goals returns the primary and secondary purposes, slugified and deduplicated.
func (d Data) Goals() []string {
	goals := append([]string{}, d.Strings(PathPurposePrimary)...)
	goals = append(goals, d.Strings(PathPurposeSecondary)...)
	return slugSet(goals)
}

// Features returns the requested website features, slugified and deduplicated.
func (d Data) Features() []string { return slugSet(d.Strings(PathFeatures)) }

// HasFeature reports whether the wizard requested feature (slug form).
func (d Data) HasFeature(feature string) bool {
	for _, f := range d.Features() {
		if f == feature {
			return true
		}
	}
	return false
}

// StructureType returns websiteStructure.type, defaulting to multi-page.
func (d Data) StructureType() string {
	if normalization.Slugify(d.String(PathStructureType)) == StructureSinglePage {
		return StructureSinglePage
	}
	return StructureMultiPage
}

// SelectedPages returns websiteStructure.selectedPages in slug form.
func (d Data) SelectedPages() []string { return slugSet(d.Strings(PathSelectedPages)) }

// Service is one entry of selectedServices.
type Service struct {
	Name        string
	Description string
	Category    string
	Price       string
	Duration    string
}

// Services returns selectedServices in wizard order. Plain strings are
// accepted as service names.
func (d Data) Services() []Service {
	v, ok := d.Lookup(PathServices)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Service, 0, len(list))
	for _, item := range list {
		switch it := item.(type) {
		case string:
			if s := strings.TrimSpace(it); s != "" {
				out = append(out, Service{Name: s})
			}
		case map[string]any:
			svc := Data(it)
			name := svc.String("name")
			if name == "" {
				continue
			}
			out = append(out, Service{
				Name:        name,
				Description: svc.String("description"),
				Category:    svc.String("category"),
				Price:       svc.String("price"),
				Duration:    svc.String("duration"),
			})
		}
	}
	return out
}

// LocationCount returns the number of business locations, at least 1 when a
// city is known.
func (d Data) LocationCount() int {
	if locs := d.Strings(PathLocations); len(locs) > 0 {
		return len(locs)
	}
	if v, ok := d.Lookup(PathLocations); ok {
		if list, ok := v.([]any); ok {
			return len(list)
		}
	}
	if d.Has(PathCity) {
		return 1
	}
	return 0
}

func slugSet(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		slug := normalization.Slugify(s)
		if slug == "" {
			continue
		}
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		out = append(out, slug)
	}
	return out
}

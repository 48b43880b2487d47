package themes

import (
	"fmt"
	"math"
	"sort"

	"git.home.luguber.info/inful/sitebuilder/internal/foundation/normalization"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// Criterion weights of the general selector. They sum to 100.
const (
	WeightCategory    = 40.0
	WeightWebsiteType = 25.0
	WeightPurpose     = 20.0
	WeightFeatures    = 15.0

	MinConfidence     = 60
	MaxConfidence     = 95
	DefaultConfidence = 60

	maxAlternates = 3
)

// Category-restricted selector points.
const (
	pointsCategoryMatch   = 50
	pointsPerRequiredData = 5
)

// featureNeed is a wizard-derived need worth fixed points in SelectByCategory
// when the theme supports the matching feature flag.
type featureNeed struct {
	feature string
	points  int
	reason  string
	needed  func(wizard.Data) bool
}

var categoryFeatureNeeds = []featureNeed{
	{"appointment-booking", 15, "supports online appointment booking", func(d wizard.Data) bool {
		return d.HasFeature("appointment-booking") || d.HasFeature("booking") || d.HasFeature("appointments")
	}},
	{"emergency-contact", 10, "highlights emergency contact details", func(d wizard.Data) bool {
		return d.Has(wizard.PathEmergencyPhone) || d.HasFeature("emergency-contact") || d.HasFeature("emergency-services")
	}},
	{"team-profiles", 10, "includes team profile pages", func(d wizard.Data) bool {
		return d.Has(wizard.PathTeam) || d.HasFeature("team-profiles") || d.HasFeature("team")
	}},
	{"service-cards", 10, "presents services as cards", func(d wizard.Data) bool {
		return len(d.Services()) > 0
	}},
	{"multi-location", 5, "handles multiple locations", func(d wizard.Data) bool {
		return d.LocationCount() > 1 || d.HasFeature("multi-location")
	}},
}

// featureAliases maps wizard feature labels onto registry feature flags.
var featureAliases = map[string]string{
	"booking":             "appointment-booking",
	"appointments":        "appointment-booking",
	"online-booking":      "appointment-booking",
	"online-store":        "ecommerce",
	"shop":                "ecommerce",
	"online-shop":         "ecommerce",
	"photo-gallery":       "gallery",
	"portfolio":           "gallery",
	"contact":             "contact-form",
	"team":                "team-profiles",
	"reviews":             "testimonials",
	"online-reservations": "reservations",
	"emergency-services":  "emergency-contact",
	"locations":           "multi-location",
}

// Alternate is a non-selected candidate with its score.
type Alternate struct {
	ThemeID string  `json:"themeId"`
	Score   float64 `json:"score"`
}

// SelectionResult is the outcome of an automatic theme selection.
type SelectionResult struct {
	ThemeID    string      `json:"themeId"`
	Confidence int         `json:"confidence"`
	Reasons    []string    `json:"reasons"`
	Fallback   string      `json:"fallback,omitempty"`
	Alternates []Alternate `json:"alternates,omitempty"`
	Score      float64     `json:"score"`
	MaxScore   float64     `json:"maxScore"`
}

// Engine scores registered themes against wizard data. It performs no I/O
// and is safe for concurrent use.
type Engine struct {
	registry *Registry
}

// NewEngine binds an engine to a loaded registry.
func NewEngine(r *Registry) *Engine { return &Engine{registry: r} }

// Registry exposes the bound registry.
func (e *Engine) Registry() *Registry { return e.registry }

type scored struct {
	def     *Definition
	score   float64
	reasons []string
}

// Select picks the best-fit theme using the weighted criteria. Identical
// input always yields the identical result.
func (e *Engine) Select(data wizard.Data) SelectionResult {
	category := data.BusinessCategory()
	websiteType := ""
	if data.Has(wizard.PathWebsiteType) {
		websiteType = data.WebsiteType()
	}
	goals := data.Goals()
	features := canonicalFeatures(data.Features())

	var maxScore float64
	if category != "" {
		maxScore += WeightCategory
	}
	if websiteType != "" {
		maxScore += WeightWebsiteType
	}
	if len(goals) > 0 {
		maxScore += WeightPurpose
	}
	if len(features) > 0 {
		maxScore += WeightFeatures
	}

	ranked := make([]scored, 0, len(e.registry.themes))
	for _, def := range e.registry.themes {
		s := scored{def: def}
		if category != "" {
			if suit := def.Suitability[category]; suit > 0 {
				s.score += WeightCategory * float64(suit) / 100
				s.reasons = append(s.reasons, categoryReason(def, category, suit))
			}
		}
		if websiteType != "" && contains(def.WebsiteTypes, websiteType) {
			s.score += WeightWebsiteType
			s.reasons = append(s.reasons, fmt.Sprintf("Supports %s websites", websiteType))
		}
		if n := matchCount(def.Goals, goals, &s.reasons, "Supports your goal: %s"); n > 0 {
			s.score += WeightPurpose * float64(n) / float64(len(goals))
		}
		if n := matchCount(def.Features, features, &s.reasons, "Includes %s"); n > 0 {
			s.score += WeightFeatures * float64(n) / float64(len(features))
		}
		s.reasons = dedupe(s.reasons)
		ranked = append(ranked, s)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) == 0 || ranked[0].score <= 0 {
		return e.defaultResult(maxScore)
	}

	best := ranked[0]
	res := SelectionResult{
		ThemeID:    best.def.ID,
		Confidence: confidence(best.score, maxScore),
		Reasons:    best.reasons,
		Score:      round1(best.score),
		MaxScore:   maxScore,
	}
	if len(ranked) > 1 {
		res.Fallback = ranked[1].def.ID
	}
	for _, alt := range ranked[1:] {
		if len(res.Alternates) == maxAlternates || alt.score <= 0 {
			break
		}
		res.Alternates = append(res.Alternates, Alternate{ThemeID: alt.def.ID, Score: round1(alt.score)})
	}
	return res
}

func (e *Engine) defaultResult(maxScore float64) SelectionResult {
	res := SelectionResult{
		ThemeID:    e.registry.defaultTheme,
		Confidence: DefaultConfidence,
		Reasons:    []string{"General-purpose theme suitable for most businesses"},
		MaxScore:   maxScore,
	}
	for _, def := range e.registry.themes {
		if def.ID != res.ThemeID {
			res.Fallback = def.ID
			break
		}
	}
	return res
}

// SelectByCategory restricts candidates to themes listing category and scores
// category match, feature needs and suppliable required parameters. With no
// candidate it uses the category fallback table, then the global default.
func (e *Engine) SelectByCategory(category string, data wizard.Data) SelectionResult {
	category = normalization.Slugify(category)
	ranked := make([]scored, 0)
	var bestMax float64
	for _, def := range e.registry.themes {
		if !def.HasCategory(category) {
			continue
		}
		s := scored{def: def, score: pointsCategoryMatch}
		s.reasons = append(s.reasons, categoryReason(def, category, 100))
		for _, need := range categoryFeatureNeeds {
			if def.HasFeature(need.feature) && need.needed(data) {
				s.score += float64(need.points)
				s.reasons = append(s.reasons, fmt.Sprintf("%s %s", def.Name, need.reason))
			}
		}
		for _, path := range def.Required {
			if data.Has(path) {
				s.score += pointsPerRequiredData
			}
		}
		s.reasons = dedupe(s.reasons)
		ranked = append(ranked, s)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) == 0 {
		id, ok := e.registry.CategoryFallback(category)
		reason := fmt.Sprintf("No theme is specialized for %s; using the recommended fallback", displayCategory(category))
		if !ok {
			id = e.registry.defaultTheme
			reason = "General-purpose theme suitable for most businesses"
		}
		res := SelectionResult{ThemeID: id, Confidence: DefaultConfidence, Reasons: []string{reason}}
		if id != e.registry.defaultTheme {
			res.Fallback = e.registry.defaultTheme
		}
		return res
	}

	best := ranked[0]
	for _, need := range categoryFeatureNeeds {
		bestMax += float64(need.points)
	}
	bestMax += pointsCategoryMatch + float64(pointsPerRequiredData*len(best.def.Required))
	res := SelectionResult{
		ThemeID:    best.def.ID,
		Confidence: confidence(best.score, bestMax),
		Reasons:    best.reasons,
		Score:      best.score,
		MaxScore:   bestMax,
		Fallback:   e.registry.defaultTheme,
	}
	if len(ranked) > 1 {
		res.Fallback = ranked[1].def.ID
	} else if res.Fallback == best.def.ID {
		res.Fallback = ""
	}
	for _, alt := range ranked[1:] {
		if len(res.Alternates) == maxAlternates {
			break
		}
		res.Alternates = append(res.Alternates, Alternate{ThemeID: alt.def.ID, Score: alt.score})
	}
	return res
}

func categoryReason(def *Definition, category string, suitability int) string {
	if pitch, ok := def.Pitch[category]; ok {
		return fmt.Sprintf("%s offers %s", def.Name, pitch)
	}
	switch {
	case suitability >= 80:
		return fmt.Sprintf("Specialized for %s businesses", displayCategory(category))
	case suitability >= 50:
		return fmt.Sprintf("Well suited to %s businesses", displayCategory(category))
	default:
		return fmt.Sprintf("Works for %s businesses", displayCategory(category))
	}
}

func displayCategory(category string) string {
	if category == "" {
		return "general"
	}
	return normalization.Humanize(category)
}

func matchCount(supported, wanted []string, reasons *[]string, format string) int {
	n := 0
	for _, w := range wanted {
		if contains(supported, w) {
			n++
			*reasons = append(*reasons, fmt.Sprintf(format, normalization.Humanize(w)))
		}
	}
	return n
}

func canonicalFeatures(in []string) []string {
	out := make([]string, 0, len(in))
	for _, f := range in {
		if alias, ok := featureAliases[f]; ok {
			f = alias
		}
		if !contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func confidence(score, maxScore float64) int {
	if maxScore <= 0 {
		return DefaultConfidence
	}
	c := int(math.Round(score / maxScore * 100))
	return min(max(c, MinConfidence), MaxConfidence)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }

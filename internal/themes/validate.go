package themes

import (
	"fmt"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/foundation/normalization"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// ValidationResult reports whether wizard data satisfies a theme.
type ValidationResult struct {
	IsValid             bool     `json:"isValid"`
	MissingRequirements []string `json:"missingRequirements"`
	Warnings            []string `json:"warnings"`
}

// Validate checks the theme's required parameters against wizard data.
// Missing recommended data only produces warnings. Unknown themes are a
// NotFound error.
func (e *Engine) Validate(themeID string, data wizard.Data) (ValidationResult, error) {
	def, ok := e.registry.Get(themeID)
	if !ok {
		return ValidationResult{}, derrors.NotFoundError("theme not found").WithContext("theme_id", themeID).Build()
	}
	res := ValidationResult{MissingRequirements: []string{}, Warnings: []string{}}
	for _, path := range def.Required {
		if !data.Has(path) {
			res.MissingRequirements = append(res.MissingRequirements, path)
		}
	}
	for _, rec := range e.registry.recommended {
		if contains(def.Required, rec.Path) || data.Has(rec.Path) {
			continue
		}
		msg := fmt.Sprintf("%s is recommended for %s", rec.Path, def.Name)
		if rec.Message != "" {
			msg += ": " + rec.Message
		}
		res.Warnings = append(res.Warnings, msg)
	}
	res.IsValid = len(res.MissingRequirements) == 0
	return res, nil
}

// RequireValid wraps Validate and converts missing requirements into a
// Validation error.
func (e *Engine) RequireValid(themeID string, data wizard.Data) (ValidationResult, error) {
	res, err := e.Validate(themeID, data)
	if err != nil {
		return res, err
	}
	if !res.IsValid {
		return res, derrors.ValidationError("missing required theme parameters").
			WithContext("theme_id", themeID).
			WithContext("missing", res.MissingRequirements).Build()
	}
	return res, nil
}

// PaletteSource says which tier supplied a color scheme.
type PaletteSource string

const (
	PaletteIndustry PaletteSource = "industry"
	PaletteTheme    PaletteSource = "theme"
	PaletteDefault  PaletteSource = "default"
)

// ResolvedColors is a color scheme plus the tier it came from.
type ResolvedColors struct {
	ColorScheme
	Source PaletteSource `json:"source"`
}

// ResolveColorScheme picks the industry palette for the business category,
// else the theme's declared palette, else the global default.
func (e *Engine) ResolveColorScheme(data wizard.Data, themeID string) ResolvedColors {
	if category := data.BusinessCategory(); category != "" {
		if p, ok := e.registry.palettes.Industry[normalization.Slugify(category)]; ok {
			return ResolvedColors{ColorScheme: p, Source: PaletteIndustry}
		}
	}
	if def, ok := e.registry.Get(themeID); ok && def.Palette != nil {
		return ResolvedColors{ColorScheme: *def.Palette, Source: PaletteTheme}
	}
	return ResolvedColors{ColorScheme: e.registry.palettes.Default, Source: PaletteDefault}
}

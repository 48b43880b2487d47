package commands

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/sitebuilder/internal/pagestructure"
	"git.home.luguber.info/inful/sitebuilder/internal/themes"
)

// PlanCmd implements the 'plan' command.
type PlanCmd struct {
	Data      string `arg:"" help:"Wizard data JSON file" type:"existingfile"`
	Theme     string `short:"t" help:"Theme id; omitted means automatic selection"`
	Structure string `help:"Structure type (overrides the wizard's choice)"`
	Format    string `help:"Output format" enum:"yaml,json" default:"yaml"`
}

func (p *PlanCmd) Run(global *Global, root *CLI) error {
	cfg, err := loadConfig(root.Config)
	if err != nil {
		return err
	}
	data, err := readWizardData(p.Data)
	if err != nil {
		return err
	}
	reg, table, err := loadCatalogs(cfg)
	if err != nil {
		return err
	}
	themeID := p.Theme
	if themeID == "" {
		themeID = themes.NewEngine(reg).Select(data).ThemeID
	}
	structure := p.Structure
	if structure == "" {
		structure = data.StructureType()
	}
	resolver := pagestructure.NewResolver(table)
	tpl, exact := resolver.ResolveOrDefault(data.BusinessCategory(), themeID, structure)
	if tpl == nil {
		return fmt.Errorf("no page structure template for theme %s", themeID)
	}
	out := struct {
		ThemeID string             `json:"themeId"`
		Exact   bool               `json:"exactMatch"`
		Plan    pagestructure.Plan `json:"plan"`
	}{themeID, exact, resolver.Plan(tpl, data)}

	if p.Format == "json" {
		return printJSON(global, out)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	// JSON is a YAML subset; round-tripping keeps the json field names.
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(global.out())
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"git.home.luguber.info/inful/sitebuilder/internal/themes"
)

// ThemesCmd groups the theme registry subcommands.
type ThemesCmd struct {
	List     ThemesListCmd     `cmd:"" default:"1" help:"List registered themes"`
	Select   ThemesSelectCmd   `cmd:"" help:"Run automatic theme selection for wizard data"`
	Validate ThemesValidateCmd `cmd:"" help:"Check wizard data against a theme's requirements"`
}

// ThemesListCmd implements 'themes list'.
type ThemesListCmd struct{}

func (c *ThemesListCmd) Run(global *Global, root *CLI) error {
	engine, err := loadEngine(root)
	if err != nil {
		return err
	}
	reg := engine.Registry()
	tw := tabwriter.NewWriter(global.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\tCATEGORIES\tFEATURES\n")
	for _, def := range reg.Themes() {
		id := def.ID
		if id == reg.DefaultTheme() {
			id += " (default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, def.Name,
			strings.Join(def.Categories, ","), strings.Join(def.Features, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(global.out(), "registry version %s\n", reg.Version())
	return nil
}

// ThemesSelectCmd implements 'themes select'.
type ThemesSelectCmd struct {
	Data     string `arg:"" help:"Wizard data JSON file" type:"existingfile"`
	Category string `help:"Score by this category instead of the full wizard profile"`
}

func (c *ThemesSelectCmd) Run(global *Global, root *CLI) error {
	engine, err := loadEngine(root)
	if err != nil {
		return err
	}
	data, err := readWizardData(c.Data)
	if err != nil {
		return err
	}
	var res themes.SelectionResult
	if c.Category != "" {
		res = engine.SelectByCategory(c.Category, data)
	} else {
		res = engine.Select(data)
	}
	return printJSON(global, res)
}

// ThemesValidateCmd implements 'themes validate'.
type ThemesValidateCmd struct {
	Theme string `arg:"" help:"Theme id"`
	Data  string `arg:"" help:"Wizard data JSON file" type:"existingfile"`
}

func (c *ThemesValidateCmd) Run(global *Global, root *CLI) error {
	engine, err := loadEngine(root)
	if err != nil {
		return err
	}
	data, err := readWizardData(c.Data)
	if err != nil {
		return err
	}
	res, err := engine.Validate(c.Theme, data)
	if err != nil {
		return err
	}
	if err := printJSON(global, struct {
		themes.ValidationResult
		Colors themes.ResolvedColors `json:"colors"`
	}{res, engine.ResolveColorScheme(data, c.Theme)}); err != nil {
		return err
	}
	if !res.IsValid {
		return fmt.Errorf("theme %s: missing %s", c.Theme, strings.Join(res.MissingRequirements, ", "))
	}
	return nil
}

func loadEngine(root *CLI) (*themes.Engine, error) {
	cfg, err := loadConfig(root.Config)
	if err != nil {
		return nil, err
	}
	reg, _, err := loadCatalogs(cfg)
	if err != nil {
		return nil, err
	}
	return themes.NewEngine(reg), nil
}

func printJSON(global *Global, v any) error {
	enc := json.NewEncoder(global.out())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const clinicJSON = `{
  "businessInfo": {"name": "Harbor Family Clinic", "category": "healthcare"},
  "websiteStructure": {"type": "multi-page"},
  "contactInfo": {"phone": "555-0142", "email": "hello@harbor.test"},
  "selectedServices": ["Annual Checkups", "Vaccinations"]
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func initConfig(t *testing.T) (*CLI, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	root := &CLI{Config: filepath.Join(t.TempDir(), "sitebuilder.yaml")}
	require.NoError(t, (&InitCmd{}).Run(&Global{Stdout: &out}, root))
	assert.Contains(t, out.String(), "Wrote")
	require.Error(t, (&InitCmd{}).Run(&Global{Stdout: &out}, root), "init must not overwrite without --force")
	require.NoError(t, (&InitCmd{Force: true}).Run(&Global{Stdout: &out}, root))
	out.Reset()
	return root, &out
}

func TestThemesList(t *testing.T) {
	root, out := initConfig(t)
	require.NoError(t, (&ThemesListCmd{}).Run(&Global{Stdout: out}, root))
	assert.Contains(t, out.String(), "ananke (default)")
	assert.Contains(t, out.String(), "clinic")
	assert.Contains(t, out.String(), "registry version")
}

func TestThemesSelect(t *testing.T) {
	root, out := initConfig(t)
	data := writeFile(t, "wizard.json", clinicJSON)
	require.NoError(t, (&ThemesSelectCmd{Data: data}).Run(&Global{Stdout: out}, root))

	var res struct {
		ThemeID    string `json:"themeId"`
		Confidence int    `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.NotEmpty(t, res.ThemeID)
	assert.GreaterOrEqual(t, res.Confidence, 0)
	assert.LessOrEqual(t, res.Confidence, 100)
}

func TestThemesValidateReportsMissing(t *testing.T) {
	root, out := initConfig(t)
	data := writeFile(t, "wizard.json", clinicJSON)

	err := (&ThemesValidateCmd{Theme: "clinic", Data: data}).Run(&Global{Stdout: out}, root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contactInfo.address")

	var res struct {
		IsValid bool     `json:"isValid"`
		Missing []string `json:"missingRequirements"`
		Colors  struct {
			Source string `json:"source"`
		} `json:"colors"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.False(t, res.IsValid)
	assert.Equal(t, []string{"contactInfo.address"}, res.Missing)
	assert.NotEmpty(t, res.Colors.Source)

	out.Reset()
	require.NoError(t, (&ThemesValidateCmd{Theme: "ananke", Data: data}).Run(&Global{Stdout: out}, root))
	require.Error(t, (&ThemesValidateCmd{Theme: "missing", Data: data}).Run(&Global{Stdout: out}, root))
}

func TestPlanYAML(t *testing.T) {
	root, out := initConfig(t)
	data := writeFile(t, "wizard.json", clinicJSON)
	require.NoError(t, (&PlanCmd{Data: data, Theme: "clinic", Format: "yaml"}).Run(&Global{Stdout: out}, root))

	var doc struct {
		ThemeID string `yaml:"themeId"`
		Plan    struct {
			Structure    string `yaml:"structure"`
			ServicePages []struct {
				Slug string `yaml:"slug"`
			} `yaml:"servicePages"`
		} `yaml:"plan"`
	}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "clinic", doc.ThemeID)
	assert.Equal(t, "multi-page", doc.Plan.Structure)
	require.Len(t, doc.Plan.ServicePages, 2)
	assert.Equal(t, "annual-checkups", doc.Plan.ServicePages[0].Slug)
}

func TestPlanJSONSinglePageOverride(t *testing.T) {
	root, out := initConfig(t)
	data := writeFile(t, "wizard.json", clinicJSON)
	require.NoError(t, (&PlanCmd{Data: data, Theme: "clinic", Structure: "single-page", Format: "json"}).Run(&Global{Stdout: out}, root))

	var doc struct {
		Plan struct {
			Structure string `json:"structure"`
		} `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "single-page", doc.Plan.Structure)
}

func TestReadWizardDataAcceptsProjectDocument(t *testing.T) {
	path := writeFile(t, "project.json", `{"id": "p1", "wizardData": `+clinicJSON+`}`)
	data, err := readWizardData(path)
	require.NoError(t, err)
	assert.Equal(t, "Harbor Family Clinic", data.BusinessName())

	_, err = readWizardData(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

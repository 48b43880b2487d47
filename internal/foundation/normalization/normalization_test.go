package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Joe's Pizza & Grill":        "joes-pizza-grill",
		"  Deep   Tissue Massage  ":  "deep-tissue-massage",
		"Emergency -- Plumbing":      "emergency-plumbing",
		"Hair_Cut & Color!":          "haircut-color",
		"---":                        "",
		"Already-a-slug":             "already-a-slug",
		"Café Crème":                 "caf-crme",
		"24/7 Roadside\tAssistance ": "247-roadside-assistance",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
}

func TestSlugifyIdempotent(t *testing.T) {
	inputs := []string{
		"", " ", "-a-", "A  B", "x--y", "Tab\tSeparated\nLines", "ÄÖÜ äöü",
		"Mixed CASE with 123 numbers", "   --leading and trailing--   ",
	}
	for _, in := range inputs {
		once := Slugify(in)
		assert.Equal(t, once, Slugify(once), "input %q", in)
	}
}

func TestTitleCaseAndHumanize(t *testing.T) {
	assert.Equal(t, "Our Services", TitleCase("our services"))
	assert.Equal(t, "Deep Tissue Massage", Humanize("deep-tissue-massage"))
	assert.Equal(t, "Business Hours", Humanize("business_hours"))
}

type mode string

func TestEnum(t *testing.T) {
	e := NewEnum("mode", map[string]mode{"local": "local", "remote": "remote"})

	v, err := e.Parse("  REMOTE ")
	require.NoError(t, err)
	assert.Equal(t, mode("remote"), v)

	_, err = e.Parse("cloud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local, remote")

	assert.Equal(t, mode("local"), e.ParseOr("bogus", "local"))
	assert.Equal(t, []string{"local", "remote"}, e.Keys())
}

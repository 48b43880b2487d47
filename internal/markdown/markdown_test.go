package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinks_InlineLink(t *testing.T) {
	links := ExtractLinks([]byte("See [our menu](/menu/) for details."))
	require.Len(t, links, 1)
	require.Equal(t, LinkKindInline, links[0].Kind)
	require.Equal(t, "/menu/", links[0].Destination)
	assert.True(t, links[0].Internal())
}

func TestExtractLinks_ImageAndAuto(t *testing.T) {
	links := ExtractLinks([]byte("![Dining room](room.png)\n\n<https://example.com/path>"))
	require.Len(t, links, 2)
	assert.Equal(t, LinkKindImage, links[0].Kind)
	assert.Equal(t, LinkKindAuto, links[1].Kind)
	assert.Equal(t, "https://example.com/path", links[1].Destination)
	assert.False(t, links[1].Internal())
}

func TestExtractLinks_ReferenceDefinitions(t *testing.T) {
	links := ExtractLinks([]byte("Book [now][b].\n\n[b]: /contact/\n"))
	require.Len(t, links, 2)
	assert.Equal(t, LinkKindInline, links[0].Kind)
	assert.Equal(t, LinkKindReferenceDefinition, links[1].Kind)
	assert.Equal(t, "/contact/", links[1].Destination)
}

func TestLinkInternal(t *testing.T) {
	assert.True(t, Link{Destination: "/"}.Internal())
	assert.False(t, Link{Destination: "//cdn.example.com/x.js"}.Internal())
	assert.False(t, Link{Destination: "about/"}.Internal())
}

func TestPlainText(t *testing.T) {
	body := []byte("## Fresh pasta\n\nMade **daily** with\nlocal flour.\n\n- Catering\n- Private dining\n")
	assert.Equal(t, "Fresh pasta Made daily with local flour. Catering Private dining", PlainText(body))
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "Short copy.", Summary([]byte("Short *copy*."), 50))
	s := Summary([]byte("one two three four five six"), 12)
	assert.Equal(t, "one two...", s)
}

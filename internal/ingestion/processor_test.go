package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextWindowsWithOverlap(t *testing.T) {
	p := &Processor{chunkSize: 4, chunkOverlap: 1}
	words := []string{"w1", "w2", "w3", "w4", "w5", "w6", "w7"}

	chunks := p.chunkText(strings.Join(words, " "))

	require.Len(t, chunks, 2)
	assert.Equal(t, "w1 w2 w3 w4", chunks[0])
	// Next window restarts one word back.
	assert.Equal(t, "w4 w5 w6 w7", chunks[1])
}

func TestChunkTextShortInputIsOneChunk(t *testing.T) {
	p := &Processor{chunkSize: 100, chunkOverlap: 10}

	chunks := p.chunkText("only a few words")
	require.Len(t, chunks, 1)
	assert.Equal(t, "only a few words", chunks[0])
}

func TestChunkTextEmpty(t *testing.T) {
	p := &Processor{chunkSize: 10, chunkOverlap: 2}
	assert.Empty(t, p.chunkText("   "))
}

func TestChunkTextCoversAllWords(t *testing.T) {
	p := &Processor{chunkSize: 5, chunkOverlap: 2}
	words := make([]string, 23)
	for i := range words {
		words[i] = string(rune('a' + i))
	}

	chunks := p.chunkText(strings.Join(words, " "))

	joined := strings.Join(chunks, " ")
	for _, w := range words {
		assert.Contains(t, joined, w)
	}
	assert.Equal(t, words[len(words)-1], chunks[len(chunks)-1][len(chunks[len(chunks)-1])-1:])
}

func TestExtractHTMLStripsMarkupAndFindsTitle(t *testing.T) {
	html := `<html><head><title>Quarterly Report</title><style>p{}</style></head>
<body><nav>menu</nav><script>alert(1)</script><p>Revenue grew by ten percent.</p></body></html>`

	text, title := extract("report.html", []byte(html))

	assert.Equal(t, "Quarterly Report", title)
	assert.Contains(t, text, "Revenue grew by ten percent.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "menu")
}

func TestExtractHTMLFallsBackToH1(t *testing.T) {
	html := `<html><body><h1>Main Heading</h1><p>body text</p></body></html>`

	_, title := extract("page.htm", []byte(html))
	assert.Equal(t, "Main Heading", title)
}

func TestExtractPlainTextUsesFilenameAsTitle(t *testing.T) {
	text, title := extract("meeting-notes.txt", []byte("agenda and decisions"))

	assert.Equal(t, "meeting-notes", title)
	assert.Equal(t, "agenda and decisions", text)
}

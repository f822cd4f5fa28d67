package interchange

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalPNG builds a syntactically valid PNG shell: signature, a stub
// IHDR, and IEND.
func minimalPNG() []byte {
	var out bytes.Buffer
	out.Write(pngSignature)
	writePNGChunk(&out, pngChunk{typ: "IHDR", data: make([]byte, 13)})
	writePNGChunk(&out, pngChunk{typ: "IEND"})
	return out.Bytes()
}

func TestEmbedAndExtractCard(t *testing.T) {
	cardJSON := []byte(`{"spec":"chara_card_v2","data":{"name":"Mira"}}`)

	embedded, err := EmbedCardInPNG(minimalPNG(), cardJSON)
	require.NoError(t, err)

	extracted, err := ExtractCardFromPNG(embedded)
	require.NoError(t, err)
	assert.Equal(t, cardJSON, extracted)
}

func TestEmbedReplacesDuplicates(t *testing.T) {
	first, err := EmbedCardInPNG(minimalPNG(), []byte(`{"v":1}`))
	require.NoError(t, err)
	second, err := EmbedCardInPNG(first, []byte(`{"v":2}`))
	require.NoError(t, err)

	chunks, err := parsePNGChunks(second)
	require.NoError(t, err)

	charaChunks := 0
	for _, chunk := range chunks {
		if chunk.typ != "tEXt" {
			continue
		}
		if keyword, _, ok := splitTextChunk(chunk.data); ok && keyword == pngTextKeyword {
			charaChunks++
		}
	}
	assert.Equal(t, 1, charaChunks)

	// The surviving chunk sits immediately before IEND.
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "tEXt", chunks[len(chunks)-2].typ)
	assert.Equal(t, "IEND", chunks[len(chunks)-1].typ)

	extracted, err := ExtractCardFromPNG(second)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), extracted)
}

func TestExtractErrors(t *testing.T) {
	_, err := ExtractCardFromPNG([]byte("definitely not a png"))
	assert.ErrorIs(t, err, ErrNotContainer)

	_, err = ExtractCardFromPNG(minimalPNG())
	assert.ErrorIs(t, err, ErrUnrecognizedSchema)

	truncated := minimalPNG()[:len(pngSignature)+6]
	_, err = ExtractCardFromPNG(truncated)
	assert.ErrorIs(t, err, ErrNotContainer)
}

func TestEmbedRejectsNonPNG(t *testing.T) {
	_, err := EmbedCardInPNG([]byte("jpeg bytes"), []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotContainer)
}

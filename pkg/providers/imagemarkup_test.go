package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pngURL = "data:image/png;base64,aGVsbG8="

func TestSplitImageMarkup(t *testing.T) {
	content := "look at this ![screenshot](" + pngURL + ") and [this](" + pngURL + ")\nthanks"
	parts := SplitImageMarkup(content)

	require.Len(t, parts, 5)
	assert.Equal(t, "look at this ", parts[0].Text)
	require.NotNil(t, parts[1].Image)
	assert.Equal(t, "image/png", parts[1].Image.MIMEType)
	assert.Equal(t, []byte("hello"), parts[1].Image.Data)
	assert.Equal(t, pngURL, parts[1].Image.DataURL)
	assert.Equal(t, " and ", parts[2].Text)
	require.NotNil(t, parts[3].Image)
	assert.Equal(t, "\nthanks", parts[4].Text)
}

func TestSplitImageMarkupWithoutImages(t *testing.T) {
	assert.False(t, HasImageMarkup("plain [link](https://example.com)"))
	parts := SplitImageMarkup("just text")
	require.Len(t, parts, 1)
	assert.Equal(t, "just text", parts[0].Text)
	assert.Empty(t, SplitImageMarkup("   "))
}

func TestSplitImageMarkupKeepsUndecodableImagesAsText(t *testing.T) {
	bad := "![x](data:image/png;base64,!!!)"
	parts := SplitImageMarkup(bad)
	require.Len(t, parts, 1)
	assert.Nil(t, parts[0].Image)
	assert.Equal(t, bad, parts[0].Text)
}

func TestParseDataURL(t *testing.T) {
	img, err := ParseDataURL("data:image/jpeg;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIMEType)

	_, err = ParseDataURL("https://example.com/x.png")
	assert.Error(t, err)
	_, err = ParseDataURL("data:image/png,rawdata")
	assert.Error(t, err)
}

package providers

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// imageMarkupRegexp matches markdown images whose target is a data URL, with
// or without the leading "!".
var imageMarkupRegexp = regexp.MustCompile(`!?\[[^\]]*\]\((data:image/[^)]*)\)`)

// ContentPart is either a run of text or one inline image.
type ContentPart struct {
	Text  string
	Image *InlineImage
}

type InlineImage struct {
	MIMEType string
	Data     []byte
	// DataURL is the original data: URL, useful for APIs that take URLs.
	DataURL string
}

// HasImageMarkup reports whether content embeds at least one data URL image.
func HasImageMarkup(content string) bool {
	return imageMarkupRegexp.MatchString(content)
}

// SplitImageMarkup cuts content into text and image parts, in order. Blank text
// runs are dropped. Images whose data URL cannot be decoded are kept as text.
func SplitImageMarkup(content string) []ContentPart {
	ret := []ContentPart{}
	addText := func(s string) {
		if strings.TrimSpace(s) != "" {
			ret = append(ret, ContentPart{Text: s})
		}
	}

	last := 0
	for _, loc := range imageMarkupRegexp.FindAllStringSubmatchIndex(content, -1) {
		addText(content[last:loc[0]])
		last = loc[1]

		dataURL := content[loc[2]:loc[3]]
		img, err := ParseDataURL(dataURL)
		if err != nil {
			addText(content[loc[0]:loc[1]])
			continue
		}
		ret = append(ret, ContentPart{Image: img})
	}
	addText(content[last:])
	return ret
}

// ParseDataURL decodes a base64 data:image URL.
func ParseDataURL(dataURL string) (*InlineImage, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, errors.Errorf("not a data URL")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.Errorf("data URL without payload")
	}
	mimeType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return nil, errors.Errorf("data URL is not base64 encoded")
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode data URL")
	}
	return &InlineImage{
		MIMEType: mimeType,
		Data:     data,
		DataURL:  dataURL,
	}, nil
}

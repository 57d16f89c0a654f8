package ocr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-go-golems/threadchat/pkg/titles"
)

var ocrTextRegexp = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(titles.OCRBlockHeader) + `\n(.*?)(\n\n|$)`)

// ComposeImageMessage builds message content carrying an image and,
// optionally, the text detected in it. The layout is text, image markup,
// OCR block, separated by blank lines.
func ComposeImageMessage(text string, alt string, dataURL string, detected string) string {
	parts := []string{}
	if t := strings.TrimSpace(text); t != "" {
		parts = append(parts, t)
	}
	if alt == "" {
		alt = "image"
	}
	parts = append(parts, fmt.Sprintf("![%s](%s)", alt, dataURL))
	if d := strings.TrimSpace(detected); d != "" {
		parts = append(parts, titles.OCRBlockHeader+"\n"+d)
	}
	return strings.Join(parts, "\n\n")
}

// ExtractOCRText returns the OCR block of content, if any.
func ExtractOCRText(content string) (string, bool) {
	m := ocrTextRegexp.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

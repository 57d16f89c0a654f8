package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultVisionEndpoint = "https://vision.googleapis.com/v1/images:annotate"
	NoTextDetected        = "画像からテキストを検出できませんでした。"
	visionProviderName    = "google-vision"
)

// TextExtractor turns a base64 data URL image into text.
type TextExtractor interface {
	ExtractText(ctx context.Context, imageData string) (string, error)
}

var dataURLHeaderRegexp = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)

type visionRequest struct {
	Requests []visionImageRequest `json:"requests"`
}

type visionImageRequest struct {
	Image    visionImage     `json:"image"`
	Features []visionFeature `json:"features"`
}

type visionImage struct {
	Content string `json:"content"`
}

type visionFeature struct {
	Type string `json:"type"`
}

type visionResponse struct {
	Responses []struct {
		TextAnnotations []struct {
			Description string `json:"description"`
		} `json:"textAnnotations"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"responses"`
}

// VisionClient calls Google Cloud Vision TEXT_DETECTION over REST.
type VisionClient struct {
	httpClient *http.Client
	apiKey     string
	endpoint   string
}

type VisionOption func(*VisionClient)

func WithEndpoint(endpoint string) VisionOption {
	return func(c *VisionClient) {
		c.endpoint = endpoint
	}
}

func WithHTTPClient(client *http.Client) VisionOption {
	return func(c *VisionClient) {
		c.httpClient = client
	}
}

func NewVisionClient(apiKey string, options ...VisionOption) (*VisionClient, error) {
	if apiKey == "" {
		return nil, errors.New("no Google Cloud API key configured for OCR")
	}
	ret := &VisionClient{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		endpoint:   DefaultVisionEndpoint,
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

// ExtractText returns the full text annotation, or NoTextDetected when the
// image has none.
func (c *VisionClient) ExtractText(ctx context.Context, imageData string) (string, error) {
	content := dataURLHeaderRegexp.ReplaceAllString(imageData, "")
	if content == "" {
		return "", errors.New("empty image data")
	}

	body, err := json.Marshal(visionRequest{
		Requests: []visionImageRequest{
			{
				Image:    visionImage{Content: content},
				Features: []visionFeature{{Type: "TEXT_DETECTION"}},
			},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+c.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &providers.ProviderError{Provider: visionProviderName, Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed visionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &providers.MalformedResponseError{Provider: visionProviderName, Reason: err.Error()}
	}
	if len(parsed.Responses) == 0 {
		return "", &providers.MalformedResponseError{Provider: visionProviderName, Reason: "no responses"}
	}
	first := parsed.Responses[0]
	if first.Error != nil {
		return "", &providers.ProviderError{Provider: visionProviderName, Status: first.Error.Code, Body: first.Error.Message}
	}
	if len(first.TextAnnotations) == 0 {
		log.Debug().Msg("No text detected in image")
		return NoTextDetected, nil
	}
	// the first annotation covers the whole image
	return first.TextAnnotations[0].Description, nil
}

var _ TextExtractor = (*VisionClient)(nil)

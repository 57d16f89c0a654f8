package titles

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxTitleLength = 20
	ImagePlaceholder      = "[画像]"
	OCRBlockHeader        = "検出されたテキスト:"
	SummaryPrompt         = "このチャットの主なトピックと重要なポイントを1-2文で要約してください。"
)

const titleSystemPromptTemplate = `以下のメッセージに対して、{{ .MaxLength }}文字以内の簡潔なタイトルを日本語で生成してください。句読点は含めないでください。`

const titleUserPromptTemplate = `{{ .Content | trim }}`

// maxPromptRunes bounds how much of the first message is sent for titling.
const maxPromptRunes = 2000

var (
	imageMarkdownRegexp = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	// the OCR block runs from its header to the next blank line or the end
	ocrBlockRegexp = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(OCRBlockHeader) + `\n.*?(\n\n|$)`)
	quoteReplacer  = strings.NewReplacer(`"`, "", "“", "", "”", "", "「", "", "」", "", "'", "")
)

// Generator produces chat titles and summaries with single-shot calls to a
// cheap model. Failures never propagate, they yield the fallback values.
type Generator struct {
	adapter   providers.Adapter
	model     chat.ModelType
	maxLength int
	fallback  string
	system    *template.Template
	user      *template.Template
}

type Option func(*Generator)

func WithModel(model chat.ModelType) Option {
	return func(g *Generator) {
		if model != "" {
			g.model = model
		}
	}
}

func WithMaxLength(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxLength = n
		}
	}
}

func WithFallbackTitle(title string) Option {
	return func(g *Generator) {
		g.fallback = title
	}
}

func NewGenerator(adapter providers.Adapter, options ...Option) (*Generator, error) {
	ret := &Generator{
		adapter:   adapter,
		model:     chat.DefaultTitleModel,
		maxLength: DefaultMaxTitleLength,
		fallback:  chat.DefaultTitle,
	}
	for _, o := range options {
		o(ret)
	}

	var err error
	ret.system, err = template.New("title-system").Funcs(sprig.TxtFuncMap()).Parse(titleSystemPromptTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse title system prompt")
	}
	ret.user, err = template.New("title-user").Funcs(sprig.TxtFuncMap()).Parse(titleUserPromptTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse title user prompt")
	}
	return ret, nil
}

func (g *Generator) FallbackTitle() string {
	return g.fallback
}

// CleanContent replaces images with a placeholder and drops the OCR block so
// the title model only sees what the user typed.
func CleanContent(content string) string {
	content = imageMarkdownRegexp.ReplaceAllString(content, ImagePlaceholder)
	content = ocrBlockRegexp.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// CleanTitle strips quotes and whitespace and cuts the title to maxLength characters.
func CleanTitle(title string, maxLength int) string {
	title = strings.TrimSpace(quoteReplacer.Replace(title))
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	runes := []rune(title)
	if maxLength > 0 && len(runes) > maxLength {
		title = strings.TrimSpace(string(runes[:maxLength]))
	}
	return title
}

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (g *Generator) params(maxTokens int) providers.ModelParams {
	return providers.ModelParams{
		Model:       g.model,
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	}
}

// GenerateChatTitle returns a short title for content, or the fallback title.
func (g *Generator) GenerateChatTitle(ctx context.Context, content string) string {
	title, err := g.generateTitle(ctx, content)
	if err != nil {
		log.Warn().Err(err).Msg("Could not generate chat title")
		return g.fallback
	}
	return title
}

func (g *Generator) generateTitle(ctx context.Context, content string) (string, error) {
	if g.adapter == nil {
		return "", errors.New("no title adapter configured")
	}
	cleaned := CleanContent(content)
	if runes := []rune(cleaned); len(runes) > maxPromptRunes {
		cleaned = string(runes[:maxPromptRunes])
	}
	if cleaned == "" {
		return "", errors.New("nothing to title")
	}

	system, err := render(g.system, map[string]interface{}{"MaxLength": g.maxLength})
	if err != nil {
		return "", err
	}
	user, err := render(g.user, map[string]interface{}{"Content": cleaned})
	if err != nil {
		return "", err
	}

	text, err := providers.Complete(ctx, g.adapter, []chat.Message{
		chat.NewMessage(chat.RoleSystem, system),
		chat.NewMessage(chat.RoleUser, user),
	}, g.params(50))
	if err != nil {
		return "", err
	}

	title := CleanTitle(text, g.maxLength)
	if title == "" {
		return "", errors.New("model returned an empty title")
	}
	return title, nil
}

// GenerateChatSummary summarizes messages in one or two sentences. It returns
// the empty string on any failure.
func (g *Generator) GenerateChatSummary(ctx context.Context, messages []chat.Message) string {
	if g.adapter == nil || len(messages) == 0 {
		return ""
	}
	prompt := make([]chat.Message, 0, len(messages)+1)
	prompt = append(prompt, messages...)
	prompt = append(prompt, chat.NewMessage(chat.RoleUser, SummaryPrompt))

	text, err := providers.Complete(ctx, g.adapter, prompt, g.params(200))
	if err != nil {
		log.Warn().Err(err).Msg("Could not generate chat summary")
		return ""
	}
	return strings.TrimSpace(text)
}

package ocr

import (
	"context"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
)

const (
	AnalysisFailed = "画像の分析に失敗しました。"

	analysisPrompt = `この画像について以下の点を分析してください：
1. 画像内のテキストがある場合は、そのテキストを正確に抽出
2. 画像の主な内容の説明
3. 重要な詳細や特徴
できるだけ簡潔に日本語で回答してください。`
)

// ChatCompleter is the part of the go-openai client the analyzer uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request go_openai.ChatCompletionRequest) (go_openai.ChatCompletionResponse, error)
}

// ImageAnalyzer describes an image with an OpenAI vision model.
type ImageAnalyzer struct {
	client ChatCompleter
	model  string
}

func NewImageAnalyzer(client ChatCompleter) *ImageAnalyzer {
	return &ImageAnalyzer{
		client: client,
		model:  string(chat.ModelGPT4Vision),
	}
}

func (a *ImageAnalyzer) AnalyzeImage(ctx context.Context, imageData string) (string, error) {
	if imageData == "" {
		return "", errors.New("no image data provided")
	}
	resp, err := a.client.CreateChatCompletion(ctx, go_openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []go_openai.ChatCompletionMessage{
			{
				Role: go_openai.ChatMessageRoleUser,
				MultiContent: []go_openai.ChatMessagePart{
					{Type: go_openai.ChatMessagePartTypeText, Text: analysisPrompt},
					{
						Type: go_openai.ChatMessagePartTypeImageURL,
						ImageURL: &go_openai.ChatMessageImageURL{
							URL:    imageData,
							Detail: go_openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		MaxTokens:   500,
		Temperature: 0.7,
	})
	if err != nil {
		return "", errors.Wrap(err, "image analysis failed")
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return AnalysisFailed, nil
	}
	return resp.Choices[0].Message.Content, nil
}

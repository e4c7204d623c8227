// Package model asks a multimodal chat model which parts of a video match
// a prompt.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"promptcut/config"
	"promptcut/logger"
)

var ErrEmptyResponse = errors.New("model returned an empty response")

const instructions = `Analyze this video frame by frame with the following goal: %q.
Identify every time segment (as precisely as possible) in which the requested content is visible.
Answer ONLY with a JSON list in this format:
[
  { "start": 4.5, "end": 8.0 },
  { "start": 12.0, "end": 15.2 }
]
Times are in seconds from the start of the video.
If nothing is found, answer with an empty JSON list: [].`

// Client is a thin wrapper around an OpenAI-compatible chat completion API.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

func NewClient(cfg *config.Config) *Client {
	c := openai.DefaultConfig(cfg.ModelAPIKey)
	if cfg.ModelBaseURL != "" {
		c.BaseURL = cfg.ModelBaseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(c),
		model:   cfg.ModelName,
		timeout: cfg.ModelTimeout,
	}
}

// Instructions wraps the user's prompt with the answer format the parser expects.
func Instructions(prompt string) string {
	return fmt.Sprintf(instructions, strings.TrimSpace(prompt))
}

// FindSegments sends the video reference and the wrapped prompt, and returns the
// model's raw text answer.
func (c *Client) FindSegments(ctx context.Context, videoURL, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: videoURL},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: Instructions(prompt),
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	logger.Debugf("Model %s answered in %s (%d tokens)", c.model, time.Since(start), resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

package ai

import (
	"context"
	"errors"
	"time"
)

const summaryInstructions = "You summarize documents. Reply with a concise summary of the text you are given and nothing else."

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type ChatSummarizer struct {
	client  ChatCompleter
	router  *ModelRouter
	timeout time.Duration
}

func NewChatSummarizer(client ChatCompleter, router *ModelRouter, timeout time.Duration) *ChatSummarizer {
	if router == nil {
		router = NewModelRouter(ModelRouterConfig{})
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatSummarizer{client: client, router: router, timeout: timeout}
}

func (s *ChatSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if s.client == nil || !s.client.Available() {
		return "", ErrUnavailable
	}
	if text == "" {
		return "", errors.New("nothing to summarize")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	profile := s.router.Select(TaskSummary)
	result, err := s.client.Complete(ctx, ChatRequest{
		Model:           profile.Model,
		Instructions:    summaryInstructions,
		Parts:           []ContentPart{TextPart("Please provide a concise summary of the following text:\n\n" + text)},
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

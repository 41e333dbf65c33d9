// Package openaicompat talks to any OpenAI-compatible chat completions endpoint.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
)

type ChatModel struct {
	llm         llms.Model
	temperature float64
	executor    *resilience.Executor
}

type Options struct {
	Temperature        float64
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, apiKey, model string, options Options) (*ChatModel, error) {
	llm, err := openai.New(
		openai.WithBaseURL(strings.TrimRight(baseURL, "/")),
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai-compatible client: %w", err)
	}
	return &ChatModel{
		llm:         llm,
		temperature: options.Temperature,
		executor:    options.ResilienceExecutor,
	}, nil
}

func (m *ChatModel) Chat(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(messageType(msg.Role), msg.Content))
	}

	var answer string
	call := func(callCtx context.Context) error {
		resp, err := m.llm.GenerateContent(callCtx, content, llms.WithTemperature(m.temperature))
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}
		answer = resp.Choices[0].Content
		return nil
	}

	var err error
	if m.executor != nil {
		err = m.executor.Execute(ctx, "openai.chat", call, classifyError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if classifyError(err).Retryable {
			err = domain.WrapError(domain.ErrTemporary, "openai chat", err)
		}
		return "", domain.WrapError(domain.ErrGeneration, "chat", err)
	}
	return strings.TrimSpace(answer), nil
}

func messageType(role string) schema.ChatMessageType {
	switch role {
	case domain.RoleSystem:
		return schema.ChatMessageTypeSystem
	case "assistant":
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}

func classifyError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "500", "502", "503", "504", "rate limit"} {
		if strings.Contains(msg, marker) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/core/ports"
)

const (
	ContextPlaceholder = "{context}"
	NoContextMarker    = "(no relevant context was found)"
)

const DefaultSystemPrompt = `You are a medical assistant for question-answering tasks.
Use only the following pieces of retrieved context to answer the question.
If the context does not contain the answer, say that you don't know.
Use three sentences maximum and keep the answer concise.

` + ContextPlaceholder

// Synthesizer grounds a chat model on retrieved chunks through a system prompt
// that carries a {context} placeholder.
type Synthesizer struct {
	model        ports.ChatModel
	systemPrompt string
	instruction  string
}

func NewSynthesizer(model ports.ChatModel, systemPrompt string) (*Synthesizer, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, domain.WrapError(domain.ErrInvalidParameter, "new synthesizer", errors.New("system prompt is empty"))
	}
	if !strings.Contains(systemPrompt, ContextPlaceholder) {
		return nil, domain.WrapError(domain.ErrInvalidParameter, "new synthesizer", fmt.Errorf("system prompt has no %s placeholder", ContextPlaceholder))
	}
	instruction, _, _ := strings.Cut(systemPrompt, ContextPlaceholder)
	return &Synthesizer{
		model:        model,
		systemPrompt: systemPrompt,
		instruction:  strings.TrimSpace(instruction),
	}, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, question string, result domain.RetrievalResult) (string, error) {
	messages := s.BuildMessages(question, result)

	raw, err := s.model.Chat(ctx, messages)
	if err != nil {
		if domain.IsKind(err, domain.ErrGeneration) {
			return "", err
		}
		return "", domain.WrapError(domain.ErrGeneration, "synthesize", err)
	}

	answer := s.clean(raw)
	if answer == "" {
		return "", domain.WrapError(domain.ErrGeneration, "synthesize", errors.New("model returned an empty answer"))
	}
	return answer, nil
}

// BuildMessages renders the system message with chunk texts in place of the
// placeholder. Chunk metadata never enters the prompt.
func (s *Synthesizer) BuildMessages(question string, result domain.RetrievalResult) []domain.ChatMessage {
	contextText := NoContextMarker
	if len(result) > 0 {
		texts := make([]string, 0, len(result))
		for _, chunk := range result {
			texts = append(texts, strings.TrimSpace(chunk.Content))
		}
		contextText = strings.Join(texts, "\n\n")
	}

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: strings.ReplaceAll(s.systemPrompt, ContextPlaceholder, contextText)},
		{Role: domain.RoleUser, Content: question},
	}
}

// clean drops an echoed system instruction and role prefixes from model output.
func (s *Synthesizer) clean(raw string) string {
	answer := strings.TrimSpace(raw)
	if s.instruction != "" {
		answer = strings.TrimSpace(strings.ReplaceAll(answer, s.instruction, ""))
	}
	for _, prefix := range []string{"Assistant:", "assistant:", "Answer:"} {
		answer = strings.TrimSpace(strings.TrimPrefix(answer, prefix))
	}
	return answer
}

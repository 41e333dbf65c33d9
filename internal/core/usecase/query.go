package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/core/ports"
)

// QueryUseCase answers one question: embed, retrieve, synthesize. It holds no
// per-request state and is safe for concurrent use.
type QueryUseCase struct {
	embedder    ports.Embedder
	retriever   *Retriever
	synthesizer *Synthesizer
}

func NewQueryUseCase(
	embedder ports.Embedder,
	retriever *Retriever,
	synthesizer *Synthesizer,
) *QueryUseCase {
	return &QueryUseCase{
		embedder:    embedder,
		retriever:   retriever,
		synthesizer: synthesizer,
	}
}

func (uc *QueryUseCase) Answer(ctx context.Context, question string) (*domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("message is required"))
	}

	queryVector, err := uc.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	chunks, err := uc.retriever.Retrieve(ctx, queryVector)
	if err != nil {
		return nil, fmt.Errorf("retrieve chunks: %w", err)
	}

	answerText, err := uc.synthesizer.Synthesize(ctx, question, chunks)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &domain.Answer{
		Text:    answerText,
		Sources: chunks,
	}, nil
}

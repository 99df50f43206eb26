package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"concierge-agent/internal/domain"
)

const (
	defaultMaxQuestion = 2000
	roleUser           = "user"
	roleAssistant      = "assistant"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// HistoryProvider is the per-conversation persistence contract. Messages runs
// the engine's read-and-maybe-reduce cycle; RecordTurn persists the message
// groups of one completed turn.
type HistoryProvider interface {
	Messages(ctx context.Context) ([]domain.ChatMessage, error)
	RecordTurn(ctx context.Context, groups ...[]domain.ChatMessage) error
}

// ProviderFunc resolves a HistoryProvider for a conversation id.
type ProviderFunc func(conversationID string) (HistoryProvider, error)

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// TurnService runs one concierge chat turn: load history, call the LLM,
// persist the turn. History is persisted only after the LLM call succeeds, so
// a failed turn leaves zero new documents behind.
type TurnService struct {
	params         ParamGetter
	llm            LLMClient
	providerFor    ProviderFunc
	paramPrefix    string
	maxQuestionLen int

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	systemPrompt string
	model        string
}

type TurnInput struct {
	Question       string
	ConversationID string
}

type TurnOutput struct {
	Answer         string
	ConversationID string
}

func NewTurnService(p ParamGetter, llm LLMClient, providerFor ProviderFunc, paramPrefix string, maxQuestionLen int) (*TurnService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if providerFor == nil {
		return nil, errors.New("usecase: history provider resolver must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxQuestionLen <= 0 {
		maxQuestionLen = defaultMaxQuestion
	}
	return &TurnService{
		params:         p,
		llm:            llm,
		providerFor:    providerFor,
		paramPrefix:    paramPrefix,
		maxQuestionLen: maxQuestionLen,
	}, nil
}

func (s *TurnService) Ask(ctx context.Context, in TurnInput) (TurnOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if len(question) > s.maxQuestionLen {
		return TurnOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}

	provider, err := s.providerFor(convID)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "history_provider_error", err)
	}

	hist, err := provider.Messages(ctx)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "history_read_error", err)
	}

	answer, err := s.llm.Chat(ctx, s.model, buildPromptMessages(s.systemPrompt, hist, question))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return TurnOutput{}, newError(ErrorRateLimited, "llm_rate_limited", err)
		}
		return TurnOutput{}, newError(ErrorUpstream, "llm_error", err)
	}

	// The turn succeeded; only now does anything reach storage.
	err = provider.RecordTurn(ctx,
		[]domain.ChatMessage{{Role: roleUser, Content: question}},
		[]domain.ChatMessage{{Role: roleAssistant, Content: answer}},
	)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "history_write_error", err)
	}

	return TurnOutput{Answer: answer, ConversationID: convID}, nil
}

func (s *TurnService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	systemPrompt, err := s.params.GetParameter(ctx, s.paramPrefix+"/system_prompt")
	if err != nil {
		return fmt.Errorf("usecase: load system prompt: %w", err)
	}
	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/model")
	if err != nil {
		return fmt.Errorf("usecase: load model: %w", err)
	}

	s.systemPrompt = systemPrompt
	s.model = model
	s.cacheLoaded = true
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}

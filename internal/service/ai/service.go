package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/moodbridge/backend/internal/config"
	"github.com/moodbridge/backend/internal/model/chat"
)

const systemPrompt = "You are MoodBridge, a warm and supportive companion. " +
	"Listen closely, acknowledge how the user feels, and answer in a few " +
	"encouraging sentences. Never give medical advice."

// historyLimit bounds how many prior turns are replayed into the prompt.
const historyLimit = 10

// Service generates completions through an eino prompt/model chain.
type Service struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *zap.SugaredLogger
}

// NewService builds the chain for the configured provider.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.SugaredLogger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		logger:    logger,
	}, nil
}

// Complete runs one user message through the chain and returns the
// reply text. History is replayed with a bounded window.
func (s *Service) Complete(ctx context.Context, history []chat.Turn, userMessage string) (string, error) {
	input := map[string]any{
		"system":  systemPrompt,
		"history": buildHistoryMessages(history),
		"query":   userMessage,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("run completion chain: %w", err)
	}

	s.logger.Debugw("completion generated", "length", len(response.Content))
	return response.Content, nil
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > historyLimit {
		startIdx = len(turns) - historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(turn.Text))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(turn.Text, nil))
		}
	}

	return history
}

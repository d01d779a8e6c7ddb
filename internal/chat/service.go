// Package chat orchestrates one chat turn: persist the user message, ask
// the LLM, dispatch the tool calls it proposes, narrate the results, and
// persist the reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/taskchat/internal/llm"
	"github.com/basket/taskchat/internal/store"
	"github.com/basket/taskchat/internal/telemetry"
	"github.com/basket/taskchat/internal/tools"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// maxConversationTitle caps the auto-generated conversation title length.
const maxConversationTitle = 50

// historyWindow is how many stored messages feed the LLM as context.
const historyWindow = 20

var (
	// ErrOwnerMismatch means the caller asked to chat as someone else.
	ErrOwnerMismatch = errors.New("owner mismatch")
	// ErrConversationNotFound means the conversation is absent or not the caller's.
	ErrConversationNotFound = errors.New("conversation not found")
)

// TurnRequest is one incoming chat message.
type TurnRequest struct {
	// OwnerID is the user id asserted in the request path.
	OwnerID string
	// CallerID is the authenticated identity from the token.
	CallerID string
	// ConversationID selects an existing conversation; zero starts a new one.
	ConversationID int64
	Message        string
}

// ToolCallRecord pairs a dispatched tool name with its raw result.
type ToolCallRecord struct {
	Tool   string       `json:"tool"`
	Result tools.Result `json:"result"`
}

// TurnResult is the outcome of one chat turn.
type TurnResult struct {
	ConversationID int64            `json:"conversation_id"`
	Reply          string           `json:"message"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
}

// Service runs chat turns against the store, the LLM client, and the
// tool registry.
type Service struct {
	store    *store.Store
	client   llm.Client
	registry *tools.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
}

// NewService wires a chat service. tracer and metrics may be nil.
func NewService(st *store.Store, client llm.Client, reg *tools.Registry, logger *slog.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(telemetry.TracerName)
	}
	return &Service{
		store:    st,
		client:   client,
		registry: reg,
		logger:   logger,
		tracer:   tracer,
		metrics:  metrics,
	}
}

// Turn processes one chat message end to end. Tool errors become narrated
// replies; only LLM transport or storage failures return an error. The user
// message persisted early in the turn is kept even when a later step fails,
// so the conversation log stays truthful.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.CallerID != req.OwnerID {
		return TurnResult{}, ErrOwnerMismatch
	}

	ctx, span := telemetry.StartSpan(ctx, s.tracer, "chat.turn",
		telemetry.AttrUserID.String(req.OwnerID))
	defer span.End()

	conv, err := s.resolveConversation(ctx, req)
	if err != nil {
		return TurnResult{}, err
	}
	span.SetAttributes(telemetry.AttrConversationID.Int64(conv.ID))

	userMsg, err := s.store.AppendMessage(ctx, conv.ID, "user", req.Message)
	if err != nil {
		return TurnResult{}, fmt.Errorf("persist user message: %w", err)
	}

	history, err := s.loadHistory(ctx, conv.ID, userMsg.ID)
	if err != nil {
		return TurnResult{}, err
	}

	// No transaction is held here; the LLM call is the long pole.
	llmStart := time.Now()
	llmCtx, llmSpan := telemetry.StartClientSpan(ctx, s.tracer, "llm.chat")
	reply, err := s.client.Chat(llmCtx, req.Message, history, req.OwnerID)
	llmSpan.End()
	if s.metrics != nil {
		s.metrics.LLMCallDuration.Record(ctx, time.Since(llmStart).Seconds())
	}
	if err != nil {
		return TurnResult{}, fmt.Errorf("llm chat: %w", err)
	}

	finalReply := reply.Text
	var records []ToolCallRecord
	for _, call := range reply.ToolCalls {
		dispatchStart := time.Now()
		toolCtx, toolSpan := telemetry.StartSpan(ctx, s.tracer, "tool.dispatch",
			telemetry.AttrToolName.String(call.Name))
		res := s.registry.Dispatch(toolCtx, call.Name, call.Arguments, req.OwnerID)
		toolSpan.End()
		if s.metrics != nil {
			s.metrics.ToolCallDuration.Record(ctx, time.Since(dispatchStart).Seconds())
			if !res.OK {
				s.metrics.ToolCallErrors.Add(ctx, 1)
			}
		}

		records = append(records, ToolCallRecord{Tool: call.Name, Result: res})
		// The last executed tool's narration replaces the reply outright.
		finalReply = Narrate(call.Name, res, finalReply)
	}

	if _, err := s.store.AppendMessage(ctx, conv.ID, "assistant", finalReply); err != nil {
		return TurnResult{}, fmt.Errorf("persist assistant message: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ChatTurns.Add(ctx, 1)
	}
	s.logger.Info("chat turn complete",
		"user_id", req.OwnerID,
		"conversation_id", conv.ID,
		"tool_calls", len(records))

	return TurnResult{
		ConversationID: conv.ID,
		Reply:          finalReply,
		ToolCalls:      records,
	}, nil
}

func (s *Service) resolveConversation(ctx context.Context, req TurnRequest) (store.Conversation, error) {
	if req.ConversationID != 0 {
		conv, err := s.store.GetConversation(ctx, req.ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Conversation{}, ErrConversationNotFound
		}
		if err != nil {
			return store.Conversation{}, fmt.Errorf("resolve conversation: %w", err)
		}
		if conv.UserID != req.OwnerID {
			return store.Conversation{}, ErrConversationNotFound
		}
		return conv, nil
	}
	conv, err := s.store.CreateConversation(ctx, req.OwnerID, conversationTitle(req.Message))
	if err != nil {
		return store.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// loadHistory returns the conversation's recent messages in chronological
// order, excluding the just-persisted user message.
func (s *Service) loadHistory(ctx context.Context, conversationID, excludeID int64) ([]llm.Turn, error) {
	msgs, err := s.store.RecentMessages(ctx, conversationID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var history []llm.Turn
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.ID == excludeID {
			continue
		}
		history = append(history, llm.Turn{Role: m.Role, Text: m.Content})
	}
	return history, nil
}

func conversationTitle(message string) string {
	runes := []rune(message)
	if len(runes) > maxConversationTitle {
		return string(runes[:maxConversationTitle]) + "..."
	}
	return message
}

package service

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/liliang-cn/veilchat/internal/config"
	"github.com/liliang-cn/veilchat/internal/domain"
	"github.com/liliang-cn/veilchat/internal/pii"
	"github.com/liliang-cn/veilchat/internal/provider"
	"github.com/liliang-cn/veilchat/internal/repository"
)

// CompletionProvider is the completion capability the chat service consumes
type CompletionProvider interface {
	StreamCompletion(ctx context.Context, messages []provider.ChatMessage) (provider.Stream, error)
	Completion(ctx context.Context, messages []provider.ChatMessage) (string, *provider.Usage, error)
	EstimateTokens(messages []provider.ChatMessage) int
}

// PIIDetector is the AI-based detection capability. Implementations degrade
// to an unsuccessful Result instead of returning errors.
type PIIDetector interface {
	DetectPII(ctx context.Context, text string, meta pii.RequestMeta) pii.Result
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// ChatService owns the per-request streaming lifecycle: it validates and
// authorizes a send, streams the completion to the client, runs batched PII
// detection alongside the stream, and persists the turn when the stream ends.
type ChatService struct {
	cfg              *config.Config
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	provider         CompletionProvider
	regex            *pii.RegexDetector
	aiDetector       PIIDetector
	rateLimiter      *RateLimiter
	quota            *QuotaTracker
	enabledTypes     []domain.PIIType
	logger           *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(
	cfg *config.Config,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	completionProvider CompletionProvider,
	aiDetector PIIDetector,
	rateLimiter *RateLimiter,
	quota *QuotaTracker,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		cfg:              cfg,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		provider:         completionProvider,
		regex:            pii.NewRegexDetector(),
		aiDetector:       aiDetector,
		rateLimiter:      rateLimiter,
		quota:            quota,
		enabledTypes:     pii.ParseTypes(cfg.PII.EnabledTypes),
		logger:           logger,
	}
}

// CreateConversation creates a conversation for a user
func (s *ChatService) CreateConversation(userID, title string) (*domain.Conversation, error) {
	if title == "" {
		title = "New Conversation"
	}
	conversation := &domain.Conversation{UserID: userID, Title: title}
	if err := s.conversationRepo.Create(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// ListConversations lists a user's conversations
func (s *ChatService) ListConversations(userID string) ([]*domain.Conversation, error) {
	return s.conversationRepo.ListByUser(userID)
}

// GetConversation retrieves a conversation, enforcing ownership
func (s *ChatService) GetConversation(userID, conversationID string) (*domain.Conversation, error) {
	conversation, err := s.conversationRepo.Get(conversationID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, domain.ErrNotFound
	}
	if conversation.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return conversation, nil
}

// DeleteConversation deletes a conversation, enforcing ownership
func (s *ChatService) DeleteConversation(userID, conversationID string) error {
	if _, err := s.GetConversation(userID, conversationID); err != nil {
		return err
	}
	return s.conversationRepo.Delete(conversationID)
}

// ListMessages retrieves a conversation's messages with their detection
// metadata attached according to the configured storage mode
func (s *ChatService) ListMessages(userID, conversationID string) ([]*domain.Message, error) {
	if _, err := s.GetConversation(userID, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListByConversation(conversationID)
	if err != nil {
		return nil, err
	}

	for _, m := range messages {
		if m.Role != "assistant" {
			continue
		}
		if s.cfg.PII.StorageMode == config.StorageModeTags {
			text, regions := pii.ParseTags(m.Content)
			m.Content = text
			for _, region := range regions {
				m.Detections = append(m.Detections, region.Detection())
			}
		} else {
			detections, err := s.messageRepo.ListDetections(m.ID)
			if err != nil {
				return nil, err
			}
			m.Detections = detections
		}
	}

	return messages, nil
}

// validateSend performs all pre-stream checks: input sanitation, ownership,
// message-count cap, rate limit and daily quota. Violations surface as typed
// errors before any stream is opened or any row is written.
func (s *ChatService) validateSend(userID, conversationID, message string) (string, *domain.Conversation, error) {
	sanitized := strings.TrimSpace(htmlTagRe.ReplaceAllString(message, ""))
	if sanitized == "" {
		return "", nil, fmt.Errorf("%w: empty message", domain.ErrInvalidRequest)
	}
	if len(sanitized) > s.cfg.Limits.MaxMessageChars {
		return "", nil, fmt.Errorf("%w: message exceeds %d characters",
			domain.ErrInvalidRequest, s.cfg.Limits.MaxMessageChars)
	}

	conversation, err := s.conversationRepo.Get(conversationID)
	if err != nil {
		return "", nil, err
	}
	if conversation == nil {
		return "", nil, domain.ErrNotFound
	}
	if conversation.UserID != userID {
		return "", nil, domain.ErrForbidden
	}
	if conversation.MessageCount >= s.cfg.Limits.MaxMessagesPerConversation {
		return "", nil, fmt.Errorf("%w: conversation message limit reached", domain.ErrInvalidRequest)
	}

	if err := s.rateLimiter.Allow(userID); err != nil {
		return "", nil, err
	}
	if err := s.quota.CheckQuota(userID); err != nil {
		return "", nil, err
	}

	return sanitized, conversation, nil
}

// StreamMessage validates a send and starts the streaming turn. Validation
// failures are returned before any event is produced; after that, all
// outcomes including errors are delivered in-band on the event channel,
// which is closed when the turn is over.
func (s *ChatService) StreamMessage(ctx context.Context, userID, conversationID string, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	sanitized, conversation, err := s.validateSend(userID, conversationID, req.Message)
	if err != nil {
		return nil, err
	}

	// The user message is persisted before streaming starts so it survives a
	// failed assistant turn; it is deleted again if the turn fails before an
	// assistant message exists.
	userMsg := &domain.Message{
		ConversationID: conversation.ID,
		Role:           "user",
		Content:        sanitized,
	}
	if err := s.messageRepo.Create(userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	events := make(chan domain.StreamEvent, 64)
	go s.runStream(ctx, conversation, userMsg, events)
	return events, nil
}

// streamSession is the ephemeral state of one in-flight streaming turn
type streamSession struct {
	ctx    context.Context
	events chan<- domain.StreamEvent

	assistantContent strings.Builder
	contentBuffer    string
	// detectBase is the absolute offset of the start of contentBuffer,
	// recorded per batch so detections can be rebased to message offsets.
	detectBase int

	mu            sync.Mutex
	allDetections []domain.Detection

	wg sync.WaitGroup
}

// emit sends an event unless the session context is done. Detection
// callbacks may fire after the response closed; the context guard keeps them
// from blocking or writing to a closed stream.
func (sess *streamSession) emit(ev domain.StreamEvent) bool {
	select {
	case sess.events <- ev:
		return true
	case <-sess.ctx.Done():
		return false
	}
}

func (s *ChatService) runStream(ctx context.Context, conversation *domain.Conversation, userMsg *domain.Message, events chan<- domain.StreamEvent) {
	sessCtx, cancel := context.WithCancel(ctx)
	sess := &streamSession{ctx: sessCtx, events: events}
	defer func() {
		// Join outstanding detection tasks before the channel closes so no
		// callback ever writes to a closed stream.
		cancel()
		sess.wg.Wait()
		close(events)
	}()

	meta := pii.RequestMeta{UserID: conversation.UserID, ConversationID: conversation.ID}

	history, err := s.messageRepo.ListRecent(conversation.ID, s.cfg.Context.MaxMessages)
	if err != nil {
		s.failStream(sess, userMsg, fmt.Errorf("load context: %w", err))
		return
	}
	contextMessages := s.contextFromHistory(history)

	stream, err := s.provider.StreamCompletion(sessCtx, contextMessages)
	if err != nil {
		s.failStream(sess, userMsg, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err))
		return
	}
	defer stream.Close()

	piiOn := s.cfg.PII.Enabled
	var usage *provider.Usage

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.failStream(sess, userMsg, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err))
			return
		}

		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.Content == "" {
			continue
		}

		// Content goes to the client immediately and unmasked; masking is an
		// out-of-band annotation, never a gate on the stream.
		sess.assistantContent.WriteString(chunk.Content)
		if !sess.emit(domain.NewContentEvent(chunk.Content)) {
			return
		}

		if piiOn {
			sess.contentBuffer += chunk.Content
			batches, remaining := pii.ExtractBatches(sess.contentBuffer, s.cfg.PII.MaxBatchChars)
			sess.contentBuffer = remaining
			for _, batch := range batches {
				s.spawnDetection(sess, batch, sess.detectBase, meta)
				sess.detectBase += len(batch)
			}
		}
	}

	// Finalize: flush the tail through the same pipeline, then join every
	// outstanding detection task so persistence sees all detections.
	if piiOn && sess.contentBuffer != "" {
		s.spawnDetection(sess, sess.contentBuffer, sess.detectBase, meta)
		sess.detectBase += len(sess.contentBuffer)
		sess.contentBuffer = ""
	}
	sess.wg.Wait()

	content := sess.assistantContent.String()
	promptTokens, completionTokens := s.tokenCounts(usage, contextMessages, content)

	sess.mu.Lock()
	detections := make([]domain.Detection, len(sess.allDetections))
	copy(detections, sess.allDetections)
	sess.mu.Unlock()
	sortDetections(detections)

	assistantMsg, err := s.persistAssistantTurn(conversation, userMsg, content, detections, promptTokens, completionTokens)
	if err != nil {
		s.failStream(sess, userMsg, fmt.Errorf("persist assistant turn: %w", err))
		return
	}

	sess.emit(domain.NewDoneEvent(userMsg.ID, assistantMsg.ID, promptTokens+completionTokens))
}

// failStream converts a mid-stream failure into a terminal error event and
// removes the now-orphaned user message. The HTTP response already started,
// so the failure can only be signaled in-band.
func (s *ChatService) failStream(sess *streamSession, userMsg *domain.Message, err error) {
	s.logger.Error("stream failed",
		zap.String("conversation_id", userMsg.ConversationID),
		zap.Error(err),
	)
	sess.emit(domain.NewErrorEvent(err.Error()))
	s.discardUserMessage(userMsg)
}

// discardUserMessage removes a persisted user message after its turn failed
// before an assistant message existed. Best effort: the caller is already on
// an error path.
func (s *ChatService) discardUserMessage(userMsg *domain.Message) {
	if err := s.messageRepo.Delete(userMsg.ID); err != nil {
		s.logger.Warn("failed to clean up user message",
			zap.String("message_id", userMsg.ID),
			zap.Error(err),
		)
	}
}

// spawnDetection runs detection for one batch concurrently with continued
// chunk consumption. The callback rebases batch-relative offsets to absolute
// offsets using the batch's base, appends to the shared accumulator and
// emits one pii_mask event per detection. Failures never reach the main
// stream's error path.
func (s *ChatService) spawnDetection(sess *streamSession, batch string, base int, meta pii.RequestMeta) {
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("pii detection panicked",
					zap.String("conversation_id", meta.ConversationID),
					zap.Any("panic", r),
				)
			}
		}()

		detections := s.detectBatch(sess.ctx, batch, meta)
		if len(detections) == 0 {
			return
		}

		absolute := make([]domain.Detection, len(detections))
		for i, d := range detections {
			absolute[i] = d.Shift(base)
		}

		sess.mu.Lock()
		sess.allDetections = append(sess.allDetections, absolute...)
		sess.mu.Unlock()

		for _, d := range absolute {
			if !sess.emit(domain.NewPIIMaskEvent(d)) {
				return
			}
		}
	}()
}

// detectBatch runs the regex detector inline (cheap) and the AI detector
// with its timeout, then merges with regex precedence
func (s *ChatService) detectBatch(ctx context.Context, text string, meta pii.RequestMeta) []domain.Detection {
	regexResults := s.regex.Detect(text, s.enabledTypes)

	var aiResults []domain.Detection
	if s.aiDetector != nil {
		started := time.Now()
		result := s.aiDetector.DetectPII(ctx, text, meta)
		s.quota.TrackDetectorCall(meta.UserID, time.Since(started))
		if result.Success {
			aiResults = result.Detections
		}
	}

	return pii.Merge(regexResults, aiResults)
}

// SendMessage is the non-streaming path: one completion call, one detection
// pass over the full reply, persisted the same way as a streamed turn
func (s *ChatService) SendMessage(ctx context.Context, userID, conversationID string, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	sanitized, conversation, err := s.validateSend(userID, conversationID, req.Message)
	if err != nil {
		return nil, err
	}

	userMsg := &domain.Message{
		ConversationID: conversation.ID,
		Role:           "user",
		Content:        sanitized,
	}
	if err := s.messageRepo.Create(userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	history, err := s.messageRepo.ListRecent(conversation.ID, s.cfg.Context.MaxMessages)
	if err != nil {
		s.discardUserMessage(userMsg)
		return nil, fmt.Errorf("load context: %w", err)
	}
	contextMessages := s.contextFromHistory(history)

	content, usage, err := s.provider.Completion(ctx, contextMessages)
	if err != nil {
		s.discardUserMessage(userMsg)
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}

	var detections []domain.Detection
	if s.cfg.PII.Enabled {
		meta := pii.RequestMeta{UserID: userID, ConversationID: conversation.ID}
		detections = s.detectBatch(ctx, content, meta)
	}

	promptTokens, completionTokens := s.tokenCounts(usage, contextMessages, content)
	assistantMsg, err := s.persistAssistantTurn(conversation, userMsg, content, detections, promptTokens, completionTokens)
	if err != nil {
		s.discardUserMessage(userMsg)
		return nil, err
	}

	return &domain.ChatResponse{
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		Content:            content,
		Detections:         detections,
		TotalTokens:        promptTokens + completionTokens,
	}, nil
}

// persistAssistantTurn writes the assistant message and its detection
// metadata. Detection persistence is best-effort with independent failure
// isolation: it never fails an already-delivered completion.
func (s *ChatService) persistAssistantTurn(
	conversation *domain.Conversation,
	userMsg *domain.Message,
	content string,
	detections []domain.Detection,
	promptTokens, completionTokens int,
) (*domain.Message, error) {
	stored := content
	if s.cfg.PII.StorageMode == config.StorageModeTags && len(detections) > 0 {
		stored = pii.InsertTags(content, detections, s.logger)
	}

	assistantMsg := &domain.Message{
		ConversationID: conversation.ID,
		Role:           "assistant",
		Content:        stored,
		TokenCount:     completionTokens,
	}
	if err := s.messageRepo.Create(assistantMsg); err != nil {
		return nil, err
	}

	if s.cfg.PII.StorageMode == config.StorageModeDetections && len(detections) > 0 {
		if err := s.messageRepo.InsertDetections(assistantMsg.ID, detections); err != nil {
			s.logger.Warn("failed to persist detections",
				zap.String("message_id", assistantMsg.ID),
				zap.Int("count", len(detections)),
				zap.Error(err),
			)
		}
	}

	userTokens := s.provider.EstimateTokens([]provider.ChatMessage{{Role: "user", Content: userMsg.Content}})
	if err := s.messageRepo.UpdateTokenCount(userMsg.ID, userTokens); err != nil {
		s.logger.Warn("failed to update user message tokens", zap.Error(err))
	}
	if err := s.conversationRepo.AddTokens(conversation.ID, promptTokens+completionTokens); err != nil {
		s.logger.Warn("failed to update conversation tokens", zap.Error(err))
	}
	s.quota.TrackUsage(conversation.UserID, promptTokens+completionTokens)

	return assistantMsg, nil
}

// tokenCounts prefers usage reported by the provider and falls back to
// estimation when the final chunk carried none
func (s *ChatService) tokenCounts(usage *provider.Usage, contextMessages []provider.ChatMessage, content string) (int, int) {
	if usage != nil && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		return usage.PromptTokens, usage.CompletionTokens
	}
	promptTokens := s.provider.EstimateTokens(contextMessages)
	completionTokens := s.provider.EstimateTokens([]provider.ChatMessage{{Role: "assistant", Content: content}})
	return promptTokens, completionTokens
}

// contextFromHistory converts stored messages into provider context. In tag
// storage mode assistant content carries tag markup, which must not leak
// back into the model's context.
func (s *ChatService) contextFromHistory(messages []*domain.Message) []provider.ChatMessage {
	out := make([]provider.ChatMessage, len(messages))
	for i, m := range messages {
		content := m.Content
		if m.Role == "assistant" && s.cfg.PII.StorageMode == config.StorageModeTags {
			content, _ = pii.ParseTags(content)
		}
		out[i] = provider.ChatMessage{Role: m.Role, Content: content}
	}
	return out
}

func sortDetections(detections []domain.Detection) {
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].StartOffset < detections[j].StartOffset
	})
}

package domain

import "time"

// Conversation represents a chat conversation owned by a user
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	TotalTokens  int       `json:"total_tokens"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message represents a chat message
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           string      `json:"role"` // user, assistant
	Content        string      `json:"content"`
	TokenCount     int         `json:"token_count"`
	Detections     []Detection `json:"detections,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ChatRequest is the request to send a chat message
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// ChatResponse is the response for a non-streaming chat message
type ChatResponse struct {
	UserMessageID      string      `json:"user_message_id"`
	AssistantMessageID string      `json:"assistant_message_id"`
	Content            string      `json:"content"`
	Detections         []Detection `json:"detections,omitempty"`
	TotalTokens        int         `json:"total_tokens"`
}

// CreateConversationRequest is the request to create a conversation
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// StreamEvent is one server-sent event in a chat stream
type StreamEvent interface {
	EventType() string
}

// ContentEvent carries a plain, unmasked text delta. The client accumulates
// deltas in the order received.
type ContentEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (e ContentEvent) EventType() string { return e.Type }

// NewContentEvent creates a content event
func NewContentEvent(content string) ContentEvent {
	return ContentEvent{Type: "content", Content: content}
}

// PIIMaskEvent is a retroactive masking instruction: bytes
// [StartOffset, EndOffset) of the accumulated assistant message should be
// rendered masked. Offsets are absolute for the whole message and may arrive
// after the content they refer to.
type PIIMaskEvent struct {
	Type           string  `json:"type"`
	StartOffset    int     `json:"startOffset"`
	EndOffset      int     `json:"endOffset"`
	PIIType        PIIType `json:"piiType"`
	OriginalLength int     `json:"originalLength"`
}

func (e PIIMaskEvent) EventType() string { return e.Type }

// NewPIIMaskEvent creates a pii_mask event for a detection
func NewPIIMaskEvent(d Detection) PIIMaskEvent {
	return PIIMaskEvent{
		Type:           "pii_mask",
		StartOffset:    d.StartOffset,
		EndOffset:      d.EndOffset,
		PIIType:        d.PIIType,
		OriginalLength: d.EndOffset - d.StartOffset,
	}
}

// DoneEvent is the terminal success marker of a stream
type DoneEvent struct {
	Type               string `json:"type"`
	UserMessageID      string `json:"userMessageId"`
	AssistantMessageID string `json:"assistantMessageId"`
	TotalTokens        int    `json:"totalTokens"`
}

func (e DoneEvent) EventType() string { return e.Type }

// NewDoneEvent creates a done event
func NewDoneEvent(userMessageID, assistantMessageID string, totalTokens int) DoneEvent {
	return DoneEvent{
		Type:               "done",
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		TotalTokens:        totalTokens,
	}
}

// ErrorEvent is the terminal failure marker of a stream; no events follow it
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (e ErrorEvent) EventType() string { return e.Type }

// NewErrorEvent creates an error event
func NewErrorEvent(msg string) ErrorEvent {
	return ErrorEvent{Type: "error", Error: msg}
}

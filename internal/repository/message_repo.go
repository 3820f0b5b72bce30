package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/veilchat/internal/domain"
)

// MessageRepository handles message and detection persistence
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create creates a new message
func (r *MessageRepository) Create(message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.CreatedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, message.ID, message.ConversationID, message.Role, message.Content,
		message.TokenCount, message.CreatedAt)

	return err
}

// ListByConversation retrieves all messages for a conversation in order
func (r *MessageRepository) ListByConversation(conversationID string) ([]*domain.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, conversation_id, role, content, token_count, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		if err := rows.Scan(&message.ID, &message.ConversationID, &message.Role,
			&message.Content, &message.TokenCount, &message.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// ListRecent retrieves the last limit messages of a conversation in
// chronological order, for provider context
func (r *MessageRepository) ListRecent(conversationID string, limit int) ([]*domain.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, conversation_id, role, content, token_count, created_at FROM (
			SELECT id, conversation_id, role, content, token_count, created_at
			FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		if err := rows.Scan(&message.ID, &message.ConversationID, &message.Role,
			&message.Content, &message.TokenCount, &message.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// CountByConversation returns the number of messages in a conversation
func (r *MessageRepository) CountByConversation(conversationID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&count)
	return count, err
}

// UpdateTokenCount sets a message's token count
func (r *MessageRepository) UpdateTokenCount(id string, tokenCount int) error {
	_, err := r.db.Exec(`UPDATE messages SET token_count = ? WHERE id = ?`, tokenCount, id)
	return err
}

// Delete deletes a message; detections cascade
func (r *MessageRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// InsertDetections batch-inserts detection rows for a message in one
// transaction. Duplicate spans are ignored rather than failing the batch.
func (r *MessageRepository) InsertDetections(messageID string, detections []domain.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO detections
			(id, message_id, pii_type, start_offset, end_offset, placeholder, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, d := range detections {
		if _, err := stmt.Exec(uuid.New().String(), messageID, string(d.PIIType),
			d.StartOffset, d.EndOffset, d.Placeholder, d.Confidence, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListDetections retrieves the detections of a message sorted by offset
func (r *MessageRepository) ListDetections(messageID string) ([]domain.Detection, error) {
	rows, err := r.db.Query(`
		SELECT pii_type, start_offset, end_offset, placeholder, confidence
		FROM detections WHERE message_id = ?
		ORDER BY start_offset ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []domain.Detection
	for rows.Next() {
		var d domain.Detection
		var piiType string
		if err := rows.Scan(&piiType, &d.StartOffset, &d.EndOffset,
			&d.Placeholder, &d.Confidence); err != nil {
			return nil, err
		}
		d.PIIType = domain.PIIType(piiType)
		detections = append(detections, d)
	}

	return detections, rows.Err()
}

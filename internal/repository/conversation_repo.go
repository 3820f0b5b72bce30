package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/veilchat/internal/domain"
)

// ConversationRepository handles conversation persistence
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create creates a new conversation
func (r *ConversationRepository) Create(conversation *domain.Conversation) error {
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO conversations (id, user_id, title, total_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conversation.ID, conversation.UserID, conversation.Title,
		conversation.TotalTokens, conversation.CreatedAt, conversation.UpdatedAt)

	return err
}

// Get retrieves a conversation by ID, with its current message count
func (r *ConversationRepository) Get(id string) (*domain.Conversation, error) {
	conversation := &domain.Conversation{}
	var title sql.NullString

	err := r.db.QueryRow(`
		SELECT c.id, c.user_id, c.title, c.total_tokens,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			c.created_at, c.updated_at
		FROM conversations c WHERE c.id = ?
	`, id).Scan(&conversation.ID, &conversation.UserID, &title,
		&conversation.TotalTokens, &conversation.MessageCount,
		&conversation.CreatedAt, &conversation.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if title.Valid {
		conversation.Title = title.String
	}

	return conversation, nil
}

// ListByUser retrieves all conversations owned by a user
func (r *ConversationRepository) ListByUser(userID string) ([]*domain.Conversation, error) {
	rows, err := r.db.Query(`
		SELECT c.id, c.user_id, c.title, c.total_tokens,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			c.created_at, c.updated_at
		FROM conversations c WHERE c.user_id = ?
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conversation := &domain.Conversation{}
		var title sql.NullString

		if err := rows.Scan(&conversation.ID, &conversation.UserID, &title,
			&conversation.TotalTokens, &conversation.MessageCount,
			&conversation.CreatedAt, &conversation.UpdatedAt); err != nil {
			return nil, err
		}

		if title.Valid {
			conversation.Title = title.String
		}
		conversations = append(conversations, conversation)
	}

	return conversations, rows.Err()
}

// Delete deletes a conversation; messages and detections cascade
func (r *ConversationRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// AddTokens adds to a conversation's running token total and touches its
// updated_at timestamp
func (r *ConversationRepository) AddTokens(id string, tokens int) error {
	_, err := r.db.Exec(`
		UPDATE conversations SET total_tokens = total_tokens + ?, updated_at = ?
		WHERE id = ?
	`, tokens, time.Now(), id)
	return err
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Conversation is an append-only chat session owned by a user.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn inside a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateConversation opens a new conversation for the owner.
func (s *Store) CreateConversation(ctx context.Context, owner, title string) (Conversation, error) {
	now := time.Now().UTC()
	var id int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO conversations (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?);`,
			owner, nullIfEmpty(title), now, now,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return Conversation{ID: id, UserID: owner, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetConversation fetches a conversation by id. Returns ErrNotFound when absent.
func (s *Store) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	var (
		c     Conversation
		title sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?;`, id,
	).Scan(&c.ID, &c.UserID, &title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation %d: %w", id, err)
	}
	if title.Valid {
		c.Title = title.String
	}
	return c, nil
}

// ListConversations returns the owner's conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, owner string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at FROM conversations
		WHERE user_id = ? ORDER BY updated_at DESC, id DESC LIMIT ?;`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var (
			c     Conversation
			title sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.UserID, &title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if title.Valid {
			c.Title = title.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendMessage adds a turn to a conversation and bumps its updated_at.
// Both writes share one transaction so a busy retry reruns an all-or-nothing
// unit, never a second INSERT for an already-committed message.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, role, content string) (Message, error) {
	now := time.Now().UTC()
	var id int64
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?);`,
			conversationID, role, content, now,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?;`, now, conversationID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return Message{ID: id, ConversationID: conversationID, Role: role, Content: content, CreatedAt: now}, nil
}

// RecentMessages returns up to limit messages newest-first. Callers reverse
// the slice when they need chronological order.
func (s *Store) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY id DESC LIMIT ?;`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

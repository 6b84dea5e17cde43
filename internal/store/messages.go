package store

import (
	"context"
	"fmt"

	"chatvault/internal/model"
)

// SaveMessages writes a batch of messages in one transaction: either every
// row lands or none does. An empty batch is a no-op and opens no
// transaction. Each confidential field is encrypted with its own nonce.
func (s *Store) SaveMessages(ctx context.Context, msgs []model.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := s.readyForCrypto(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		author, err := s.crypto.Encrypt(m.Author)
		if err != nil {
			return fmt.Errorf("encrypt author: %w", err)
		}
		content, err := s.crypto.Encrypt(m.Content)
		if err != nil {
			return fmt.Errorf("encrypt content: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO messages (message_id, conversation_id, timestamp_utc, author, content, content_type)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.MessageID, m.ConversationID, m.TimestampUTC, author, content, m.ContentType,
		)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", m.MessageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetMessagesForConversation returns all messages of a conversation in
// ascending timestamp order (insertion order breaks ties), decrypted.
func (s *Store) GetMessagesForConversation(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	if err := s.readyForCrypto(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, conversation_id, timestamp_utc, author, content, content_type
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp_utc ASC, rowid ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.ChatMessage
	for rows.Next() {
		var (
			m               model.ChatMessage
			author, content string
		)
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.TimestampUTC, &author, &content, &m.ContentType); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.Author, err = s.crypto.Decrypt(author); err != nil {
			return nil, fmt.Errorf("decrypt author for %s: %w", m.MessageID, err)
		}
		if m.Content, err = s.crypto.Decrypt(content); err != nil {
			return nil, fmt.Errorf("decrypt content for %s: %w", m.MessageID, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"chatvault/internal/model"
)

// orderColumns whitelists the sortable columns for GetConversations.
var orderColumns = map[string]bool{
	"end_time":   true,
	"start_time": true,
	"id":         true,
}

// SaveConversation encrypts the confidential fields and upserts the row,
// fully replacing any prior row with the same id.
func (s *Store) SaveConversation(ctx context.Context, c model.Conversation) error {
	if err := s.readyForCrypto(); err != nil {
		return err
	}

	name, err := s.crypto.Encrypt(c.DisplayName)
	if err != nil {
		return fmt.Errorf("encrypt display_name: %w", err)
	}
	tagsJSON, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	tags, err := s.crypto.Encrypt(string(tagsJSON))
	if err != nil {
		return fmt.Errorf("encrypt tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversations (id, source_app, chat_type, display_name, start_time, end_time, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SourceApp, c.ChatType, name, c.StartTime, c.EndTime, tags,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// GetConversations returns one page of conversations ordered by the
// requested column, with confidential fields decrypted.
func (s *Store) GetConversations(ctx context.Context, orderBy string, limit, offset int) ([]model.Conversation, error) {
	if err := s.readyForCrypto(); err != nil {
		return nil, err
	}
	if !orderColumns[orderBy] {
		return nil, fmt.Errorf("invalid order column %q", orderBy)
	}

	// orderBy is whitelisted above; limit/offset are bound parameters.
	query := fmt.Sprintf(`
		SELECT id, source_app, chat_type, display_name, start_time, end_time, tags
		FROM conversations
		ORDER BY %s
		LIMIT ? OFFSET ?`, orderBy)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var (
			c             model.Conversation
			nameEnv, tags string
		)
		if err := rows.Scan(&c.ID, &c.SourceApp, &c.ChatType, &nameEnv, &c.StartTime, &c.EndTime, &tags); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if c.DisplayName, err = s.crypto.Decrypt(nameEnv); err != nil {
			return nil, fmt.Errorf("decrypt display_name for %s: %w", c.ID, err)
		}
		tagsJSON, err := s.crypto.Decrypt(tags)
		if err != nil {
			return nil, fmt.Errorf("decrypt tags for %s: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &c.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags for %s: %w", c.ID, err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

// GetConversationCount returns the number of stored conversations. No
// decryption is involved.
func (s *Store) GetConversationCount(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

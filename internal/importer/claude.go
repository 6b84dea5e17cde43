package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"chatvault/internal/model"
	"chatvault/internal/sanitize"
)

// claudeConversation is one entry of a Claude data export: a flat message
// list, already in order.
type claudeConversation struct {
	UUID         string          `json:"uuid"`
	Name         string          `json:"name"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	ChatMessages []claudeMessage `json:"chat_messages"`
}

type claudeMessage struct {
	Sender    string `json:"sender"` // "human" or "assistant"
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

type claudeParser struct{}

func (p *claudeParser) Name() string { return model.SourceClaude }

// Detect looks for the flat-list shape: uuid-keyed conversations with a
// chat_messages array.
func (p *claudeParser) Detect(data []byte) float64 {
	if !bytes.Contains(data, []byte(`"chat_messages"`)) {
		return 0
	}
	if !json.Valid(data) {
		return 0
	}
	if bytes.Contains(data, []byte(`"uuid"`)) {
		return 0.9
	}
	return 0.6
}

func (p *claudeParser) Parse(data []byte) (*ParseResult, error) {
	vr := Validate(data, KindJSON)
	if vr.Outcome == OutcomeReject {
		return nil, &ValidationError{Findings: vr.Findings}
	}

	convs, err := decodeClaude(data)
	if err != nil {
		return nil, fmt.Errorf("decode claude export: %w", err)
	}
	if len(convs) > MaxConversationsPerFile {
		return nil, &LimitError{Resource: "conversations", Max: MaxConversationsPerFile, Observed: len(convs)}
	}

	res := &ParseResult{Findings: vr.Findings}
	droppedTotal := 0

	for _, c := range convs {
		if len(c.ChatMessages) > MaxMessagesPerConversation {
			return nil, &LimitError{Resource: "messages", Max: MaxMessagesPerConversation, Observed: len(c.ChatMessages)}
		}

		id := c.UUID
		if id == "" {
			id = deriveConversationID(c.Name, parseRFC3339(c.CreatedAt))
		}

		var msgs []model.ChatMessage
		for _, m := range c.ChatMessages {
			if m.Text == "" {
				continue
			}
			author := m.Sender
			if author == "human" {
				author = "user"
			}
			text, d := sanitize.Clean(m.Text)
			droppedTotal += d

			ts := int64(parseRFC3339(m.CreatedAt))
			if f, bad := CheckTimestamp(ts); bad {
				res.Findings = append(res.Findings, f)
			}
			msgs = append(msgs, model.ChatMessage{
				MessageID:      model.MessageID(id, author, ts, text),
				ConversationID: id,
				TimestampUTC:   ts,
				Author:         author,
				Content:        text,
				ContentType:    classifyContent(text),
			})
		}

		start := int64(parseRFC3339(c.CreatedAt))
		end := int64(parseRFC3339(c.UpdatedAt))
		if start == 0 || end == 0 {
			start, end = timeBounds(msgs, start, end)
		}
		if end < start {
			end = start
		}

		name, d := sanitize.Clean(c.Name)
		droppedTotal += d

		res.Conversations = append(res.Conversations, model.Conversation{
			ID:          id,
			SourceApp:   model.SourceClaude,
			ChatType:    model.ChatTypeLLM,
			DisplayName: name,
			StartTime:   start,
			EndTime:     end,
			Tags:        nil,
		})
		res.Messages = append(res.Messages, msgs...)
	}

	if droppedTotal > controlCharTolerance {
		res.Findings = append(res.Findings, Finding{
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("sanitizer stripped %d characters across the file", droppedTotal),
		})
	}
	return res, nil
}

func decodeClaude(data []byte) ([]claudeConversation, error) {
	var convs []claudeConversation
	if err := json.Unmarshal(data, &convs); err == nil {
		return convs, nil
	}
	var single claudeConversation
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []claudeConversation{single}, nil
}

func parseRFC3339(s string) float64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return float64(t.Unix())
}

package importer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"chatvault/internal/model"
	"chatvault/internal/sanitize"
)

// chatgptConversation is one entry of a ChatGPT conversations.json export.
// Messages are stored as a node tree keyed by id, with parent links and a
// pointer to the current leaf.
type chatgptConversation struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	Title          string                 `json:"title"`
	CreateTime     float64                `json:"create_time"`
	UpdateTime     float64                `json:"update_time"`
	CurrentNode    string                 `json:"current_node"`
	Mapping        map[string]chatgptNode `json:"mapping"`
}

type chatgptNode struct {
	ID      string          `json:"id"`
	Parent  *string         `json:"parent"`
	Message *chatgptMessage `json:"message"`
}

type chatgptMessage struct {
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	CreateTime *float64 `json:"create_time"`
	Content    struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts"`
	} `json:"content"`
}

type chatgptParser struct{}

func (p *chatgptParser) Name() string { return model.SourceChatGPT }

// Detect looks for the tree-export shape: a mapping of nodes plus a
// current_node pointer.
func (p *chatgptParser) Detect(data []byte) float64 {
	if !bytes.Contains(data, []byte(`"mapping"`)) {
		return 0
	}
	if !json.Valid(data) {
		return 0
	}
	if bytes.Contains(data, []byte(`"current_node"`)) {
		return 0.9
	}
	return 0.6
}

func (p *chatgptParser) Parse(data []byte) (*ParseResult, error) {
	vr := Validate(data, KindJSON)
	if vr.Outcome == OutcomeReject {
		return nil, &ValidationError{Findings: vr.Findings}
	}

	convs, err := decodeChatGPT(data)
	if err != nil {
		return nil, fmt.Errorf("decode chatgpt export: %w", err)
	}
	if len(convs) > MaxConversationsPerFile {
		return nil, &LimitError{Resource: "conversations", Max: MaxConversationsPerFile, Observed: len(convs)}
	}

	res := &ParseResult{Findings: vr.Findings}
	droppedTotal := 0

	for _, c := range convs {
		id := c.ConversationID
		if id == "" {
			id = c.ID
		}
		if id == "" {
			// Some exports omit ids entirely; derive a stable one.
			id = deriveConversationID(c.Title, c.CreateTime)
		}

		msgs, dropped, err := flattenActiveBranch(&c, id)
		if err != nil {
			return nil, err
		}
		droppedTotal += dropped

		start, end := int64(c.CreateTime), int64(c.UpdateTime)
		if start == 0 || end == 0 {
			start, end = timeBounds(msgs, start, end)
		}
		if end < start {
			end = start
		}
		for _, t := range []int64{start, end} {
			if f, bad := CheckTimestamp(t); bad {
				res.Findings = append(res.Findings, f)
			}
		}

		title, d := sanitize.Clean(c.Title)
		droppedTotal += d

		res.Conversations = append(res.Conversations, model.Conversation{
			ID:          id,
			SourceApp:   model.SourceChatGPT,
			ChatType:    model.ChatTypeLLM,
			DisplayName: title,
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

// decodeChatGPT accepts either a single conversation object or an array of
// them, which is how the product exports one vs. many chats.
func decodeChatGPT(data []byte) ([]chatgptConversation, error) {
	var convs []chatgptConversation
	if err := json.Unmarshal(data, &convs); err == nil {
		return convs, nil
	}
	var single chatgptConversation
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []chatgptConversation{single}, nil
}

// flattenActiveBranch walks parent links from the current leaf back to the
// root, then reverses the chain into chronological order. Sibling branches
// (alternate regenerations) are discarded on purpose: only the branch the
// user last saw is imported.
func flattenActiveBranch(c *chatgptConversation, convID string) ([]model.ChatMessage, int, error) {
	var chain []*chatgptNode
	seen := make(map[string]bool, len(c.Mapping))

	current := c.CurrentNode
	if current == "" {
		current = findLeaf(c.Mapping)
	}
	for current != "" {
		if seen[current] {
			return nil, 0, fmt.Errorf("chatgpt conversation %s: parent cycle at node %s", convID, current)
		}
		seen[current] = true
		node, ok := c.Mapping[current]
		if !ok {
			break
		}
		chain = append(chain, &node)
		if node.Parent == nil {
			break
		}
		current = *node.Parent
	}

	// Reverse: chain was collected leaf-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	var msgs []model.ChatMessage
	dropped := 0
	for _, node := range chain {
		if node.Message == nil {
			continue
		}
		role := node.Message.Author.Role
		if role != "user" && role != "assistant" {
			continue // system/tool scaffolding
		}
		text := joinParts(node.Message.Content.Parts)
		if text == "" {
			continue
		}
		text, d := sanitize.Clean(text)
		dropped += d

		var ts int64
		if node.Message.CreateTime != nil {
			ts = int64(*node.Message.CreateTime)
		}
		msgs = append(msgs, model.ChatMessage{
			MessageID:      model.MessageID(convID, role, ts, text),
			ConversationID: convID,
			TimestampUTC:   ts,
			Author:         role,
			Content:        text,
			ContentType:    classifyContent(text),
		})
		if len(msgs) > MaxMessagesPerConversation {
			return nil, 0, &LimitError{Resource: "messages", Max: MaxMessagesPerConversation, Observed: len(msgs)}
		}
	}
	return msgs, dropped, nil
}

// findLeaf picks a node with no children pointing at it as a fallback when
// current_node is missing. Deterministic only when the tree is a single
// chain, which is the common case for exports without regenerations.
func findLeaf(mapping map[string]chatgptNode) string {
	hasChild := make(map[string]bool, len(mapping))
	for _, n := range mapping {
		if n.Parent != nil {
			hasChild[*n.Parent] = true
		}
	}
	leaf := ""
	for id := range mapping {
		if !hasChild[id] && (leaf == "" || id < leaf) {
			leaf = id
		}
	}
	return leaf
}

// joinParts concatenates the string parts of a message, skipping non-string
// parts (image refs and other assets).
func joinParts(parts []json.RawMessage) string {
	var text string
	for _, raw := range parts {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += s
	}
	return text
}

func deriveConversationID(title string, createTime float64) string {
	h := sha256.Sum256([]byte(title + "\x00" + strconv.FormatFloat(createTime, 'f', -1, 64)))
	return "chatgpt-" + hex.EncodeToString(h[:8])
}

// timeBounds fills missing conversation bounds from message timestamps.
func timeBounds(msgs []model.ChatMessage, start, end int64) (int64, int64) {
	for _, m := range msgs {
		if m.TimestampUTC == 0 {
			continue
		}
		if start == 0 || m.TimestampUTC < start {
			start = m.TimestampUTC
		}
		if m.TimestampUTC > end {
			end = m.TimestampUTC
		}
	}
	return start, end
}

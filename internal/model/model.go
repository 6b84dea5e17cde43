// Package model holds the normalized entities shared between the parsers
// and the persistence layer.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SourceApp identifies which product produced an export.
const (
	SourceChatGPT  = "chatgpt"
	SourceClaude   = "claude"
	SourceWhatsApp = "whatsapp"
)

// ChatType classifies a conversation by product category.
const (
	ChatTypeLLM       = "llm"
	ChatTypeMessaging = "messaging"
)

// ContentType classifies message content.
const (
	ContentTypeText = "text"
	ContentTypeCode = "code"
)

// Conversation is a single imported chat thread. DisplayName and Tags are
// confidential: they are stored encrypted and must never be logged.
type Conversation struct {
	ID          string
	SourceApp   string
	ChatType    string
	DisplayName string
	StartTime   int64 // epoch seconds
	EndTime     int64 // epoch seconds
	Tags        []string
}

// ChatMessage is a single turn within a conversation. Author and Content
// are confidential. MessageID is content-addressed, so re-importing
// byte-identical input yields the same id.
type ChatMessage struct {
	MessageID      string
	ConversationID string
	TimestampUTC   int64
	Author         string
	Content        string
	ContentType    string
}

// MessageID derives the deterministic id for a message from its identifying
// fields. NUL separators keep field boundaries unambiguous.
func MessageID(conversationID, author string, timestampUTC int64, content string) string {
	h := sha256.New()
	h.Write([]byte(conversationID))
	h.Write([]byte{0})
	h.Write([]byte(author))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(timestampUTC, 10)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

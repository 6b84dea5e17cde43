package importer

import (
	"errors"
	"fmt"

	"chatvault/internal/model"
)

// ErrUnrecognizedFormat is returned when no parser claims an input, or when
// two parsers tie at the top confidence.
var ErrUnrecognizedFormat = errors.New("importer: unrecognized export format")

// detectThreshold is the minimum confidence a parser must report for the
// registry to select it.
const detectThreshold = 0.5

// Per-parser resource ceilings, independent of the byte-size cap.
const (
	MaxConversationsPerFile    = 10000
	MaxMessagesPerConversation = 50000
)

// LimitError aborts a file whose conversation or message count exceeds a
// parser ceiling. Nothing is truncated silently.
type LimitError struct {
	Resource string // "conversations" or "messages"
	Max      int
	Observed int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("importer: %s count %d exceeds limit %d", e.Resource, e.Observed, e.Max)
}

// ParseResult is the normalized output of a single file.
type ParseResult struct {
	Conversations []model.Conversation
	Messages      []model.ChatMessage
	Findings      []Finding
}

// Parser detects and parses one export format.
type Parser interface {
	Name() string
	// Detect returns a confidence score in [0,1] that data is this format.
	Detect(data []byte) float64
	// Parse validates and normalizes data into conversations and messages.
	Parse(data []byte) (*ParseResult, error)
}

// Registry holds the known parsers and picks one per input by detection
// confidence.
type Registry struct {
	parsers []Parser
}

// NewRegistry returns a registry with all supported format parsers.
func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			&chatgptParser{},
			&claudeParser{},
			&whatsappParser{},
		},
	}
}

// Detect runs every parser's detector and returns the single best match
// above the threshold. An exact tie at the top is ambiguous and rejected
// rather than resolved arbitrarily.
func (r *Registry) Detect(data []byte) (Parser, error) {
	var (
		best      Parser
		bestScore float64
		tied      bool
	)
	for _, p := range r.parsers {
		score := p.Detect(data)
		switch {
		case score > bestScore:
			best, bestScore, tied = p, score, false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if best == nil || bestScore < detectThreshold {
		return nil, ErrUnrecognizedFormat
	}
	if tied {
		return nil, fmt.Errorf("%w: ambiguous detection at confidence %.2f", ErrUnrecognizedFormat, bestScore)
	}
	return best, nil
}

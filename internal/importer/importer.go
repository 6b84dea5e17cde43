// Package importer turns third-party chat export files into normalized,
// persisted conversations. It owns format detection, validation, parsing,
// and the per-run orchestration; the store owns encryption at rest.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"chatvault/internal/model"
)

// Store is the persistence surface the importer needs. Conversations are
// written before their messages so the referential invariant holds.
type Store interface {
	SaveConversation(ctx context.Context, c model.Conversation) error
	SaveMessages(ctx context.Context, msgs []model.ChatMessage) error
}

// File is one input handed over by the host process.
type File struct {
	Name string
	Data []byte
}

// FileResult is the per-file outcome of an import run.
type FileResult struct {
	Name          string    `json:"name"`
	Parser        string    `json:"parser,omitempty"`
	Conversations int       `json:"conversations"`
	Messages      int       `json:"messages"`
	Findings      []Finding `json:"findings,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Report summarizes a whole import run.
type Report struct {
	RunID         string       `json:"run_id"`
	Files         []FileResult `json:"files"`
	Conversations int          `json:"conversations"`
	Messages      int          `json:"messages"`
	Errors        int          `json:"errors"`
}

// Importer runs imports against a store. Runs are single-flight: the store
// provides atomic batches but no isolation between concurrent imports, so
// the importer serializes them itself.
type Importer struct {
	mu       sync.Mutex
	registry *Registry
	store    Store
	logger   *slog.Logger
}

// New creates an importer over the given registry and store.
func New(registry *Registry, store Store, logger *slog.Logger) *Importer {
	return &Importer{registry: registry, store: store, logger: logger}
}

// ImportFiles imports each file independently: a file that fails validation,
// detection, parsing, or persistence is recorded in the report and does not
// abort the rest of the run. The context is checked between files so a long
// run can be interrupted.
func (i *Importer) ImportFiles(ctx context.Context, files []File) (*Report, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	report := &Report{RunID: uuid.New().String()}

	for _, f := range files {
		select {
		case <-ctx.Done():
			i.logger.Info("import interrupted", "run_id", report.RunID, "files_done", len(report.Files))
			return report, ctx.Err()
		default:
		}

		fr := i.importFile(ctx, f)
		report.Files = append(report.Files, fr)
		report.Conversations += fr.Conversations
		report.Messages += fr.Messages
		if fr.Error != "" {
			report.Errors++
		}
	}

	i.logger.Info("import run complete",
		"run_id", report.RunID,
		"files", len(report.Files),
		"conversations", report.Conversations,
		"messages", report.Messages,
		"errors", report.Errors,
	)
	return report, nil
}

func (i *Importer) importFile(ctx context.Context, f File) FileResult {
	fr := FileResult{Name: f.Name}

	parser, err := i.registry.Detect(f.Data)
	if err != nil {
		i.logger.Warn("no parser matched", "file", f.Name, "error", err)
		fr.Error = err.Error()
		return fr
	}
	fr.Parser = parser.Name()

	res, err := parser.Parse(f.Data)
	if err != nil {
		i.logger.Warn("parse failed", "file", f.Name, "parser", parser.Name(), "error", err)
		fr.Error = err.Error()
		return fr
	}
	fr.Findings = res.Findings

	// Group messages by conversation and persist each conversation with its
	// batch, conversation row first.
	byConv := make(map[string][]model.ChatMessage, len(res.Conversations))
	for _, m := range res.Messages {
		byConv[m.ConversationID] = append(byConv[m.ConversationID], m)
	}

	for _, c := range res.Conversations {
		if err := i.store.SaveConversation(ctx, c); err != nil {
			i.logger.Error("save conversation failed", "file", f.Name, "conversation_id", c.ID, "error", err)
			fr.Error = fmt.Sprintf("save conversation: %v", err)
			return fr
		}
		msgs := byConv[c.ID]
		if err := i.store.SaveMessages(ctx, msgs); err != nil {
			i.logger.Error("save messages failed", "file", f.Name, "conversation_id", c.ID, "error", err)
			fr.Error = fmt.Sprintf("save messages: %v", err)
			return fr
		}
		fr.Conversations++
		fr.Messages += len(msgs)
	}

	i.logger.Info("file imported",
		"file", f.Name,
		"parser", parser.Name(),
		"conversations", fr.Conversations,
		"messages", fr.Messages,
		"findings", len(fr.Findings),
	)
	return fr
}

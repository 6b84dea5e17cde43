package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"chatvault/internal/model"
)

// treeExportJSON builds a single-conversation export with a root, one user
// message, and two sibling assistant regenerations. current_node points at
// the second regeneration, so only that branch is active.
const treeExportJSON = `{
	"id": "conv-1",
	"title": "Deploy question",
	"create_time": 1700000000,
	"update_time": 1700000120,
	"current_node": "leaf-b",
	"mapping": {
		"root": {"id": "root", "parent": null, "children": ["msg-1"], "message": null},
		"msg-1": {"id": "msg-1", "parent": "root", "children": ["leaf-a", "leaf-b"], "message": {
			"author": {"role": "user"}, "create_time": 1700000000,
			"content": {"content_type": "text", "parts": ["How do I deploy?"]}}},
		"leaf-a": {"id": "leaf-a", "parent": "msg-1", "children": [], "message": {
			"author": {"role": "assistant"}, "create_time": 1700000060,
			"content": {"content_type": "text", "parts": ["First answer, discarded."]}}},
		"leaf-b": {"id": "leaf-b", "parent": "msg-1", "children": [], "message": {
			"author": {"role": "assistant"}, "create_time": 1700000120,
			"content": {"content_type": "text", "parts": ["Second answer, kept."]}}}
	}
}`

func TestChatGPTParser_ActiveBranchOnly(t *testing.T) {
	p := &chatgptParser{}
	res, err := p.Parse([]byte(treeExportJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(res.Conversations) != 1 {
		t.Fatalf("conversations = %d, want 1", len(res.Conversations))
	}
	c := res.Conversations[0]
	if c.ID != "conv-1" || c.SourceApp != model.SourceChatGPT || c.ChatType != model.ChatTypeLLM {
		t.Errorf("conversation = %+v", c)
	}
	if c.DisplayName != "Deploy question" {
		t.Errorf("display name = %q", c.DisplayName)
	}
	if c.StartTime != 1700000000 || c.EndTime != 1700000120 {
		t.Errorf("bounds = %d..%d", c.StartTime, c.EndTime)
	}

	if len(res.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (active branch only)", len(res.Messages))
	}
	if res.Messages[0].Author != "user" || res.Messages[0].Content != "How do I deploy?" {
		t.Errorf("msg[0] = %+v", res.Messages[0])
	}
	if res.Messages[1].Content != "Second answer, kept." {
		t.Errorf("msg[1] content = %q, want the current_node branch", res.Messages[1].Content)
	}
	for _, m := range res.Messages {
		if strings.Contains(m.Content, "discarded") {
			t.Error("sibling branch leaked into import")
		}
	}
	if res.Messages[0].TimestampUTC > res.Messages[1].TimestampUTC {
		t.Error("messages not in ascending timestamp order")
	}
}

func TestChatGPTParser_DeterministicIDs(t *testing.T) {
	p := &chatgptParser{}
	first, err := p.Parse([]byte(treeExportJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	second, err := p.Parse([]byte(treeExportJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(first.Messages) != len(second.Messages) {
		t.Fatalf("message counts differ: %d vs %d", len(first.Messages), len(second.Messages))
	}
	for i := range first.Messages {
		if first.Messages[i].MessageID != second.Messages[i].MessageID {
			t.Errorf("message %d id differs across identical parses", i)
		}
	}
}

func TestChatGPTParser_ArrayExport(t *testing.T) {
	p := &chatgptParser{}
	res, err := p.Parse([]byte("[" + treeExportJSON + "]"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Conversations) != 1 || len(res.Messages) != 2 {
		t.Errorf("conversations = %d, messages = %d", len(res.Conversations), len(res.Messages))
	}
}

func TestChatGPTParser_SkipsSystemAndEmpty(t *testing.T) {
	export := `{
		"id": "conv-2", "title": "t", "create_time": 1700000000, "update_time": 1700000010,
		"current_node": "n2",
		"mapping": {
			"n0": {"id": "n0", "parent": null, "children": ["n1"], "message": {
				"author": {"role": "system"}, "create_time": 1700000000,
				"content": {"content_type": "text", "parts": ["system prompt"]}}},
			"n1": {"id": "n1", "parent": "n0", "children": ["n2"], "message": {
				"author": {"role": "user"}, "create_time": 1700000005,
				"content": {"content_type": "text", "parts": [""]}}},
			"n2": {"id": "n2", "parent": "n1", "children": [], "message": {
				"author": {"role": "assistant"}, "create_time": 1700000010,
				"content": {"content_type": "text", "parts": ["visible"]}}}
		}
	}`
	p := &chatgptParser{}
	res, err := p.Parse([]byte(export))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].Content != "visible" {
		t.Errorf("messages = %+v, want only the assistant text", res.Messages)
	}
}

func TestChatGPTParser_ConversationLimit(t *testing.T) {
	var convs []json.RawMessage
	stub := `{"id":"c-%d","title":"x","create_time":1,"update_time":1,"current_node":"","mapping":{}}`
	for i := 0; i < MaxConversationsPerFile+1; i++ {
		convs = append(convs, json.RawMessage(fmt.Sprintf(stub, i)))
	}
	data, err := json.Marshal(convs)
	if err != nil {
		t.Fatal(err)
	}

	p := &chatgptParser{}
	_, err = p.Parse(data)
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want LimitError", err)
	}
	if le.Resource != "conversations" || le.Observed != MaxConversationsPerFile+1 {
		t.Errorf("limit error = %+v", le)
	}
}

func TestChatGPTParser_CodeClassification(t *testing.T) {
	export := `{
		"id": "conv-3", "title": "code", "create_time": 1700000000, "update_time": 1700000010,
		"current_node": "n1",
		"mapping": {
			"n0": {"id": "n0", "parent": null, "children": ["n1"], "message": {
				"author": {"role": "user"}, "create_time": 1700000000,
				"content": {"content_type": "text", "parts": ["show me hello world"]}}},
			"n1": {"id": "n1", "parent": "n0", "children": [], "message": {
				"author": {"role": "assistant"}, "create_time": 1700000010,
				"content": {"content_type": "text", "parts": ["` + "```go\\nfunc main() {}\\n```" + `"]}}}
		}
	}`
	p := &chatgptParser{}
	res, err := p.Parse([]byte(export))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Messages[0].ContentType != model.ContentTypeText {
		t.Errorf("msg[0] content type = %q", res.Messages[0].ContentType)
	}
	if res.Messages[1].ContentType != model.ContentTypeCode {
		t.Errorf("msg[1] content type = %q, want code", res.Messages[1].ContentType)
	}
}

func TestChatGPTParser_CycleDetected(t *testing.T) {
	export := `{
		"id": "conv-4", "title": "cycle", "create_time": 1, "update_time": 2,
		"current_node": "a",
		"mapping": {
			"a": {"id": "a", "parent": "b", "children": [], "message": null},
			"b": {"id": "b", "parent": "a", "children": [], "message": null}
		}
	}`
	p := &chatgptParser{}
	if _, err := p.Parse([]byte(export)); err == nil {
		t.Fatal("expected error for parent cycle")
	}
}

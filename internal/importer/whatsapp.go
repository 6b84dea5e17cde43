package importer

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"chatvault/internal/model"
	"chatvault/internal/sanitize"
)

// whatsapp chat exports are plain text, one message per line, with
// continuation lines for embedded newlines:
//
//	[31/12/2023, 23:59:59] Alice: happy new year
//	12/31/23, 11:59 PM - Bob: same to you
var (
	waBracketRegex = regexp.MustCompile(`^\[(\d{1,2}/\d{1,2}/\d{2,4}),? (\d{1,2}:\d{2}(?::\d{2})?(?: ?[AP]M)?)\] ([^:]+): (.*)$`)
	waDashRegex    = regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4}),? (\d{1,2}:\d{2}(?::\d{2})?(?: ?[AP]M)?) - ([^:]+): (.*)$`)

	// Timestamped lines with no "Author:" part are the product's own
	// notices (group events, the encryption banner).
	waBracketNoticeRegex = regexp.MustCompile(`^\[\d{1,2}/\d{1,2}/\d{2,4},? \d{1,2}:\d{2}(?::\d{2})?(?: ?[AP]M)?\] `)
	waDashNoticeRegex    = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4},? \d{1,2}:\d{2}(?::\d{2})?(?: ?[AP]M)? - `)
)

// waTimeLayouts covers the regional date formats the product emits.
var waTimeLayouts = []string{
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"1/2/06 3:04 PM",
	"1/2/06 3:04:05 PM",
	"2/1/06 15:04:05",
	"2/1/06 15:04",
}

type whatsappParser struct{}

func (p *whatsappParser) Name() string { return model.SourceWhatsApp }

// Detect samples the first lines and scores the fraction that match the
// message-line pattern.
func (p *whatsappParser) Detect(data []byte) float64 {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lines, matches := 0, 0
	for scanner.Scan() && lines < 50 {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++
		if waBracketRegex.MatchString(line) || waDashRegex.MatchString(line) {
			matches++
		}
	}
	if lines == 0 {
		return 0
	}
	return float64(matches) / float64(lines)
}

func (p *whatsappParser) Parse(data []byte) (*ParseResult, error) {
	vr := Validate(data, KindText)
	if vr.Outcome == OutcomeReject {
		return nil, &ValidationError{Findings: vr.Findings}
	}

	// One file is one chat. The id is content-addressed so re-importing the
	// same export maps onto the same conversation.
	sum := sha256.Sum256(data)
	convID := "whatsapp-" + hex.EncodeToString(sum[:8])

	res := &ParseResult{Findings: vr.Findings}
	droppedTotal := 0

	var (
		msgs    []model.ChatMessage
		authors []string
		seen    = make(map[string]bool)
		cur     *pendingMessage
	)

	flush := func() error {
		if cur == nil {
			return nil
		}
		text, d := sanitize.Clean(cur.text)
		droppedTotal += d
		if text != "" {
			msgs = append(msgs, model.ChatMessage{
				MessageID:      model.MessageID(convID, cur.author, cur.ts, text),
				ConversationID: convID,
				TimestampUTC:   cur.ts,
				Author:         cur.author,
				Content:        text,
				ContentType:    classifyContent(text),
			})
			if len(msgs) > MaxMessagesPerConversation {
				return &LimitError{Resource: "messages", Max: MaxMessagesPerConversation, Observed: len(msgs)}
			}
		}
		cur = nil
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		date, clock, author, text, ok := matchMessageLine(line)
		if !ok {
			if isNoticeLine(line) {
				if err := flush(); err != nil {
					return nil, err
				}
				continue
			}
			// Continuation of the previous message.
			if cur != nil {
				cur.text += "\n" + line
			}
			continue
		}
		if isSystemNotice(text) {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}

		ts := parseWATime(date, clock)
		if f, bad := CheckTimestamp(ts); bad {
			res.Findings = append(res.Findings, f)
		}
		author = strings.TrimSpace(author)
		if !seen[author] {
			seen[author] = true
			authors = append(authors, author)
		}
		cur = &pendingMessage{author: author, ts: ts, text: text}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		return nil, &ValidationError{Findings: append(vr.Findings, Finding{
			Severity: SeverityHigh,
			Message:  "no parseable messages found",
		})}
	}

	start, end := timeBounds(msgs, 0, 0)
	name, d := sanitize.Clean(chatDisplayName(authors))
	droppedTotal += d

	res.Conversations = []model.Conversation{{
		ID:          convID,
		SourceApp:   model.SourceWhatsApp,
		ChatType:    model.ChatTypeMessaging,
		DisplayName: name,
		StartTime:   start,
		EndTime:     end,
		Tags:        nil,
	}}
	res.Messages = msgs

	if droppedTotal > controlCharTolerance {
		res.Findings = append(res.Findings, Finding{
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("sanitizer stripped %d characters across the file", droppedTotal),
		})
	}
	return res, nil
}

type pendingMessage struct {
	author string
	ts     int64
	text   string
}

func matchMessageLine(line string) (date, clock, author, text string, ok bool) {
	// Exports may prefix lines with a directionality mark.
	line = strings.TrimPrefix(line, "‎")
	if m := waBracketRegex.FindStringSubmatch(line); m != nil {
		return m[1], m[2], m[3], m[4], true
	}
	if m := waDashRegex.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
		return m[1], m[2], m[3], m[4], true
	}
	return "", "", "", "", false
}

// isNoticeLine reports whether a line is timestamped but authorless. It is
// only consulted after the message regexes have failed, so a user message
// whose text resembles a group event is never affected.
func isNoticeLine(line string) bool {
	line = strings.TrimPrefix(strings.TrimSpace(line), "‎")
	return waBracketNoticeRegex.MatchString(line) || waDashNoticeRegex.MatchString(line)
}

// isSystemNotice filters authored messages whose body is a product
// placeholder rather than user content. Some exports attribute the
// encryption banner to the chat name, so it is matched here too.
func isSystemNotice(text string) bool {
	return text == "<Media omitted>" ||
		strings.Contains(text, "Messages and calls are end-to-end encrypted")
}

func parseWATime(date, clock string) int64 {
	joined := date + " " + clock
	for _, layout := range waTimeLayouts {
		if t, err := time.Parse(layout, joined); err == nil {
			return t.Unix()
		}
	}
	return 0
}

// chatDisplayName names the chat after its participants.
func chatDisplayName(authors []string) string {
	if len(authors) == 0 {
		return "WhatsApp chat"
	}
	if len(authors) > 3 {
		return strings.Join(authors[:3], ", ") + fmt.Sprintf(" +%d", len(authors)-3)
	}
	return strings.Join(authors, ", ")
}

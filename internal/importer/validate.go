package importer

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxImportBytes is the hard cap on a single import file.
const MaxImportBytes = 100 << 20 // 100 MB

// controlCharTolerance is how many stray control characters a file may
// contain before the finding escalates from info to medium.
const controlCharTolerance = 10

// year2000Epoch is the plausibility floor for message timestamps.
const year2000Epoch = 946684800

// Severity ranks a validation finding. Only high severity aborts an import.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "info"
	}
}

// Finding is a single validation observation.
type Finding struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Outcome is the overall validation verdict.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeWarn
	OutcomeReject
)

// ValidationResult carries the verdict plus every finding, fatal or not.
type ValidationResult struct {
	Outcome  Outcome
	Findings []Finding
}

// FileKind tells the validator what structural check applies.
type FileKind int

const (
	KindJSON FileKind = iota
	KindText
)

// ValidationError aborts a file's import. It carries the high-severity
// findings that triggered the rejection.
type ValidationError struct {
	Findings []Finding
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		if f.Severity == SeverityHigh {
			msgs = append(msgs, f.Message)
		}
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Validate runs the pre-parse gatekeeper checks in order: byte size,
// structural well-formedness, character encoding, control-character count.
// High-severity findings reject the file; everything else is advisory.
func Validate(data []byte, kind FileKind) ValidationResult {
	var res ValidationResult

	if len(data) > MaxImportBytes {
		res.Findings = append(res.Findings, Finding{
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("file size %d exceeds %d byte limit", len(data), MaxImportBytes),
		})
		// Oversized input is not worth scanning further.
		res.Outcome = OutcomeReject
		return res
	}

	if kind == KindJSON && !json.Valid(data) {
		res.Findings = append(res.Findings, Finding{
			Severity: SeverityHigh,
			Message:  "file is not well-formed JSON",
		})
	}

	if !utf8.Valid(data) {
		res.Findings = append(res.Findings, Finding{
			Severity: SeverityHigh,
			Message:  "file contains invalid UTF-8 byte sequences",
		})
	}

	if n := countControlChars(data); n > 0 {
		sev := SeverityInfo
		if n > controlCharTolerance {
			sev = SeverityMedium
		}
		res.Findings = append(res.Findings, Finding{
			Severity: sev,
			Message:  fmt.Sprintf("file contains %d non-whitelisted control characters", n),
		})
	}

	res.Outcome = outcomeFor(res.Findings)
	return res
}

// CheckTimestamp flags implausibly old timestamps. Zero timestamps are left
// to the parsers, which already treat them as missing.
func CheckTimestamp(epoch int64) (Finding, bool) {
	if epoch > 0 && epoch < year2000Epoch {
		return Finding{
			Severity: SeverityLow,
			Message:  fmt.Sprintf("timestamp %d predates year 2000", epoch),
		}, true
	}
	return Finding{}, false
}

func countControlChars(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' || b == '\t' || b == '\r' {
			continue
		}
		if b < 0x20 || b == 0x7f {
			n++
		}
	}
	return n
}

func outcomeFor(findings []Finding) Outcome {
	out := OutcomeOK
	for _, f := range findings {
		if f.Severity == SeverityHigh {
			return OutcomeReject
		}
		out = OutcomeWarn
	}
	return out
}

package importer

import (
	"regexp"
	"strings"

	"chatvault/internal/model"
)

// Lightweight markers for classifying message content as code.
var (
	codeFenceRegex    = regexp.MustCompile("```")
	funcKeywordRegex  = regexp.MustCompile(`\b(func|function|def|class|interface|struct|impl|import|return)\b`)
	indentedCodeRegex = regexp.MustCompile(`(?m)^(    |\t)\S`)
)

// classifyContent tags a message as code or plain text. It is a heuristic:
// a fenced block always wins, otherwise keyword and punctuation density
// decide.
func classifyContent(text string) string {
	if codeFenceRegex.MatchString(text) {
		return model.ContentTypeCode
	}
	if len(text) == 0 {
		return model.ContentTypeText
	}

	score := 0
	if len(funcKeywordRegex.FindAllStringIndex(text, 4)) >= 2 {
		score++
	}
	if len(indentedCodeRegex.FindAllStringIndex(text, 4)) >= 3 {
		score++
	}
	if braceDensity(text) > 0.02 {
		score++
	}
	if score >= 2 {
		return model.ContentTypeCode
	}
	return model.ContentTypeText
}

func braceDensity(text string) float64 {
	n := strings.Count(text, "{") + strings.Count(text, "}") + strings.Count(text, ";")
	return float64(n) / float64(len(text))
}

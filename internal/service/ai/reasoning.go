package ai

import (
	"regexp"
	"strings"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"

	reasoningLabel = "> 💭 **思考过程**"
)

var thinkPattern = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(thinkOpen) + `(.*?)` + regexp.QuoteMeta(thinkClose))

// RenderReasoning rewrites <think>…</think> spans in a model reply.
//
// In deep mode every span becomes a labelled block quote in place. Otherwise
// every span is removed and the result trimmed. Text without a complete span
// is returned unchanged in both modes.
func RenderReasoning(text string, deep bool) string {
	if !thinkPattern.MatchString(text) {
		return text
	}

	if !deep {
		return strings.TrimSpace(thinkPattern.ReplaceAllString(text, ""))
	}

	return thinkPattern.ReplaceAllStringFunc(text, func(span string) string {
		inner := strings.TrimSuffix(strings.TrimPrefix(span, thinkOpen), thinkClose)
		return "\n\n" + quoteReasoning(inner) + "\n\n"
	})
}

func quoteReasoning(inner string) string {
	var b strings.Builder
	b.WriteString(reasoningLabel)

	inner = strings.Trim(inner, "\r\n")
	if strings.TrimSpace(inner) == "" {
		return b.String()
	}

	b.WriteString("\n>")
	for _, line := range strings.Split(inner, "\n") {
		line = strings.TrimRight(line, "\r")
		b.WriteString("\n>")
		if line != "" {
			b.WriteString(" ")
			b.WriteString(line)
		}
	}
	return b.String()
}

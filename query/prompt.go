package query

import (
	"strconv"
	"strings"

	"github.com/poiesic/tenantrag/core"
)

const (
	fallbackPrefix   = "Based on the provided context: "
	fallbackLength   = 200
	fallbackNoSource = "No relevant information was found in the knowledge base."
)

// buildPrompt lays out the question after numbered context passages,
// highest ranked first.
func buildPrompt(question string, sources []core.Source) string {
	var b strings.Builder
	b.WriteString("Based on the following context, answer the question. If the answer is not in the context, say so.\n\n")
	b.WriteString("Context:\n")
	for i, src := range sources {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(src.Text)
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// fallbackAnswer quotes the start of the best source.
func fallbackAnswer(sources []core.Source) string {
	if len(sources) == 0 {
		return fallbackNoSource
	}
	text := []rune(sources[0].Text)
	if len(text) > fallbackLength {
		text = text[:fallbackLength]
	}
	return fallbackPrefix + string(text) + "..."
}

package response

import (
	"strings"
	"unicode/utf8"

	"github.com/losehrt/fhirlinebot-sub000/internal/adapter/line"
)

const (
	altTextLimit = 400
	emptyCardText = "(empty message)"
)

// Card wraps text in a flex bubble. LINE rejects empty text nodes and
// altText, so blank input renders a placeholder.
func Card(text string) line.FlexMessage {
	if strings.TrimSpace(text) == "" {
		text = emptyCardText
	}
	bubble := map[string]any{
		"type": "bubble",
		"body": map[string]any{
			"type":   "box",
			"layout": "vertical",
			"contents": []any{
				map[string]any{
					"type":   "text",
					"text":   "Message received",
					"weight": "bold",
					"size":   "md",
				},
				map[string]any{
					"type":   "text",
					"text":   text,
					"wrap":   true,
					"size":   "sm",
					"margin": "md",
				},
			},
		},
	}
	return line.NewFlex(truncate(text, altTextLimit), bubble)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}

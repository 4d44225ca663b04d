package handler

import "strings"

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// RenderTwiML wraps message in a single-message TwiML response.
func RenderTwiML(message string) string {
	return "<Response><Message>" + xmlEscaper.Replace(message) + "</Message></Response>"
}

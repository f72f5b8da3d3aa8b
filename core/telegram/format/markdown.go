// Package format renders user and provider text for Telegram's legacy Markdown,
// the parse mode every placebot message uses.
package format

import "strings"

var escaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
)

// Escape makes text safe outside an entity. Only the characters that open an
// entity are escaped; "]" needs no escape once "[" is.
func Escape(text string) string {
	return escaper.Replace(text)
}

// Bold wraps text in MarkdownV1 bold markers. MarkdownV1 has no escapes inside
// an entity and only "*" closes it, so asterisks become U+2217 and the rest is kept.
func Bold(text string) string {
	if text == "" {
		return ""
	}
	return "*" + strings.ReplaceAll(text, "*", "∗") + "*"
}

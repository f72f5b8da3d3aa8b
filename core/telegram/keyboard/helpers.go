// Package keyboard lays out the reply and inline keyboards placebot sends.
package keyboard

import tele "gopkg.in/telebot.v4"

// RemoveKeyboard hides the reply keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// LocationRequest is a single reply button that shares the user's location.
func LocationRequest(label string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	markup.Reply(markup.Row(markup.Location(label)))
	return markup
}

// ReplyGrid lays labels out as a resized reply keyboard, perRow buttons to a row.
func ReplyGrid(labels []string, perRow int) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	rows := make([]tele.Row, 0, len(labels)/max(perRow, 1)+1)
	for _, chunk := range Chunk(labels, perRow) {
		row := make(tele.Row, 0, len(chunk))
		for _, label := range chunk {
			row = append(row, markup.Text(label))
		}
		rows = append(rows, row)
	}
	markup.Reply(rows...)
	return markup
}

// InlineRows builds an inline keyboard, one slice per row.
func InlineRows(rows ...[]tele.Btn) *tele.ReplyMarkup {
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, *b.Inline())
		}
		inline = append(inline, buttons)
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}
}

// Chunk splits items into rows of at most n. n below 1 means one item per row.
func Chunk[T any](items []T, n int) [][]T {
	n = max(n, 1)
	rows := make([][]T, 0, (len(items)+n-1)/n)
	for start := 0; start < len(items); start += n {
		rows = append(rows, items[start:min(start+n, len(items))])
	}
	return rows
}

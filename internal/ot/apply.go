package ot

import (
	"collabdocs/internal/document"
)

// Apply runs one operation against content, returning the new content.
// insert splices at the clamped position; delete removes the clamped
// range; retain is a no-op on content, per spec §4.3.
func Apply(content string, op document.Operation) string {
	runes := []rune(content)
	n := len(runes)

	switch op.Type {
	case document.OpInsert:
		pos := clamp(op.Position, 0, n)
		var b []rune
		b = append(b, runes[:pos]...)
		b = append(b, []rune(op.Content)...)
		b = append(b, runes[pos:]...)
		return string(b)
	case document.OpDelete:
		start := clamp(op.Position, 0, n)
		end := clamp(op.Position+op.Length, 0, n)
		if end < start {
			end = start
		}
		var b []rune
		b = append(b, runes[:start]...)
		b = append(b, runes[end:]...)
		return string(b)
	default: // retain
		return content
	}
}

// ApplySet runs every operation in ops against content, left to right.
func ApplySet(content string, ops []document.Operation) string {
	for _, op := range ops {
		content = Apply(content, op)
	}
	return content
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package ot implements the per-document operational-transformation state
// machine: transform, compose, apply, and the serialized per-document
// engine that admits operation sets in a total order.
package ot

import "collabdocs/internal/document"

// Transform adjusts operation a so that it can be applied after operation b
// has already been applied to the same base, per the pairwise rule table in
// spec §4.3. leftPriority breaks position ties in favor of a when true.
// retain always passes through unchanged.
func Transform(a, b document.Operation, leftPriority bool) document.Operation {
	if a.Type == document.OpRetain || b.Type == document.OpRetain {
		return a
	}

	switch a.Type {
	case document.OpInsert:
		return transformInsert(a, b, leftPriority)
	case document.OpDelete:
		return transformDelete(a, b, leftPriority)
	}
	return a
}

func transformInsert(a, b document.Operation, leftPriority bool) document.Operation {
	out := a
	switch b.Type {
	case document.OpInsert:
		bLen := len([]rune(b.Content))
		switch {
		case b.Position < a.Position:
			out.Position += bLen
		case b.Position == a.Position:
			if !leftPriority {
				out.Position += bLen
			}
		}
	case document.OpDelete:
		if b.Position < a.Position {
			shift := min(a.Position-b.Position, b.Length)
			out.Position -= shift
		}
	}
	return out
}

func transformDelete(a, b document.Operation, leftPriority bool) document.Operation {
	out := a
	switch b.Type {
	case document.OpInsert:
		bLen := len([]rune(b.Content))
		if b.Position <= a.Position {
			out.Position += bLen
		} else if b.Position > a.Position && b.Position < a.Position+a.Length {
			out.Position += bLen
		}
	case document.OpDelete:
		aStart, aEnd := a.Position, a.Position+a.Length
		bStart, bEnd := b.Position, b.Position+b.Length
		switch {
		case bEnd <= aStart:
			// b fully before a: shift a left by b's length.
			out.Position -= b.Length
		case bStart >= aEnd:
			// b fully after a: unchanged.
		default:
			// overlapping: new length = l_a - overlap, position = min(p_a, p_b).
			overlapStart := max(aStart, bStart)
			overlapEnd := min(aEnd, bEnd)
			overlap := overlapEnd - overlapStart
			out.Position = min(aStart, bStart)
			out.Length = a.Length - overlap
		}
	}
	return out
}

// TransformSet transforms every operation in set A against every operation
// in set B, in order, per spec §4.3 ("Transforming a set A against set B
// transforms each element of A against each element of B in order").
// Operations whose length drops to zero or below are dropped.
func TransformSet(a []document.Operation, b []document.Operation, leftPriority bool) []document.Operation {
	working := make([]document.Operation, len(a))
	copy(working, a)

	for _, bOp := range b {
		next := make([]document.Operation, 0, len(working))
		for _, aOp := range working {
			t := Transform(aOp, bOp, leftPriority)
			if t.Type == document.OpDelete && t.Length <= 0 {
				continue
			}
			if t.Type == document.OpInsert && len(t.Content) == 0 {
				continue
			}
			next = append(next, t)
		}
		working = next
	}
	return working
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

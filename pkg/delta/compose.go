package delta

import (
	"errors"
	"fmt"
)

var ErrLengthMismatch = errors.New("delta: change exceeds document length")

type iterator struct {
	ops    Delta
	index  int
	offset int
}

func (it *iterator) hasNext() bool {
	for it.index < len(it.ops) && it.ops[it.index].Len() == 0 {
		it.index++
	}
	return it.index < len(it.ops)
}

// next takes up to n positions from the current op.
func (it *iterator) next(n int) Op {
	op := it.ops[it.index]
	remaining := op.Len() - it.offset
	if n >= remaining {
		n = remaining
	}
	var piece Op
	switch {
	case op.Embed != nil:
		piece = Op{Embed: op.Embed, Attributes: op.Attributes.Clone()}
	case op.Insert != "":
		runes := []rune(op.Insert)
		piece = Op{Insert: string(runes[it.offset : it.offset+n]), Attributes: op.Attributes.Clone()}
	case op.Retain > 0:
		piece = Op{Retain: n, Attributes: op.Attributes.Clone()}
	default:
		piece = Op{Delete: n}
	}
	it.offset += n
	if it.offset >= op.Len() {
		it.index++
		it.offset = 0
	}
	return piece
}

// Apply returns the document delta obtained by applying change to doc.
// Formatting never reaches embeds.
func Apply(doc, change Delta) (Delta, error) {
	var out Delta
	it := &iterator{ops: doc}
	for _, op := range change {
		switch {
		case op.IsInsert():
			if op.Embed != nil {
				op.Attributes = nil
			}
			out = out.push(op)
		case op.Retain > 0:
			for n := op.Retain; n > 0; {
				if !it.hasNext() {
					return nil, fmt.Errorf("%w: retain %d", ErrLengthMismatch, op.Retain)
				}
				piece := it.next(n)
				n -= piece.Len()
				if piece.Embed == nil {
					piece.Attributes = piece.Attributes.Merge(op.Attributes)
				}
				out = out.push(piece)
			}
		case op.Delete > 0:
			for n := op.Delete; n > 0; {
				if !it.hasNext() {
					return nil, fmt.Errorf("%w: delete %d", ErrLengthMismatch, op.Delete)
				}
				n -= it.next(n).Len()
			}
		}
	}
	for it.hasNext() {
		out = out.push(it.next(int(^uint(0) >> 1)))
	}
	return out, nil
}

// Slice returns the document positions [start, end).
func Slice(doc Delta, start, end int) Delta {
	var out Delta
	it := &iterator{ops: doc}
	pos := 0
	for pos < end && it.hasNext() {
		if pos < start {
			pos += it.next(start - pos).Len()
			continue
		}
		piece := it.next(end - pos)
		pos += piece.Len()
		out = out.push(piece)
	}
	return out
}

// Concat appends other to doc.
func Concat(doc, other Delta) Delta {
	out := make(Delta, 0, len(doc)+len(other))
	for _, op := range doc {
		out = out.push(op)
	}
	for _, op := range other {
		out = out.push(op)
	}
	return out
}

// Replace returns the change delta that turns a document of length n into
// doc.
func Replace(n int, doc Delta) Delta {
	var out Delta
	for _, op := range doc {
		out = out.push(op)
	}
	if n > 0 {
		out = out.push(Delete(n))
	}
	return out
}

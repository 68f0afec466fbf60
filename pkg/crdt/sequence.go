package crdt

import (
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"
)

// element is one position of an array or text. Hidden elements were not
// written by this package; they keep their slot but are never visible.
type element struct {
	id      ID
	content any
	// text formatting, replaced rather than mutated
	attrs  map[string]any
	hidden bool
}

func (el *element) isEmbed() bool {
	_, ok := el.content.(map[string]any)
	return ok
}

// elementState is the visible state of an element at snapshot time.
type elementState struct {
	id      ID
	content any
	attrs   map[string]any
}

// sequence mirrors an automerge list element by element, so a position in
// elems is a position in items.
type sequence struct {
	items *automerge.List
	elems []*element
}

func (s *sequence) visible() []*element {
	out := make([]*element, 0, len(s.elems))
	for _, el := range s.elems {
		if !el.hidden {
			out = append(out, el)
		}
	}
	return out
}

func (s *sequence) visibleLen() int {
	n := 0
	for _, el := range s.elems {
		if !el.hidden {
			n++
		}
	}
	return n
}

// insertAt maps a visible insert position to a slot in the list.
func (s *sequence) insertAt(index int) (int, error) {
	if index < 0 {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	if index == 0 {
		return 0, nil
	}
	n := 0
	for i, el := range s.elems {
		if el.hidden {
			continue
		}
		n++
		if n == index {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %d > %d", ErrOutOfRange, index, n)
}

// rangeAt returns the slots of length visible elements starting at index.
func (s *sequence) rangeAt(index, length int) ([]int, error) {
	if index < 0 || length < 0 {
		return nil, fmt.Errorf("%w: %d+%d", ErrOutOfRange, index, length)
	}
	slots := make([]int, 0, length)
	n := 0
	for i, el := range s.elems {
		if el.hidden {
			continue
		}
		if n >= index && len(slots) < length {
			slots = append(slots, i)
		}
		n++
	}
	if len(slots) < length {
		return nil, fmt.Errorf("%w: %d+%d > %d", ErrOutOfRange, index, length, n)
	}
	return slots, nil
}

func (s *sequence) slotOf(id ID) int {
	for i, el := range s.elems {
		if !el.hidden && el.id == id {
			return i
		}
	}
	return -1
}

func (s *sequence) splice(slot int, elems []*element) {
	next := make([]*element, 0, len(s.elems)+len(elems))
	next = append(next, s.elems[:slot]...)
	next = append(next, elems...)
	s.elems = append(next, s.elems[slot:]...)
}

// remove drops the given slots from the mirror and records the matching list
// deletes. Slots go highest first so earlier positions stay valid.
func (s *sequence) remove(tx *Transaction, t shared, slots []int) {
	if len(slots) == 0 {
		return
	}
	sorted := append([]int(nil), slots...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	tx.touchSeq(t, s)
	for _, slot := range sorted {
		s.elems = append(s.elems[:slot], s.elems[slot+1:]...)
	}
	tx.record(t, func() error {
		for _, slot := range sorted {
			if err := s.items.Delete(slot); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sequence) snapshot() []elementState {
	out := make([]elementState, 0, len(s.elems))
	for _, el := range s.elems {
		if el.hidden {
			continue
		}
		out = append(out, elementState{id: el.id, content: el.content, attrs: el.attrs})
	}
	return out
}

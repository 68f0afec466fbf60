package crdt

// Event describes the visible change a transaction made to one shared type.
type Event interface {
	// Path lists the map keys leading from the root map to the target.
	Path() []string
	target() shared
}

type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

type KeyChange struct {
	Action   Action
	OldValue any
}

type MapEvent struct {
	Target *Map
	Keys   map[string]KeyChange
}

func (e *MapEvent) Path() []string { return e.Target.Path() }
func (e *MapEvent) target() shared { return e.Target }

// ArrayDelta is one step of an array change: exactly one field is set.
type ArrayDelta struct {
	Insert []any
	Retain int
	Delete int
}

type ArrayEvent struct {
	Target *Array
	Delta  []ArrayDelta
}

func (e *ArrayEvent) Path() []string { return e.Target.Path() }
func (e *ArrayEvent) target() shared { return e.Target }

// Inserted returns the values the change added, in order.
func (e *ArrayEvent) Inserted() []any {
	var out []any
	for _, d := range e.Delta {
		out = append(out, d.Insert...)
	}
	return out
}

type TextEvent struct {
	Target *Text
	Delta  []DeltaOp
}

func (e *TextEvent) Path() []string { return e.Target.Path() }
func (e *TextEvent) target() shared { return e.Target }

func (tx *Transaction) events() []Event {
	var events []Event
	for _, t := range tx.order {
		switch v := t.(type) {
		case *Map:
			if ev := tx.mapEvent(v); ev != nil {
				events = append(events, ev)
			}
		case *Array:
			if ev := tx.arrayEvent(v); ev != nil {
				events = append(events, ev)
			}
		case *Text:
			if ev := tx.textEvent(v); ev != nil {
				events = append(events, ev)
			}
		}
	}
	return events
}

func (tx *Transaction) mapEvent(m *Map) *MapEvent {
	before := tx.maps[m]
	keys := make(map[string]KeyChange)
	for key, old := range before {
		after, present := m.entries[key]
		switch {
		case !present:
			keys[key] = KeyChange{Action: ActionDelete, OldValue: old}
		case !sameValue(old, after):
			keys[key] = KeyChange{Action: ActionUpdate, OldValue: old}
		}
	}
	for key := range m.entries {
		if _, had := before[key]; !had {
			keys[key] = KeyChange{Action: ActionAdd}
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return &MapEvent{Target: m, Keys: keys}
}

func sameValue(a, b any) bool {
	if sa, ok := a.(shared); ok {
		sb, ok := b.(shared)
		return ok && sa == sb
	}
	if _, ok := b.(shared); ok {
		return false
	}
	return valuesEqual(a, b)
}

// seqStep is one step of the diff between a snapshot and the current
// elements: a kept element, a run of removed ones or an added one.
type seqStep struct {
	kept    *elementState
	now     *element
	deleted int
}

// diffSeq matches elements by id. Elements never move, so kept elements
// appear in the same order on both sides.
func diffSeq(before []elementState, after []*element) []seqStep {
	pos := make(map[ID]int, len(before))
	for i, st := range before {
		pos[st.id] = i
	}
	var steps []seqStep
	i := 0
	for _, el := range after {
		if el.hidden {
			continue
		}
		if p, ok := pos[el.id]; ok && p >= i {
			if p > i {
				steps = append(steps, seqStep{deleted: p - i})
			}
			steps = append(steps, seqStep{kept: &before[p], now: el})
			i = p + 1
			continue
		}
		steps = append(steps, seqStep{now: el})
	}
	if i < len(before) {
		steps = append(steps, seqStep{deleted: len(before) - i})
	}
	return steps
}

func (tx *Transaction) arrayEvent(a *Array) *ArrayEvent {
	snap, ok := tx.seqs[a]
	if !ok {
		return nil
	}
	var delta []ArrayDelta
	push := func(d ArrayDelta) {
		if n := len(delta); n > 0 {
			last := &delta[n-1]
			switch {
			case d.Retain > 0 && last.Retain > 0:
				last.Retain += d.Retain
				return
			case d.Delete > 0 && last.Delete > 0:
				last.Delete += d.Delete
				return
			case d.Insert != nil && last.Insert != nil:
				last.Insert = append(last.Insert, d.Insert...)
				return
			}
		}
		delta = append(delta, d)
	}
	for _, step := range diffSeq(snap, a.seq.elems) {
		switch {
		case step.deleted > 0:
			push(ArrayDelta{Delete: step.deleted})
		case step.kept != nil:
			push(ArrayDelta{Retain: 1})
		default:
			push(ArrayDelta{Insert: []any{step.now.content}})
		}
	}
	if n := len(delta); n > 0 && delta[n-1].Retain > 0 {
		delta = delta[:n-1]
	}
	if len(delta) == 0 {
		return nil
	}
	return &ArrayEvent{Target: a, Delta: delta}
}

func (tx *Transaction) textEvent(t *Text) *TextEvent {
	snap, ok := tx.seqs[t]
	if !ok {
		return nil
	}
	var delta []DeltaOp
	for _, step := range diffSeq(snap, t.seq.elems) {
		switch {
		case step.deleted > 0:
			delta = appendDelta(delta, DeltaOp{Delete: step.deleted})
		case step.kept != nil:
			delta = appendDelta(delta, DeltaOp{Retain: 1, Attributes: attrsDiff(step.kept.attrs, step.now.attrs)})
		default:
			delta = appendDelta(delta, DeltaOp{Insert: step.now.content, Attributes: copyAttrs(step.now.attrs)})
		}
	}
	if n := len(delta); n > 0 && delta[n-1].Retain > 0 && len(delta[n-1].Attributes) == 0 {
		delta = delta[:n-1]
	}
	if len(delta) == 0 {
		return nil
	}
	return &TextEvent{Target: t, Delta: delta}
}

// attrsDiff returns the attribute changes turning before into after; removed
// keys map to nil.
func attrsDiff(before, after map[string]any) map[string]any {
	var diff map[string]any
	set := func(k string, v any) {
		if diff == nil {
			diff = make(map[string]any)
		}
		diff[k] = v
	}
	for k, v := range after {
		if old, ok := before[k]; !ok || !valuesEqual(old, v) {
			set(k, v)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			set(k, nil)
		}
	}
	return diff
}

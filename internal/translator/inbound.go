package translator

import (
	"errors"
	"sort"

	"notefiber-collab/internal/bridge"
	"notefiber-collab/internal/document"
	"notefiber-collab/internal/editor"
	"notefiber-collab/internal/pkg/logger"
	"notefiber-collab/pkg/crdt"
	"notefiber-collab/pkg/delta"
)

const inboundModule = "sync.inbound"

// Inbound turns remote change batches into editor operations. Structure is
// replayed first, parents before children and detaches before removals, then
// data changes, then text edits.
type Inbound struct {
	model  *document.Model
	logger logger.ILogger
	shadow *shadow
	texts  map[string]string
}

func NewInbound(model *document.Model, log logger.ILogger) *Inbound {
	return &Inbound{model: model, logger: log}
}

// Reset aligns the mirror of the editor's structure with the document. Call
// it after the editor was materialized and after local commits.
func (in *Inbound) Reset() error {
	s, err := snapshotShadow(in.model)
	if err != nil {
		in.shadow = nil
		return err
	}
	in.shadow = s
	in.texts = make(map[string]string)
	for id := range s.children {
		if b, err := in.model.GetBlock(id); err == nil && b.TextID != "" {
			in.texts[b.TextID] = id
		}
	}
	return nil
}

type textReplacement struct {
	textID string
	oldLen int
}

type batch struct {
	touched   []string
	touchedIn map[string]bool
	dataIDs   []string
	data      map[string]map[string]any
	replaced  []textReplacement
	texts     []*crdt.TextEvent
}

func (b *batch) touch(parent string) {
	if parent == "" || b.touchedIn[parent] {
		return
	}
	b.touchedIn[parent] = true
	b.touched = append(b.touched, parent)
}

func (b *batch) setData(id, key string, value any) {
	changes, ok := b.data[id]
	if !ok {
		changes = make(map[string]any)
		b.data[id] = changes
		b.dataIDs = append(b.dataIDs, id)
	}
	changes[key] = value
}

// Translate converts one committed remote transaction into editor operations.
// It returns ErrRematerialize when the change replaced the document layout
// itself.
func (in *Inbound) Translate(origin crdt.Origin, events []crdt.Event) ([]editor.Operation, error) {
	if origin != crdt.Remote {
		return nil, ErrReentrancyViolation
	}
	if in.shadow == nil {
		// nothing materialized yet
		return nil, ErrRematerialize
	}

	b := &batch{touchedIn: make(map[string]bool), data: make(map[string]map[string]any)}
	work := in.shadow.clone()
	if err := in.classify(events, work, b); err != nil {
		return nil, err
	}

	var (
		ops          []editor.Operation
		materialized = make(map[string]bool)
		texts        = make(map[string]string, len(in.texts))
	)
	for k, v := range in.texts {
		texts[k] = v
	}

	// structure, top-down
	parents := make([]string, 0, len(b.touched))
	depth := make(map[string]int, len(b.touched))
	for _, p := range b.touched {
		if d := in.model.Depth(p); d >= 0 {
			depth[p] = d
			parents = append(parents, p)
		}
	}
	sort.SliceStable(parents, func(i, j int) bool { return depth[parents[i]] < depth[parents[j]] })

	for idx := 0; idx < len(parents); idx++ {
		p := parents[idx]
		if !work.has(p) {
			continue
		}
		want, err := in.model.GetChildren(p)
		if err != nil {
			continue
		}
		// pos walks the editor's list; blocks about to be removed are
		// stepped over so they do not cause spurious moves.
		pos := 0
		for _, c := range want {
			cur := work.children[p]
			for pos < len(cur) && cur[pos] != c && in.model.Depth(cur[pos]) < 0 {
				pos++
			}
			if pos < len(cur) && cur[pos] == c {
				pos++
				continue
			}
			if work.has(c) {
				if c == p || work.isAncestor(c, p) {
					in.logger.Warn(inboundModule, "Skipping move that would create a cycle", map[string]interface{}{"block": c, "parent": p})
					continue
				}
				ops = append(ops, editor.MoveNode{ID: c, ParentID: p, Index: pos})
				work.move(c, p, pos)
				pos++
				continue
			}
			node, err := BuildNode(in.model, c)
			if err != nil {
				in.logger.Warn(inboundModule, "Cannot materialize inserted block", map[string]interface{}{"block": c, "error": err.Error()})
				continue
			}
			var owners []string
			cutExisting(node, work, &owners)
			for _, o := range owners {
				if _, queued := depth[o]; !queued {
					depth[o] = in.model.Depth(o)
					parents = append(parents, o)
				}
			}
			ops = append(ops, editor.InsertNode{ParentID: p, Index: pos, Node: node})
			work.insert(node, p, pos)
			pos++
			node.Walk(func(n *editor.Node) {
				materialized[n.ID] = true
				if n.TextID != "" {
					texts[n.TextID] = n.ID
				}
			})
		}
	}

	// structure, removals deepest first
	var doomed []string
	for id := range work.parent {
		if in.model.Depth(id) < 0 {
			doomed = append(doomed, id)
		}
	}
	sort.Slice(doomed, func(i, j int) bool {
		di, dj := work.depth(doomed[i]), work.depth(doomed[j])
		if di != dj {
			return di > dj
		}
		return doomed[i] < doomed[j]
	})
	removed := make(map[string]bool)
	for _, id := range doomed {
		if !work.has(id) {
			continue
		}
		ops = append(ops, editor.RemoveNode{ID: id})
		work.remove(id)
		removed[id] = true
	}
	for textID, owner := range texts {
		if !work.has(owner) {
			delete(texts, textID)
		}
	}

	// data
	for _, id := range b.dataIDs {
		if materialized[id] || !work.has(id) {
			continue
		}
		ops = append(ops, editor.SetNode{ID: id, Data: b.data[id]})
	}

	// text
	replacedText := make(map[string]bool)
	for _, r := range b.replaced {
		owner, ok := texts[r.textID]
		if !ok || materialized[owner] {
			continue
		}
		runs, err := in.model.GetText(r.textID)
		if err != nil {
			continue
		}
		local, err := bridge.ToLocal(runs)
		in.reportMalformed(r.textID, err)
		replacedText[r.textID] = true
		ops = append(ops, editor.TextEdit{TextID: r.textID, Delta: delta.Replace(r.oldLen, local)})
	}
	for _, ev := range b.texts {
		textID := ev.Path()[3]
		owner, ok := texts[textID]
		if !ok || materialized[owner] || replacedText[textID] || !ev.Target.Attached() {
			continue
		}
		local, err := bridge.ToLocal(ev.Delta)
		in.reportMalformed(textID, err)
		if len(local) == 0 {
			continue
		}
		ops = append(ops, editor.TextEdit{TextID: textID, Delta: local})
	}

	in.shadow = work
	in.texts = texts
	return ops, nil
}

func (in *Inbound) classify(events []crdt.Event, work *shadow, b *batch) error {
	for _, ev := range events {
		path := ev.Path()
		switch e := ev.(type) {
		case *crdt.MapEvent:
			switch {
			case len(path) == 0:
				if _, ok := e.Keys[document.KeyDocument]; ok {
					return ErrRematerialize
				}
			case pathIs(path, document.KeyDocument):
				for _, k := range []string{document.KeyPageID, document.KeyBlocks, document.KeyMeta} {
					if _, ok := e.Keys[k]; ok {
						return ErrRematerialize
					}
				}
			case pathIs(path, document.KeyDocument, document.KeyMeta):
				return ErrRematerialize
			case pathIs(path, document.KeyDocument, document.KeyBlocks):
				for id, ch := range e.Keys {
					switch ch.Action {
					case crdt.ActionAdd, crdt.ActionUpdate:
						if w, ok := in.model.Winner(id); ok {
							b.touch(w.Parent)
						}
						if ch.Action == crdt.ActionUpdate {
							if p, ok := work.parent[id]; ok {
								b.touch(p)
							}
						}
					case crdt.ActionDelete:
						if p, ok := work.parent[id]; ok {
							b.touch(p)
						}
					}
				}
			case pathIs(path, document.KeyDocument, document.KeyMeta, document.KeyChildrenMap):
				for id := range e.Keys {
					b.touch(id)
				}
			case pathIs(path, document.KeyDocument, document.KeyMeta, document.KeyTextMap):
				for textID, ch := range e.Keys {
					if ch.Action == crdt.ActionDelete {
						continue
					}
					old := 0
					if t, ok := ch.OldValue.(*crdt.Text); ok {
						old = t.Len()
					}
					b.replaced = append(b.replaced, textReplacement{textID: textID, oldLen: old})
				}
			case len(path) == 3 && pathIs(path[:2], document.KeyDocument, document.KeyBlocks):
				in.blockRecordChanged(path[2], e, b)
			case len(path) == 4 && pathIs(path[:2], document.KeyDocument, document.KeyBlocks) && path[3] == document.KeyData:
				for key, ch := range e.Keys {
					if ch.Action == crdt.ActionDelete {
						b.setData(path[2], key, nil)
						continue
					}
					v, _ := e.Target.Get(key)
					b.setData(path[2], key, v)
				}
			}
		case *crdt.ArrayEvent:
			if len(path) == 4 && pathIs(path[:3], document.KeyDocument, document.KeyMeta, document.KeyChildrenMap) {
				b.touch(path[3])
			}
		case *crdt.TextEvent:
			if len(path) == 4 && pathIs(path[:3], document.KeyDocument, document.KeyMeta, document.KeyTextMap) {
				b.texts = append(b.texts, e)
			}
		}
	}
	return nil
}

// blockRecordChanged handles a replaced data map. Other record keys are fixed
// for the lifetime of a block.
func (in *Inbound) blockRecordChanged(id string, e *crdt.MapEvent, b *batch) {
	ch, ok := e.Keys[document.KeyData]
	if !ok {
		return
	}
	if old, ok := ch.OldValue.(*crdt.Map); ok {
		for _, k := range old.Keys() {
			b.setData(id, k, nil)
		}
	}
	if cur, ok := e.Target.GetMap(document.KeyData); ok {
		for k, v := range cur.ToJSON() {
			b.setData(id, k, v)
		}
	}
}

func (in *Inbound) reportMalformed(textID string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, bridge.ErrMalformedDelta) {
		in.logger.Warn(inboundModule, "Dropped unrepresentable inline content", map[string]interface{}{
			"text_id": textID,
			"error":   err.Error(),
		})
	}
}

// Replay applies ops in order. An operation the editor rejects is skipped.
func (in *Inbound) Replay(ed editor.Editor, ops []editor.Operation) int {
	applied := 0
	for _, op := range ops {
		if err := ed.Apply(op); err != nil {
			in.logger.Debug(inboundModule, "Editor rejected inbound operation", map[string]interface{}{
				"op":    editor.Describe(op),
				"error": err.Error(),
			})
			continue
		}
		applied++
	}
	return applied
}

// cutExisting drops from a freshly built subtree the blocks the editor already
// shows elsewhere. Their new parents are reported so they get moved in.
func cutExisting(n *editor.Node, work *shadow, owners *[]string) {
	kept := n.Children[:0]
	for _, c := range n.Children {
		if work.has(c.ID) {
			*owners = append(*owners, n.ID)
			continue
		}
		cutExisting(c, work, owners)
		kept = append(kept, c)
	}
	n.Children = kept
}

func pathIs(path []string, parts ...string) bool {
	if len(path) != len(parts) {
		return false
	}
	for i := range parts {
		if path[i] != parts[i] {
			return false
		}
	}
	return true
}

func (s *shadow) isAncestor(ancestor, id string) bool {
	for cur, ok := s.parent[id]; ok; cur, ok = s.parent[cur] {
		if cur == ancestor {
			return true
		}
	}
	return false
}

package translator

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"notefiber-collab/internal/bridge"
	"notefiber-collab/internal/document"
	"notefiber-collab/internal/editor"
	"notefiber-collab/pkg/crdt"
	"notefiber-collab/pkg/delta"
)

// Outbound writes local editor operations into the shared document. Every
// check runs before the first mutation, so a rejected operation leaves the
// transaction untouched.
type Outbound struct {
	model *document.Model
}

func NewOutbound(model *document.Model) *Outbound {
	return &Outbound{model: model}
}

// Droppable reports whether err rejects a single operation rather than the
// whole transaction.
func Droppable(err error) bool {
	return errors.Is(err, ErrStaleReference) ||
		errors.Is(err, ErrInvalidMove) ||
		errors.Is(err, document.ErrInvalidData)
}

// Apply writes op into tx. An error for which Repaired holds means op was
// applied with its unrepresentable inline pieces left out.
func (o *Outbound) Apply(tx *crdt.Transaction, op editor.Operation) error {
	s, err := o.model.Schema()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleReference, err)
	}
	switch v := op.(type) {
	case editor.InsertNode:
		return o.insertNode(tx, s, v)
	case editor.RemoveNode:
		return o.removeNode(tx, s, v)
	case editor.SetNode:
		return o.setNode(tx, s, v)
	case editor.MoveNode:
		return o.moveNode(tx, s, v)
	case editor.TextEdit:
		return o.textEdit(tx, s, v)
	}
	return fmt.Errorf("translator: unsupported operation %T", op)
}

func (o *Outbound) insertNode(tx *crdt.Transaction, s document.Schema, op editor.InsertNode) error {
	if !o.model.Has(op.ParentID) {
		return fmt.Errorf("%w: parent %s", ErrStaleReference, op.ParentID)
	}
	if op.Node == nil {
		return fmt.Errorf("%w: insert without node", document.ErrInvalidData)
	}
	seen := make(map[string]bool)
	if err := o.checkSubtree(op.Node, seen); err != nil {
		return err
	}

	pos, err := o.model.InsertPosition(op.ParentID, op.Index, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleReference, err)
	}
	var repaired error
	if err := writeSubtree(tx, s, op.Node, &repaired); err != nil {
		return err
	}
	siblings, _ := s.ChildrenMap.GetArray(op.ParentID)
	if err := siblings.Insert(tx, pos, op.Node.ID); err != nil {
		return err
	}
	return repaired
}

func (o *Outbound) checkSubtree(n *editor.Node, seen map[string]bool) error {
	if n.ID == "" {
		return fmt.Errorf("%w: node without id", document.ErrInvalidData)
	}
	if seen[n.ID] || o.model.Has(n.ID) {
		return fmt.Errorf("%w: block %s already exists", ErrStaleReference, n.ID)
	}
	seen[n.ID] = true
	if _, err := document.DecodeData(n.Type, n.Data); err != nil {
		return fmt.Errorf("block %s: %w", n.ID, err)
	}
	if !n.Type.HasText() && n.Text.Length() > 0 {
		return fmt.Errorf("%w: %s blocks carry no text", document.ErrInvalidData, n.Type)
	}
	for _, c := range n.Children {
		if err := o.checkSubtree(c, seen); err != nil {
			return err
		}
	}
	return nil
}

// writeSubtree creates n and its descendants. Inline pieces left out of their
// text are added to repaired.
func writeSubtree(tx *crdt.Transaction, s document.Schema, n *editor.Node, repaired *error) error {
	text, err := s.CreateBlock(tx, n.ID, n.Type, n.Data)
	if err != nil {
		return err
	}
	if text != nil && len(n.Text) > 0 {
		ops, dropped := bridge.ToRemote(n.Text)
		if err := text.ApplyDelta(tx, ops); err != nil {
			return err
		}
		if dropped != nil {
			*repaired = multierr.Append(*repaired, fmt.Errorf("text %s: %w", n.ID, dropped))
		}
	}
	children, _ := s.ChildrenMap.GetArray(n.ID)
	for _, c := range n.Children {
		if err := writeSubtree(tx, s, c, repaired); err != nil {
			return err
		}
		if err := children.Push(tx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Outbound) removeNode(tx *crdt.Transaction, s document.Schema, op editor.RemoveNode) error {
	if !o.model.Has(op.ID) {
		return fmt.Errorf("%w: block %s", ErrStaleReference, op.ID)
	}
	if root, _ := o.model.GetRoot(); root == op.ID {
		return fmt.Errorf("%w: the root cannot be removed", ErrInvalidMove)
	}
	desc, err := o.model.Descendants(op.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleReference, err)
	}
	// leaves first
	order := append(desc, op.ID)
	for i := len(order) - 1; i >= 0; i-- {
		if err := o.detach(tx, s, order[i]); err != nil {
			return err
		}
		if err := s.DeleteBlock(tx, order[i]); err != nil {
			return err
		}
	}
	return nil
}

// detach removes every live entry of id from the children lists.
func (o *Outbound) detach(tx *crdt.Transaction, s document.Schema, id string) error {
	placements, err := o.model.Placements(id)
	if err != nil {
		return err
	}
	byParent := make(map[string][]crdt.ID)
	var parents []string
	for _, p := range placements {
		if _, ok := byParent[p.Parent]; !ok {
			parents = append(parents, p.Parent)
		}
		byParent[p.Parent] = append(byParent[p.Parent], p.Entry)
	}
	for _, parent := range parents {
		arr, ok := s.ChildrenMap.GetArray(parent)
		if !ok {
			continue
		}
		if err := arr.DeleteItems(tx, byParent[parent]...); err != nil {
			return err
		}
	}
	return nil
}

func (o *Outbound) setNode(tx *crdt.Transaction, s document.Schema, op editor.SetNode) error {
	block, err := o.model.GetBlock(op.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleReference, err)
	}
	merged := make(map[string]any, len(block.Data)+len(op.Data))
	for k, v := range block.Data {
		merged[k] = v
	}
	for k, v := range op.Data {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	if _, err := document.DecodeData(block.Type, merged); err != nil {
		return fmt.Errorf("block %s: %w", op.ID, err)
	}

	rec, _ := s.Blocks.GetMap(op.ID)
	data, ok := rec.GetMap(document.KeyData)
	if !ok {
		if data, err = rec.SetMap(tx, document.KeyData); err != nil {
			return err
		}
	}
	for k, v := range op.Data {
		if v == nil {
			err = data.Delete(tx, k)
		} else {
			err = data.Set(tx, k, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Outbound) moveNode(tx *crdt.Transaction, s document.Schema, op editor.MoveNode) error {
	if !o.model.Has(op.ID) {
		return fmt.Errorf("%w: block %s", ErrStaleReference, op.ID)
	}
	if !o.model.Has(op.ParentID) {
		return fmt.Errorf("%w: parent %s", ErrStaleReference, op.ParentID)
	}
	if root, _ := o.model.GetRoot(); root == op.ID {
		return fmt.Errorf("%w: the root cannot move", ErrInvalidMove)
	}
	if op.ID == op.ParentID || o.model.IsAncestor(op.ID, op.ParentID) {
		return fmt.Errorf("%w: %s into its own subtree", ErrInvalidMove, op.ID)
	}

	if err := o.detach(tx, s, op.ID); err != nil {
		return err
	}
	pos, err := o.model.InsertPosition(op.ParentID, op.Index, op.ID)
	if err != nil {
		return err
	}
	siblings, _ := s.ChildrenMap.GetArray(op.ParentID)
	return siblings.Insert(tx, pos, op.ID)
}

func (o *Outbound) textEdit(tx *crdt.Transaction, s document.Schema, op editor.TextEdit) error {
	text, ok := s.TextMap.GetText(op.TextID)
	if !ok {
		return fmt.Errorf("%w: text %s", ErrStaleReference, op.TextID)
	}
	if span := consumed(op.Delta); span > text.Len() {
		return fmt.Errorf("%w: text %s has %d positions, edit spans %d", ErrStaleReference, op.TextID, text.Len(), span)
	}
	ops, dropped := bridge.ToRemote(op.Delta)
	if err := text.ApplyDelta(tx, ops); err != nil {
		return err
	}
	if dropped != nil {
		return fmt.Errorf("text %s: %w", op.TextID, dropped)
	}
	return nil
}

// consumed counts the existing positions a change delta walks over.
func consumed(d delta.Delta) int {
	n := 0
	for _, op := range d {
		n += op.Retain + op.Delete
	}
	return n
}

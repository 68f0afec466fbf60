package document

import (
	"errors"
	"fmt"

	"notefiber-collab/pkg/crdt"
)

var (
	ErrNotFound       = errors.New("document: not found")
	ErrInvalidData    = errors.New("document: invalid block data")
	ErrNotInitialized = errors.New("document: shared root not initialized")
)

// Keys of the shared layout.
const (
	RootName       = "data"
	KeyDocument    = "document"
	KeyPageID      = "page_id"
	KeyBlocks      = "blocks"
	KeyMeta        = "meta"
	KeyChildrenMap = "children_map"
	KeyTextMap     = "text_map"

	KeyID         = "id"
	KeyType       = "ty"
	KeyExternalID = "external_id"
	KeyData       = "data"
)

// Schema bundles the shared containers of one document.
type Schema struct {
	Document    *crdt.Map
	Blocks      *crdt.Map
	ChildrenMap *crdt.Map
	TextMap     *crdt.Map
}

// LoadSchema resolves the containers. It fails with ErrNotInitialized until
// the layout exists locally.
func LoadSchema(doc *crdt.Doc) (Schema, error) {
	root := doc.GetMap(RootName)
	document, ok := root.GetMap(KeyDocument)
	if !ok {
		return Schema{}, ErrNotInitialized
	}
	blocks, ok := document.GetMap(KeyBlocks)
	if !ok {
		return Schema{}, ErrNotInitialized
	}
	meta, ok := document.GetMap(KeyMeta)
	if !ok {
		return Schema{}, ErrNotInitialized
	}
	childrenMap, ok := meta.GetMap(KeyChildrenMap)
	if !ok {
		return Schema{}, ErrNotInitialized
	}
	textMap, ok := meta.GetMap(KeyTextMap)
	if !ok {
		return Schema{}, ErrNotInitialized
	}
	return Schema{Document: document, Blocks: blocks, ChildrenMap: childrenMap, TextMap: textMap}, nil
}

// Init lays out an empty document whose root is a page block with the given
// id.
func Init(tx *crdt.Transaction, doc *crdt.Doc, pageID string) (Schema, error) {
	root := doc.GetMap(RootName)
	document, err := root.SetMap(tx, KeyDocument)
	if err != nil {
		return Schema{}, err
	}
	if err := document.Set(tx, KeyPageID, pageID); err != nil {
		return Schema{}, err
	}
	blocks, err := document.SetMap(tx, KeyBlocks)
	if err != nil {
		return Schema{}, err
	}
	meta, err := document.SetMap(tx, KeyMeta)
	if err != nil {
		return Schema{}, err
	}
	childrenMap, err := meta.SetMap(tx, KeyChildrenMap)
	if err != nil {
		return Schema{}, err
	}
	textMap, err := meta.SetMap(tx, KeyTextMap)
	if err != nil {
		return Schema{}, err
	}
	s := Schema{Document: document, Blocks: blocks, ChildrenMap: childrenMap, TextMap: textMap}
	if _, err := s.CreateBlock(tx, pageID, Page, nil); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// CreateBlock writes a block record with an empty children list and, for
// types that own text, an empty text under the block id. It does not attach
// the block to a parent.
func (s Schema) CreateBlock(tx *crdt.Transaction, id string, t BlockType, data map[string]any) (*crdt.Text, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidData, t)
	}
	block, err := s.Blocks.SetMap(tx, id)
	if err != nil {
		return nil, err
	}
	if err := block.Set(tx, KeyID, id); err != nil {
		return nil, err
	}
	if err := block.Set(tx, KeyType, t.String()); err != nil {
		return nil, err
	}
	dataMap, err := block.SetMap(tx, KeyData)
	if err != nil {
		return nil, err
	}
	for k, v := range data {
		if v == nil {
			continue
		}
		if err := dataMap.Set(tx, k, v); err != nil {
			return nil, err
		}
	}
	if _, err := s.ChildrenMap.SetArray(tx, id); err != nil {
		return nil, err
	}
	if !t.HasText() {
		return nil, nil
	}
	if err := block.Set(tx, KeyExternalID, id); err != nil {
		return nil, err
	}
	return s.TextMap.SetText(tx, id)
}

// DeleteBlock removes the record, the children list and the text of one
// block. Callers detach it from its parent and delete descendants.
func (s Schema) DeleteBlock(tx *crdt.Transaction, id string) error {
	if block, ok := s.Blocks.GetMap(id); ok {
		if textID, ok := block.GetString(KeyExternalID); ok {
			if err := s.TextMap.Delete(tx, textID); err != nil {
				return err
			}
		}
	}
	if err := s.ChildrenMap.Delete(tx, id); err != nil {
		return err
	}
	return s.Blocks.Delete(tx, id)
}

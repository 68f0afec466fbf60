package delta

import (
	"encoding/json"
	"fmt"
)

type wireOp struct {
	Insert     any            `json:"insert,omitempty"`
	Retain     int            `json:"retain,omitempty"`
	Delete     int            `json:"delete,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type wireMention struct {
	Type   MentionType `json:"type"`
	PageID string      `json:"page_id"`
}

// MarshalJSON renders the op in the common insert/retain/delete shape.
func (op Op) MarshalJSON() ([]byte, error) {
	w := wireOp{Retain: op.Retain, Delete: op.Delete}
	switch {
	case op.Embed != nil:
		switch op.Embed.Kind {
		case EmbedFormula:
			w.Insert = map[string]any{"formula": op.Embed.Formula}
		case EmbedMention:
			w.Insert = map[string]any{"mention": wireMention{Type: op.Embed.Mention.Type, PageID: op.Embed.Mention.TargetID}}
		default:
			return nil, fmt.Errorf("delta: unknown embed kind %d", op.Embed.Kind)
		}
	case op.Insert != "":
		w.Insert = op.Insert
	}
	if len(op.Attributes) > 0 {
		w.Attributes = make(map[string]any, len(op.Attributes))
		for k, v := range op.Attributes {
			w.Attributes[string(k)] = v
		}
	}
	return json.Marshal(w)
}

func (d Delta) String() string {
	b, err := json.Marshal([]Op(d))
	if err != nil {
		return fmt.Sprintf("delta(%d ops)", len(d))
	}
	return string(b)
}

package document

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// BlockType is the closed set of block kinds a document can hold.
type BlockType uint8

const (
	Page BlockType = iota + 1
	Paragraph
	Heading
	BulletedList
	NumberedList
	Todo
	Toggle
	Quote
	Callout
	Code
	Divider
	Table
	TableCell
	GridEmbed
	Equation
)

var blockTags = map[BlockType]string{
	Page:         "page",
	Paragraph:    "paragraph",
	Heading:      "heading",
	BulletedList: "bulleted_list",
	NumberedList: "numbered_list",
	Todo:         "todo_list",
	Toggle:       "toggle_list",
	Quote:        "quote",
	Callout:      "callout",
	Code:         "code",
	Divider:      "divider",
	Table:        "table",
	TableCell:    "table/cell",
	GridEmbed:    "grid",
	Equation:     "math_equation",
}

func (t BlockType) String() string {
	if tag, ok := blockTags[t]; ok {
		return tag
	}
	return fmt.Sprintf("BlockType(%d)", uint8(t))
}

func (t BlockType) Valid() bool {
	_, ok := blockTags[t]
	return ok
}

func ParseBlockType(tag string) (BlockType, error) {
	for t, s := range blockTags {
		if s == tag {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown block type %q", tag)
}

// HasText reports whether blocks of this type own inline text.
func (t BlockType) HasText() bool {
	switch t {
	case Page, Paragraph, Heading, BulletedList, NumberedList, Todo, Toggle, Quote, Callout, Code:
		return true
	case Divider, Table, TableCell, GridEmbed, Equation:
		return false
	}
	return false
}

// AcceptsMergedChildren reports whether a block of this type keeps the
// children of a block merged into it; other types lift them instead.
func (t BlockType) AcceptsMergedChildren() bool {
	switch t {
	case Toggle, Todo, Paragraph, Quote, BulletedList, NumberedList:
		return true
	}
	return false
}

// Block is a point-in-time copy of one block record.
type Block struct {
	ID   string
	Type BlockType
	// ParentID is derived from the children lists; empty for the root.
	ParentID string
	// TextID is empty when the type owns no text.
	TextID string
	Data   map[string]any
}

type EmptyData struct{}

type HeadingData struct {
	Level int `json:"level" validate:"min=1,max=6"`
}

type TodoData struct {
	Checked bool `json:"checked"`
}

type ToggleData struct {
	Collapsed bool `json:"collapsed"`
}

type NumberedListData struct {
	Number int `json:"number,omitempty" validate:"min=0"`
}

type CodeData struct {
	Language string `json:"language,omitempty" validate:"max=64"`
}

type CalloutData struct {
	Icon string `json:"icon,omitempty"`
}

type TableData struct {
	RowsLen int `json:"rows_len" validate:"min=1"`
	ColsLen int `json:"cols_len" validate:"min=1"`
}

type TableCellData struct {
	RowPosition int `json:"row_position" validate:"min=0"`
	ColPosition int `json:"col_position" validate:"min=0"`
}

type GridEmbedData struct {
	ViewID string `json:"view_id" validate:"required"`
}

type EquationData struct {
	Formula string `json:"formula"`
}

var validate = validator.New()

// DecodeData converts a raw data map into the typed variant for t and
// validates it.
func DecodeData(t BlockType, raw map[string]any) (any, error) {
	var out any
	switch t {
	case Heading:
		out = &HeadingData{}
	case Todo:
		out = &TodoData{}
	case Toggle:
		out = &ToggleData{}
	case NumberedList:
		out = &NumberedListData{}
	case Code:
		out = &CodeData{}
	case Callout:
		out = &CalloutData{}
	case Table:
		out = &TableData{}
	case TableCell:
		out = &TableCellData{}
	case GridEmbed:
		out = &GridEmbedData{}
	case Equation:
		out = &EquationData{}
	case Page, Paragraph, BulletedList, Quote, Divider:
		return &EmptyData{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidData, t)
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidData, t, err)
	}
	if err := validate.Struct(out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidData, t, err)
	}
	return out, nil
}

// DefaultData returns the data a freshly created block of type t carries.
func DefaultData(t BlockType) map[string]any {
	switch t {
	case Heading:
		return map[string]any{"level": 1}
	case Todo:
		return map[string]any{"checked": false}
	case Toggle:
		return map[string]any{"collapsed": false}
	case Table:
		return map[string]any{"rows_len": 1, "cols_len": 1}
	case TableCell:
		return map[string]any{"row_position": 0, "col_position": 0}
	}
	return map[string]any{}
}

// Package delta models the inline content of a block as the editor sees it:
// a sequence of insert/retain/delete operations with typed formatting.
package delta

import (
	"reflect"
	"strings"
	"unicode/utf8"
)

// Attr is an inline formatting attribute.
type Attr string

const (
	Bold          Attr = "bold"
	Italic        Attr = "italic"
	Underline     Attr = "underline"
	Strikethrough Attr = "strikethrough"
	Code          Attr = "code"
	FontColor     Attr = "font_color"
	BgColor       Attr = "bg_color"
	Href          Attr = "href"
)

// Attrs lists every representable attribute.
var Attrs = []Attr{Bold, Italic, Underline, Strikethrough, Code, FontColor, BgColor, Href}

func (a Attr) Valid() bool {
	switch a {
	case Bold, Italic, Underline, Strikethrough, Code, FontColor, BgColor, Href:
		return true
	}
	return false
}

// IsFlag reports whether the attribute holds a bool rather than a string.
func (a Attr) IsFlag() bool {
	switch a {
	case Bold, Italic, Underline, Strikethrough, Code:
		return true
	}
	return false
}

// Attributes is a sparse formatting set. Flags hold bool, the rest string. In
// a retain a nil value removes the attribute.
type Attributes map[Attr]any

func (a Attributes) Clone() Attributes {
	if len(a) == 0 {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func (a Attributes) Equal(b Attributes) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Merge applies change on top of a: nil values delete keys.
func (a Attributes) Merge(change Attributes) Attributes {
	out := a.Clone()
	for k, v := range change {
		if v == nil {
			delete(out, k)
			continue
		}
		if out == nil {
			out = make(Attributes)
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type EmbedKind uint8

const (
	EmbedFormula EmbedKind = iota + 1
	EmbedMention
)

func (k EmbedKind) String() string {
	switch k {
	case EmbedFormula:
		return "formula"
	case EmbedMention:
		return "mention"
	}
	return "unknown"
}

type MentionType string

const (
	MentionPage MentionType = "page"
	MentionDate MentionType = "date"
)

type Mention struct {
	Type     MentionType
	TargetID string
}

// Embed is an atomic inline element. It always has length 1.
type Embed struct {
	Kind    EmbedKind
	Formula string
	Mention Mention
}

func Formula(src string) *Embed {
	return &Embed{Kind: EmbedFormula, Formula: src}
}

func MentionOf(typ MentionType, targetID string) *Embed {
	return &Embed{Kind: EmbedMention, Mention: Mention{Type: typ, TargetID: targetID}}
}

// Op is one delta step. Exactly one of Insert/Embed, Retain or Delete is set.
type Op struct {
	Insert     string
	Embed      *Embed
	Retain     int
	Delete     int
	Attributes Attributes
}

func Insert(s string, attrs Attributes) Op { return Op{Insert: s, Attributes: attrs} }
func InsertEmbed(e *Embed) Op             { return Op{Embed: e} }
func Retain(n int, attrs Attributes) Op   { return Op{Retain: n, Attributes: attrs} }
func Delete(n int) Op                     { return Op{Delete: n} }

func (op Op) IsInsert() bool {
	return op.Insert != "" || op.Embed != nil
}

// Len counts runes for text, 1 for an embed.
func (op Op) Len() int {
	switch {
	case op.Embed != nil:
		return 1
	case op.Insert != "":
		return utf8.RuneCountInString(op.Insert)
	case op.Retain > 0:
		return op.Retain
	}
	return op.Delete
}

func (op Op) Equal(other Op) bool {
	if op.Insert != other.Insert || op.Retain != other.Retain || op.Delete != other.Delete {
		return false
	}
	if (op.Embed == nil) != (other.Embed == nil) {
		return false
	}
	if op.Embed != nil && *op.Embed != *other.Embed {
		return false
	}
	return op.Attributes.Equal(other.Attributes)
}

// Delta is a list of ops. A document delta contains inserts only.
type Delta []Op

// Length is the number of positions a document delta covers.
func (d Delta) Length() int {
	n := 0
	for _, op := range d {
		if op.IsInsert() {
			n += op.Len()
		}
	}
	return n
}

// PlainText returns the text content, embeds left out.
func (d Delta) PlainText() string {
	var b strings.Builder
	for _, op := range d {
		b.WriteString(op.Insert)
	}
	return b.String()
}

func (d Delta) Equal(other Delta) bool {
	a, b := d.Compact(), other.Compact()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Compact merges neighbouring ops of the same kind and attributes and drops
// empty ops.
func (d Delta) Compact() Delta {
	var out Delta
	for _, op := range d {
		out = out.push(op)
	}
	return out
}

func (d Delta) push(op Op) Delta {
	if op.Len() == 0 {
		return d
	}
	if op.Embed != nil {
		return append(d, op)
	}
	n := len(d)
	if n == 0 {
		return append(d, op)
	}
	last := &d[n-1]
	switch {
	case op.Delete > 0 && last.Delete > 0:
		last.Delete += op.Delete
		return d
	case op.Retain > 0 && last.Retain > 0 && last.Attributes.Equal(op.Attributes):
		last.Retain += op.Retain
		return d
	case op.Insert != "" && last.Insert != "" && last.Embed == nil && last.Attributes.Equal(op.Attributes):
		last.Insert += op.Insert
		return d
	}
	return append(d, op)
}

// Package bridge converts inline content between the editor's delta and the
// shared text representation.
package bridge

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"notefiber-collab/pkg/crdt"
	"notefiber-collab/pkg/delta"
)

var ErrMalformedDelta = errors.New("bridge: malformed delta")

// Placeholder stands in for an embed whose payload cannot be represented. It
// keeps the position so later retains and deletes still line up.
const Placeholder = "\ufffc"

const (
	embedFormula = "formula"
	embedMention = "mention"

	mentionType   = "type"
	mentionTarget = "page_id"
)

// ToRemote converts an editor delta into shared text ops. Embeds become a
// single unit and never carry formatting. Pieces the shared text cannot
// represent are dropped: an unknown embed becomes a Placeholder so positions
// still line up, and an invalid attribute is left out. The returned error
// then wraps ErrMalformedDelta and lists them, while the ops stay usable.
func ToRemote(d delta.Delta) ([]crdt.DeltaOp, error) {
	var errs error
	out := make([]crdt.DeltaOp, 0, len(d))
	for i, op := range d {
		switch {
		case op.Embed != nil:
			payload, err := embedToRemote(op.Embed)
			if err != nil {
				errs = multierr.Append(errs, wrapAt(i, err))
				out = append(out, crdt.DeltaOp{Insert: Placeholder})
				continue
			}
			if len(op.Attributes) > 0 {
				errs = multierr.Append(errs, wrapAt(i, fmt.Errorf("%w: formatting on %s embed dropped", ErrMalformedDelta, op.Embed.Kind)))
			}
			out = append(out, crdt.DeltaOp{Insert: payload})
		case op.Insert != "":
			attrs, err := attrsToRemote(op.Attributes, false)
			errs = multierr.Append(errs, wrapAt(i, err))
			out = append(out, crdt.DeltaOp{Insert: op.Insert, Attributes: attrs})
		case op.Retain > 0:
			attrs, err := attrsToRemote(op.Attributes, true)
			errs = multierr.Append(errs, wrapAt(i, err))
			out = append(out, crdt.DeltaOp{Retain: op.Retain, Attributes: attrs})
		case op.Delete > 0:
			out = append(out, crdt.DeltaOp{Delete: op.Delete})
		default:
			errs = multierr.Append(errs, wrapAt(i, fmt.Errorf("%w: empty op", ErrMalformedDelta)))
		}
	}
	return out, errs
}

func embedToRemote(e *delta.Embed) (map[string]any, error) {
	switch e.Kind {
	case delta.EmbedFormula:
		return map[string]any{embedFormula: e.Formula}, nil
	case delta.EmbedMention:
		switch e.Mention.Type {
		case delta.MentionPage, delta.MentionDate:
		default:
			return nil, fmt.Errorf("%w: mention type %q", ErrMalformedDelta, e.Mention.Type)
		}
		if e.Mention.TargetID == "" {
			return nil, fmt.Errorf("%w: mention without target", ErrMalformedDelta)
		}
		return map[string]any{embedMention: map[string]any{
			mentionType:   string(e.Mention.Type),
			mentionTarget: e.Mention.TargetID,
		}}, nil
	}
	return nil, fmt.Errorf("%w: unknown embed kind %d", ErrMalformedDelta, e.Kind)
}

func attrsToRemote(attrs delta.Attributes, allowNil bool) (map[string]any, error) {
	var (
		out  map[string]any
		errs error
	)
	for k, v := range attrs {
		keep, err := checkAttr(string(k), v, allowNil)
		errs = multierr.Append(errs, err)
		if !keep {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(attrs))
		}
		out[string(k)] = v
	}
	return out, errs
}

// ToLocal converts shared text ops into an editor delta. Pieces the editor
// cannot represent are dropped; the returned error then wraps
// ErrMalformedDelta and lists them, while the delta stays usable.
func ToLocal(ops []crdt.DeltaOp) (delta.Delta, error) {
	var (
		out  delta.Delta
		errs error
	)
	for i, op := range ops {
		switch {
		case op.Insert != nil:
			switch v := op.Insert.(type) {
			case string:
				if v == "" {
					continue
				}
				attrs, err := attrsToLocal(op.Attributes, false)
				errs = multierr.Append(errs, wrapAt(i, err))
				out = append(out, delta.Insert(v, attrs))
			case map[string]any:
				embed, err := embedToLocal(v)
				if err != nil {
					errs = multierr.Append(errs, wrapAt(i, err))
					out = append(out, delta.Insert(Placeholder, nil))
					continue
				}
				if len(op.Attributes) > 0 {
					errs = multierr.Append(errs, wrapAt(i, fmt.Errorf("%w: formatting on %s embed dropped", ErrMalformedDelta, embed.Kind)))
				}
				out = append(out, delta.InsertEmbed(embed))
			default:
				errs = multierr.Append(errs, wrapAt(i, fmt.Errorf("%w: insert of %T", ErrMalformedDelta, op.Insert)))
			}
		case op.Retain > 0:
			attrs, err := attrsToLocal(op.Attributes, true)
			errs = multierr.Append(errs, wrapAt(i, err))
			out = append(out, delta.Retain(op.Retain, attrs))
		case op.Delete > 0:
			out = append(out, delta.Delete(op.Delete))
		default:
			errs = multierr.Append(errs, wrapAt(i, fmt.Errorf("%w: empty op", ErrMalformedDelta)))
		}
	}
	return out, errs
}

func wrapAt(i int, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("op %d: %w", i, err)
}

func attrsToLocal(attrs map[string]any, allowNil bool) (delta.Attributes, error) {
	var (
		out  delta.Attributes
		errs error
	)
	for k, v := range attrs {
		keep, err := checkAttr(k, v, allowNil)
		errs = multierr.Append(errs, err)
		if !keep {
			continue
		}
		if out == nil {
			out = make(delta.Attributes, len(attrs))
		}
		out[delta.Attr(k)] = v
	}
	return out, errs
}

// checkAttr reports whether attribute k with value v is representable on
// both sides. A nil value only survives where it removes formatting.
func checkAttr(k string, v any, allowNil bool) (bool, error) {
	attr := delta.Attr(k)
	if !attr.Valid() {
		return false, fmt.Errorf("%w: unknown attribute %q", ErrMalformedDelta, k)
	}
	switch val := v.(type) {
	case nil:
		return allowNil, nil
	case bool:
		if !attr.IsFlag() {
			return false, fmt.Errorf("%w: %s expects a string", ErrMalformedDelta, k)
		}
	case string:
		if attr.IsFlag() {
			return false, fmt.Errorf("%w: %s expects a bool", ErrMalformedDelta, k)
		}
	default:
		return false, fmt.Errorf("%w: %s has a %T value", ErrMalformedDelta, k, val)
	}
	return true, nil
}

func embedToLocal(payload map[string]any) (*delta.Embed, error) {
	if len(payload) != 1 {
		return nil, fmt.Errorf("%w: embed with %d keys", ErrMalformedDelta, len(payload))
	}
	if f, ok := payload[embedFormula]; ok {
		src, ok := f.(string)
		if !ok {
			return nil, fmt.Errorf("%w: formula is %T", ErrMalformedDelta, f)
		}
		return delta.Formula(src), nil
	}
	if m, ok := payload[embedMention]; ok {
		fields, ok := m.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: mention is %T", ErrMalformedDelta, m)
		}
		typ, _ := fields[mentionType].(string)
		target, _ := fields[mentionTarget].(string)
		switch delta.MentionType(typ) {
		case delta.MentionPage, delta.MentionDate:
		default:
			return nil, fmt.Errorf("%w: mention type %q", ErrMalformedDelta, typ)
		}
		if target == "" {
			return nil, fmt.Errorf("%w: mention without target", ErrMalformedDelta)
		}
		return delta.MentionOf(delta.MentionType(typ), target), nil
	}
	for k := range payload {
		return nil, fmt.Errorf("%w: unknown embed %q", ErrMalformedDelta, k)
	}
	return nil, fmt.Errorf("%w: empty embed", ErrMalformedDelta)
}

package collab

import (
	"fmt"

	"go.uber.org/multierr"

	"notefiber-collab/internal/editor"
)

// Dropped is an operation Submit skipped because its target was gone, or
// applied without the inline pieces Err lists.
type Dropped struct {
	Index int
	Op    editor.Operation
	Err   error
}

// Receipt reports the outcome of one Submit.
type Receipt struct {
	Applied []editor.Operation
	Dropped []Dropped
	// Repaired operations were applied with unrepresentable inline content
	// left out.
	Repaired []Dropped
	// Update is the encoded transaction, empty when nothing changed.
	Update []byte
}

// Err combines the reasons of every dropped operation, nil when none was
// dropped.
func (r *Receipt) Err() error {
	var err error
	for _, d := range r.Dropped {
		err = multierr.Append(err, fmt.Errorf("op %d %s: %w", d.Index, editor.Describe(d.Op), d.Err))
	}
	return err
}

// RepairErr combines what was left out of every repaired operation.
func (r *Receipt) RepairErr() error {
	var err error
	for _, d := range r.Repaired {
		err = multierr.Append(err, fmt.Errorf("op %d %s: %w", d.Index, editor.Describe(d.Op), d.Err))
	}
	return err
}

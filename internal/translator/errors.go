// Package translator turns editor operations into shared-document mutations
// and shared-document change events back into editor operations.
package translator

import (
	"errors"

	"notefiber-collab/internal/bridge"
)

var (
	// ErrStaleReference means the operation targets something a concurrent
	// change already removed. Such operations are dropped.
	ErrStaleReference = errors.New("translator: stale reference")
	// ErrInvalidMove rejects moving the root or a block into its own subtree.
	ErrInvalidMove = errors.New("translator: invalid move")
	// ErrReentrancyViolation means locally originated events reached the
	// inbound path.
	ErrReentrancyViolation = errors.New("translator: local events reached inbound translation")
	// ErrRematerialize asks the caller to rebuild the whole editor tree.
	ErrRematerialize = errors.New("translator: document root replaced")
)

// Repaired reports whether err only lists inline pieces that were left out of
// an operation which was still applied. The editor holds content the shared
// document does not, so the caller rebuilds it.
func Repaired(err error) bool {
	return err != nil && errors.Is(err, bridge.ErrMalformedDelta) && !Droppable(err)
}

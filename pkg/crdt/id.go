package crdt

import (
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a nested type or a sequence element. Clocks are Lamport
// timestamps, so IDs are unique per replica and totally ordered by
// (Clock, Client).
type ID struct {
	Client uint64 `json:"c"`
	Clock  uint64 `json:"k"`
}

func (id ID) Less(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Client < other.Client
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Clock, id.Client)
}

func parseID(s string) (ID, bool) {
	clock, client, ok := strings.Cut(s, "@")
	if !ok {
		return ID{}, false
	}
	k, err := strconv.ParseUint(clock, 10, 64)
	if err != nil {
		return ID{}, false
	}
	c, err := strconv.ParseUint(client, 10, 64)
	if err != nil || c == 0 {
		return ID{}, false
	}
	return ID{Client: c, Clock: k}, true
}

// StateVector maps a client id to the number of changes integrated from it.
type StateVector map[uint64]uint64

// actorOf is the automerge actor a client writes as.
func actorOf(client uint64) string {
	return fmt.Sprintf("%016x", client)
}

func clientOf(actor string) (uint64, error) {
	if len(actor) != 16 {
		return 0, fmt.Errorf("%w: actor %q is not a client id", ErrMalformedUpdate, actor)
	}
	c, err := strconv.ParseUint(actor, 16, 64)
	if err != nil || c == 0 {
		return 0, fmt.Errorf("%w: actor %q is not a client id", ErrMalformedUpdate, actor)
	}
	return c, nil
}

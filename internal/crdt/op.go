package crdt

import "errors"

type OpAction string

const (
	OpInsert OpAction = "insert"
	OpDelete OpAction = "delete"
)

// EventDocOp is the transport event name document operations travel under.
const EventDocOp = "doc-op"

// Op is one replicated document operation. Inserts carry the full node
// (identity, position and content); deletes carry only the target ID.
type Op struct {
	DocID  string   `json:"doc_id"`
	Action OpAction `json:"action"`
	Node   *Node    `json:"node,omitempty"`
	Target ID       `json:"target,omitempty"`
}

var (
	// ErrMalformedOp marks an operation that can never apply: a corrupt
	// peer's op is dropped and logged, it must not desynchronize this
	// replica beyond the single operation.
	ErrMalformedOp = errors.New("crdt: malformed operation")

	// ErrUnknownParent marks a local insert under a parent this replica has
	// never seen. A remote insert with a missing parent is not an error; it
	// is parked until the parent arrives.
	ErrUnknownParent = errors.New("crdt: unknown parent")

	ErrClosed = errors.New("crdt: replica closed")
)

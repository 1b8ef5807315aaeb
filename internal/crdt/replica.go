package crdt

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"teamhub-be/internal/pkg/logger"
)

// DefaultQuietPeriod is the persist debounce: edits within the window
// coalesce into one flatten-and-persist call, as in the product's editor.
const DefaultQuietPeriod = 2 * time.Second

// Persister receives the flattened document after the quiet period. It is
// the hand-off to the durable storage collaborator.
type Persister func(docID string, content []byte)

// Element is the content of a node to insert, before it gets an identity.
type Element struct {
	Kind  NodeKind
	Text  string
	Marks []Mark
	Attrs map[string]interface{}
}

// Replica is the authoritative local copy of one shared document. Local
// edits are applied immediately and queued for broadcast; remote operations
// may arrive in any order, any number of times, and merge commutatively.
type Replica struct {
	docID  string
	origin string
	log    logger.ILogger

	persist Persister
	quiet   time.Duration

	mu       sync.Mutex
	seq      uint64
	nodes    map[ID]*Node
	children map[ID][]*Node // parent -> siblings, kept in convergent order
	// pendingDeletes holds tombstones whose insert has not arrived yet.
	pendingDeletes map[ID]bool
	// pendingInserts parks remote inserts whose parent has not arrived yet,
	// keyed by the missing parent. The transport only orders per sender, so
	// a child insert can legitimately outrun its parent.
	pendingInserts map[ID][]*Node
	timer          *time.Timer
	closed         bool

	outbox chan Op
}

func NewReplica(docID, origin string, persist Persister, quiet time.Duration, log logger.ILogger) *Replica {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Replica{
		docID:          docID,
		origin:         origin,
		log:            log,
		persist:        persist,
		quiet:          quiet,
		nodes:          make(map[ID]*Node),
		children:       make(map[ID][]*Node),
		pendingDeletes: make(map[ID]bool),
		pendingInserts: make(map[ID][]*Node),
		outbox:         make(chan Op, 256),
	}
}

func (r *Replica) DocID() string  { return r.docID }
func (r *Replica) Origin() string { return r.origin }

// Outbox yields locally-applied operations for broadcast. Closed with the
// replica.
func (r *Replica) Outbox() <-chan Op {
	return r.outbox
}

// InsertAt applies a local insert under parent at the given visible index
// and queues it for broadcast.
func (r *Replica) InsertAt(parent ID, index int, el Element) (Op, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Op{}, ErrClosed
	}
	if !parent.IsZero() {
		if _, ok := r.nodes[parent]; !ok {
			return Op{}, ErrUnknownParent
		}
	}

	left, right := r.fencesAt(parent, index)

	r.seq++
	node := &Node{
		ID:       ID{Origin: r.origin, Seq: r.seq},
		Parent:   parent,
		Kind:     el.Kind,
		Text:     el.Text,
		Marks:    el.Marks,
		Attrs:    el.Attrs,
		Position: PositionBetween(left, right),
	}
	r.insertNode(node)

	op := Op{DocID: r.docID, Action: OpInsert, Node: node}
	r.enqueue(op)
	r.schedulePersistLocked()
	return op, nil
}

// Delete tombstones a local node and queues the delete for broadcast.
func (r *Replica) Delete(target ID) (Op, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Op{}, ErrClosed
	}
	node, ok := r.nodes[target]
	if !ok {
		return Op{}, ErrMalformedOp
	}
	node.Deleted = true

	op := Op{DocID: r.docID, Action: OpDelete, Target: target}
	r.enqueue(op)
	r.schedulePersistLocked()
	return op, nil
}

// ApplyRemote merges one remote operation. Safe to call in any order and
// repeatedly: duplicates (including the replica's own echoed broadcasts)
// are absorbed, a delete arriving before its insert is parked as a pending
// tombstone, an insert arriving before its parent is parked until the
// parent lands, and a malformed op is dropped with an error, never fatal.
func (r *Replica) ApplyRemote(op Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	switch op.Action {
	case OpInsert:
		n := op.Node
		if n == nil || n.ID.IsZero() || n.Kind == "" || len(n.Position) == 0 {
			r.log.Warn("CRDT", "Dropping malformed insert", map[string]interface{}{
				"doc": r.docID,
			})
			return ErrMalformedOp
		}
		if _, exists := r.nodes[n.ID]; exists {
			return nil // duplicate or own echo
		}
		clone := *n
		if !n.Parent.IsZero() {
			if _, ok := r.nodes[n.Parent]; !ok {
				// Parent hasn't arrived; park the subtree root until it does.
				r.pendingInserts[n.Parent] = append(r.pendingInserts[n.Parent], &clone)
				return nil
			}
		}
		if r.pendingDeletes[clone.ID] {
			clone.Deleted = true
			delete(r.pendingDeletes, clone.ID)
		}
		r.insertNode(&clone)
		r.flushPendingLocked(clone.ID)
		r.schedulePersistLocked()
		return nil

	case OpDelete:
		if op.Target.IsZero() {
			r.log.Warn("CRDT", "Dropping malformed delete", map[string]interface{}{
				"doc": r.docID,
			})
			return ErrMalformedOp
		}
		node, ok := r.nodes[op.Target]
		if !ok {
			// Delete raced ahead of its insert; applied once it arrives.
			r.pendingDeletes[op.Target] = true
			return nil
		}
		if node.Deleted {
			return nil
		}
		node.Deleted = true
		r.schedulePersistLocked()
		return nil

	default:
		r.log.Warn("CRDT", "Dropping op with unknown action", map[string]interface{}{
			"doc": r.docID, "action": string(op.Action),
		})
		return ErrMalformedOp
	}
}

// Get returns a copy of the node, tombstones included.
func (r *Replica) Get(id ID) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Tree materializes the visible document structure.
func (r *Replica) Tree() []FlatNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.treeLocked(ID{})
}

// Flatten serializes the visible structure for persistence.
func (r *Replica) Flatten() ([]byte, error) {
	return json.Marshal(r.Tree())
}

// Close cancels any pending persist debounce and stops the outbox. In-flight
// remote ops are not flushed; at most the last unflattened edit is lost and
// recoverable from the previous persist.
func (r *Replica) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	close(r.outbox)
}

func (r *Replica) treeLocked(parent ID) []FlatNode {
	siblings := r.children[parent]
	out := make([]FlatNode, 0, len(siblings))
	for _, n := range siblings {
		if n.Deleted {
			continue
		}
		out = append(out, FlatNode{
			Kind:     n.Kind,
			Text:     n.Text,
			Marks:    n.Marks,
			Attrs:    n.Attrs,
			Children: r.treeLocked(n.ID),
		})
	}
	return out
}

// fencesAt finds the position keys around the visible index among parent's
// siblings. Tombstones still hold their keys, so a fence may be a tombstone
// sitting between the visible neighbors.
func (r *Replica) fencesAt(parent ID, index int) (left, right Position) {
	siblings := r.children[parent]
	if index < 0 {
		index = 0
	}

	visible := -1
	leftAt := -1
	for i, n := range siblings {
		if n.Deleted {
			continue
		}
		visible++
		if visible == index-1 {
			leftAt = i
		}
		if visible == index {
			break
		}
	}

	if index == 0 {
		if len(siblings) > 0 {
			return nil, siblings[0].Position
		}
		return nil, nil
	}
	if leftAt == -1 {
		// Fewer visible siblings than index: append at the end.
		if len(siblings) > 0 {
			return siblings[len(siblings)-1].Position, nil
		}
		return nil, nil
	}
	left = siblings[leftAt].Position
	if leftAt+1 < len(siblings) {
		right = siblings[leftAt+1].Position
	}
	return left, right
}

// flushPendingLocked applies every parked insert waiting on the freshly
// arrived node, cascading through the parked subtree.
func (r *Replica) flushPendingLocked(parent ID) {
	queue := []ID{parent}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		parked := r.pendingInserts[id]
		if len(parked) == 0 {
			continue
		}
		delete(r.pendingInserts, id)
		for _, n := range parked {
			if _, exists := r.nodes[n.ID]; exists {
				continue // parked duplicate
			}
			if r.pendingDeletes[n.ID] {
				n.Deleted = true
				delete(r.pendingDeletes, n.ID)
			}
			r.insertNode(n)
			queue = append(queue, n.ID)
		}
	}
}

func (r *Replica) insertNode(n *Node) {
	r.nodes[n.ID] = n
	siblings := r.children[n.Parent]
	at := sort.Search(len(siblings), func(i int) bool {
		return n.Less(siblings[i])
	})
	siblings = append(siblings, nil)
	copy(siblings[at+1:], siblings[at:])
	siblings[at] = n
	r.children[n.Parent] = siblings
}

func (r *Replica) enqueue(op Op) {
	select {
	case r.outbox <- op:
	default:
		// The broadcast pump has stalled; peers reconcile from the next
		// persisted snapshot.
		r.log.Warn("CRDT", "Outbox full, dropping broadcast", map[string]interface{}{
			"doc": r.docID, "action": string(op.Action),
		})
	}
}

func (r *Replica) schedulePersistLocked() {
	if r.persist == nil {
		return
	}
	if r.timer != nil {
		r.timer.Reset(r.quiet)
		return
	}
	r.timer = time.AfterFunc(r.quiet, r.firePersist)
}

func (r *Replica) firePersist() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	content, err := json.Marshal(r.treeLocked(ID{}))
	r.mu.Unlock()
	if err != nil {
		r.log.Error("CRDT", "Flatten failed", map[string]interface{}{
			"doc": r.docID, "error": err.Error(),
		})
		return
	}
	r.persist(r.docID, content)
}

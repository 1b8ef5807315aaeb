package crdt

// NodeKind is the structural type of a document element.
type NodeKind string

const (
	KindParagraph  NodeKind = "paragraph"
	KindHeading    NodeKind = "heading"
	KindBulletList NodeKind = "bullet_list"
	KindListItem   NodeKind = "list_item"
	KindBlockquote NodeKind = "blockquote"
	KindCodeBlock  NodeKind = "code_block"
	KindText       NodeKind = "text"
)

// Mark is an inline formatting span on a text node.
type Mark string

const (
	MarkBold   Mark = "bold"
	MarkItalic Mark = "italic"
	MarkStrike Mark = "strike"
	MarkCode   Mark = "code"
)

// Node is one element of the replicated document tree. Deleted nodes stay in
// the tree as tombstones so a delete applied before its insert still lands.
type Node struct {
	ID       ID                     `json:"id"`
	Parent   ID                     `json:"parent"` // zero ID = document root
	Kind     NodeKind               `json:"kind"`
	Text     string                 `json:"text,omitempty"`
	Marks    []Mark                 `json:"marks,omitempty"`
	Attrs    map[string]interface{} `json:"attrs,omitempty"`
	Position Position               `json:"position"`
	Deleted  bool                   `json:"-"`
}

// Less is the convergent sibling order: position key first, then the ID
// tie-break for concurrent inserts that landed on the same key.
func (n *Node) Less(other *Node) bool {
	if c := ComparePositions(n.Position, other.Position); c != 0 {
		return c < 0
	}
	return CompareIDs(n.ID, other.ID) < 0
}

// FlatNode is the materialized (tombstone-free) view of a node, the shape
// handed to the storage collaborator and compared in convergence checks.
type FlatNode struct {
	Kind     NodeKind               `json:"kind"`
	Text     string                 `json:"text,omitempty"`
	Marks    []Mark                 `json:"marks,omitempty"`
	Attrs    map[string]interface{} `json:"attrs,omitempty"`
	Children []FlatNode             `json:"children,omitempty"`
}

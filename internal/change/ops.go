// Package change is the pure diff engine: it compares two content
// representations, produces an ordered list of invertible operations, and can
// replay or reverse them. It holds no document state beyond a bounded result
// cache.
package change

import "time"

// Kind identifies one operation type in a ChangeSet.
type Kind string

const (
	KindTextReplace     Kind = "text-replace"
	KindTextInsert      Kind = "text-insert"
	KindTextDelete      Kind = "text-delete"
	KindParagraphAdd    Kind = "paragraph-add"
	KindParagraphRemove Kind = "paragraph-remove"
	KindParagraphModify Kind = "paragraph-modify"
	KindParagraphMove   Kind = "paragraph-move"
	KindPropertyAdd     Kind = "property-add"
	KindPropertyRemove  Kind = "property-remove"
	KindPropertyModify  Kind = "property-modify"
	KindReplaceAll      Kind = "replace-all"
)

// Node is one paragraph-like element of the structured editor tree. The
// engine diffs nodes by ID; Formatting is carried opaquely and compared by
// normalized equality.
type Node struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Formatting map[string]any `json:"formatting,omitempty"`
	Index      int            `json:"index"`
}

// Operation is a single atomic content delta. Only the fields relevant to
// its Kind are populated.
type Operation struct {
	Kind Kind `json:"kind"`

	// Text operations. Position is a rune offset into the text.
	Position int    `json:"position,omitempty"`
	OldText  string `json:"oldText,omitempty"`
	NewText  string `json:"newText,omitempty"`

	// Paragraph operations.
	ParagraphID string `json:"paragraphId,omitempty"`
	OldIndex    int    `json:"oldIndex,omitempty"`
	NewIndex    int    `json:"newIndex,omitempty"`
	Node        *Node  `json:"node,omitempty"`
	OldNode     *Node  `json:"oldNode,omitempty"`

	// Property operations.
	Key      string `json:"key,omitempty"`
	OldValue any    `json:"oldValue,omitempty"`
	NewValue any    `json:"newValue,omitempty"`

	// Replace-all payloads. For text inputs OldText/NewText are used instead.
	OldNodes []Node `json:"oldNodes,omitempty"`
	NewNodes []Node `json:"newNodes,omitempty"`
}

// ChangeSet is the result of one diff: the ordered operations that turn the
// old representation into the new one.
type ChangeSet struct {
	HasChanges bool        `json:"hasChanges"`
	Type       string      `json:"type"`
	Operations []Operation `json:"operations"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Classification buckets for paragraph diffing. Every id in the union of
// both sides lands in exactly one bucket.
type Classification struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Modified  []string `json:"modified"`
	Moved     []string `json:"moved"`
	Unchanged []string `json:"unchanged"`
}

func cloneNode(n Node) Node {
	out := n
	if n.Formatting != nil {
		out.Formatting = make(map[string]any, len(n.Formatting))
		for k, v := range n.Formatting {
			out.Formatting[k] = v
		}
	}
	return out
}

func cloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = cloneNode(n)
	}
	return out
}

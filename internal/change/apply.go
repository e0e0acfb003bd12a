package change

import (
	"errors"
	"fmt"
)

var (
	// ErrOperationMismatch indicates an operation does not fit the content it
	// is being replayed against.
	ErrOperationMismatch = errors.New("change: operation does not match content")
	// ErrUnsupportedOperation indicates an operation kind the replayer cannot
	// handle for the given content type.
	ErrUnsupportedOperation = errors.New("change: unsupported operation")
)

// ApplyText replays a change set against a plain-text value and returns the
// result. The input is never mutated (strings are immutable, so this is a
// property of the contract rather than the implementation).
func ApplyText(base string, cs ChangeSet) (string, error) {
	out := base
	for _, op := range cs.Operations {
		var err error
		out, err = applyTextOp(out, op)
		if err != nil {
			return "", err
		}
	}
	return out, nil
}

func applyTextOp(text string, op Operation) (string, error) {
	runes := []rune(text)
	switch op.Kind {
	case KindReplaceAll:
		return op.NewText, nil
	case KindTextInsert:
		if op.Position < 0 || op.Position > len(runes) {
			return "", fmt.Errorf("%w: insert at %d in %d runes", ErrOperationMismatch, op.Position, len(runes))
		}
		return string(runes[:op.Position]) + op.NewText + string(runes[op.Position:]), nil
	case KindTextDelete:
		oldRunes := []rune(op.OldText)
		end := op.Position + len(oldRunes)
		if op.Position < 0 || end > len(runes) || string(runes[op.Position:end]) != op.OldText {
			return "", fmt.Errorf("%w: delete %q at %d", ErrOperationMismatch, op.OldText, op.Position)
		}
		return string(runes[:op.Position]) + string(runes[end:]), nil
	case KindTextReplace:
		oldRunes := []rune(op.OldText)
		end := op.Position + len(oldRunes)
		if op.Position < 0 || end > len(runes) || string(runes[op.Position:end]) != op.OldText {
			return "", fmt.Errorf("%w: replace %q at %d", ErrOperationMismatch, op.OldText, op.Position)
		}
		return string(runes[:op.Position]) + op.NewText + string(runes[end:]), nil
	default:
		return "", fmt.Errorf("%w: %s on text", ErrUnsupportedOperation, op.Kind)
	}
}

// ApplyParagraphs replays a change set against an ordered paragraph list.
// The base slice is deep-copied first and never mutated. Node indexes are
// renumbered to match final positions before returning.
func ApplyParagraphs(base []Node, cs ChangeSet) ([]Node, error) {
	nodes := cloneNodes(base)
	for _, op := range cs.Operations {
		var err error
		nodes, err = applyParagraphOp(nodes, op)
		if err != nil {
			return nil, err
		}
	}
	for i := range nodes {
		nodes[i].Index = i
	}
	return nodes, nil
}

func applyParagraphOp(nodes []Node, op Operation) ([]Node, error) {
	switch op.Kind {
	case KindReplaceAll:
		return cloneNodes(op.NewNodes), nil
	case KindParagraphAdd:
		if op.Node == nil {
			return nil, fmt.Errorf("%w: add without node", ErrOperationMismatch)
		}
		return insertNode(nodes, cloneNode(*op.Node), op.NewIndex), nil
	case KindParagraphRemove:
		idx := indexOf(nodes, op.ParagraphID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: remove unknown paragraph %s", ErrOperationMismatch, op.ParagraphID)
		}
		return append(nodes[:idx], nodes[idx+1:]...), nil
	case KindParagraphModify:
		// Content only; position changes arrive as separate move operations.
		idx := indexOf(nodes, op.ParagraphID)
		if idx < 0 || op.Node == nil {
			return nil, fmt.Errorf("%w: modify unknown paragraph %s", ErrOperationMismatch, op.ParagraphID)
		}
		nodes[idx].Text = op.Node.Text
		nodes[idx].Formatting = cloneNode(*op.Node).Formatting
		return nodes, nil
	case KindParagraphMove:
		idx := indexOf(nodes, op.ParagraphID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: move unknown paragraph %s", ErrOperationMismatch, op.ParagraphID)
		}
		moved := nodes[idx]
		nodes = append(nodes[:idx], nodes[idx+1:]...)
		return insertNode(nodes, moved, op.NewIndex), nil
	default:
		return nil, fmt.Errorf("%w: %s on paragraphs", ErrUnsupportedOperation, op.Kind)
	}
}

func insertNode(nodes []Node, n Node, at int) []Node {
	if at < 0 {
		at = 0
	}
	if at > len(nodes) {
		at = len(nodes)
	}
	nodes = append(nodes, Node{})
	copy(nodes[at+1:], nodes[at:])
	nodes[at] = n
	return nodes
}

func indexOf(nodes []Node, id string) int {
	for i, n := range nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// ApplyProperties replays property operations against a keyed record,
// returning a new map.
func ApplyProperties(base map[string]any, cs ChangeSet) (map[string]any, error) {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, op := range cs.Operations {
		switch op.Kind {
		case KindPropertyAdd, KindPropertyModify:
			out[op.Key] = op.NewValue
		case KindPropertyRemove:
			if _, ok := out[op.Key]; !ok {
				return nil, fmt.Errorf("%w: remove unknown property %s", ErrOperationMismatch, op.Key)
			}
			delete(out, op.Key)
		default:
			return nil, fmt.Errorf("%w: %s on properties", ErrUnsupportedOperation, op.Kind)
		}
	}
	return out, nil
}

// Reverse builds the inverse change set: each operation individually
// inverted, in reverse order, such that applying a change set and then its
// reverse restores the original content.
func Reverse(cs ChangeSet) ChangeSet {
	ops := make([]Operation, 0, len(cs.Operations))
	for i := len(cs.Operations) - 1; i >= 0; i-- {
		ops = append(ops, invert(cs.Operations[i]))
	}
	return ChangeSet{
		HasChanges: cs.HasChanges,
		Type:       cs.Type,
		Operations: ops,
		Timestamp:  cs.Timestamp,
	}
}

func invert(op Operation) Operation {
	out := op
	switch op.Kind {
	case KindTextReplace:
		out.OldText, out.NewText = op.NewText, op.OldText
	case KindTextInsert:
		out.Kind = KindTextDelete
		out.OldText, out.NewText = op.NewText, ""
	case KindTextDelete:
		out.Kind = KindTextInsert
		out.OldText, out.NewText = "", op.OldText
	case KindParagraphAdd:
		out.Kind = KindParagraphRemove
		out.OldIndex, out.NewIndex = op.NewIndex, 0
		out.OldNode, out.Node = op.Node, nil
	case KindParagraphRemove:
		out.Kind = KindParagraphAdd
		out.NewIndex, out.OldIndex = op.OldIndex, 0
		out.Node, out.OldNode = op.OldNode, nil
	case KindParagraphModify:
		out.OldNode, out.Node = op.Node, op.OldNode
		out.OldIndex, out.NewIndex = op.NewIndex, op.OldIndex
	case KindParagraphMove:
		out.OldIndex, out.NewIndex = op.NewIndex, op.OldIndex
	case KindPropertyAdd:
		out.Kind = KindPropertyRemove
		out.OldValue, out.NewValue = op.NewValue, nil
	case KindPropertyRemove:
		out.Kind = KindPropertyAdd
		out.NewValue, out.OldValue = op.OldValue, nil
	case KindPropertyModify:
		out.OldValue, out.NewValue = op.NewValue, op.OldValue
	case KindReplaceAll:
		out.OldText, out.NewText = op.NewText, op.OldText
		out.OldNodes, out.NewNodes = op.NewNodes, op.OldNodes
	}
	return out
}

// Significance weights per operation kind. Structural edits outrank text
// edits; text edits scale with the length of the edited span.
const (
	weightParagraphAdd    = 25
	weightParagraphRemove = 25
	weightParagraphModify = 15
	weightParagraphMove   = 10
	weightProperty        = 5
	weightTextCap         = 15
	significanceMax       = 100
)

// Significance scores a change set on a bounded 0-100 scale, used to
// prioritize or throttle expensive downstream work.
func Significance(cs ChangeSet) int {
	if !cs.HasChanges {
		return 0
	}
	score := 0
	for _, op := range cs.Operations {
		switch op.Kind {
		case KindReplaceAll:
			return significanceMax
		case KindParagraphAdd:
			score += weightParagraphAdd
		case KindParagraphRemove:
			score += weightParagraphRemove
		case KindParagraphModify:
			score += weightParagraphModify
		case KindParagraphMove:
			score += weightParagraphMove
		case KindPropertyAdd, KindPropertyRemove, KindPropertyModify:
			score += weightProperty
		case KindTextReplace, KindTextInsert, KindTextDelete:
			edited := len([]rune(op.OldText))
			if n := len([]rune(op.NewText)); n > edited {
				edited = n
			}
			textScore := edited / 10
			if textScore < 1 {
				textScore = 1
			}
			if textScore > weightTextCap {
				textScore = weightTextCap
			}
			score += textScore
		}
	}
	if score > significanceMax {
		score = significanceMax
	}
	return score
}

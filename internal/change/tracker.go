package change

import (
	"encoding/json"
	"reflect"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

const defaultCacheSize = 128

// Tracker computes change sets. It is stateless apart from a bounded
// oldest-evicted result cache keyed by content hashes of both inputs, so a
// long editing session cannot grow it without bound.
type Tracker struct {
	mu        sync.Mutex
	cache     map[string]ChangeSet
	cacheKeys []string
	cacheMax  int
}

func NewTracker() *Tracker {
	return &Tracker{
		cache:    make(map[string]ChangeSet),
		cacheMax: defaultCacheSize,
	}
}

// DetectText diffs two plain-text values. It finds the common prefix and
// suffix and emits a single operation covering only the differing middle
// span. This is an O(n) heuristic, not a full edit-distance diff; edits are
// typically localized to one paragraph, which this covers exactly.
func (t *Tracker) DetectText(old, new string) ChangeSet {
	if old == new {
		return ChangeSet{Type: "text", Timestamp: time.Now()}
	}

	key := cacheKey("text", []byte(old), []byte(new))
	if cached, ok := t.cached(key); ok {
		return cached
	}

	oldRunes := []rune(old)
	newRunes := []rune(new)

	prefix := 0
	for prefix < len(oldRunes) && prefix < len(newRunes) && oldRunes[prefix] == newRunes[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldRunes)-prefix && suffix < len(newRunes)-prefix &&
		oldRunes[len(oldRunes)-1-suffix] == newRunes[len(newRunes)-1-suffix] {
		suffix++
	}

	oldMid := string(oldRunes[prefix : len(oldRunes)-suffix])
	newMid := string(newRunes[prefix : len(newRunes)-suffix])

	var op Operation
	switch {
	case oldMid == "":
		op = Operation{Kind: KindTextInsert, Position: prefix, NewText: newMid}
	case newMid == "":
		op = Operation{Kind: KindTextDelete, Position: prefix, OldText: oldMid}
	default:
		op = Operation{Kind: KindTextReplace, Position: prefix, OldText: oldMid, NewText: newMid}
	}

	cs := ChangeSet{
		HasChanges: true,
		Type:       "text",
		Operations: []Operation{op},
		Timestamp:  time.Now(),
	}
	t.store(key, cs)
	return cs
}

// DetectParagraphs diffs two ordered paragraph lists by id. Every id in the
// union of both sides is classified into exactly one of added, removed,
// modified, moved, or unchanged. Content inequality wins over position: a
// node with changed text or formatting is modified even if it also moved.
func (t *Tracker) DetectParagraphs(old, new []Node) ChangeSet {
	oldJSON, _ := json.Marshal(old)
	newJSON, _ := json.Marshal(new)
	key := cacheKey("paragraphs", oldJSON, newJSON)
	if cached, ok := t.cached(key); ok {
		return cached
	}

	_, ops := classifyParagraphs(old, new)
	cs := ChangeSet{
		HasChanges: len(ops) > 0,
		Type:       "paragraphs",
		Operations: ops,
		Timestamp:  time.Now(),
	}
	t.store(key, cs)
	return cs
}

// Classify exposes the paragraph classification without building operations.
func (t *Tracker) Classify(old, new []Node) Classification {
	cls, _ := classifyParagraphs(old, new)
	return cls
}

func classifyParagraphs(old, new []Node) (Classification, []Operation) {
	oldByID := make(map[string]Node, len(old))
	for i, n := range old {
		n.Index = i
		oldByID[n.ID] = n
	}
	newByID := make(map[string]Node, len(new))
	for i, n := range new {
		n.Index = i
		newByID[n.ID] = n
	}

	var cls Classification
	var modifies, removes []Operation

	for i, oldNode := range old {
		newNode, ok := newByID[oldNode.ID]
		if !ok {
			cls.Removed = append(cls.Removed, oldNode.ID)
			removed := cloneNode(oldNode)
			removed.Index = i
			removes = append(removes, Operation{
				Kind:        KindParagraphRemove,
				ParagraphID: oldNode.ID,
				OldIndex:    i,
				OldNode:     &removed,
			})
			continue
		}
		switch {
		case oldNode.Text != newNode.Text || !formattingEqual(oldNode.Formatting, newNode.Formatting):
			cls.Modified = append(cls.Modified, oldNode.ID)
			before := cloneNode(oldNode)
			before.Index = i
			after := cloneNode(newNode)
			modifies = append(modifies, Operation{
				Kind:        KindParagraphModify,
				ParagraphID: oldNode.ID,
				OldIndex:    i,
				NewIndex:    newNode.Index,
				OldNode:     &before,
				Node:        &after,
			})
		case i != newNode.Index:
			cls.Moved = append(cls.Moved, oldNode.ID)
		default:
			cls.Unchanged = append(cls.Unchanged, oldNode.ID)
		}
	}

	// Every emitted index must be valid at its point in the sequence, not
	// against the original list, or replay corrupts the order. Modifies are
	// content-only and go first; removals run highest-index-first while the
	// list shrinks underneath them; then a walk of the target order over the
	// surviving ids emits moves and adds against the evolving intermediate
	// list, pinning each paragraph to its final position left to right.
	sort.SliceStable(removes, func(i, j int) bool { return removes[i].OldIndex > removes[j].OldIndex })

	ops := make([]Operation, 0, len(modifies)+len(removes)+len(new))
	ops = append(ops, modifies...)
	ops = append(ops, removes...)

	working := make([]string, 0, len(old))
	for _, n := range old {
		if _, ok := newByID[n.ID]; ok {
			working = append(working, n.ID)
		}
	}
	for i, newNode := range new {
		if _, ok := oldByID[newNode.ID]; !ok {
			cls.Added = append(cls.Added, newNode.ID)
			added := cloneNode(newNode)
			added.Index = i
			ops = append(ops, Operation{
				Kind:        KindParagraphAdd,
				ParagraphID: newNode.ID,
				NewIndex:    i,
				Node:        &added,
			})
			working = insertID(working, newNode.ID, i)
			continue
		}
		if working[i] == newNode.ID {
			continue
		}
		from := indexOfID(working, newNode.ID)
		ops = append(ops, Operation{
			Kind:        KindParagraphMove,
			ParagraphID: newNode.ID,
			OldIndex:    from,
			NewIndex:    i,
		})
		working = append(working[:from], working[from+1:]...)
		working = insertID(working, newNode.ID, i)
	}
	return cls, ops
}

func insertID(ids []string, id string, at int) []string {
	if at < 0 {
		at = 0
	}
	if at > len(ids) {
		at = len(ids)
	}
	ids = append(ids, "")
	copy(ids[at+1:], ids[at:])
	ids[at] = id
	return ids
}

func indexOfID(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

// DetectProperties diffs two keyed records, emitting one operation per key
// that was added, removed, or changed.
func (t *Tracker) DetectProperties(old, new map[string]any) ChangeSet {
	var ops []Operation

	oldKeys := sortedKeys(old)
	for _, k := range oldKeys {
		newVal, ok := new[k]
		if !ok {
			ops = append(ops, Operation{Kind: KindPropertyRemove, Key: k, OldValue: old[k]})
			continue
		}
		if !reflect.DeepEqual(old[k], newVal) {
			ops = append(ops, Operation{Kind: KindPropertyModify, Key: k, OldValue: old[k], NewValue: newVal})
		}
	}
	for _, k := range sortedKeys(new) {
		if _, ok := old[k]; !ok {
			ops = append(ops, Operation{Kind: KindPropertyAdd, Key: k, NewValue: new[k]})
		}
	}

	return ChangeSet{
		HasChanges: len(ops) > 0,
		Type:       "properties",
		Operations: ops,
		Timestamp:  time.Now(),
	}
}

// Detect dispatches on the dynamic input types. If either side is absent or
// the types do not pair up, no partial diffing is attempted: the result is a
// single replace-all operation.
func (t *Tracker) Detect(old, new any) ChangeSet {
	if old == nil || new == nil {
		return t.replaceAll(old, new)
	}
	switch o := old.(type) {
	case string:
		if n, ok := new.(string); ok {
			return t.DetectText(o, n)
		}
	case []Node:
		if n, ok := new.([]Node); ok {
			return t.DetectParagraphs(o, n)
		}
	case map[string]any:
		if n, ok := new.(map[string]any); ok {
			return t.DetectProperties(o, n)
		}
	}
	return t.replaceAll(old, new)
}

func (t *Tracker) replaceAll(old, new any) ChangeSet {
	op := Operation{Kind: KindReplaceAll}
	if s, ok := old.(string); ok {
		op.OldText = s
	}
	if s, ok := new.(string); ok {
		op.NewText = s
	}
	if nodes, ok := old.([]Node); ok {
		op.OldNodes = cloneNodes(nodes)
	}
	if nodes, ok := new.([]Node); ok {
		op.NewNodes = cloneNodes(nodes)
	}
	return ChangeSet{
		HasChanges: true,
		Type:       "replace",
		Operations: []Operation{op},
		Timestamp:  time.Now(),
	}
}

func (t *Tracker) cached(key string) (ChangeSet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs, ok := t.cache[key]
	return cs, ok
}

func (t *Tracker) store(key string, cs ChangeSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.cache[key]; exists {
		return
	}
	for len(t.cacheKeys) >= t.cacheMax {
		oldest := t.cacheKeys[0]
		t.cacheKeys = t.cacheKeys[1:]
		delete(t.cache, oldest)
	}
	t.cache[key] = cs
	t.cacheKeys = append(t.cacheKeys, key)
}

// CacheLen reports the number of cached results.
func (t *Tracker) CacheLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cache)
}

func cacheKey(kind string, old, new []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(old)
	h.Write([]byte{0})
	h.Write(new)
	return string(h.Sum(nil))
}

func formattingEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	return reflect.DeepEqual(normalizeFormatting(a), normalizeFormatting(b))
}

// normalizeFormatting round-trips through JSON so that values arriving from
// different decoders (float64 vs int) compare equal.
func normalizeFormatting(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return m
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

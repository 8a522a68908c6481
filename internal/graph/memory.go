// internal/graph/memory.go
package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

type nodeKey struct {
	label string
	key   string
	value string
}

func keyOf(ref NodeRef) nodeKey {
	return nodeKey{label: ref.Label, key: ref.Key, value: fmt.Sprint(ref.Value)}
}

type memNode struct {
	labels []string
	props  map[string]any
}

type edgeKey struct {
	from nodeKey
	to   nodeKey
	typ  string
}

// MemoryStore is a Store held in process memory. It backs dry runs and
// tests; Update is atomic with respect to other calls.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[nodeKey]*memNode
	// in indexes edges by their target node.
	in map[nodeKey]map[edgeKey]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[nodeKey]*memNode),
		in:    make(map[nodeKey]map[edgeKey]struct{}),
	}
}

func (s *MemoryStore) Close(context.Context) error        { return nil }
func (s *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (s *MemoryStore) MergeNode(ctx context.Context, n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeNode(n)
}

func (s *MemoryStore) MergeEdge(ctx context.Context, e Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeEdge(e)
}

func (s *MemoryStore) SetProperties(ctx context.Context, ref NodeRef, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setProperties(ref, props)
}

// Update applies fn in place and rolls its writes back if it fails.
func (s *MemoryStore) Update(ctx context.Context, fn func(w Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) Node(ctx context.Context, ref NodeRef) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[keyOf(ref)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return maps.Clone(n.props), nil
}

func (s *MemoryStore) CountIncoming(ctx context.Context, ref NodeRef, relType string, transitive bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := keyOf(ref)
	if _, ok := s.nodes[root]; !ok {
		return 0, nil
	}
	if !transitive {
		return len(s.sources(root, relType)), nil
	}

	seen := map[nodeKey]bool{root: true}
	queue := []nodeKey{root}
	count := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, src := range s.sources(cur, relType) {
			if seen[src] {
				continue
			}
			seen[src] = true
			count++
			queue = append(queue, src)
		}
	}
	return count, nil
}

func (s *MemoryStore) Incoming(ctx context.Context, ref NodeRef, relType string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, src := range s.sources(keyOf(ref), relType) {
		n := s.nodes[src]
		out = append(out, Record{
			Labels: append([]string(nil), n.labels...),
			Props:  maps.Clone(n.props),
		})
	}
	return out, nil
}

func (s *MemoryStore) CountNodes(ctx context.Context, label string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.nodes {
		for _, l := range n.labels {
			if l == label {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *MemoryStore) Find(ctx context.Context, label string, match map[string]any) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, n := range s.nodes {
		if !containsLabel(n.labels, label) || !matches(n.props, match) {
			continue
		}
		out = append(out, Record{
			Labels: append([]string(nil), n.labels...),
			Props:  maps.Clone(n.props),
		})
	}
	return out, nil
}

func matches(props, match map[string]any) bool {
	for k, v := range match {
		if want, ok := v.(string); ok {
			got, isString := props[k].(string)
			if !isString || !strings.EqualFold(got, want) {
				return false
			}
			continue
		}
		if props[k] != v {
			return false
		}
	}
	return true
}

func (s *MemoryStore) DeleteSubtree(ctx context.Context, ref NodeRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := keyOf(ref)
	if _, ok := s.nodes[root]; !ok {
		return 0, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}

	doomed := map[nodeKey]bool{root: true}
	queue := []nodeKey{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for e := range s.in[cur] {
			if !doomed[e.from] {
				doomed[e.from] = true
				queue = append(queue, e.from)
			}
		}
	}

	// Nodes still linked to something outside the subtree, such as an owner
	// who also starred another repository, are kept.
	var kept []nodeKey
	for to, edges := range s.in {
		if doomed[to] {
			continue
		}
		for e := range edges {
			if doomed[e.from] && e.from != root {
				kept = append(kept, e.from)
			}
		}
	}
	for _, k := range kept {
		delete(doomed, k)
	}

	for to, edges := range s.in {
		for e := range edges {
			if doomed[e.from] {
				delete(edges, e)
			}
		}
		if doomed[to] || len(edges) == 0 {
			delete(s.in, to)
		}
	}
	for k := range doomed {
		delete(s.nodes, k)
	}
	return len(doomed), nil
}

func (s *MemoryStore) sources(to nodeKey, relType string) []nodeKey {
	var out []nodeKey
	for e := range s.in[to] {
		if e.typ == relType {
			out = append(out, e.from)
		}
	}
	return out
}

func (s *MemoryStore) mergeNode(n Node) error {
	if len(n.Labels) == 0 {
		return fmt.Errorf("node needs at least one label")
	}
	ref := n.Ref()
	if err := validateRef(ref); err != nil {
		return err
	}
	k := keyOf(ref)
	existing, ok := s.nodes[k]
	if !ok {
		props := map[string]any{ref.Key: ref.Value}
		maps.Copy(props, n.OnCreate)
		s.nodes[k] = &memNode{labels: append([]string(nil), n.Labels...), props: props}
		return nil
	}
	maps.Copy(existing.props, n.OnMatch)
	for _, l := range n.Labels[1:] {
		if !containsLabel(existing.labels, l) {
			existing.labels = append(existing.labels, l)
		}
	}
	return nil
}

func (s *MemoryStore) mergeEdge(e Edge) error {
	if !isValidIdentifier(e.Type) {
		return fmt.Errorf("invalid relationship type: %q", e.Type)
	}
	from, to := keyOf(e.From), keyOf(e.To)
	_, okFrom := s.nodes[from]
	_, okTo := s.nodes[to]
	if !okFrom || !okTo {
		return fmt.Errorf("edge %s-[:%s]->%s: %w", e.From, e.Type, e.To, ErrNotFound)
	}
	edges, ok := s.in[to]
	if !ok {
		edges = make(map[edgeKey]struct{})
		s.in[to] = edges
	}
	edges[edgeKey{from: from, to: to, typ: e.Type}] = struct{}{}
	return nil
}

func (s *MemoryStore) setProperties(ref NodeRef, props map[string]any) error {
	n, ok := s.nodes[keyOf(ref)]
	if !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	maps.Copy(n.props, props)
	return nil
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// memTx writes to a store whose lock is already held, journaling what it
// needs to undo each write.
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) MergeNode(_ context.Context, n Node) error {
	t.saveNode(keyOf(n.Ref()))
	return t.s.mergeNode(n)
}

func (t *memTx) MergeEdge(_ context.Context, e Edge) error {
	k := edgeKey{from: keyOf(e.From), to: keyOf(e.To), typ: e.Type}
	if _, ok := t.s.in[k.to][k]; !ok {
		t.undo = append(t.undo, func() {
			edges := t.s.in[k.to]
			delete(edges, k)
			if len(edges) == 0 {
				delete(t.s.in, k.to)
			}
		})
	}
	return t.s.mergeEdge(e)
}

func (t *memTx) SetProperties(_ context.Context, ref NodeRef, props map[string]any) error {
	t.saveNode(keyOf(ref))
	return t.s.setProperties(ref, props)
}

func (t *memTx) saveNode(k nodeKey) {
	n, ok := t.s.nodes[k]
	if !ok {
		t.undo = append(t.undo, func() { delete(t.s.nodes, k) })
		return
	}
	prev := &memNode{labels: slices.Clone(n.labels), props: maps.Clone(n.props)}
	t.undo = append(t.undo, func() { t.s.nodes[k] = prev })
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

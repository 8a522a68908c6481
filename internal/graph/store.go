// internal/graph/store.go

// Package graph is the property-graph store used for the mirror. Nodes are
// merged by a natural identity key; edges are merged between identified
// nodes and never duplicated for the same ordered pair and type.
package graph

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced node does not exist.
	ErrNotFound = errors.New("node not found")
	// ErrConstraintViolation wraps store-level uniqueness violations.
	ErrConstraintViolation = errors.New("constraint violation")
)

// NodeRef identifies a node by its identity label and key property.
type NodeRef struct {
	Label string
	Key   string
	Value any
}

func (r NodeRef) String() string {
	return fmt.Sprintf("(:%s {%s: %v})", r.Label, r.Key, r.Value)
}

// Node is a merge request. Labels[0] is the identity label; extra labels
// are added to the node. OnCreate is applied when the node is created,
// OnMatch when it already exists. Both are merged into existing properties.
type Node struct {
	Labels   []string
	Key      string
	Value    any
	OnCreate map[string]any
	OnMatch  map[string]any
}

// Ref returns the reference of the merged node.
func (n Node) Ref() NodeRef {
	label := ""
	if len(n.Labels) > 0 {
		label = n.Labels[0]
	}
	return NodeRef{Label: label, Key: n.Key, Value: n.Value}
}

// Edge is a directed, typed relationship between two existing nodes.
type Edge struct {
	From NodeRef
	To   NodeRef
	Type string
}

// Record is a node as returned by reads.
type Record struct {
	Labels []string
	Props  map[string]any
}

// HasLabel reports whether the record carries label.
func (r Record) HasLabel(label string) bool {
	return containsLabel(r.Labels, label)
}

// Writer is the merge capability. Every call is an idempotent upsert.
type Writer interface {
	MergeNode(ctx context.Context, n Node) error
	MergeEdge(ctx context.Context, e Edge) error
	SetProperties(ctx context.Context, ref NodeRef, props map[string]any) error
}

// Reader is the query capability.
type Reader interface {
	// Node returns the properties of a node or ErrNotFound.
	Node(ctx context.Context, ref NodeRef) (map[string]any, error)
	// CountIncoming counts nodes with an edge of relType into ref. With
	// transitive it follows chains of relType of any length.
	CountIncoming(ctx context.Context, ref NodeRef, relType string, transitive bool) (int, error)
	// Incoming returns the direct sources of relType edges into ref.
	Incoming(ctx context.Context, ref NodeRef, relType string) ([]Record, error)
	// CountNodes counts nodes carrying label.
	CountNodes(ctx context.Context, label string) (int, error)
	// Find returns the nodes carrying label whose properties equal match.
	// String values compare case-insensitively, as logins and repository
	// names do on GitHub.
	Find(ctx context.Context, label string, match map[string]any) ([]Record, error)
}

// Store is a complete graph store.
type Store interface {
	Reader
	Writer
	// Update runs fn in a single write transaction.
	Update(ctx context.Context, fn func(w Writer) error) error
	// DeleteSubtree removes ref and every node with a path into it,
	// returning the number of deleted nodes.
	DeleteSubtree(ctx context.Context, ref NodeRef) (int, error)
	// EnsureSchema creates the identity uniqueness constraints.
	EnsureSchema(ctx context.Context) error
	Close(ctx context.Context) error
}

// Package dag builds and validates the workflow DAGs: sequence, group, and
// chord (join) combinators over registered handler names, with topological
// validation at build time.
package dag

import (
	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
)

// NodeKind distinguishes a single handler invocation from a parallel group.
type NodeKind string

const (
	NodeHandler NodeKind = "handler"
	NodeGroup   NodeKind = "group"
)

// Node is one vertex of a built DAG: either a single registered handler
// invocation, or a parallel group of handler invocations that all depend on
// the same upstream and are all depended on by the same downstream.
type Node struct {
	Kind     NodeKind
	Handler  string   // set when Kind == NodeHandler
	Members  []string // handler names, set when Kind == NodeGroup
	Upstream []int    // indices into Graph.Nodes this node depends on
}

// Graph is a validated, immutable DAG ready for orchestration.
type Graph struct {
	Nodes []Node
	// Order lists node indices in a valid topological order.
	Order []int
}

// Builder accumulates nodes for sequence/group/chord composition.
type Builder struct {
	nodes     []Node
	registry  Registry
	lastIndex []int // indices of the most recently appended node(s), as upstream for the next append
}

// Registry is the subset of pkg/registry's contract the DAG builder needs:
// confirming a handler name is registered before wiring an edge to it.
type Registry interface {
	Has(name string) bool
}

// NewBuilder starts a fresh DAG build against reg, used to validate handler
// names as nodes are appended.
func NewBuilder(reg Registry) *Builder {
	return &Builder{registry: reg}
}

func (b *Builder) appendHandler(name string, upstream []int) (int, error) {
	if !b.registry.Has(name) {
		return 0, apperrors.NewValidationError("unregistered handler: " + name)
	}
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Kind: NodeHandler, Handler: name, Upstream: upstream})
	return idx, nil
}

// Sequence appends a chain of handlers, each depending on the previous
// (or, for the first, on whatever upstream the builder already has).
// Handlers with empty names are elided (optional nodes filtered at build
// time, per spec.md §4.7).
func (b *Builder) Sequence(handlers ...string) error {
	upstream := b.lastIndex
	for _, h := range handlers {
		if h == "" {
			continue
		}
		idx, err := b.appendHandler(h, upstream)
		if err != nil {
			return err
		}
		upstream = []int{idx}
	}
	b.lastIndex = upstream
	return nil
}

// Group appends a parallel group of handlers sharing the builder's current
// upstream; the group's own index becomes the new upstream for whatever
// follows (used by Chord, or a further Sequence).
func (b *Builder) Group(handlers ...string) error {
	var members []string
	for _, h := range handlers {
		if h == "" {
			continue
		}
		if !b.registry.Has(h) {
			return apperrors.NewValidationError("unregistered handler: " + h)
		}
		members = append(members, h)
	}
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Kind: NodeGroup, Members: members, Upstream: b.lastIndex})
	b.lastIndex = []int{idx}
	return nil
}

// Chord runs a group then a callback fed the group's ordered result vector.
// groupHandlers may be empty: Build then accepts a group node with no
// members ahead of the callback. pkg/orchestrator emits a node only when an
// upstream step reaches a terminal state, so a callback behind an empty
// group is never emitted.
func (b *Builder) Chord(groupHandlers []string, callback string) error {
	if err := b.Group(groupHandlers...); err != nil {
		return err
	}
	return b.Sequence(callback)
}

// Build finalizes the graph, validating that no cycles exist (combinator
// shape enforces this structurally) and computing a topological order.
func (b *Builder) Build() (*Graph, error) {
	if len(b.nodes) == 0 {
		return nil, apperrors.NewValidationError("workflow with zero steps is rejected at composition")
	}

	order, err := topologicalSort(b.nodes)
	if err != nil {
		return nil, err
	}
	return &Graph{Nodes: b.nodes, Order: order}, nil
}

func topologicalSort(nodes []Node) ([]int, error) {
	n := len(nodes)
	visited := make([]int, n) // 0=unvisited, 1=in-progress, 2=done
	var order []int

	var visit func(i int) error
	visit = func(i int) error {
		switch visited[i] {
		case 2:
			return nil
		case 1:
			return apperrors.NewValidationError("cycle detected in DAG build")
		}
		visited[i] = 1
		for _, up := range nodes[i].Upstream {
			if err := visit(up); err != nil {
				return err
			}
		}
		visited[i] = 2
		order = append(order, i)
		return nil
	}

	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Roots returns the indices of every node with no upstream dependency —
// the nodes whose jobs are emitted immediately on composition.
func (g *Graph) Roots() []int {
	var roots []int
	for i, n := range g.Nodes {
		if len(n.Upstream) == 0 {
			roots = append(roots, i)
		}
	}
	return roots
}

// Downstream returns the indices of every node that directly depends on
// node i.
func (g *Graph) Downstream(i int) []int {
	var result []int
	for j, n := range g.Nodes {
		for _, up := range n.Upstream {
			if up == i {
				result = append(result, j)
				break
			}
		}
	}
	return result
}

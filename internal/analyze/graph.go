package analyze

import (
	"github.com/vulnforge/vulnforge/internal/entity"
)

// NodeKind tags a graph node with what it represents
type NodeKind string

const (
	NodePackage   NodeKind = "package"
	NodeEcosystem NodeKind = "ecosystem"
	NodePlatform  NodeKind = "platform"
)

// Node is one vertex of the relationship graph. ID is kind-qualified so a
// package and a platform sharing a label stay distinct.
type Node struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Kind  NodeKind `json:"kind"`
}

// Edge is one undirected edge, stored with a canonical endpoint order
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a sparse undirected graph over packages, ecosystems, and
// platforms. Adjacency sets keep nodes and edges unique no matter how many
// vulnerabilities reference them.
type Graph struct {
	nodes     map[string]Node
	nodeOrder []string
	adjacency map[string]map[string]bool
	edgeOrder []Edge
}

// NewGraph creates an empty relationship graph
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(map[string]Node),
		adjacency: make(map[string]map[string]bool),
	}
}

// AddNode inserts a node if absent and returns its id
func (g *Graph) AddNode(kind NodeKind, label string) string {
	id := string(kind) + ":" + label
	if _, exists := g.nodes[id]; !exists {
		g.nodes[id] = Node{ID: id, Label: label, Kind: kind}
		g.nodeOrder = append(g.nodeOrder, id)
		g.adjacency[id] = make(map[string]bool)
	}
	return id
}

// AddEdge inserts an undirected edge between two existing nodes, at most once
func (g *Graph) AddEdge(a, b string) {
	if a == b {
		return
	}
	if _, ok := g.nodes[a]; !ok {
		return
	}
	if _, ok := g.nodes[b]; !ok {
		return
	}
	if g.adjacency[a][b] {
		return
	}
	g.adjacency[a][b] = true
	g.adjacency[b][a] = true
	g.edgeOrder = append(g.edgeOrder, Edge{From: a, To: b})
}

// Nodes returns the nodes in insertion order
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns the edges in insertion order
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edgeOrder...)
}

// Neighbors returns the adjacent node ids, or nil for an unknown node
func (g *Graph) Neighbors(id string) []string {
	adjacent, ok := g.adjacency[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(adjacent))
	for _, candidate := range g.nodeOrder {
		if adjacent[candidate] {
			out = append(out, candidate)
		}
	}
	return out
}

// BuildGraph constructs the package relationship graph. Every package node
// links to its ecosystem and platform nodes whenever those tags are present,
// including tags that only show up on later vulnerabilities for an
// already-seen package.
func BuildGraph(vulns []*entity.Vulnerability) *Graph {
	g := NewGraph()
	for _, v := range vulns {
		for _, pkg := range v.Packages {
			if pkg.Name == "" {
				continue
			}
			pkgID := g.AddNode(NodePackage, pkg.Name)
			if pkg.Ecosystem != "" {
				g.AddEdge(pkgID, g.AddNode(NodeEcosystem, pkg.Ecosystem))
			}
			if pkg.Platform != "" {
				g.AddEdge(pkgID, g.AddNode(NodePlatform, pkg.Platform))
			}
		}
	}
	return g
}

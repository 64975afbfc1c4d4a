// Package graph builds a queryable dependency graph from a resolution.
//
// Edges come from resolution provenance: every pin records which pinned
// requirements pulled it in, and the graph inverts that record into
// bidirectional adjacency. Pins nobody pulled in are the direct
// requirements and form the graph's roots.
package graph

import (
	"sort"

	pylock "github.com/pydeps/pylock"
)

// Node is one resolved package in the graph, keyed by canonical name. A
// resolution pins exactly one version per name, so names are unique keys.
type Node struct {
	// Name is the canonical package name.
	Name string

	// Version is the pinned version, empty for VCS/URL/path pins.
	Version string

	// Pin is the resolved requirement behind this node.
	Pin *pylock.Requirement

	// Dependencies and Dependents are adjacent canonical names, sorted.
	Dependencies []string
	Dependents   []string

	// Dev marks packages that came from the development category only.
	Dev bool
}

// Label renders the node for display: "flask==0.10.1", or the source
// location for unversioned pins.
func (n *Node) Label() string {
	if n.Version != "" {
		return n.Name + "==" + n.Version
	}
	if n.Pin != nil && n.Pin.HasLocation() {
		return n.Pin.String()
	}
	return n.Name
}

// Graph is a resolved dependency graph with bidirectional adjacency.
type Graph struct {
	nodes map[string]*Node
}

// FromResolution builds a graph from the default resolution and an
// optional development resolution. A package present in both categories is
// not marked dev.
func FromResolution(def, dev *pylock.Resolution) *Graph {
	g := &Graph{nodes: make(map[string]*Node)}
	if dev != nil {
		g.addPins(dev.Resolved, true)
	}
	if def != nil {
		g.addPins(def.Resolved, false)
	}
	g.linkProvenance(def)
	g.linkProvenance(dev)

	for _, node := range g.nodes {
		node.Dependencies = sortUnique(node.Dependencies)
		node.Dependents = sortUnique(node.Dependents)
	}
	return g
}

func (g *Graph) addPins(pins []*pylock.Requirement, dev bool) {
	for _, pin := range pins {
		version, _ := pin.PinnedVersion()
		g.nodes[pin.Key()] = &Node{
			Name:    pin.Key(),
			Version: version,
			Pin:     pin,
			Dev:     dev,
		}
	}
}

// linkProvenance turns ComesFrom records into parent -> child edges.
func (g *Graph) linkProvenance(res *pylock.Resolution) {
	if res == nil {
		return
	}
	for _, pin := range res.Resolved {
		child := g.nodes[pin.Key()]
		for _, from := range pin.ComesFrom {
			parsed, err := pylock.ParseRequirement(from)
			if err != nil {
				continue
			}
			parent, known := g.nodes[parsed.Key()]
			if !known || parent == child {
				continue
			}
			parent.Dependencies = append(parent.Dependencies, child.Name)
			child.Dependents = append(child.Dependents, parent.Name)
		}
	}
}

// Get returns the node for a canonical or display name, nil when absent.
func (g *Graph) Get(name string) *Node {
	return g.nodes[pylock.CanonicalName(name)]
}

// Contains reports whether a package is in the graph.
func (g *Graph) Contains(name string) bool {
	return g.Get(name) != nil
}

// Len returns the number of packages in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Names returns all package names, sorted.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Roots returns the packages nothing depends on: the direct requirements.
func (g *Graph) Roots() []string {
	var roots []string
	for name, node := range g.nodes {
		if len(node.Dependents) == 0 {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	return roots
}

// Leaves returns the packages with no dependencies of their own.
func (g *Graph) Leaves() []string {
	var leaves []string
	for name, node := range g.nodes {
		if len(node.Dependencies) == 0 {
			leaves = append(leaves, name)
		}
	}
	sort.Strings(leaves)
	return leaves
}

func sortUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:0]
	prev := ""
	for i, s := range in {
		if i > 0 && s == prev {
			continue
		}
		out = append(out, s)
		prev = s
	}
	return out
}

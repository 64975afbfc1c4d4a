package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PackageInfo is the flat JSON form of one resolved package.
type PackageInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version,omitempty"`
	Dev          bool     `json:"dev,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	RequiredBy   []string `json:"required_by,omitempty"`
}

// ToJSON renders the graph as a sorted flat package list.
func (g *Graph) ToJSON() ([]byte, error) {
	packages := make([]PackageInfo, 0, len(g.nodes))
	for _, name := range g.Names() {
		node := g.nodes[name]
		packages = append(packages, PackageInfo{
			Name:         node.Name,
			Version:      node.Version,
			Dev:          node.Dev,
			Dependencies: node.Dependencies,
			RequiredBy:   node.Dependents,
		})
	}
	return json.MarshalIndent(packages, "", "  ")
}

// ToDOT renders the graph in Graphviz DOT format. Dev-only packages are
// drawn dashed.
func (g *Graph) ToDOT() string {
	var buf bytes.Buffer
	buf.WriteString("digraph dependencies {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  node [shape=box];\n\n")

	for _, name := range g.Names() {
		node := g.nodes[name]
		attrs := fmt.Sprintf("label=%q", node.Label())
		if node.Dev {
			attrs += ", style=dashed"
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", name, attrs)
	}
	buf.WriteString("\n")
	for _, name := range g.Names() {
		for _, dep := range g.nodes[name].Dependencies {
			fmt.Fprintf(&buf, "  %q -> %q;\n", name, dep)
		}
	}
	buf.WriteString("}\n")
	return buf.String()
}

// ToText renders the requirement forest: one tree per direct requirement,
// children indented beneath their requirer. Revisited packages are marked
// instead of re-expanded so shared subtrees and cycles stay readable.
func (g *Graph) ToText() string {
	var buf bytes.Buffer
	stats := g.Stats()
	fmt.Fprintf(&buf, "%d packages (%d direct, %d transitive", stats.Total, stats.Direct, stats.Transitive)
	if stats.Dev > 0 {
		fmt.Fprintf(&buf, ", %d dev", stats.Dev)
	}
	buf.WriteString(")\n\n")

	roots := g.Roots()
	if len(roots) == 0 {
		// Every package sits on a cycle; print each as its own tree.
		roots = g.Names()
	}
	onPath := make(map[string]bool)
	for _, root := range roots {
		g.printTree(&buf, root, "", true, onPath)
	}
	return buf.String()
}

func (g *Graph) printTree(buf *bytes.Buffer, name, prefix string, isLast bool, onPath map[string]bool) {
	node := g.nodes[name]

	if prefix == "" {
		buf.WriteString(node.Label())
	} else {
		connector := "├── "
		if isLast {
			connector = "└── "
		}
		buf.WriteString(prefix + connector + node.Label())
	}
	if node.Dev {
		buf.WriteString(" (dev)")
	}
	if onPath[name] {
		buf.WriteString(" (circular)\n")
		return
	}
	buf.WriteString("\n")

	onPath[name] = true
	defer delete(onPath, name)

	for i, dep := range node.Dependencies {
		childPrefix := prefix
		if prefix != "" {
			if isLast {
				childPrefix += "    "
			} else {
				childPrefix += "│   "
			}
		} else {
			childPrefix = " "
		}
		g.printTree(buf, dep, childPrefix, i == len(node.Dependencies)-1, onPath)
	}
}

// ExplainText renders the WhyIncluded chains for one package.
func (g *Graph) ExplainText(name string) (string, error) {
	chains, err := g.WhyIncluded(name)
	if err != nil {
		return "", err
	}
	node := g.Get(name)

	var buf strings.Builder
	fmt.Fprintf(&buf, "%s is required by %d chain(s):\n", node.Label(), len(chains))
	rendered := make([]string, len(chains))
	for i, chain := range chains {
		rendered[i] = chain.string(g)
	}
	sort.Strings(rendered)
	for _, line := range rendered {
		fmt.Fprintf(&buf, "  %s\n", line)
	}
	return buf.String(), nil
}

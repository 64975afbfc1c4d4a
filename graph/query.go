package graph

import (
	"fmt"
	"sort"
	"strings"
)

// DirectDeps returns the direct dependencies of a package, sorted.
func (g *Graph) DirectDeps(name string) []string {
	if node := g.Get(name); node != nil {
		return node.Dependencies
	}
	return nil
}

// DirectDependents returns the packages directly requiring a package.
func (g *Graph) DirectDependents(name string) []string {
	if node := g.Get(name); node != nil {
		return node.Dependents
	}
	return nil
}

// TransitiveDeps returns everything a package pulls in, breadth-first.
func (g *Graph) TransitiveDeps(name string) []string {
	return g.walk(name, func(n *Node) []string { return n.Dependencies })
}

// TransitiveDependents returns everything that pulls a package in,
// breadth-first with the closest requirers first.
func (g *Graph) TransitiveDependents(name string) []string {
	return g.walk(name, func(n *Node) []string { return n.Dependents })
}

func (g *Graph) walk(name string, next func(*Node) []string) []string {
	start := g.Get(name)
	if start == nil {
		return nil
	}

	var result []string
	visited := map[string]bool{start.Name: true}
	queue := []string{start.Name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, adjacent := range next(g.nodes[current]) {
			if visited[adjacent] {
				continue
			}
			visited[adjacent] = true
			result = append(result, adjacent)
			queue = append(queue, adjacent)
		}
	}
	return result
}

// Path returns a shortest dependency path between two packages, nil when
// none exists.
func (g *Graph) Path(from, to string) []string {
	src, dst := g.Get(from), g.Get(to)
	if src == nil || dst == nil {
		return nil
	}
	if src == dst {
		return []string{src.Name}
	}

	type item struct {
		name string
		path []string
	}
	visited := map[string]bool{src.Name: true}
	queue := []item{{src.Name, []string{src.Name}}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range g.nodes[current.name].Dependencies {
			if dep == dst.Name {
				return append(current.path, dep)
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			path := make([]string, len(current.path)+1)
			copy(path, current.path)
			path[len(current.path)] = dep
			queue = append(queue, item{dep, path})
		}
	}
	return nil
}

// Chain is one requirement path from a direct requirement down to a
// package.
type Chain []string

// String renders the chain with labeled nodes:
//
//	flask==0.10.1 -> jinja2==2.7.3 -> markupsafe==0.23
func (c Chain) String() string { return c.string(nil) }

func (c Chain) string(g *Graph) string {
	parts := make([]string, len(c))
	for i, name := range c {
		parts[i] = name
		if g != nil {
			if node := g.Get(name); node != nil {
				parts[i] = node.Label()
			}
		}
	}
	return strings.Join(parts, " -> ")
}

// WhyIncluded returns every requirement chain from a root to the package.
// A direct requirement yields a single one-element chain.
func (g *Graph) WhyIncluded(name string) ([]Chain, error) {
	node := g.Get(name)
	if node == nil {
		return nil, fmt.Errorf("package %q is not in the resolution", name)
	}

	var chains []Chain
	if len(node.Dependents) == 0 {
		return []Chain{{node.Name}}, nil
	}
	for _, root := range g.Roots() {
		for _, path := range g.allPaths(root, node.Name) {
			chains = append(chains, path)
		}
	}
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].string(nil) < chains[j].string(nil)
	})
	return chains, nil
}

func (g *Graph) allPaths(from, to string) []Chain {
	var result []Chain
	g.findPaths(from, to, Chain{from}, map[string]bool{from: true}, &result)
	return result
}

func (g *Graph) findPaths(current, target string, path Chain, onPath map[string]bool, result *[]Chain) {
	if current == target {
		*result = append(*result, append(Chain(nil), path...))
		return
	}
	for _, dep := range g.nodes[current].Dependencies {
		if onPath[dep] {
			continue
		}
		onPath[dep] = true
		g.findPaths(dep, target, append(path, dep), onPath, result)
		delete(onPath, dep)
	}
}

// HasCycles reports whether the provenance graph contains a dependency
// cycle. Python packaging allows install-time cycles, so this is
// informational, not an error.
func (g *Graph) HasCycles() bool {
	return len(g.FindCycles()) > 0
}

// FindCycles returns each dependency cycle as the chain of names along it.
func (g *Graph) FindCycles() []Chain {
	var cycles []Chain
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string

	var visit func(name string)
	visit = func(name string) {
		visited[name] = true
		onStack[name] = true
		path = append(path, name)

		for _, dep := range g.nodes[name].Dependencies {
			if !visited[dep] {
				visit(dep)
			} else if onStack[dep] {
				for i, on := range path {
					if on == dep {
						cycles = append(cycles, append(Chain(nil), path[i:]...))
						break
					}
				}
			}
		}

		path = path[:len(path)-1]
		onStack[name] = false
	}

	for _, name := range g.Names() {
		if !visited[name] {
			visit(name)
		}
	}
	return cycles
}

// Stats summarizes the graph shape.
type Stats struct {
	// Total is the number of resolved packages.
	Total int

	// Direct is the number of root packages (direct requirements).
	Direct int

	// Transitive is the number of packages pulled in indirectly.
	Transitive int

	// Dev is the number of development-only packages.
	Dev int

	// MaxDepth is the longest acyclic requirement chain length, roots at
	// depth zero.
	MaxDepth int
}

// Stats computes summary statistics for the graph.
func (g *Graph) Stats() Stats {
	stats := Stats{Total: len(g.nodes)}
	roots := g.Roots()
	stats.Direct = len(roots)
	stats.Transitive = stats.Total - stats.Direct
	for _, node := range g.nodes {
		if node.Dev {
			stats.Dev++
		}
	}

	depths := make(map[string]int)
	onPath := make(map[string]bool)
	var deepen func(name string, depth int)
	deepen = func(name string, depth int) {
		// A name already on the DFS path marks a cycle back-edge; stop.
		if onPath[name] {
			return
		}
		if existing, seen := depths[name]; seen && existing >= depth {
			return
		}
		depths[name] = depth
		if depth > stats.MaxDepth {
			stats.MaxDepth = depth
		}
		onPath[name] = true
		for _, dep := range g.nodes[name].Dependencies {
			deepen(dep, depth+1)
		}
		delete(onPath, name)
	}
	for _, root := range roots {
		deepen(root, 0)
	}
	return stats
}

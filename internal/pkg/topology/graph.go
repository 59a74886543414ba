package topology

import (
	"fmt"
	"sort"
)

// Graph is a directed adjacency list keyed by node id. An edge n1 -> n2
// records that n1 reads n2's output and must be evaluated after it.
type Graph struct {
	adjacencyList map[string][]string
}

// NewGraph returns an empty Graph.
func NewGraph() Graph {
	return Graph{adjacencyList: make(map[string][]string)}
}

// AddNode inserts a node without edges.
func (g *Graph) AddNode(id string) error {
	if _, exists := g.adjacencyList[id]; exists {
		return fmt.Errorf("node %s already exists in graph", id)
	}
	g.adjacencyList[id] = make([]string, 0)
	return nil
}

// AddDirectedEdge records that n1 depends on n2. Repeated edges are ignored.
func (g *Graph) AddDirectedEdge(n1, n2 string) error {
	edges, exists := g.adjacencyList[n1]
	if !exists {
		return fmt.Errorf("start node %s does not exist in graph", n1)
	}
	if _, exists := g.adjacencyList[n2]; !exists {
		return fmt.Errorf("end node %s does not exist in graph", n2)
	}
	for _, e := range edges {
		if e == n2 {
			return nil
		}
	}
	g.adjacencyList[n1] = append(edges, n2)
	return nil
}

// Edges returns the dependencies of n, sorted by id.
func (g Graph) Edges(n string) []string {
	edges, exists := g.adjacencyList[n]
	if !exists {
		return make([]string, 0)
	}
	out := make([]string, len(edges))
	copy(out, edges)
	sort.Strings(out)
	return out
}

// Nodes returns every node id, sorted.
func (g Graph) Nodes() []string {
	ids := make([]string, 0, len(g.adjacencyList))
	for id := range g.adjacencyList {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len is the number of nodes in the graph.
func (g Graph) Len() int {
	return len(g.adjacencyList)
}

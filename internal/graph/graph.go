// Package graph builds the work-item dependency graph and orders it into
// executable layers. The graph is rejected, not repaired: a cycle or a dangling
// dependency halts planning with the exact evidence needed to fix the scope.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"planwright/internal/logging"
	"planwright/internal/plan"
)

// Graph is the validated dependency structure over approved work items.
// Layers holds item IDs grouped so that every item's dependencies live in a
// strictly earlier layer; items within a layer are independent.
type Graph struct {
	Items  []plan.WorkItem     `json:"items"`
	Edges  map[string][]string `json:"edges"` // Item ID -> dependency IDs
	Layers [][]string          `json:"layers"`
}

// Build constructs the graph from approved work items: explicit depends_on
// edges plus implicit edges from candidate references (an item touching a
// candidate another item creates depends on the creator). Returns a
// plan.ScopeError for unknown dependency references and for cycles.
func Build(items []plan.WorkItem) (*Graph, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "Build")
	defer timer.Stop()

	byID := make(map[string]plan.WorkItem, len(items))
	for _, item := range items {
		if _, dup := byID[item.ID]; dup {
			return nil, &plan.ScopeError{
				Step:        "graph",
				Detail:      fmt.Sprintf("duplicate work item id %s", item.ID),
				Remediation: "regenerate work items; ids must be unique",
			}
		}
		byID[item.ID] = item
	}

	edges := make(map[string][]string, len(items))
	for _, item := range items {
		deps := make(map[string]bool)
		for _, dep := range item.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, &plan.ScopeError{
					Step:        "graph",
					Detail:      fmt.Sprintf("work item %s depends on unknown item %s", item.ID, dep),
					Remediation: "remove the stale dependency or add the missing work item",
				}
			}
			if dep != item.ID {
				deps[dep] = true
			}
		}
		for _, dep := range implicitDeps(item, items) {
			deps[dep] = true
		}
		edges[item.ID] = sortedKeys(deps)
	}

	g := &Graph{Items: items, Edges: edges}
	if path := g.findCycle(); path != nil {
		return nil, &plan.ScopeError{
			Step:        "graph",
			Detail:      fmt.Sprintf("dependency cycle: %s", strings.Join(path, " -> ")),
			Remediation: "break the cycle by splitting one of the listed work items",
		}
	}

	g.Layers = g.layer()
	logging.Graph("built graph: %d items, %d layers", len(items), len(g.Layers))
	return g, nil
}

// implicitDeps derives reference edges: item depends on every other item that
// creates a candidate this item touches.
func implicitDeps(item plan.WorkItem, items []plan.WorkItem) []string {
	touched := make(map[string]bool, len(item.AffectedCandidates))
	for _, path := range item.AffectedCandidates {
		touched[path] = true
	}

	var deps []string
	for _, other := range items {
		if other.ID == item.ID || other.ChangeKind != plan.ChangeCreate {
			continue
		}
		for _, path := range other.AffectedCandidates {
			if touched[path] {
				deps = append(deps, other.ID)
				break
			}
		}
	}
	return deps
}

const (
	white = iota // Unvisited
	gray         // On the current DFS stack
	black        // Fully explored
)

// findCycle runs a three-color DFS and returns the cycle path (first node
// repeated at the end) or nil. Roots are visited in sorted order so the
// reported cycle is deterministic.
func (g *Graph) findCycle() []string {
	color := make(map[string]int, len(g.Items))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range g.Edges[id] {
			switch color[dep] {
			case gray:
				// Slice the stack from the first occurrence of dep and close
				// the loop: "a -> b -> a".
				for i, s := range stack {
					if s == dep {
						return append(append([]string{}, stack[i:]...), dep)
					}
				}
			case white:
				if path := visit(dep); path != nil {
					return path
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range sortedItemIDs(g.Items) {
		if color[id] == white {
			if path := visit(id); path != nil {
				return path
			}
		}
	}
	return nil
}

// layer computes topological layers: layer 0 is everything with no
// dependencies; each later layer depends only on earlier ones. Assumes the
// graph is acyclic.
func (g *Graph) layer() [][]string {
	placed := make(map[string]int, len(g.Items))
	remaining := sortedItemIDs(g.Items)

	var layers [][]string
	for len(remaining) > 0 {
		var current, next []string
		for _, id := range remaining {
			ready := true
			for _, dep := range g.Edges[id] {
				if _, ok := placed[dep]; !ok {
					ready = false
					break
				}
			}
			if ready {
				current = append(current, id)
			} else {
				next = append(next, id)
			}
		}
		for _, id := range current {
			placed[id] = len(layers)
		}
		layers = append(layers, current)
		remaining = next
	}
	return layers
}

// LayerOf returns the layer index for an item ID, or -1 when absent.
func (g *Graph) LayerOf(id string) int {
	for i, layer := range g.Layers {
		for _, item := range layer {
			if item == id {
				return i
			}
		}
	}
	return -1
}

func sortedItemIDs(items []plan.WorkItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/domino/internal/fx"
	"github.com/roach88/domino/internal/ir"
)

// Warning levels.
const (
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// CycleWarning represents a potential dispatch cycle between events.
//
// Cycles are warnings, not errors, because they may be intentional:
//   - polling loops driven by dispatch-later
//   - retry chains that stop on a db condition checked in Lua
//
// A cycle made only of immediate dispatches drains without yielding and
// will hit the engine's step quota unless a handler breaks it; those are
// LevelWarning. A cycle with at least one dispatch-later edge is timer
// driven and reported as LevelInfo.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on a program's events.
//
// The algorithm:
//  1. Build event → event dispatch graph from each event's static fx
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle
//
// Lua handlers compute their effects at runtime and contribute no edges.
// A DAG (no cycles) returns an empty warning list. Results are sorted by
// path so output is stable.
func AnalyzeCycles(p *ir.Program) []CycleWarning {
	if p == nil || len(p.Events) == 0 {
		return []CycleWarning{}
	}

	graph := buildDispatchGraph(p)
	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	sort.Slice(warnings, func(i, j int) bool {
		return strings.Join(warnings[i].Path, "\x00") < strings.Join(warnings[j].Path, "\x00")
	})
	return warnings
}

type edge struct {
	to    string
	later bool
}

// dispatchGraph maps event id → events its static fx dispatch.
// Edge lists are sorted and deduplicated; an edge is "later" only when
// every dispatch along it is delayed.
type dispatchGraph map[string][]edge

func buildDispatchGraph(p *ir.Program) dispatchGraph {
	graph := make(dispatchGraph)
	for _, id := range sortedKeys(p.Events) {
		refs, _ := staticDispatches(p.Events[id].Fx)

		// immediate wins over later for the same target
		kinds := make(map[string]bool)
		for _, ref := range refs {
			if _, declared := p.Events[ref.Event]; !declared {
				continue
			}
			later := ref.Key == fx.EffectDispatchLater
			if prev, seen := kinds[ref.Event]; seen {
				kinds[ref.Event] = prev && later
			} else {
				kinds[ref.Event] = later
			}
		}

		edges := []edge{}
		for _, to := range sortedKeys(kinds) {
			edges = append(edges, edge{to: to, later: kinds[to]})
		}
		graph[id] = edges
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dispatchGraph) bool {
	for _, e := range graph[node] {
		if e.to == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of event ids.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dispatchGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range graph[v] {
			w := e.to
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range sortedKeys(graph) {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
// For self-loops, the path is [id, id].
func cycleSCCToWarning(scc []string, graph dispatchGraph) CycleWarning {
	var path []string
	if len(scc) == 1 {
		path = []string{scc[0], scc[0]}
	} else {
		path = reconstructCyclePath(scc, graph)
	}

	level := LevelWarning
	for i := 0; i+1 < len(path); i++ {
		if isLaterEdge(graph, path[i], path[i+1]) {
			level = LevelInfo
			break
		}
	}

	pathStr := strings.Join(path, " → ")
	msg := fmt.Sprintf("Potential dispatch cycle: %s", pathStr)
	if len(scc) == 1 {
		msg = fmt.Sprintf("Self-dispatching event: %s", pathStr)
	}
	if level == LevelInfo {
		msg += " (delayed by dispatch-later)"
	}
	return CycleWarning{Path: path, Message: msg, Level: level}
}

func isLaterEdge(graph dispatchGraph, from, to string) bool {
	for _, e := range graph[from] {
		if e.to == to {
			return e.later
		}
	}
	return false
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: start at the first node in the SCC, follow edges to other SCC
// members, continue until we return to the start node.
func reconstructCyclePath(scc []string, graph dispatchGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, e := range graph[current] {
			if sccSet[e.to] && (!visited[e.to] || e.to == start) {
				next = e.to
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}

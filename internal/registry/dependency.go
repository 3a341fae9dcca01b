package registry

import (
	"sort"

	"github.com/conneroisu/wasmscope/internal/types"
)

// DependencyAnalyzer links components through their interfaces: a
// component depends on every other live component that exports an
// interface it imports.
type DependencyAnalyzer struct {
	registry *ComponentRegistry
}

// NewDependencyAnalyzer creates a new dependency analyzer
func NewDependencyAnalyzer(registry *ComponentRegistry) *DependencyAnalyzer {
	return &DependencyAnalyzer{
		registry: registry,
	}
}

// providers maps each exported named interface to the components exporting it.
func providers(records []*types.ComponentRecord) map[string][]string {
	out := make(map[string][]string)
	for _, rec := range records {
		if !rec.FileExists {
			continue
		}
		for _, iface := range rec.Interfaces {
			if iface.Direction != types.DirectionExport || iface.Package == "" {
				continue
			}
			out[iface.Name] = append(out[iface.Name], rec.Name)
		}
	}
	return out
}

// GetDependencyGraph returns, for every component, the sorted names of the
// components providing its imports.
func (da *DependencyAnalyzer) GetDependencyGraph() map[string][]string {
	records := da.registry.List()
	exported := providers(records)

	graph := make(map[string][]string, len(records))
	for _, rec := range records {
		seen := map[string]bool{}
		deps := []string{}
		for _, iface := range rec.Interfaces {
			if iface.Direction != types.DirectionImport {
				continue
			}
			for _, p := range exported[iface.Name] {
				if p != rec.Name && !seen[p] {
					seen[p] = true
					deps = append(deps, p)
				}
			}
		}
		sort.Strings(deps)
		graph[rec.Name] = deps
	}
	return graph
}

// GetProviders returns the components that provide the imports of name.
func (da *DependencyAnalyzer) GetProviders(name string) ([]string, error) {
	if _, err := da.registry.Get(name); err != nil {
		return nil, err
	}
	return da.GetDependencyGraph()[name], nil
}

// GetDependents returns components that depend on the given component
func (da *DependencyAnalyzer) GetDependents(name string) ([]string, error) {
	if _, err := da.registry.Get(name); err != nil {
		return nil, err
	}
	dependents := []string{}
	for comp, deps := range da.GetDependencyGraph() {
		for _, dep := range deps {
			if dep == name {
				dependents = append(dependents, comp)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents, nil
}

// DetectCircularDependencies detects circular dependencies in the graph
func (da *DependencyAnalyzer) DetectCircularDependencies() [][]string {
	var cycles [][]string
	graph := da.GetDependencyGraph()

	names := make([]string, 0, len(graph))
	for name := range graph {
		names = append(names, name)
	}
	sort.Strings(names)

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, component := range names {
		if !visited[component] {
			if cycle := detectCycleDFS(component, graph, visited, recStack, nil); cycle != nil {
				cycles = append(cycles, cycle)
			}
		}
	}

	return cycles
}

// detectCycleDFS performs DFS to detect cycles
func detectCycleDFS(component string, graph map[string][]string, visited, recStack map[string]bool, path []string) []string {
	visited[component] = true
	recStack[component] = true
	path = append(path, component)

	for _, dep := range graph[component] {
		if !visited[dep] {
			if cycle := detectCycleDFS(dep, graph, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dep] {
			for i, p := range path {
				if p == dep {
					cycle := make([]string, len(path)-i+1)
					copy(cycle, path[i:])
					cycle[len(cycle)-1] = dep // close the cycle
					return cycle
				}
			}
		}
	}

	recStack[component] = false
	return nil
}

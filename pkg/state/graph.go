package state

import (
	"slices"
)

// dependents returns the computed keys that read key
func (g DependencyGraph) dependents(key string) []string {
	return g[key].Computed
}

// Reachable returns every key reachable from seeds over computed edges, seeds included
func (g DependencyGraph) Reachable(seeds []string) map[string]bool {
	seen := make(map[string]bool, len(seeds))
	queue := slices.Clone(seeds)
	for _, s := range seeds {
		seen[s] = true
	}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents(key) {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return seen
}

// CyclicKeys returns the keys within scope that lie on a dependency cycle, sorted.
// A nil scope considers the whole graph.
func (g DependencyGraph) CyclicKeys(scope map[string]bool) []string {
	inScope := func(k string) bool { return scope == nil || scope[k] }

	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var cyclic []string

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		selfLoop := false
		for _, w := range g.dependents(v) {
			if !inScope(w) {
				continue
			}
			if w == v {
				selfLoop = true
			}
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 || selfLoop {
			cyclic = append(cyclic, component...)
		}
	}

	keys := make([]string, 0, len(g))
	for k := range g {
		if inScope(k) {
			keys = append(keys, k)
		}
	}
	for k := range scope {
		if _, ok := g[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		if _, visited := indices[k]; !visited {
			strongConnect(k)
		}
	}

	slices.Sort(cyclic)
	return cyclic
}

// layer assigns every key reachable from seeds without passing through a blocked key a
// depth equal to its longest path from the seeds. Seeds sit at depth 0 and are never
// re-layered. Keys deeper than maxDepth are returned separately.
func (g DependencyGraph) layer(seeds []string, blocked map[string]bool, maxDepth int) (layers [][]string, truncated []string) {
	isSeed := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		isSeed[s] = true
	}

	included := make(map[string]bool)
	queue := slices.Clone(seeds)
	for _, s := range seeds {
		included[s] = true
	}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if blocked[key] {
			continue
		}
		for _, dep := range g.dependents(key) {
			if included[dep] || blocked[dep] {
				continue
			}
			included[dep] = true
			queue = append(queue, dep)
		}
	}

	indegree := make(map[string]int, len(included))
	for key := range included {
		if blocked[key] {
			continue
		}
		for _, dep := range g.dependents(key) {
			if included[dep] && !isSeed[dep] {
				indegree[dep]++
			}
		}
	}

	depth := make(map[string]int, len(included))
	ready := slices.Clone(seeds)
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		if blocked[key] {
			continue
		}
		for _, dep := range g.dependents(key) {
			if !included[dep] || isSeed[dep] {
				continue
			}
			depth[dep] = max(depth[dep], depth[key]+1)
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	for key := range included {
		if isSeed[key] {
			continue
		}
		d, ok := depth[key]
		if !ok {
			continue
		}
		if d > maxDepth {
			truncated = append(truncated, key)
			continue
		}
		for len(layers) <= d {
			layers = append(layers, nil)
		}
		layers[d] = append(layers[d], key)
	}
	for i := range layers {
		slices.Sort(layers[i])
	}
	slices.Sort(truncated)
	return layers, truncated
}

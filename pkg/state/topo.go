package state

import (
	"slices"
)

// TopologicalOrder orders every asset in tree so that each asset follows the assets it
// imports from. Assets resolved in the same round are appended alphabetically. Assets
// left unresolved by an import cycle are appended last, sorted, and also returned as cyclic.
func TopologicalOrder(tree ImportTree) (order []string, cyclic []string) {
	nodes := make(map[string]bool)
	for asset, imports := range tree {
		nodes[asset] = true
		for _, imp := range imports {
			nodes[imp] = true
		}
	}

	resolved := make(map[string]bool, len(nodes))
	for len(resolved) < len(nodes) {
		var round []string
		for asset := range nodes {
			if resolved[asset] {
				continue
			}
			ready := true
			for _, imp := range tree[asset] {
				if imp != asset && !resolved[imp] {
					ready = false
					break
				}
			}
			if ready {
				round = append(round, asset)
			}
		}

		if len(round) == 0 {
			for asset := range nodes {
				if !resolved[asset] {
					cyclic = append(cyclic, asset)
				}
			}
			slices.Sort(cyclic)
			return append(order, cyclic...), cyclic
		}

		slices.Sort(round)
		for _, asset := range round {
			resolved[asset] = true
		}
		order = append(order, round...)
	}
	return order, nil
}

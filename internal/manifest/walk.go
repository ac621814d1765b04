package manifest

import "sort"

// NeighborFunc returns the nodes directly downstream of node.
type NeighborFunc func(node string) ([]string, error)

// WalkResult is the outcome of a bounded reachability walk.
type WalkResult struct {
	// Reached lists every node reachable from the roots, roots excluded,
	// in breadth-first order with neighbors visited in sorted order.
	Reached []string
	// Depth maps each reached node to its distance from the nearest root.
	Depth map[string]int
	// Truncated is true when nodes beyond maxDepth were not expanded.
	Truncated bool
}

// Walk performs a breadth-first reachability walk from roots. Each node is
// visited at most once, so cycles terminate; expansion stops at maxDepth
// edges from the roots. A maxDepth < 1 is treated as 1.
func Walk(roots []string, next NeighborFunc, maxDepth int) (WalkResult, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}

	res := WalkResult{Depth: make(map[string]int)}
	visited := make(map[string]bool, len(roots))
	frontier := make([]string, 0, len(roots))
	for _, r := range SortedUnique(roots) {
		visited[r] = true
		frontier = append(frontier, r)
	}

	for depth := 1; len(frontier) > 0; depth++ {
		var nextFrontier []string
		for _, node := range frontier {
			neighbors, err := next(node)
			if err != nil {
				return WalkResult{}, err
			}
			sort.Strings(neighbors)
			for _, n := range neighbors {
				if visited[n] {
					continue
				}
				if depth > maxDepth {
					res.Truncated = true
					continue
				}
				visited[n] = true
				res.Reached = append(res.Reached, n)
				res.Depth[n] = depth
				nextFrontier = append(nextFrontier, n)
			}
		}
		frontier = nextFrontier
	}

	return res, nil
}

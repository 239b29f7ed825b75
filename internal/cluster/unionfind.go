// Package cluster provides the disjoint-set arena shared by the discovery
// and merge engines. Both cluster over opaque string keys (article ids get
// stringified), so the arena is string-keyed with explicit parent pointers
// rather than ad hoc maps scattered through the callers.
package cluster

import "sort"

// Arena is a union-find structure with path compression and union by rank.
// Not safe for concurrent mutation; callers run union/flatten sequentially.
type Arena struct {
	parent map[string]string
	rank   map[string]int
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// Add registers a key as its own singleton set. Adding an existing key is a
// no-op, so callers can register members unconditionally.
func (a *Arena) Add(key string) {
	if _, ok := a.parent[key]; ok {
		return
	}
	a.parent[key] = key
	a.rank[key] = 0
}

// Find returns the set representative for key, compressing paths as it goes.
// Unknown keys are registered as singletons first.
func (a *Arena) Find(key string) string {
	a.Add(key)
	root := key
	for a.parent[root] != root {
		root = a.parent[root]
	}
	for a.parent[key] != root {
		key, a.parent[key] = a.parent[key], root
	}
	return root
}

// Union merges the sets containing x and y.
func (a *Arena) Union(x, y string) {
	rx, ry := a.Find(x), a.Find(y)
	if rx == ry {
		return
	}
	switch {
	case a.rank[rx] < a.rank[ry]:
		a.parent[rx] = ry
	case a.rank[rx] > a.rank[ry]:
		a.parent[ry] = rx
	default:
		a.parent[ry] = rx
		a.rank[rx]++
	}
}

// Same reports whether x and y share a set.
func (a *Arena) Same(x, y string) bool {
	return a.Find(x) == a.Find(y)
}

// Groups flattens the arena into member lists, each sorted, keyed and
// ordered deterministically by the smallest member so repeated runs walk
// groups in identical order.
func (a *Arena) Groups() [][]string {
	byRoot := make(map[string][]string)
	for key := range a.parent {
		root := a.Find(key)
		byRoot[root] = append(byRoot[root], key)
	}

	groups := make([][]string, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Strings(members)
		groups = append(groups, members)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

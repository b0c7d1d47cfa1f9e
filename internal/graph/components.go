package graph

import "github.com/p-n-ai/pai-curriculum/internal/curriculum"

// Components partitions ids into connected components of g, considering
// only edges whose endpoints are both in ids. Components are returned in
// order of their first member in ids, members in ids order.
func Components(ids []string, g curriculum.SimilarityGraph) [][]string {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := pos[id]; !dup {
			pos[id] = i
		}
	}

	parent := make([]int, len(ids))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for _, e := range g.Edges {
		a, okA := pos[e.Source]
		b, okB := pos[e.Target]
		if !okA || !okB {
			continue
		}
		ra, rb := find(a), find(b)
		if ra == rb {
			continue
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	order := make(map[int]int)
	var out [][]string
	for i, id := range ids {
		if pos[id] != i {
			continue
		}
		root := find(i)
		slot, ok := order[root]
		if !ok {
			slot = len(out)
			order[root] = slot
			out = append(out, nil)
		}
		out[slot] = append(out[slot], id)
	}
	return out
}

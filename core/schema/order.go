package schema

import (
	"container/heap"
)

// Order returns every table so that each one appears after all tables it
// references through non-self foreign keys. Among tables that are ready at the
// same time, declaration order wins, so the same schema always yields the
// same order.
func (g *Graph) Order() ([]TableID, error) {
	deps := func(i int) []int {
		ids := g.Dependencies(TableID(i))
		out := make([]int, len(ids))
		for k, id := range ids {
			out[k] = int(id)
		}
		return out
	}

	order, blocked := SortNodes(len(g.Tables), deps)
	if len(blocked) > 0 {
		cycle := FindCycle(blocked, deps)
		names := make([]string, len(cycle))
		for i, id := range cycle {
			names[i] = g.Tables[id].Name
		}
		return nil, &CyclicDependencyError{Tables: names}
	}

	ids := make([]TableID, len(order))
	for i, n := range order {
		ids[i] = TableID(n)
	}
	return ids, nil
}

// OrderNames is Order with table names instead of ids.
func (g *Graph) OrderNames() ([]string, error) {
	ids, err := g.Order()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = g.Tables[id].Name
	}
	return names, nil
}

// intHeap is a min-heap of node indices.
type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// SortNodes topologically sorts nodes 0..n-1, where deps(i) lists the nodes
// that must precede i. Self-dependencies and duplicates are ignored. Ready
// nodes are emitted lowest index first.
//
// Nodes that can never become ready (members of a cycle, or nodes depending on
// one) are returned in blocked, in index order.
func SortNodes(n int, deps func(int) []int) (order, blocked []int) {
	pending := make([]int, n)
	dependents := make([][]int, n)
	for i := 0; i < n; i++ {
		seen := make(map[int]bool)
		for _, d := range deps(i) {
			if d == i || seen[d] || d < 0 || d >= n {
				continue
			}
			seen[d] = true
			pending[i]++
			dependents[d] = append(dependents[d], i)
		}
	}

	ready := &intHeap{}
	for i := 0; i < n; i++ {
		if pending[i] == 0 {
			*ready = append(*ready, i)
		}
	}
	heap.Init(ready)

	order = make([]int, 0, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, d := range dependents[i] {
			pending[d]--
			if pending[d] == 0 {
				heap.Push(ready, d)
			}
		}
	}

	for i := 0; i < n; i++ {
		if pending[i] > 0 {
			blocked = append(blocked, i)
		}
	}
	return order, blocked
}

// FindCycle returns one dependency cycle among the given nodes as a path that
// starts and ends with the same node, following deps edges. It returns nil if
// the nodes are acyclic. The search is iterative so deep chains cannot
// exhaust the stack.
func FindCycle(nodes []int, deps func(int) []int) []int {
	in := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		in[n] = true
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[int]int, len(nodes))

	type frame struct {
		node int
		next []int
	}

	for _, start := range nodes {
		if color[start] != white {
			continue
		}
		stack := []frame{{node: start, next: deps(start)}}
		color[start] = grey

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if len(top.next) == 0 {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			d := top.next[0]
			top.next = top.next[1:]
			if d == top.node || !in[d] {
				continue
			}
			switch color[d] {
			case white:
				color[d] = grey
				stack = append(stack, frame{node: d, next: deps(d)})
			case grey:
				var cycle []int
				for k := range stack {
					if stack[k].node == d {
						for _, f := range stack[k:] {
							cycle = append(cycle, f.node)
						}
						break
					}
				}
				return append(cycle, d)
			}
		}
	}
	return nil
}

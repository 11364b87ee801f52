package rendergraph

import (
	"container/heap"
)

// indexHeap is a min-heap of declaration indices. Popping the smallest ready index keeps
// the schedule deterministic and equal to declaration order where nothing forces otherwise.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// dependencyEdges builds the edges between passes. Every writer of a resource precedes
// every pass that only reads it; writers of the same resource run in declaration order.
func dependencyEdges(passes []Pass) [][]int {
	type usage struct {
		writers []int
		readers []int
	}
	uses := make(map[ResourceID]*usage)
	var ids []ResourceID
	use := func(id ResourceID) *usage {
		u, ok := uses[id]
		if !ok {
			u = &usage{}
			uses[id] = u
			ids = append(ids, id)
		}
		return u
	}

	for i := range passes {
		writes := make(map[ResourceID]bool)
		for _, id := range passes[i].writeSet() {
			if writes[id] {
				continue
			}
			writes[id] = true
			use(id).writers = append(use(id).writers, i)
		}
		read := make(map[ResourceID]bool)
		for _, id := range passes[i].Reads {
			if writes[id] || read[id] {
				continue
			}
			read[id] = true
			use(id).readers = append(use(id).readers, i)
		}
	}

	adj := make([][]int, len(passes))
	seen := make(map[[2]int]bool)
	edge := func(from, to int) {
		if from == to || seen[[2]int{from, to}] {
			return
		}
		seen[[2]int{from, to}] = true
		adj[from] = append(adj[from], to)
	}
	for _, id := range ids {
		u := uses[id]
		for i := 1; i < len(u.writers); i++ {
			edge(u.writers[i-1], u.writers[i])
		}
		for _, w := range u.writers {
			for _, r := range u.readers {
				edge(w, r)
			}
		}
	}
	return adj
}

// schedule topologically sorts passes with Kahn's algorithm, breaking ties by declaration
// index. It returns the order as indices, or a *GraphCycleError naming the passes that
// could not be placed.
func schedule(passes []Pass) ([]int, error) {
	adj := dependencyEdges(passes)
	inDegree := make([]int, len(passes))
	for _, targets := range adj {
		for _, t := range targets {
			inDegree[t]++
		}
	}

	ready := &indexHeap{}
	for i, d := range inDegree {
		if d == 0 {
			*ready = append(*ready, i)
		}
	}
	heap.Init(ready)

	order := make([]int, 0, len(passes))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, t := range adj[i] {
			inDegree[t]--
			if inDegree[t] == 0 {
				heap.Push(ready, t)
			}
		}
	}

	if len(order) < len(passes) {
		cyc := &GraphCycleError{}
		for i, d := range inDegree {
			if d > 0 {
				cyc.Passes = append(cyc.Passes, passes[i].Name)
			}
		}
		return nil, cyc
	}
	return order, nil
}

// batch groups consecutive scheduled passes that can record concurrently: within a batch
// no pass writes a resource another pass of the batch reads or writes. Without parallel
// recording every pass is its own batch.
func batch(passes []Pass, order []int, parallel bool) [][]int {
	var out [][]int
	if !parallel {
		for _, i := range order {
			out = append(out, []int{i})
		}
		return out
	}

	var (
		current []int
		reads   map[ResourceID]bool
		writes  map[ResourceID]bool
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, current)
		}
		current = nil
		reads = make(map[ResourceID]bool)
		writes = make(map[ResourceID]bool)
	}
	flush()

	for _, i := range order {
		p := &passes[i]
		pw := p.writeSet()
		if conflicts(p.Reads, writes) || conflicts(pw, writes) || conflicts(pw, reads) {
			flush()
		}
		current = append(current, i)
		for _, id := range p.Reads {
			reads[id] = true
		}
		for _, id := range pw {
			writes[id] = true
		}
	}
	flush()
	return out
}

func conflicts(ids []ResourceID, set map[ResourceID]bool) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}

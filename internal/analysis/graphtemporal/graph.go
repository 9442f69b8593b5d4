// Package graphtemporal scores a transaction against the sender's recent
// behavior and the local account graph.
package graphtemporal

import (
	"github.com/finsentry/fraud-risk-service/internal/domain"
)

// txGraph is a directed multigraph over account ids, built per evaluation
// from a bounded history window and discarded afterwards. Nodes are interned
// to int32 ids; edges live in parallel arrays so a job's allocations stay
// flat regardless of neighborhood shape.
type txGraph struct {
	index map[string]int32
	names []string

	edgeSrc []int32
	edgeDst []int32

	// adjacency by node id, holding parallel edges
	out [][]int32
	in  [][]int32
}

func buildGraph(txs []domain.Transaction) *txGraph {
	g := &txGraph{index: make(map[string]int32, len(txs))}
	g.edgeSrc = make([]int32, 0, len(txs))
	g.edgeDst = make([]int32, 0, len(txs))
	for _, t := range txs {
		s := g.intern(t.SenderID)
		r := g.intern(t.ReceiverID)
		g.edgeSrc = append(g.edgeSrc, s)
		g.edgeDst = append(g.edgeDst, r)
	}

	g.out = make([][]int32, len(g.names))
	g.in = make([][]int32, len(g.names))
	for i := range g.edgeSrc {
		s, r := g.edgeSrc[i], g.edgeDst[i]
		g.out[s] = append(g.out[s], r)
		g.in[r] = append(g.in[r], s)
	}
	return g
}

func (g *txGraph) intern(id string) int32 {
	if n, ok := g.index[id]; ok {
		return n
	}
	n := int32(len(g.names))
	g.index[id] = n
	g.names = append(g.names, id)
	return n
}

func (g *txGraph) lookup(id string) (int32, bool) {
	n, ok := g.index[id]
	return n, ok
}

// edgeCount returns the number of parallel edges from s to r.
func (g *txGraph) edgeCount(senderID, receiverID string) int {
	s, ok := g.lookup(senderID)
	if !ok {
		return 0
	}
	r, ok := g.lookup(receiverID)
	if !ok {
		return 0
	}
	count := 0
	for _, dst := range g.out[s] {
		if dst == r {
			count++
		}
	}
	return count
}

// distance returns the directed shortest-path hop count from s to r, or -1
// when r is unreachable.
func (g *txGraph) distance(senderID, receiverID string) int {
	s, ok := g.lookup(senderID)
	if !ok {
		return -1
	}
	r, ok := g.lookup(receiverID)
	if !ok {
		return -1
	}
	if s == r {
		return 0
	}

	dist := make([]int, len(g.names))
	for i := range dist {
		dist[i] = -1
	}
	dist[s] = 0
	queue := []int32{s}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.out[cur] {
			if dist[next] != -1 {
				continue
			}
			dist[next] = dist[cur] + 1
			if next == r {
				return dist[next]
			}
			queue = append(queue, next)
		}
	}
	return -1
}

// neighbors returns the distinct accounts adjacent to id in either
// direction, excluding id itself.
func (g *txGraph) neighbors(id string) []string {
	n, ok := g.lookup(id)
	if !ok {
		return nil
	}
	seen := make(map[int32]bool)
	var out []string
	add := func(m int32) {
		if m == n || seen[m] {
			return
		}
		seen[m] = true
		out = append(out, g.names[m])
	}
	for _, m := range g.out[n] {
		add(m)
	}
	for _, m := range g.in[n] {
		add(m)
	}
	return out
}

// commonNeighbors counts accounts adjacent (in either direction) to both a
// and b.
func (g *txGraph) commonNeighbors(a, b string) int {
	na := g.neighborSet(a)
	if len(na) == 0 {
		return 0
	}
	nb := g.neighborSet(b)
	count := 0
	for m := range na {
		if nb[m] {
			count++
		}
	}
	return count
}

func (g *txGraph) neighborSet(id string) map[int32]bool {
	n, ok := g.lookup(id)
	if !ok {
		return nil
	}
	set := make(map[int32]bool)
	for _, m := range g.out[n] {
		if m != n {
			set[m] = true
		}
	}
	for _, m := range g.in[n] {
		if m != n {
			set[m] = true
		}
	}
	return set
}

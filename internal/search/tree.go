// Package search is a single-agent Monte Carlo tree search over immutable
// nodes. Statistics are keyed by node content, so states reached through
// different move orders share one entry. Entries are bucketed by Hash and
// told apart with Equal.
package search

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Node is the capability set the tree needs from a search state.
type Node[N any] interface {
	Children() []N
	RandomChild(rng *rand.Rand) (N, bool)
	Terminal() bool
	Reward() (float64, error)
	Hash() uint64
	Equal(other N) bool
}

var ErrTerminal = errors.New("node is terminal")

// DefaultExplorationWeight is the UCT exploration constant.
const DefaultExplorationWeight = 1.0

// Tree accumulates rollout statistics. A Tree is not safe for concurrent
// use; give each goroutine its own tree and random source.
type Tree[N Node[N]] struct {
	table    map[uint64]*entry[N]
	weight   float64
	rng      *rand.Rand
	rollouts int
}

type entry[N Node[N]] struct {
	node     N
	q        float64
	n        int
	children []N
	expanded bool
	next     *entry[N]
}

// New returns an empty tree. A non-positive weight selects
// DefaultExplorationWeight.
func New[N Node[N]](weight float64, rng *rand.Rand) *Tree[N] {
	if weight <= 0 {
		weight = DefaultExplorationWeight
	}
	return &Tree[N]{
		table:  map[uint64]*entry[N]{},
		weight: weight,
		rng:    rng,
	}
}

// lookup finds node's entry, or nil.
func (t *Tree[N]) lookup(node N) *entry[N] {
	for e := t.table[node.Hash()]; e != nil; e = e.next {
		if e.node.Equal(node) {
			return e
		}
	}
	return nil
}

// upsert finds or inserts node's entry.
func (t *Tree[N]) upsert(node N) *entry[N] {
	if e := t.lookup(node); e != nil {
		return e
	}
	h := node.Hash()
	e := &entry[N]{node: node, next: t.table[h]}
	t.table[h] = e
	return e
}

func (t *Tree[N]) expanded(node N) bool {
	e := t.lookup(node)
	return e != nil && e.expanded
}

func (t *Tree[N]) stats(node N) (q float64, n int) {
	if e := t.lookup(node); e != nil {
		return e.q, e.n
	}
	return 0, 0
}

// Choose returns the best known successor of node by average reward. When
// node was never expanded, or none of its children were visited, a random
// successor is returned.
func (t *Tree[N]) Choose(node N) (N, error) {
	var zero N
	if node.Terminal() {
		return zero, fmt.Errorf("choose: %w", ErrTerminal)
	}
	var kids []N
	if e := t.lookup(node); e != nil {
		kids = e.children
	}
	if len(kids) == 0 {
		child, ok := node.RandomChild(t.rng)
		if !ok {
			return zero, fmt.Errorf("choose: %w", ErrTerminal)
		}
		return child, nil
	}
	best, bestScore := -1, math.Inf(-1)
	for i, c := range kids {
		q, visits := t.stats(c)
		if visits == 0 {
			continue
		}
		if score := q / float64(visits); best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return kids[t.rng.IntN(len(kids))], nil
	}
	return kids[best], nil
}

// DoRollout runs one select/expand/simulate/backpropagate iteration from node.
func (t *Tree[N]) DoRollout(node N) error {
	path := t.selectPath(node)
	leaf := path[len(path)-1]
	t.Expand(leaf)
	reward, err := t.simulate(leaf)
	if err != nil {
		return fmt.Errorf("rollout: %w", err)
	}
	for _, p := range path {
		e := t.upsert(p)
		e.n++
		e.q += reward
	}
	t.rollouts++
	return nil
}

// Expand records node's successors. Expanding twice is a no-op.
func (t *Tree[N]) Expand(node N) {
	e := t.upsert(node)
	if e.expanded {
		return
	}
	e.children = node.Children()
	e.expanded = true
}

// Visits is how many rollouts passed through node.
func (t *Tree[N]) Visits(node N) int {
	_, n := t.stats(node)
	return n
}

// Value is node's mean rollout reward, zero if never visited.
func (t *Tree[N]) Value(node N) float64 {
	q, n := t.stats(node)
	if n == 0 {
		return 0
	}
	return q / float64(n)
}

func (t *Tree[N]) Rollouts() int { return t.rollouts }

func (t *Tree[N]) selectPath(node N) []N {
	var path []N
	for {
		path = append(path, node)
		e := t.lookup(node)
		if e == nil || !e.expanded || len(e.children) == 0 {
			return path
		}
		kids := e.children
		var unexplored []N
		for _, c := range kids {
			if !t.expanded(c) {
				unexplored = append(unexplored, c)
			}
		}
		if len(unexplored) > 0 {
			return append(path, unexplored[t.rng.IntN(len(unexplored))])
		}
		node = t.uctSelect(node, kids)
	}
}

func (t *Tree[N]) simulate(node N) (float64, error) {
	for !node.Terminal() {
		next, ok := node.RandomChild(t.rng)
		if !ok {
			return 0, fmt.Errorf("simulate: no move from non-terminal node")
		}
		node = next
	}
	return node.Reward()
}

// uctSelect balances exploitation and exploration among fully expanded kids.
func (t *Tree[N]) uctSelect(parent N, kids []N) N {
	_, parentVisits := t.stats(parent)
	logN := math.Log(float64(max(parentVisits, 1)))
	best, bestScore := 0, math.Inf(-1)
	for i, c := range kids {
		q, visits := t.stats(c)
		if visits == 0 {
			return c
		}
		score := q/float64(visits) + t.weight*math.Sqrt(logN/float64(visits))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return kids[best]
}

// Package sumtree implements a fixed-capacity binary sum tree over leaf
// priorities.
//
// The tree is stored as a flat array of 2*capacity-1 nodes:
//
//	     0          root, total priority
//	    / \
//	   1   2
//	  / \ / \
//	 3  4 5  6      leaves, one per buffer slot
//
// Leaf i lives at node capacity-1+i. Every internal node equals the sum of
// its two children.
package sumtree

import "fmt"

// Tree is not safe for concurrent use; callers serialise access.
type Tree struct {
	capacity int
	nodes    []float64
}

// New returns a zeroed tree with the given number of leaves.
func New(capacity int) *Tree {
	if capacity <= 0 {
		panic(fmt.Sprintf("sumtree: invalid capacity %d", capacity))
	}
	return &Tree{
		capacity: capacity,
		nodes:    make([]float64, 2*capacity-1),
	}
}

// Capacity is the number of leaves.
func (t *Tree) Capacity() int {
	return t.capacity
}

// Total is the sum of all leaves.
func (t *Tree) Total() float64 {
	return t.nodes[0]
}

// Get returns the priority stored at a leaf.
func (t *Tree) Get(leaf int) float64 {
	t.check(leaf)
	return t.nodes[leaf+t.capacity-1]
}

// Update sets a leaf and refreshes its ancestors in O(log capacity).
// An out-of-range leaf is a caller bug and panics.
func (t *Tree) Update(leaf int, priority float64) {
	t.check(leaf)

	idx := leaf + t.capacity - 1
	t.nodes[idx] = priority
	for idx != 0 {
		idx = (idx - 1) / 2
		l := 2*idx + 1
		t.nodes[idx] = t.nodes[l] + t.nodes[l+1]
	}
}

// Sample finds the leaf whose cumulative priority range contains v, for v in
// [0, Total()). The descent prefers the left child whenever the right subtree
// is empty, so zero-priority slots are never chosen while the buffer warms up.
func (t *Tree) Sample(v float64) int {
	parent := 0
	for {
		l := 2*parent + 1
		if l >= len(t.nodes) {
			break
		}
		r := l + 1
		if v <= t.nodes[l] || t.nodes[r] == 0 {
			parent = l
		} else {
			v -= t.nodes[l]
			parent = r
		}
	}
	return parent - (t.capacity - 1)
}

// Leaves copies out all leaf priorities.
func (t *Tree) Leaves() []float64 {
	return append([]float64(nil), t.nodes[t.capacity-1:]...)
}

func (t *Tree) check(leaf int) {
	if leaf < 0 || leaf >= t.capacity {
		panic(fmt.Sprintf("sumtree: leaf %d out of range [0, %d)", leaf, t.capacity))
	}
}

// Package spatial provides the point index used to answer "which points fall
// near this tile" for any number of tiles and zoom levels.
//
// All structures use preallocated slices with integer indices (not pointers)
// to keep the tree contiguous in memory and avoid parent/child ownership cycles.
package spatial

import (
	"slices"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

// noChildren marks a leaf node.
const noChildren int32 = -1

// Quadrant identifies one of the four children of an internal node.
// Children are stored contiguously in this order.
type Quadrant int32

const (
	TopLeft Quadrant = iota
	TopRight
	BottomLeft
	BottomRight
)

// Item is a weighted point stored in the tree.
// Ref is an opaque caller reference (typically an index into the caller's own slice).
type Item struct {
	X, Y   float64
	Weight float64
	Ref    uint32
}

// node is one rectangle of the partition.
// A node is either a leaf holding item handles, or internal with four
// contiguous children starting at index children and no items of its own.
type node struct {
	bounds   r2.Rect
	level    int
	children int32
	items    []uint32
}

// QuadTree is a quad-partitioned index over a fixed 2-D extent.
//
// The tree is built once and then only read; concurrent Retrieve calls are safe
// as long as no Insert runs at the same time.
//
// Memory layout: nodes[0] is the root; items are stored once in insertion order
// and nodes reference them by handle (index into items).
type QuadTree struct {
	nodes      []node
	items      []Item
	maxObjects int
	maxLevels  int
}

// NewRect builds a rectangle from an origin and a size, the way the index
// bounds are usually described (x, y, width, height).
func NewRect(x, y, width, height float64) r2.Rect {
	return r2.Rect{
		X: r1.Interval{Lo: x, Hi: x + width},
		Y: r1.Interval{Lo: y, Hi: y + height},
	}
}

// GeographicBounds is the normalized geographic space: x = lon+180, y = lat+90.
func GeographicBounds() r2.Rect {
	return NewRect(0, 0, 360, 180)
}

// NewQuadTree creates an empty tree covering bounds.
// maxObjects is how many items a leaf holds before it subdivides; maxLevels caps
// the depth regardless of item count.
func NewQuadTree(bounds r2.Rect, maxObjects, maxLevels int) *QuadTree {
	if maxObjects < 1 {
		maxObjects = 1
	}
	if maxLevels < 0 {
		maxLevels = 0
	}

	t := &QuadTree{
		nodes:      make([]node, 1, 1+4*maxObjects),
		maxObjects: maxObjects,
		maxLevels:  maxLevels,
	}
	t.nodes[0] = node{bounds: bounds, children: noChildren}
	return t
}

// Bounds returns the extent covered by the root node.
func (t *QuadTree) Bounds() r2.Rect {
	return t.nodes[0].bounds
}

// Len returns the number of items inserted.
func (t *QuadTree) Len() int {
	return len(t.items)
}

// Insert adds an item. A point lying exactly on a splitting axis is stored in
// every quadrant whose closed rectangle contains it.
// Returns false (and stores nothing) if the point is outside the root bounds.
func (t *QuadTree) Insert(item Item) bool {
	p := r2.Point{X: item.X, Y: item.Y}
	if !t.nodes[0].bounds.ContainsPoint(p) {
		return false
	}

	h := uint32(len(t.items))
	t.items = append(t.items, item)
	t.insert(0, h, p)
	return true
}

// insert places handle h below node idx.
// Never hold a *node across this call: split appends to t.nodes.
func (t *QuadTree) insert(idx int32, h uint32, p r2.Point) {
	if first := t.nodes[idx].children; first != noChildren {
		for q := int32(0); q < 4; q++ {
			if t.nodes[first+q].bounds.ContainsPoint(p) {
				t.insert(first+q, h, p)
			}
		}
		return
	}

	n := &t.nodes[idx]
	n.items = append(n.items, h)
	if len(n.items) <= t.maxObjects || n.level >= t.maxLevels {
		return
	}
	t.split(idx)
}

// split turns leaf idx into an internal node with four half-size quadrants
// and redistributes its items into them.
func (t *QuadTree) split(idx int32) {
	b := t.nodes[idx].bounds
	level := t.nodes[idx].level + 1
	mid := b.Center()

	west := r1.Interval{Lo: b.X.Lo, Hi: mid.X}
	east := r1.Interval{Lo: mid.X, Hi: b.X.Hi}
	south := r1.Interval{Lo: b.Y.Lo, Hi: mid.Y}
	north := r1.Interval{Lo: mid.Y, Hi: b.Y.Hi}

	quads := [4]r2.Rect{
		TopLeft:     {X: west, Y: north},
		TopRight:    {X: east, Y: north},
		BottomLeft:  {X: west, Y: south},
		BottomRight: {X: east, Y: south},
	}

	first := int32(len(t.nodes))
	for _, r := range quads {
		t.nodes = append(t.nodes, node{bounds: r, level: level, children: noChildren})
	}

	items := t.nodes[idx].items
	t.nodes[idx].items = nil
	t.nodes[idx].children = first

	for _, h := range items {
		it := t.items[h]
		t.insert(idx, h, r2.Point{X: it.X, Y: it.Y})
	}
}

// Retrieve returns every item whose coordinate lies within query (closed bounds).
// Each inserted item appears at most once, in insertion order, even when it is
// stored in several quadrants. A query outside the root bounds yields nothing.
func (t *QuadTree) Retrieve(query r2.Rect) []Item {
	handles := t.RetrieveHandles(query)
	out := make([]Item, len(handles))
	for i, h := range handles {
		out[i] = t.items[h]
	}
	return out
}

// RetrieveHandles is Retrieve without copying items: it returns sorted, unique handles.
func (t *QuadTree) RetrieveHandles(query r2.Rect) []uint32 {
	if query.IsEmpty() || !t.nodes[0].bounds.Intersects(query) {
		return nil
	}

	handles := t.collect(0, query, nil)
	if len(handles) < 2 {
		return handles
	}
	slices.Sort(handles)
	return slices.Compact(handles)
}

func (t *QuadTree) collect(idx int32, query r2.Rect, out []uint32) []uint32 {
	n := &t.nodes[idx]
	if n.children == noChildren {
		for _, h := range n.items {
			it := &t.items[h]
			if query.ContainsPoint(r2.Point{X: it.X, Y: it.Y}) {
				out = append(out, h)
			}
		}
		return out
	}

	for q := int32(0); q < 4; q++ {
		c := n.children + q
		if t.nodes[c].bounds.Intersects(query) {
			out = t.collect(c, query, out)
		}
	}
	return out
}

// Stats returns tree statistics for debugging/profiling.
func (t *QuadTree) Stats() TreeStats {
	s := TreeStats{Nodes: len(t.nodes), Items: len(t.items)}
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.level > s.MaxDepth {
			s.MaxDepth = n.level
		}
		if n.children == noChildren {
			s.Leaves++
			s.References += len(n.items)
			if len(n.items) > s.MaxInLeaf {
				s.MaxInLeaf = len(n.items)
			}
		}
	}
	return s
}

// TreeStats contains tree statistics for debugging.
// References exceeds Items when points straddle splitting axes.
type TreeStats struct {
	Nodes      int `json:"nodes"`
	Leaves     int `json:"leaves"`
	MaxDepth   int `json:"maxDepth"`
	MaxInLeaf  int `json:"maxInLeaf"`
	Items      int `json:"items"`
	References int `json:"references"`
}

// Package tree holds the in-memory test tree: a flat arena of nodes plus a parent index.
package tree

import (
	"sync"

	"mte/internal/domain"
)

// Collection owns every discovered node. Nodes are stored flat in declaration order and
// children are resolved through a parent id index rebuilt whenever the node set changes.
// Callers always receive copies.
type Collection struct {
	mu       sync.RWMutex
	nodes    []*domain.TestNode
	byID     map[string]int
	children map[string][]int
}

// New creates an empty Collection
func New() *Collection {
	return &Collection{
		byID:     make(map[string]int),
		children: make(map[string][]int),
	}
}

// UpsertAll replaces the full node set
func (c *Collection) UpsertAll(nodes []*domain.TestNode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes = make([]*domain.TestNode, 0, len(nodes))
	for _, n := range nodes {
		c.nodes = append(c.nodes, n.Clone())
	}
	c.reindex()
}

// ReplaceFile drops every node of the given file and appends the new ones
func (c *Collection) ReplaceFile(path string, nodes []*domain.TestNode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.nodes[:0]
	for _, n := range c.nodes {
		if n.Path != path {
			kept = append(kept, n)
		}
	}
	c.nodes = kept
	for _, n := range nodes {
		c.nodes = append(c.nodes, n.Clone())
	}
	c.reindex()
}

// Clear removes every node
func (c *Collection) Clear() {
	c.UpsertAll(nil)
}

// reindex rebuilds the lookup maps; duplicate ids keep their first occurrence
func (c *Collection) reindex() {
	c.byID = make(map[string]int, len(c.nodes))
	c.children = make(map[string][]int)

	unique := c.nodes[:0]
	for _, n := range c.nodes {
		if _, dup := c.byID[n.ID]; dup {
			continue
		}
		c.byID[n.ID] = len(unique)
		unique = append(unique, n)
	}
	c.nodes = unique

	for i, n := range c.nodes {
		c.children[n.ParentID] = append(c.children[n.ParentID], i)
	}
}

// Get returns the node with the given id
func (c *Collection) Get(id string) (*domain.TestNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return c.nodes[i].Clone(), true
}

// Children returns the direct children of parentID in declaration order.
// An empty parentID yields the file roots.
func (c *Collection) Children(parentID string) []*domain.TestNode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.cloneAll(c.children[parentID])
}

// Descendants returns every node below id, depth first
func (c *Collection) Descendants(id string) []*domain.TestNode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*domain.TestNode
	seen := map[string]bool{id: true}
	var walk func(parentID string)
	walk = func(parentID string) {
		for _, i := range c.children[parentID] {
			n := c.nodes[i]
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			out = append(out, n.Clone())
			walk(n.ID)
		}
	}
	walk(id)
	return out
}

// ApplyStatusUpdate mutates the node addressed by the update. Unknown ids are ignored.
func (c *Collection) ApplyStatusUpdate(update domain.StatusUpdate) (*domain.TestNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.byID[update.ID]
	if !ok {
		return nil, false
	}
	update.Apply(c.nodes[i])
	return c.nodes[i].Clone(), true
}

// MarkRunning flags the given nodes as running for sessionID and returns the ones found
func (c *Collection) MarkRunning(ids []string, sessionID string) []*domain.TestNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	var marked []*domain.TestNode
	for _, id := range ids {
		i, ok := c.byID[id]
		if !ok {
			continue
		}
		c.nodes[i].IsRunning = true
		c.nodes[i].SessionID = sessionID
		marked = append(marked, c.nodes[i].Clone())
	}
	return marked
}

// StopRunning clears the running flag everywhere and returns the nodes that were still running
func (c *Collection) StopRunning() []*domain.TestNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stopped []*domain.TestNode
	for _, n := range c.nodes {
		if n.IsRunning {
			n.IsRunning = false
			stopped = append(stopped, n.Clone())
		}
	}
	return stopped
}

// Values returns all nodes in declaration order
func (c *Collection) Values() []*domain.TestNode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.TestNode, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n.Clone())
	}
	return out
}

// Roots returns the file root nodes
func (c *Collection) Roots() []*domain.TestNode {
	return c.Children("")
}

// TestCases returns only the leaf test cases
func (c *Collection) TestCases() []*domain.TestNode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*domain.TestNode
	for _, n := range c.nodes {
		if n.IsTestCase {
			out = append(out, n.Clone())
		}
	}
	return out
}

// Len returns the number of nodes
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

func (c *Collection) cloneAll(indices []int) []*domain.TestNode {
	out := make([]*domain.TestNode, 0, len(indices))
	for _, i := range indices {
		out = append(out, c.nodes[i].Clone())
	}
	return out
}

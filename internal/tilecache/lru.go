package tilecache

import "github.com/gogpu/mesh3d/tile"

// lruNode is a node in a doubly-linked LRU list.
// The node stores its coordinate for O(1) deletion from the parent map.
type lruNode[V any] struct {
	key   tile.Coord
	value V
	prev  *lruNode[V]
	next  *lruNode[V]
}

// lruList is a doubly-linked list for LRU eviction.
// The list is not thread-safe; callers must handle synchronization.
//
// The head is the most recently used, tail is least recently used.
type lruList[V any] struct {
	head *lruNode[V]
	tail *lruNode[V]
	len  int
}

// Len returns the number of nodes in the list.
func (l *lruList[V]) Len() int {
	return l.len
}

// PushFront adds a new node at the front (most recently used).
func (l *lruList[V]) PushFront(key tile.Coord, value V) *lruNode[V] {
	node := &lruNode[V]{key: key, value: value}
	if l.head == nil {
		l.head = node
		l.tail = node
	} else {
		node.next = l.head
		l.head.prev = node
		l.head = node
	}
	l.len++
	return node
}

// MoveToFront moves an existing node to the front (most recently used).
func (l *lruList[V]) MoveToFront(node *lruNode[V]) {
	if node == nil || node == l.head {
		return
	}
	l.unlink(node)
	node.next = l.head
	if l.head != nil {
		l.head.prev = node
	}
	l.head = node
	if l.tail == nil {
		l.tail = node
	}
	l.len++
}

// Remove unlinks node from the list.
func (l *lruList[V]) Remove(node *lruNode[V]) {
	if node == nil {
		return
	}
	l.unlink(node)
}

// Oldest returns the least recently used node, or nil.
func (l *lruList[V]) Oldest() *lruNode[V] {
	return l.tail
}

// Clear drops every node.
func (l *lruList[V]) Clear() {
	l.head = nil
	l.tail = nil
	l.len = 0
}

func (l *lruList[V]) unlink(node *lruNode[V]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	l.len--
}

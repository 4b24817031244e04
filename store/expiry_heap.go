package store

import "container/heap"

// expiryItem is one store record's scheduled wake time.
type expiryItem struct {
	key       string
	expiresAt int64 // unix seconds
}

// expiryQueue orders expiryItems so Pop always returns the soonest
// expiry. A plain slice implementing heap.Interface, heavily inspired by
// container/heap's own example, wrapped so callers never touch
// container/heap directly and can look records up by key for Remove/Push
// replacement.
type expiryQueue struct {
	items []expiryItem
	index map[string]int // key -> position in items
}

func newExpiryQueue() *expiryQueue {
	return &expiryQueue{index: make(map[string]int)}
}

// Upsert schedules key for expiresAt, replacing any existing entry for
// the same key.
func (q *expiryQueue) Upsert(key string, expiresAt int64) {
	if i, ok := q.index[key]; ok {
		q.items[i].expiresAt = expiresAt
		heap.Fix(q, i)
		return
	}
	heap.Push(q, expiryItem{key: key, expiresAt: expiresAt})
}

// Remove drops key's entry, if any.
func (q *expiryQueue) Remove(key string) {
	if i, ok := q.index[key]; ok {
		heap.Remove(q, i)
	}
}

// Peek returns the soonest expiry without removing it.
func (q *expiryQueue) Peek() (expiryItem, bool) {
	if len(q.items) == 0 {
		return expiryItem{}, false
	}
	return q.items[0], true
}

// PopDue removes and returns the soonest expiry if it is at or before now.
func (q *expiryQueue) PopDue(now int64) (expiryItem, bool) {
	item, ok := q.Peek()
	if !ok || item.expiresAt > now {
		return expiryItem{}, false
	}
	return heap.Pop(q).(expiryItem), true
}

// Len, Less, Swap, Push, and Pop implement heap.Interface.

func (q *expiryQueue) Len() int { return len(q.items) }

func (q *expiryQueue) Less(i, j int) bool { return q.items[i].expiresAt < q.items[j].expiresAt }

func (q *expiryQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.index[q.items[i].key] = i
	q.index[q.items[j].key] = j
}

func (q *expiryQueue) Push(x interface{}) {
	item := x.(expiryItem)
	q.index[item.key] = len(q.items)
	q.items = append(q.items, item)
}

func (q *expiryQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	delete(q.index, item.key)
	return item
}

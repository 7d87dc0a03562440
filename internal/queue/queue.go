// Package queue provides a bounded priority queue used to track top-k
// candidates during block-wise similarity scans.
package queue

// Item is a scored candidate row.
type Item struct {
	Row   int64   // row index in the embedding store
	Score float32 // similarity score (higher is better)
}

// TopK keeps the k highest-scoring items seen so far.
//
// Internally it is a min-heap of size at most k: the root is always the worst
// retained candidate, so deciding whether a new item belongs is O(1) and
// inserting is O(log k). Value-based storage, zero allocations past capacity.
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a bounded queue retaining the k best items.
func NewTopK(k int) *TopK {
	return &TopK{
		k:     k,
		items: make([]Item, 0, k),
	}
}

// Len returns the number of retained items.
func (q *TopK) Len() int { return len(q.items) }

// Min returns the worst retained item without removing it.
func (q *TopK) Min() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Offer considers an item for inclusion and reports whether it was retained.
func (q *TopK) Offer(it Item) bool {
	if q.k <= 0 {
		return false
	}
	if len(q.items) < q.k {
		q.items = append(q.items, it)
		q.siftUp(len(q.items) - 1)
		return true
	}
	if it.Score <= q.items[0].Score {
		return false
	}
	q.items[0] = it
	q.siftDown(0)
	return true
}

// Drain removes all items and returns them ordered best-first.
func (q *TopK) Drain() []Item {
	out := make([]Item, len(q.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = q.pop()
	}
	return out
}

// Reset clears the queue for reuse.
func (q *TopK) Reset() {
	q.items = q.items[:0]
}

func (q *TopK) pop() Item {
	n := len(q.items)
	root := q.items[0]
	last := q.items[n-1]
	q.items[n-1] = Item{}
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root
}

// less orders by ascending score; equal scores order by descending row so
// Drain yields equal-scored rows in ascending row order.
func (q *TopK) less(i, j int) bool {
	if q.items[i].Score != q.items[j].Score {
		return q.items[i].Score < q.items[j].Score
	}
	return q.items[i].Row > q.items[j].Row
}

func (q *TopK) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !q.less(i, p) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *TopK) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && q.less(r, l) {
			best = r
		}
		if !q.less(best, i) {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}

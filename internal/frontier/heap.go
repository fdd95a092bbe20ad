package frontier

import "github.com/JakeFAU/adlibrary-crawler/internal/crawler"

type queued struct {
	item crawler.WorkItem
	seq  uint64
}

// itemHeap orders by priority (higher first), then insertion order.
type itemHeap []*queued

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(*queued))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

package scheduler

import "container/heap"

// onceHeap orders pending one-shot jobs by fire time, earliest first.
type onceHeap []*onceJob

func (h onceHeap) Len() int           { return len(h) }
func (h onceHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h onceHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *onceHeap) Push(x any) {
	j := x.(*onceJob)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *onceHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// peek returns the earliest job without removing it.
func (h onceHeap) peek() *onceJob {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

func heapRemove(h *onceHeap, j *onceJob) {
	if j.index >= 0 && j.index < h.Len() && (*h)[j.index] == j {
		heap.Remove(h, j.index)
	}
}

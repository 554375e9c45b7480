package adaptq

import "container/heap"

// backlog holds jobs that are waiting for a slot, ordered by priority
// (highest first) and then by seq (lowest first). Fresh jobs take
// increasing seq values; retried jobs take decreasing negative ones so they
// sit at the front of their priority tier.
type backlog struct {
	h     jobHeap
	front int64
	back  int64
}

func (b *backlog) Len() int { return len(b.h) }

// PushBack adds a job behind every job of the same priority.
func (b *backlog) PushBack(j *Job) {
	b.back++
	j.seq = b.back
	heap.Push(&b.h, j)
}

// PushFront adds a job ahead of every job of the same priority.
func (b *backlog) PushFront(j *Job) {
	b.front--
	j.seq = b.front
	heap.Push(&b.h, j)
}

// Pop removes and returns the next job to dispatch, or nil when empty.
func (b *backlog) Pop() *Job {
	if len(b.h) == 0 {
		return nil
	}
	return heap.Pop(&b.h).(*Job)
}

// Remove takes j out of the backlog. It reports false if j is not queued.
func (b *backlog) Remove(j *Job) bool {
	if j.index < 0 || j.index >= len(b.h) || b.h[j.index] != j {
		return false
	}
	heap.Remove(&b.h, j.index)
	return true
}

// Clear drops every queued job and returns them in dispatch order.
func (b *backlog) Clear() []*Job {
	out := make([]*Job, 0, len(b.h))
	for len(b.h) > 0 {
		out = append(out, heap.Pop(&b.h).(*Job))
	}
	return out
}

type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

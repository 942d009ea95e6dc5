package scheduler

import "container/heap"

// wakeQueue is a min-heap of tasks ordered by their next wake time
type wakeQueue []*task

var _ heap.Interface = (*wakeQueue)(nil)

func (q wakeQueue) Len() int { return len(q) }

func (q wakeQueue) Less(i, j int) bool {
	if q[i].next.Equal(q[j].next) {
		return q[i].id < q[j].id
	}
	return q[i].next.Before(q[j].next)
}

func (q wakeQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *wakeQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *wakeQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

func (q wakeQueue) peek() *task {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

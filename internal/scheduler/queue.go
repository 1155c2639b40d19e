package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/dataharvest/reaper/internal/types"
)

// queue is a thread-safe priority queue of fetch requests for one
// partition. Deeper stages are served first so records already in
// flight finish before new listing pages fan out more work.
//
// The queue also tracks outstanding work: every Push registers a task
// and every Done retires one, so Pop can tell "momentarily empty" from
// "the partition is finished" and unblock the workers.
type queue struct {
	mu      sync.Mutex
	pq      priorityQueue
	seq     int64
	pending int
	closed  bool
}

func newQueue() *queue {
	q := &queue{pq: make(priorityQueue, 0, 256)}
	heap.Init(&q.pq)
	return q
}

// Push enqueues a request and registers its task.
func (q *queue) Push(req *types.FetchRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.seq++
	q.pending++
	heap.Push(&q.pq, &pqItem{request: req, seq: q.seq})
}

// Done retires one task. When the last task retires with nothing
// queued, the queue closes itself and blocked Pops return nil.
func (q *queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending <= 0 {
		q.closed = true
	}
}

// Pop returns the next request, blocking until one is available, the
// queue finishes, or the context is canceled. Returns nil on finish
// or cancellation.
func (q *queue) Pop(ctx context.Context) *types.FetchRequest {
	for {
		q.mu.Lock()
		if q.pq.Len() > 0 {
			item := heap.Pop(&q.pq).(*pqItem)
			q.mu.Unlock()
			return item.request
		}
		if q.closed {
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Close unblocks all Pops regardless of outstanding work.
func (q *queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pq.Len()
}

type pqItem struct {
	request *types.FetchRequest
	seq     int64
	index   int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	// Deeper stage wins; equal stages go in arrival order.
	if pq[i].request.Stage != pq[j].request.Stage {
		return pq[i].request.Stage > pq[j].request.Stage
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pqItem)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

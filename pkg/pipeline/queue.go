package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// queue is the bounded intake buffer between the collector and the workers.
// push never blocks: when the buffer is full the oldest entry is evicted so
// a slow analysis path sheds the stalest work first.
type queue struct {
	mu      sync.Mutex
	ch      chan models.LogEvent
	dropped atomic.Uint64
}

func newQueue(size int) *queue {
	if size <= 0 {
		size = config.DefaultQueueSize
	}
	if size > config.MaxQueueSize {
		size = config.MaxQueueSize
	}
	return &queue{ch: make(chan models.LogEvent, size)}
}

// push enqueues ev, evicting the oldest queued event when full. The mutex
// serializes concurrent pushers so an eviction always makes room for the
// pusher that performed it.
func (q *queue) push(ev models.LogEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		select {
		case q.ch <- ev:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			queueDropped.Inc()
		default:
			// A consumer raced the eviction and made room; retry the send.
		}
	}
}

func (q *queue) depth() int    { return len(q.ch) }
func (q *queue) capacity() int { return cap(q.ch) }

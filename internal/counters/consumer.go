package counters

import "sync"

// DefaultConsumerCapacity is the number of items the worker can have queued
// before producers start processing inline.
const DefaultConsumerCapacity = 128

// Consumer runs fn over added items on a single background goroutine. Add
// never blocks: when the worker is stopped or its queue is full the item is
// processed on the caller's goroutine instead.
type Consumer[T any] struct {
	fn       func(T)
	capacity int

	mu    sync.RWMutex
	queue chan T
	done  chan struct{}
}

func NewConsumer[T any](fn func(T), capacity int) *Consumer[T] {
	if capacity <= 0 {
		capacity = DefaultConsumerCapacity
	}
	return &Consumer[T]{fn: fn, capacity: capacity}
}

// Start spawns the worker. Calling it while the worker runs is a no-op.
func (c *Consumer[T]) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue != nil {
		return
	}
	c.queue = make(chan T, c.capacity)
	c.done = make(chan struct{})
	go c.run(c.queue, c.done)
}

func (c *Consumer[T]) run(queue <-chan T, done chan<- struct{}) {
	defer close(done)
	for item := range queue {
		c.fn(item)
	}
}

func (c *Consumer[T]) Add(item T) {
	c.mu.RLock()
	if c.queue != nil {
		select {
		case c.queue <- item:
			c.mu.RUnlock()
			return
		default:
		}
	}
	c.mu.RUnlock()
	c.fn(item)
}

// Exit stops the worker after it drained the queue and waits for it.
func (c *Consumer[T]) Exit() {
	c.mu.Lock()
	queue, done := c.queue, c.done
	c.queue, c.done = nil, nil
	if queue != nil {
		close(queue)
	}
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (c *Consumer[T]) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queue != nil
}

package counters

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestConsumerWithoutWorkerRunsInline(t *testing.T) {
	defer goleak.VerifyNone(t)

	var got []int
	c := NewConsumer(func(v int) { got = append(got, v) }, 0)
	assert.False(t, c.Running())
	c.Add(1)
	c.Add(2)
	assert.Equal(t, []int{1, 2}, got)
	c.Exit()
}

func TestConsumerSingleProducer(t *testing.T) {
	defer goleak.VerifyNone(t)

	const n = 1 << 17
	var count, sum atomic.Int64
	c := NewConsumer(func(v int64) {
		count.Add(1)
		sum.Add(v)
	}, DefaultConsumerCapacity)
	c.Start()
	assert.True(t, c.Running())

	for i := int64(0); i < n; i++ {
		c.Add(i)
	}
	c.Exit()

	assert.Equal(t, int64(n), count.Load())
	assert.Equal(t, int64(n*(n-1)/2), sum.Load())
	assert.False(t, c.Running())
}

const slots = 1 << 17

type increment struct {
	index int
	by    uint64
	acc   *[slots]atomic.Uint64
}

func addIncrement(in increment) { in.acc[in.index].Add(in.by) }

func TestConsumerManyProducersExactSums(t *testing.T) {
	defer goleak.VerifyNone(t)

	const producers = 5
	acc := new([slots]atomic.Uint64)
	c := NewConsumer(addIncrement, DefaultConsumerCapacity)

	var wg sync.WaitGroup
	for p := 1; p <= producers; p++ {
		wg.Add(1)
		go func(by uint64) {
			defer wg.Done()
			for i := 0; i < slots; i++ {
				c.Add(increment{index: i, by: by, acc: acc})
			}
		}(uint64(p))
	}
	c.Start()
	wg.Wait()
	c.Exit()

	const want = producers * (producers + 1) / 2
	for i := range acc {
		if got := acc[i].Load(); got != want {
			t.Fatalf("slot %d: got %d, want %d", i, got, want)
		}
	}
}

func TestConsumerKeepsOrderOfQueuedItems(t *testing.T) {
	defer goleak.VerifyNone(t)

	const n = 4096
	var got []int
	c := NewConsumer(func(v int) { got = append(got, v) }, n)
	c.Start()
	for i := 0; i < n; i++ {
		c.Add(i)
	}
	c.Exit()

	require.Len(t, got, n)
	for i, v := range got {
		if v != i {
			t.Fatalf("item %d processed at position %d", v, i)
		}
	}
}

func TestConsumerStartExitIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	var count atomic.Int64
	c := NewConsumer(func(int) { count.Add(1) }, 4)
	c.Start()
	c.Start()
	c.Add(1)
	c.Exit()
	c.Exit()
	c.Add(2)
	assert.Equal(t, int64(2), count.Load())

	c.Start()
	c.Add(3)
	c.Exit()
	assert.Equal(t, int64(3), count.Load())
}

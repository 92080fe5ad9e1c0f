package training

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunInPool(t *testing.T) {
	const items = 20

	queue := make(chan int, items)
	for i := 0; i < items; i++ {
		queue <- i
	}
	close(queue)

	var inflight, maxInflight atomic.Int32

	completed := make(chan completedTask[int], items)
	runInPool(func(n int) (int, error) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			prev := maxInflight.Load()
			if cur <= prev || maxInflight.CompareAndSwap(prev, cur) {
				break
			}
		}

		if n%2 == 0 {
			return 0, fmt.Errorf("item %d failed", n)
		}
		return n * 2, nil
	}, queue, completed, 4)

	results, failures := 0, 0
	for res := range completed {
		if res.Error != nil {
			failures++
		} else {
			results++
			assert.Equal(t, 2, res.Result%4)
		}
	}

	assert.Equal(t, 10, results)
	assert.Equal(t, 10, failures)
	assert.LessOrEqual(t, maxInflight.Load(), int32(4))
}

func TestRunInPoolEmptyQueue(t *testing.T) {
	queue := make(chan int)
	close(queue)

	completed := make(chan completedTask[int])
	runInPool(func(n int) (int, error) { return n, nil }, queue, completed, 4)

	_, ok := <-completed
	assert.False(t, ok)
}

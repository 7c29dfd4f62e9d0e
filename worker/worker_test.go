package worker

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockingPool_DrainsUntilClosed(t *testing.T) {
	jobs := make(chan int, 100)
	for i := range 100 {
		jobs <- i
	}
	close(jobs)

	var sum atomic.Int64
	BlockingPool(context.Background(), 4, jobs, func(_ context.Context, n int) {
		sum.Add(int64(n))
	})
	assert.EqualValues(t, 4950, sum.Load())
}

func TestBlockingPool_PanicDoesNotShrinkPool(t *testing.T) {
	jobs := make(chan int, 3)
	jobs <- 1
	jobs <- 2
	jobs <- 3
	close(jobs)

	var done atomic.Int32
	BlockingPool(context.Background(), 1, jobs, func(_ context.Context, n int) {
		if n == 1 {
			panic("boom")
		}
		done.Add(1)
	})
	assert.EqualValues(t, 2, done.Load())
}

func TestBlockingPool_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// never closed: only cancellation can end the pool
	jobs := make(chan int)
	BlockingPool(ctx, 3, jobs, func(context.Context, int) {
		t.Error("no job should run")
	})
}

func TestBlockingPool_NonPositiveSize(t *testing.T) {
	jobs := make(chan int, 1)
	jobs <- 1
	close(jobs)

	var ran atomic.Bool
	BlockingPool(context.Background(), 0, jobs, func(context.Context, int) { ran.Store(true) })
	assert.True(t, ran.Load())
}

// Notification bodies are hashed for replay keys; this approximates that load.
func Benchmark_BlockingPool_SHA256(b *testing.B) {
	payload := make([]byte, 1024)

	for _, s := range []int{1, 4, 16, 64} {
		b.Run(fmt.Sprintf("pool_size=%d", s), func(b *testing.B) {
			b.SetBytes(int64(len(payload)))
			b.ReportAllocs()

			jobs := make(chan []byte, 1024)
			go func(n int) {
				for range n {
					jobs <- payload
				}
				close(jobs)
			}(b.N)

			BlockingPool(context.Background(), s, jobs, func(_ context.Context, p []byte) {
				_ = sha256.Sum256(p)
			})
		})
	}
}

package engine

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func BenchmarkWorkerPool_Submit(b *testing.B) {
	for _, size := range []int{4, 8, 32} {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			pool := NewWorkerPool(size, nil)
			defer pool.Shutdown()
			ctx := context.Background()

			b.ResetTimer()
			for range b.N {
				_ = pool.Submit(ctx, func(context.Context) error { return nil })
			}
			pool.Wait()
		})
	}
}

// Deferred steps mostly wait on channel sends; model that with a short sleep.
func BenchmarkWorkerPool_ChannelBound(b *testing.B) {
	pool := NewWorkerPool(8, nil)
	defer pool.Shutdown()
	ctx := context.Background()

	b.ResetTimer()
	for range b.N {
		for range 32 {
			_ = pool.Submit(ctx, func(context.Context) error {
				time.Sleep(100 * time.Microsecond)
				return nil
			})
		}
		pool.Wait()
	}
}

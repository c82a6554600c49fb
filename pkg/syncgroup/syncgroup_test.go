package syncgroup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunWaitsForAll(t *testing.T) {
	g := NewSyncGroup()
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		g.Add(func() { n.Add(1) })
	}
	g.Add(nil)
	g.Run()
	g.Wait()
	assert.Equal(t, int32(5), n.Load())

	// 列表已清空，再次 Run 不会重复执行
	g.Run()
	g.Wait()
	assert.Equal(t, int32(5), n.Load())
}

func TestWaitContextTimeout(t *testing.T) {
	g := NewSyncGroup()
	release := make(chan struct{})
	g.Add(func() { <-release })
	g.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.WaitContext(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, g.WaitContext(context.Background()))
}

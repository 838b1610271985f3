package media

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Queue_DropOldest_EvictsHead(t *testing.T) {
	q := NewQueue[int](2, DropOldest)
	var evicted []int
	q.SetEvictHandler(func(v int) { evicted = append(evicted, v) })

	require.True(t, q.Push(1))
	require.True(t, q.Push(2))
	require.True(t, q.Push(3))

	require.Equal(t, []int{1}, evicted)
	require.Equal(t, 2, q.Len())
	require.Equal(t, int64(1), q.Dropped())

	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func Test_Queue_DropNewest_RejectsIncoming(t *testing.T) {
	q := NewQueue[int](1, DropNewest)
	var evicted []int
	q.SetEvictHandler(func(v int) { evicted = append(evicted, v) })

	require.True(t, q.Push(1))
	require.False(t, q.Push(2))

	require.Equal(t, []int{2}, evicted)
	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func Test_Queue_Unbounded_NeverDrops(t *testing.T) {
	q := NewQueue[int](0, DropOldest)
	for i := 0; i < 500; i++ {
		require.True(t, q.Push(i))
	}
	require.Equal(t, 500, q.Len())
	require.Equal(t, int64(0), q.Dropped())
}

func Test_Queue_PushToClosed_Evicts(t *testing.T) {
	q := NewQueue[int](0, DropOldest)
	var evicted []int
	q.SetEvictHandler(func(v int) { evicted = append(evicted, v) })
	q.Close()

	require.False(t, q.Push(7))
	require.Equal(t, []int{7}, evicted)
}

func Test_Queue_Pop_BlocksUntilPush(t *testing.T) {
	q := NewQueue[int](0, DropOldest)
	result := make(chan int, 1)
	go func() {
		v, ok := q.Pop(context.Background())
		require.True(t, ok)
		result <- v
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case v := <-result:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func Test_Queue_Pop_ReturnsFalseOnClosedEmpty(t *testing.T) {
	q := NewQueue[int](0, DropOldest)
	q.Close()
	_, ok := q.Pop(context.Background())
	require.False(t, ok)
}

func Test_Queue_Pop_CancelledByContext(t *testing.T) {
	q := NewQueue[int](0, DropOldest)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := q.Pop(ctx)
	require.False(t, ok)
}

func Test_Queue_RemoveMatching_FindsFirstMatch(t *testing.T) {
	q := NewQueue[int](0, DropOldest)
	q.Push(2)
	q.Push(4)
	q.Push(5)
	q.Push(6)

	v, ok := q.RemoveMatching(func(x int) bool { return x%2 != 0 })
	require.True(t, ok)
	require.Equal(t, 5, v)
	require.Equal(t, 3, q.Len())
}

func Test_Queue_RemoveMatching_NoMatch(t *testing.T) {
	q := NewQueue[int](0, DropOldest)
	q.Push(2)
	q.Push(4)

	_, ok := q.RemoveMatching(func(x int) bool { return x%2 != 0 })
	require.False(t, ok)
	require.Equal(t, 2, q.Len())
}

func Test_Queue_Peek_DoesNotRemove(t *testing.T) {
	q := NewQueue[int](0, DropOldest)
	q.Push(9)

	v, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, 9, v)
	require.Equal(t, 1, q.Len())
}

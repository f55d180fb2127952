package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/audittrail/internal/logentry"
)

func pending(action string) logentry.Pending {
	return logentry.Pending{Action: action, CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func TestBufferDrainPreservesOrder(t *testing.T) {
	b := NewBuffer(10)
	ctx := context.Background()
	for _, a := range []string{"a", "b", "c"} {
		require.NoError(t, b.Append(ctx, pending(a)))
	}

	got := b.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Action)
	assert.Equal(t, "b", got[1].Action)
	assert.Equal(t, "c", got[2].Action)
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Drain())
}

func TestBufferDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewBuffer(0).Cap())
}

func TestBufferSignalsFullAtCapacity(t *testing.T) {
	b := NewBuffer(3)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, pending("a")))
	require.NoError(t, b.Append(ctx, pending("b")))
	select {
	case <-b.Full():
		t.Fatal("full signalled below capacity")
	default:
	}

	require.NoError(t, b.Append(ctx, pending("c")))
	select {
	case <-b.Full():
	default:
		t.Fatal("full not signalled at capacity")
	}
}

func TestBufferAppendBlocksUntilDrain(t *testing.T) {
	b := NewBuffer(1)
	ctx := context.Background()
	require.NoError(t, b.Append(ctx, pending("a")))

	done := make(chan error, 1)
	go func() { done <- b.Append(ctx, pending("b")) }()

	select {
	case err := <-done:
		t.Fatalf("Append returned %v before drain", err)
	case <-time.After(20 * time.Millisecond):
	}

	first := b.Drain()
	require.Len(t, first, 1)
	require.NoError(t, <-done)

	second := b.Drain()
	require.Len(t, second, 1)
	assert.Equal(t, "b", second[0].Action)
}

func TestBufferBlockedAppendHonorsContext(t *testing.T) {
	b := NewBuffer(1)
	require.NoError(t, b.Append(context.Background(), pending("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Append(ctx, pending("b"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, b.Len())
}

func TestBufferCloseRejectsAppends(t *testing.T) {
	b := NewBuffer(1)
	ctx := context.Background()
	require.NoError(t, b.Append(ctx, pending("a")))

	blocked := make(chan error, 1)
	go func() { blocked <- b.Append(ctx, pending("b")) }()
	time.Sleep(10 * time.Millisecond)

	b.Close()
	assert.ErrorIs(t, <-blocked, ErrClosed)
	assert.ErrorIs(t, b.Append(ctx, pending("c")), ErrClosed)

	got := b.Drain()
	require.Len(t, got, 1, "entries buffered before Close remain drainable")
	b.Close()
}

func TestBufferConcurrentAppendDrain(t *testing.T) {
	const producers, perProducer = 8, 250
	b := NewBuffer(16)
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := b.Append(ctx, pending(fmt.Sprintf("%d-%d", p, i))); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}(p)
	}

	stop := make(chan struct{})
	seen := map[string]int{}
	var mu sync.Mutex
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			batch := b.Drain()
			mu.Lock()
			for _, e := range batch {
				seen[e.Action]++
			}
			mu.Unlock()
			select {
			case <-stop:
				if b.Len() == 0 {
					return
				}
			default:
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-drained

	require.Len(t, seen, producers*perProducer)
	for action, n := range seen {
		assert.Equal(t, 1, n, "entry %s drained %d times", action, n)
	}
}

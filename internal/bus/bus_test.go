package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
)

func receive(t *testing.T, sub *Subscription) (audio.Chunk, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return sub.Receive(ctx)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New(4)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(audio.Chunk{audio.Sample(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked without subscribers")
	}
	assert.Equal(t, uint64(1000), b.GetStats().Published)
}

func TestSubscribeNoReplay(t *testing.T) {
	b := New(4)
	b.Publish(audio.Chunk{1})

	sub := b.Subscribe("late")
	b.Publish(audio.Chunk{2})

	chunk, err := receive(t, sub)
	require.NoError(t, err)
	assert.Equal(t, audio.Chunk{2}, chunk)

	_, ok, err := sub.TryReceive()
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestOrderPreserved(t *testing.T) {
	b := New(16)
	sub := b.Subscribe("file")

	chunks := []audio.Chunk{{1, -1, 2}, {0, 0, 0}, {5, -5, 3}}
	for _, c := range chunks {
		b.Publish(c)
	}
	b.Close()

	var got []audio.Chunk
	for {
		chunk, err := receive(t, sub)
		if errors.Is(err, ErrClosed) {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk)
	}

	assert.Equal(t, chunks, got)
}

func TestLagDropsOldest(t *testing.T) {
	b := New(3)
	sub := b.Subscribe("slow")

	for i := 1; i <= 5; i++ {
		b.Publish(audio.Chunk{audio.Sample(i)})
	}

	_, err := receive(t, sub)
	var lagErr *LagError
	require.ErrorAs(t, err, &lagErr)
	assert.Equal(t, uint64(2), lagErr.Skipped)

	for _, want := range []audio.Sample{3, 4, 5} {
		chunk, err := receive(t, sub)
		require.NoError(t, err)
		assert.Equal(t, audio.Chunk{want}, chunk)
	}

	stats := sub.GetStats()
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, uint64(3), stats.Received)
}

func TestSubscriberIsolation(t *testing.T) {
	const published = 200

	for _, consumers := range []int{2, 3, 5} {
		b := New(8)
		stalled := b.Subscribe("stalled")

		fast := make([]*Subscription, consumers-1)
		for i := range fast {
			fast[i] = b.SubscribeSize("fast", published)
		}

		var wg sync.WaitGroup
		counts := make([]int, len(fast))
		for i, sub := range fast {
			wg.Add(1)
			go func(i int, sub *Subscription) {
				defer wg.Done()
				for {
					_, err := sub.Receive(context.Background())
					if errors.Is(err, ErrClosed) {
						return
					}
					if err != nil {
						t.Errorf("fast subscriber %d: unexpected error %v", i, err)
						return
					}
					counts[i]++
				}
			}(i, sub)
		}

		for i := 0; i < published; i++ {
			b.Publish(audio.Chunk{audio.Sample(i)})
		}
		b.Close()
		wg.Wait()

		for i, c := range counts {
			assert.Equal(t, published, c, "fast subscriber %d with %d consumers", i, consumers)
		}
		assert.Equal(t, uint64(published-8), stalled.GetStats().Dropped)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("waiter")

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the receiver")
	}

	// Subscribing after close yields an already closed subscription
	_, err := receive(t, b.Subscribe("after"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReceiveContextCancelled(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("idle")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sub.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnsubscribe(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("gone")
	sub.Unsubscribe()

	b.Publish(audio.Chunk{1})
	assert.Empty(t, b.GetStats().Subscriptions)

	_, err := receive(t, sub)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublishAlongsideStatsReaders(t *testing.T) {
	b := New(2048)
	b.Subscribe("all")

	const publishers, perPublisher = 4, 250

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 2; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					b.GetStats()
				}
			}
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				b.Publish(audio.Chunk{audio.Sample(j)})
			}
		}()
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	stats := b.GetStats()
	assert.Equal(t, uint64(publishers*perPublisher), stats.Published)
	require.Len(t, stats.Subscriptions, 1)
	assert.Equal(t, publishers*perPublisher, stats.Subscriptions[0].Pending)
	assert.Zero(t, stats.Subscriptions[0].Dropped)
}

package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	kind Kind
	n    int
}

func (e testEvent) Kind() Kind { return e.kind }

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var got []int
	bus.Subscribe(OnKinds(KindTrackEnd), func(ctx Context) Action {
		mu.Lock()
		got = append(got, ctx.(testEvent).n)
		mu.Unlock()
		return Keep
	})

	for i := 0; i < 10; i++ {
		require.True(t, bus.Publish(testEvent{kind: KindTrackEnd, n: i}))
		bus.Publish(testEvent{kind: KindTrackPlay, n: -1})
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 10
	}, time.Second, time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestBusSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus(4)
	release := make(chan struct{})
	bus.Subscribe(All(), func(Context) Action {
		<-release
		return Keep
	})

	start := time.Now()
	accepted := 0
	for i := 0; i < 100; i++ {
		if bus.Publish(testEvent{kind: KindTick}) {
			accepted++
		}
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Less(t, accepted, 100)
	assert.Equal(t, uint64(100-accepted), bus.Dropped())

	close(release)
	bus.Close()
}

func TestSubscriptionCancel(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var count atomic.Int32
	sub := bus.Subscribe(OnKinds(KindConnect), func(Context) Action {
		count.Add(1)
		return Keep
	})
	assert.True(t, bus.HasSubscribers(KindConnect))
	assert.False(t, bus.HasSubscribers(KindDisconnect))

	bus.Publish(testEvent{kind: KindConnect})
	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, time.Millisecond)

	sub.Cancel()
	sub.Cancel()
	assert.False(t, bus.HasSubscribers(KindConnect))

	bus.Publish(testEvent{kind: KindConnect})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestHandlerRemoveAndSelfCancel(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var removed, selfCancelled atomic.Int32
	bus.Subscribe(All(), func(Context) Action {
		removed.Add(1)
		return Remove
	})
	var sub *Subscription
	ready := make(chan struct{})
	sub = bus.Subscribe(All(), func(Context) Action {
		<-ready
		selfCancelled.Add(1)
		sub.Cancel()
		return Keep
	})
	close(ready)

	for i := 0; i < 3; i++ {
		bus.Publish(testEvent{kind: KindTick})
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), removed.Load())
	assert.Equal(t, int32(1), selfCancelled.Load())
	assert.False(t, bus.HasSubscribers(KindTick))
}

func TestSubscribeChan(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	sub, ch := bus.SubscribeChan(OnKinds(KindSpeaking).Where(func(ctx Context) bool {
		return ctx.(Speaking).Speaking
	}), 4)

	bus.Publish(Speaking{Speaking: false})
	bus.Publish(Speaking{Speaking: true})

	select {
	case ctx := <-ch:
		assert.Equal(t, Speaking{Speaking: true}, ctx)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	sub.Cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var after atomic.Int32
	bus.Subscribe(All(), func(Context) Action { panic("boom") })
	bus.Subscribe(All(), func(Context) Action {
		after.Add(1)
		return Keep
	})

	bus.Publish(testEvent{kind: KindTick})
	bus.Publish(testEvent{kind: KindTick})
	assert.Eventually(t, func() bool { return after.Load() == 2 }, time.Second, time.Millisecond)
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus(4)
	bus.Close()
	assert.False(t, bus.Publish(testEvent{kind: KindTick}))
}

func TestOnDrop(t *testing.T) {
	bus := NewBus(1)
	block := make(chan struct{})
	bus.Subscribe(All(), func(Context) Action { <-block; return Keep })

	var drops atomic.Int32
	bus.OnDrop(func() { drops.Add(1) })
	for i := 0; i < 10; i++ {
		bus.Publish(testEvent{kind: KindTick})
	}
	assert.Positive(t, drops.Load())
	close(block)
	bus.Close()
}

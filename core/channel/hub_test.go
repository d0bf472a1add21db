package channel_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/collidor/core/channel"
)

type inbox struct {
	mu   sync.Mutex
	msgs []channel.Message
}

func (i *inbox) handle(_ context.Context, msg channel.Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
}

func (i *inbox) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.msgs)
}

func (i *inbox) payloads() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.msgs))
	for _, m := range i.msgs {
		out = append(out, string(m.Payload))
	}
	return out
}

func TestHubBroadcast(t *testing.T) {
	t.Parallel()

	hub := channel.NewHub()
	defer hub.Close()

	a, b, c := hub.Connect("a"), hub.Connect("b"), hub.Connect("c")
	var ia, ib, ic inbox
	for e, in := range map[*channel.Endpoint]*inbox{a: &ia, b: &ib, c: &ic} {
		_, err := e.Subscribe("news", in.handle)
		require.NoError(t, err)
	}

	require.NoError(t, a.Publish(context.Background(), "news", []byte("hello")))

	require.Eventually(t, func() bool { return ib.len() == 1 && ic.len() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, ia.len(), "publisher never receives its own message")

	ib.mu.Lock()
	assert.Equal(t, "a", ib.msgs[0].Source)
	assert.Equal(t, "news", ib.msgs[0].Topic)
	ib.mu.Unlock()
}

func TestHubSingleConsumer(t *testing.T) {
	t.Parallel()

	hub := channel.NewHub()
	defer hub.Close()

	a, b, c := hub.Connect("a"), hub.Connect("b"), hub.Connect("c")
	var ib, ic inbox
	_, err := b.Subscribe("work", ib.handle)
	require.NoError(t, err)
	_, err = c.Subscribe("work", ic.handle)
	require.NoError(t, err)

	for range 4 {
		require.NoError(t, a.Publish(context.Background(), "work", []byte("job"), channel.SingleConsumer()))
	}

	require.Eventually(t, func() bool { return ib.len()+ic.len() == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, ib.len(), "deliveries rotate between consumers")
	assert.Equal(t, 2, ic.len())
}

func TestHubTarget(t *testing.T) {
	t.Parallel()

	hub := channel.NewHub()
	defer hub.Close()

	a, b, c := hub.Connect("a"), hub.Connect("b"), hub.Connect("c")
	var ib, ic inbox
	_, _ = b.Subscribe("reply", ib.handle)
	_, _ = c.Subscribe("reply", ic.handle)

	require.NoError(t, a.Publish(context.Background(), "reply", []byte("for c"), channel.Target("c")))

	require.Eventually(t, func() bool { return ic.len() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, ib.len())
}

func TestHubOrderingAndUnsubscribe(t *testing.T) {
	t.Parallel()

	hub := channel.NewHub()
	defer hub.Close()

	a, b := hub.Connect("a"), hub.Connect("b")
	var ib inbox
	sub, err := b.Subscribe("seq", ib.handle)
	require.NoError(t, err)

	expected := []string{"1", "2", "3", "4", "5"}
	for _, p := range expected {
		require.NoError(t, a.Publish(context.Background(), "seq", []byte(p)))
	}
	require.Eventually(t, func() bool { return ib.len() == len(expected) }, time.Second, time.Millisecond)
	assert.Equal(t, expected, ib.payloads())

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, a.Publish(context.Background(), "seq", []byte("6")))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, len(expected), ib.len())
}

func TestHubDropFilter(t *testing.T) {
	t.Parallel()

	hub := channel.NewHub(channel.WithDropFilter(func(msg channel.Message, to string) bool {
		return msg.Topic == "lossy" && to == "b"
	}))
	defer hub.Close()

	a, b, c := hub.Connect("a"), hub.Connect("b"), hub.Connect("c")
	var ib, ic inbox
	_, _ = b.Subscribe("lossy", ib.handle)
	_, _ = c.Subscribe("lossy", ic.handle)

	require.NoError(t, a.Publish(context.Background(), "lossy", []byte("x")))
	require.Eventually(t, func() bool { return ic.len() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, ib.len())

	hub.SetDropFilter(nil)
	require.NoError(t, a.Publish(context.Background(), "lossy", []byte("y")))
	require.Eventually(t, func() bool { return ib.len() == 1 }, time.Second, time.Millisecond)
}

func TestHubClosed(t *testing.T) {
	t.Parallel()

	hub := channel.NewHub()
	a := hub.Connect("")
	assert.NotEmpty(t, a.PeerID())

	_, err := a.Subscribe("", func(context.Context, channel.Message) {})
	assert.ErrorIs(t, err, channel.ErrEmptyTopic)

	require.NoError(t, hub.Close())
	assert.ErrorIs(t, hub.Close(), channel.ErrClosed)

	assert.ErrorIs(t, a.Publish(context.Background(), "t", nil), channel.ErrClosed)
	_, err = a.Subscribe("t", func(context.Context, channel.Message) {})
	assert.ErrorIs(t, err, channel.ErrClosed)
}

func TestMailbox(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []int
	)
	release := make(chan struct{})
	m := channel.NewMailbox(func(v int) {
		<-release
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for i := range 100 {
		require.True(t, m.Push(i), "push never blocks")
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 100
	}, time.Second, time.Millisecond)
	for i, v := range got {
		assert.Equal(t, i, v)
	}

	m.Close()
	m.Close()
	assert.False(t, m.Push(1))
	<-m.Done()
}

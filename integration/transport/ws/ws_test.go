package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/collidor/core/bridge"
	"github.com/dmitrymomot/collidor/core/channel"
	"github.com/dmitrymomot/collidor/core/command"
	"github.com/dmitrymomot/collidor/integration/transport/ws"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

type recorder struct {
	mu   sync.Mutex
	msgs []channel.Message
}

func (r *recorder) handle(_ context.Context, msg channel.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) at(i int) channel.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[i]
}

// serve starts a ws.Server and returns its ws:// URL and accepted connections.
func serve(t *testing.T, onConnect func(context.Context, *ws.Conn) error, opts ...ws.Option) (*ws.Server, string, <-chan *ws.Conn) {
	t.Helper()

	accepted := make(chan *ws.Conn, 8)
	srv := ws.NewServer(func(ctx context.Context, conn *ws.Conn) error {
		if onConnect != nil {
			if err := onConnect(ctx, conn); err != nil {
				return err
			}
		}
		accepted <- conn
		return nil
	}, append([]ws.Option{ws.WithPeerID("server"), ws.WithAllowAnyOrigin()}, opts...)...)

	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		_ = srv.Close()
		hs.Close()
	})
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http"), accepted
}

func dial(t *testing.T, url string, opts ...ws.Option) *ws.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := ws.Dial(ctx, url, append([]ws.Option{ws.WithPeerID("client")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func next(t *testing.T, accepted <-chan *ws.Conn) *ws.Conn {
	t.Helper()
	select {
	case c := <-accepted:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func TestDelivery(t *testing.T) {
	t.Parallel()

	var atServer recorder
	_, url, accepted := serve(t, func(_ context.Context, conn *ws.Conn) error {
		_, err := conn.Subscribe("greet", atServer.handle)
		return err
	})

	client := dial(t, url)
	server := next(t, accepted)
	assert.Equal(t, "server", client.RemotePeerID())
	assert.Equal(t, "client", server.RemotePeerID())
	assert.Equal(t, codec.NameJSON, client.Codec().Name())

	var atClient recorder
	_, err := client.Subscribe("reply", atClient.handle)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Publish(ctx, "greet", []byte("hello")))
	require.NoError(t, client.Publish(ctx, "greet", []byte("to server"), channel.Target("server")))
	require.NoError(t, client.Publish(ctx, "greet", []byte("to nobody"), channel.Target("nobody")))
	require.NoError(t, client.Publish(ctx, "unheard", []byte("dropped")))

	require.Eventually(t, func() bool { return atServer.len() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, channel.Message{Topic: "greet", Payload: []byte("hello"), Source: "client"}, atServer.at(0))
	assert.Equal(t, []byte("to server"), atServer.at(1).Payload)

	require.NoError(t, server.Publish(ctx, "reply", []byte("hi"), channel.SingleConsumer()))
	require.Eventually(t, func() bool { return atClient.len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "server", atClient.at(0).Source)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, atServer.len())
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()

	_, url, accepted := serve(t, nil)
	client := dial(t, url)
	server := next(t, accepted)

	_, err := server.Subscribe("", func(context.Context, channel.Message) {})
	assert.ErrorIs(t, err, channel.ErrEmptyTopic)
	assert.ErrorIs(t, client.Publish(context.Background(), "", nil), channel.ErrEmptyTopic)

	var rec recorder
	sub, err := server.Subscribe("news", rec.handle)
	require.NoError(t, err)

	require.NoError(t, client.Publish(context.Background(), "news", []byte("1")))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, client.Publish(context.Background(), "news", []byte("2")))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
}

func TestCodecNegotiation(t *testing.T) {
	t.Parallel()

	_, url, accepted := serve(t, nil)
	client := dial(t, url, ws.WithCodec(codec.Msgpack))
	server := next(t, accepted)

	assert.Equal(t, codec.NameMsgpack, client.Codec().Name())
	assert.Equal(t, codec.NameMsgpack, server.Codec().Name())

	var rec recorder
	_, err := server.Subscribe("bin", rec.handle)
	require.NoError(t, err)
	require.NoError(t, client.Publish(context.Background(), "bin", []byte{0, 1, 2}))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []byte{0, 1, 2}, rec.at(0).Payload)
}

func TestClose(t *testing.T) {
	t.Parallel()

	srv, url, accepted := serve(t, nil)
	client := dial(t, url)
	server := next(t, accepted)
	require.Eventually(t, func() bool { return srv.Len() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Close(), channel.ErrClosed)
	assert.NoError(t, client.Err())
	assert.ErrorIs(t, client.Publish(context.Background(), "x", nil), channel.ErrClosed)
	_, err := client.Subscribe("x", func(context.Context, channel.Message) {})
	assert.ErrorIs(t, err, channel.ErrClosed)

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("remote side did not notice the close")
	}
	assert.Error(t, server.Err())
	require.Eventually(t, func() bool { return srv.Len() == 0 }, time.Second, time.Millisecond)
}

func TestServerClose(t *testing.T) {
	t.Parallel()

	srv, url, accepted := serve(t, nil)
	client := dial(t, url)
	next(t, accepted)

	require.NoError(t, srv.Close())
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client was not disconnected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := ws.Dial(ctx, url)
	assert.ErrorIs(t, err, ws.ErrDial)
}

func TestRejectedPeer(t *testing.T) {
	t.Parallel()

	srv, url, _ := serve(t, func(context.Context, *ws.Conn) error {
		return errors.New("not welcome")
	})
	client := dial(t, url)

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("rejected peer stayed connected")
	}
	assert.Zero(t, srv.Len())
}

func TestKeepalive(t *testing.T) {
	t.Parallel()

	var rec recorder
	_, url, accepted := serve(t, func(_ context.Context, conn *ws.Conn) error {
		_, err := conn.Subscribe("late", rec.handle)
		return err
	}, ws.WithPingInterval(25*time.Millisecond))
	client := dial(t, url, ws.WithPingInterval(25*time.Millisecond))
	next(t, accepted)

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, client.Publish(context.Background(), "late", []byte("still here")))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, time.Millisecond)
}

func TestDialErrors(t *testing.T) {
	t.Parallel()

	hs := httptest.NewServer(http.NotFoundHandler())
	defer hs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http"))
	assert.ErrorIs(t, err, ws.ErrDial)

	_, url, _ := serve(t, nil)
	_, err = ws.Dial(ctx, url, ws.WithPeerID("server"))
	assert.ErrorIs(t, err, ws.ErrHandshake, "peer ids must differ")
}

func TestUpgradeOriginCheck(t *testing.T) {
	t.Parallel()

	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := ws.Upgrade(w, r, ws.WithOriginCheck(func(*http.Request) bool { return false }))
		assert.ErrorIs(t, err, ws.ErrUpgrade)
	}))
	defer hs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http"))
	assert.ErrorIs(t, err, ws.ErrDial)
}

var Sum = command.Define[[2]int, int]("Sum")

func TestBridgeOverWebSocket(t *testing.T) {
	t.Parallel()

	_, url, _ := serve(t, func(_ context.Context, conn *ws.Conn) error {
		b := bridge.New(conn)
		d := command.NewAsyncDispatcher(command.WithPlugin(b))
		command.Handle(d, Sum, func(_ context.Context, p [2]int) (int, error) { return p[0] + p[1], nil })
		go func() {
			<-conn.Done()
			_ = b.Close()
		}()
		return nil
	})

	client := dial(t, url, ws.WithCodec(codec.Msgpack))
	b := bridge.New(client, bridge.WithTimeout(time.Second))
	t.Cleanup(func() { _ = b.Close() })
	d := command.NewAsyncDispatcher(command.WithPlugin(b))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := command.ExecuteAsync(ctx, d, Sum, [2]int{40, 2}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestConfigOptions(t *testing.T) {
	t.Parallel()

	opts, err := ws.Config{Codec: "msgpack", AllowAnyOrigin: true}.Options()
	require.NoError(t, err)
	assert.Len(t, opts, 6)

	_, err = ws.Config{Codec: "xml"}.Options()
	assert.Error(t, err)
}

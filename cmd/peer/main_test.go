package main

import (
	"context"
	"encoding/json"
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
	"github.com/dmitrymomot/collidor/core/event"
	"github.com/dmitrymomot/collidor/core/logger"
)

// hubPeers connects a serving and a calling dispatcher through an in-memory hub.
func hubPeers(t *testing.T) (worker, caller *command.AsyncDispatcher, callerBus *event.Bus) {
	t.Helper()

	hub := channel.NewHub()
	t.Cleanup(func() { _ = hub.Close() })
	log := logger.Discard()

	workerCh := hub.Connect("worker")
	wb := bridge.New(workerCh)
	t.Cleanup(func() { _ = wb.Close() })
	workerBus := event.New(event.WithChannel(workerCh))
	worker = command.NewAsyncDispatcher(append(dispatcherOptions(log), command.WithPlugin(wb))...)
	registerHandlers(worker, workerBus, "worker", time.Millisecond, log)

	callerCh := hub.Connect("caller")
	cb := bridge.New(callerCh, bridge.WithTimeout(time.Second))
	t.Cleanup(func() { _ = cb.Close() })
	callerBus = event.New(event.WithChannel(callerCh))
	caller = command.NewAsyncDispatcher(append(dispatcherOptions(log), command.WithPlugin(cb))...)
	return worker, caller, callerBus
}

func TestSampleCommandsAcrossPeers(t *testing.T) {
	t.Parallel()

	_, caller, bus := hubPeers(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen []SumComputedPayload
	)
	event.Listen(ctx, bus, SumComputed, func(_ context.Context, p SumComputedPayload) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p)
	})

	t.Run("sum", func(t *testing.T) {
		n, err := command.ExecuteAsync(ctx, caller, Sum, SumArgs{A: 40, B: 2}).Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, 42, n)

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) == 1
		}, time.Second, time.Millisecond)
		mu.Lock()
		assert.Equal(t, SumComputedPayload{Args: SumArgs{A: 40, B: 2}, Result: 42, Peer: "worker"}, seen[0])
		mu.Unlock()
	})

	t.Run("countdown", func(t *testing.T) {
		var got []int
		for n, err := range command.StreamAsync(ctx, caller, Countdown, 3) {
			require.NoError(t, err)
			got = append(got, n)
		}
		assert.Equal(t, []int{3, 2, 1, 0}, got)
	})

	t.Run("countdown rejects negative start", func(t *testing.T) {
		var gotErr error
		for _, err := range command.StreamAsync(ctx, caller, Countdown, -1) {
			gotErr = err
		}
		require.Error(t, gotErr)
		assert.Contains(t, gotErr.Error(), ErrNegativeCount.Error())
	})

	t.Run("peer info", func(t *testing.T) {
		info, err := command.ExecuteAsync(ctx, caller, PeerInfo, struct{}{}).Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, "worker", info.Peer)
		assert.Equal(t, []string{"Sum", "Countdown", "PeerInfo"}, info.Commands)
	})
}

func TestMountRoutes(t *testing.T) {
	t.Parallel()

	log := logger.Discard()
	d := command.NewAsyncDispatcher(dispatcherOptions(log)...)
	registerHandlers(d, event.New(), "local", time.Millisecond, log)

	mux := http.NewServeMux()
	mountRoutes(mux, Config{CommandPath: "/commands"}, d, nil, log)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/commands", "application/json", strings.NewReader(`{"name":"Sum","payload":{"a":1,"b":2}}`))
	require.NoError(t, err)
	var n int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&n))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, n)

	resp, err = http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/debug/bridge")
	require.NoError(t, err)
	var stats bridge.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	_ = resp.Body.Close()
	assert.Equal(t, bridge.Stats{}, stats)
}

func TestRunRejectsUnknownTransport(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), Config{Transport: "pigeon"}, logger.Discard())
	assert.ErrorIs(t, err, ErrUnknownTransport)
}

func TestWebSocketGateway(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log := logger.Discard()

	// The worker accepts WebSocket peers and serves the sample commands.
	workerCfg := Config{
		PeerID:            "worker",
		Transport:         transportWS,
		Serve:             true,
		CommandPath:       "/commands",
		PeerPath:          "/peers",
		CountdownInterval: time.Millisecond,
	}
	worker, err := newPeer(ctx, workerCfg, log)
	require.NoError(t, err)
	defer worker.close(log)
	assert.Nil(t, worker.bridge)

	workerSrv := httptest.NewServer(worker.handler(log))
	defer workerSrv.Close()

	// The gateway dials the worker and forwards HTTP commands to it.
	gatewayCfg := Config{
		PeerID:      "gateway",
		Transport:   transportWS,
		CommandPath: "/commands",
		PeerPath:    "/peers",
	}
	gatewayCfg.Bridge.CommandTimeout = 200 * time.Millisecond
	gatewayCfg.WS.URL = "ws" + strings.TrimPrefix(workerSrv.URL, "http") + "/peers"
	gateway, err := newPeer(ctx, gatewayCfg, log)
	require.NoError(t, err)
	defer gateway.close(log)
	require.NotNil(t, gateway.bridge)

	gatewaySrv := httptest.NewServer(gateway.handler(log))
	defer gatewaySrv.Close()

	resp, err := http.Post(gatewaySrv.URL+"/commands", "application/json", strings.NewReader(`{"name":"PeerInfo","payload":{}}`))
	require.NoError(t, err)
	var info PeerInfoResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "worker", info.Peer)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Post(gatewaySrv.URL+"/commands", "application/json", strings.NewReader(`{"name":"Missing"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode, "nobody acknowledges unknown commands")

	// The watcher ends the gateway once the worker goes away.
	watchErr := make(chan error, 1)
	go func() { watchErr <- gateway.watch(ctx) }()
	require.NoError(t, worker.peers.Close())
	select {
	case err := <-watchErr:
		assert.ErrorIs(t, err, ErrPeerGone)
	case <-ctx.Done():
		t.Fatal("gateway did not notice the worker leaving")
	}
}

package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/collidor/core/logger"
)

func TestGroup(t *testing.T) {
	t.Parallel()
	attr := logger.Group("req", slog.String("id", "1"), slog.Int("n", 2))
	require.Equal(t, "req", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "n", g[1].Key)
}

func TestErrors(t *testing.T) {
	t.Parallel()
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "0", g[0].Key)
	assert.Equal(t, "2", g[1].Key)

	assert.True(t, logger.Errors(nil).Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	t.Parallel()
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestTiming(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 5*time.Second, logger.Duration(5*time.Second).Value.Duration())
	assert.Equal(t, "timeout", logger.Timeout(time.Second).Key)

	attr := logger.Elapsed(time.Now().Add(-time.Second))
	require.Equal(t, "elapsed", attr.Key)
	assert.GreaterOrEqual(t, attr.Value.Duration(), time.Second)
}

func TestDispatchAttrs(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Attr{
		"command":        logger.Command("Sum"),
		"event":          logger.Event("UserCreated"),
		"correlation_id": logger.CorrelationID("abc"),
		"trace_id":       logger.TraceID("t1"),
		"topic":          logger.Topic("Sum_Ack"),
		"peer":           logger.Peer("p1"),
	}
	for key, attr := range tests {
		assert.Equal(t, key, attr.Key)
		assert.NotEmpty(t, attr.Value.String())
	}

	for _, empty := range []slog.Attr{
		logger.Command(""),
		logger.Event(""),
		logger.CorrelationID(""),
		logger.TraceID(""),
		logger.Topic(""),
		logger.Peer(""),
		logger.Key("k", nil),
	} {
		assert.True(t, empty.Equal(slog.Attr{}))
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithProduction("peer"),
		logger.WithOutput(&buf),
		logger.WithAttr(slog.String("region", "eu")),
	)
	log.Debug("hidden")
	log.Info("visible", logger.Command("Sum"), logger.Error(nil))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "visible", rec["msg"])
	assert.Equal(t, "peer", rec["service"])
	assert.Equal(t, "eu", rec["region"])
	assert.Equal(t, "Sum", rec["command"])
	assert.NotContains(t, rec, "error")
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := logger.Discard()
	require.NotNil(t, log)
	log.Error("dropped")
}

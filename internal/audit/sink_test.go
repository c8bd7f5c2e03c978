package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards concurrent writes from the drainer goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAsyncSinkWritesEvents(t *testing.T) {
	buf := &syncBuffer{}
	sink := NewAsyncSink(slog.New(slog.NewJSONHandler(buf, nil)), 16, false)

	actor := uuid.New()
	sink.Emit(context.Background(), Event{
		Action:   ActionLoginSuccess,
		ActorID:  actor,
		TenantID: uuid.New(),
		IP:       "10.0.0.1",
		Metadata: map[string]any{"method": "password"},
	})
	sink.Close()

	out := buf.String()
	require.NotEmpty(t, out)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.Split(out, "\n")[0]), &record))
	assert.Equal(t, "AUDIT_TRAIL", record["log_type"])
	assert.Equal(t, string(ActionLoginSuccess), record["action"])
	assert.Equal(t, actor.String(), record["actor_id"])
	assert.Equal(t, "password", record["meta_method"])
	assert.Equal(t, "10.0.0.1", record["ip"])
}

func TestAsyncSinkDropsOnOverflow(t *testing.T) {
	// A tiny buffer with no consumer headroom: flooding must drop, not
	// block.
	buf := &syncBuffer{}
	sink := NewAsyncSink(slog.New(slog.NewJSONHandler(buf, nil)), 1, false)

	for i := 0; i < 500; i++ {
		sink.Emit(context.Background(), Event{Action: ActionLoginFailed})
	}
	sink.Close()

	written := int64(strings.Count(buf.String(), `"msg":"audit_event"`))
	assert.Equal(t, int64(500), written+sink.Dropped(), "every event is written or counted as dropped")
}

func TestAsyncSinkCloseFlushes(t *testing.T) {
	buf := &syncBuffer{}
	sink := NewAsyncSink(slog.New(slog.NewJSONHandler(buf, nil)), 64, false)

	for i := 0; i < 10; i++ {
		sink.Emit(context.Background(), Event{Action: ActionLogout})
	}
	sink.Close()

	assert.Equal(t, 10, strings.Count(buf.String(), "\n"))
	assert.Zero(t, sink.Dropped())
}

func TestSecurityClassification(t *testing.T) {
	assert.True(t, Event{Action: ActionTokenBreach}.Security())
	assert.True(t, Event{Action: ActionLockout}.Security())
	assert.False(t, Event{Action: ActionLoginSuccess}.Security())
}

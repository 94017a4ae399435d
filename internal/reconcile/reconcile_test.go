package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronosend/internal/cache"
	"chronosend/internal/eventbus"
	"chronosend/internal/model"
	"chronosend/internal/storage"
	"chronosend/internal/transport"
	"chronosend/internal/transport/gateway"
	logx "chronosend/pkg/logx"
)

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "r.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestApplyUnknownTaskAndEmptyID(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	r := New(st, nil, nil, logx.Nop())

	require.NoError(t, r.Apply(context.Background(), transport.AckEvent{MessageID: "orphan", Level: model.AckRead}))
	got, err := st.GetReceipt(context.Background(), "orphan")
	require.NoError(t, err)
	assert.Equal(t, model.AckRead, got.Ack)
	assert.True(t, got.Acked)
	assert.Empty(t, got.TaskID)

	require.Error(t, r.Apply(context.Background(), transport.AckEvent{}))
}

func TestSameSecondWebhookAckUpgradesReceipt(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ctx := context.Background()
	r := New(st, nil, nil, logx.Nop())
	gw, err := gateway.New(gateway.Config{BaseURL: "http://gateway.invalid"}, logx.Nop(), nil)
	require.NoError(t, err)

	sentAt := time.Unix(1700000000, 900_000_000)
	require.NoError(t, st.UpsertReceipt(ctx, model.Receipt{MessageID: "m1", TaskID: "t1", Ack: model.AckSent, UpdatedAt: sentAt}))

	ev, err := gw.DecodeAck([]byte(`{"id":"m1","ack":2,"timestamp":1700000000}`))
	require.NoError(t, err)
	require.NoError(t, r.Apply(ctx, ev))

	got, err := st.GetReceipt(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.AckDelivered, got.Ack)
	assert.Equal(t, "t1", got.TaskID)
}

func TestApplyMirrorsCacheAndPublishes(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rc := cache.NewRedisCache(rdb, time.Hour)

	st := openStore(t)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1, eventbus.TypeAck)
	defer unsub()
	r := New(st, rc, bus, logx.Nop())
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, transport.AckEvent{MessageID: "m9", Level: model.AckRead, At: time.Unix(1700000100, 0)}))

	// stored and mirrored by the time Apply returns
	got, err := st.GetReceipt(ctx, "m9")
	require.NoError(t, err)
	assert.Equal(t, model.AckRead, got.Ack)
	cached, ok, err := rc.Get(ctx, "m9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.AckRead, cached.Ack)
	assert.True(t, cached.Acked)

	select {
	case e := <-ch:
		assert.Equal(t, "m9", e.Data.(transport.AckEvent).MessageID)
	case <-time.After(time.Second):
		t.Fatal("applied ack was not published")
	}
}

type failingWriter struct{ err error }

func (f failingWriter) UpsertReceipt(context.Context, model.Receipt) error { return f.err }

func TestApplyReturnsStoreErrorWithoutPublishing(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1, eventbus.TypeAck)
	defer unsub()
	boom := errors.New("disk full")
	r := New(failingWriter{err: boom}, nil, bus, logx.Nop())

	err := r.Apply(context.Background(), transport.AckEvent{MessageID: "m1", Level: model.AckDelivered})
	require.ErrorIs(t, err, boom)
	select {
	case e := <-ch:
		t.Fatalf("published an ack that was not stored: %+v", e)
	default:
	}
}

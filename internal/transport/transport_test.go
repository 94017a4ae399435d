package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronosend/internal/eventbus"
	logx "chronosend/pkg/logx"
)

func TestRecipient(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "15551234567@c.us", Recipient("15551234567", ""))
	assert.Equal(t, "15551234567@c.us", Recipient("+1 555 123 4567", "@c.us"))
	assert.Equal(t, "4915112345@s.whatsapp.net", Recipient("4915112345", "s.whatsapp.net"))
}

func TestPublishAckDefaultsTimestamp(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1, eventbus.TypeAck)
	defer unsub()

	PublishAck(bus, AckEvent{MessageID: "m1"})
	ev := <-ch
	ack := ev.Data.(AckEvent)
	assert.Equal(t, "m1", ack.MessageID)
	assert.False(t, ack.At.IsZero())
}

func waitState(t *testing.T, s *Session, want SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Info().State != want {
		if time.Now().After(deadline) {
			t.Fatalf("state=%s want %s", s.Info().State, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionReachesReadyAfterTransientFailures(t *testing.T) {
	t.Parallel()
	s := NewSession(SessionConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, PollInterval: time.Hour}, logx.Nop(), nil)
	var calls atomic.Int32
	probe := func(context.Context) (ProbeResult, error) {
		if calls.Add(1) < 3 {
			return ProbeResult{}, errors.New("gateway down")
		}
		return ProbeResult{Ready: true}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx, probe) }()

	waitState(t, s, StateReady)
	assert.True(t, s.Ready())
	assert.Equal(t, int32(3), calls.Load())
}

func TestSessionFailsAfterMaxAttemptsAndRecoversOnReconnect(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, eventbus.TypeSessionChange)
	defer unsub()

	s := NewSession(SessionConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, PollInterval: time.Hour}, logx.Nop(), bus)
	var healthy atomic.Bool
	probe := func(context.Context) (ProbeResult, error) {
		if healthy.Load() {
			return ProbeResult{Ready: true}, nil
		}
		return ProbeResult{}, errors.New("refused")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx, probe) }()

	waitState(t, s, StateFailed)
	info := s.Info()
	assert.Equal(t, 3, info.Attempts)
	assert.Equal(t, "refused", info.LastError)
	assert.False(t, s.Ready())

	healthy.Store(true)
	s.Reconnect()
	waitState(t, s, StateReady)

	var seen []SessionState
	timeout := time.After(2 * time.Second)
	for len(seen) == 0 || seen[len(seen)-1] != StateReady {
		select {
		case ev := <-events:
			seen = append(seen, ev.Data.(SessionInfo).State)
		case <-timeout:
			t.Fatalf("no ready event; saw %v", seen)
		}
	}
	require.NotEmpty(t, seen)
	assert.Contains(t, seen, StateFailed)
	assert.Contains(t, seen, StateIdle)
}

func TestSessionKeepsConnectingWhileAwaitingQR(t *testing.T) {
	t.Parallel()
	s := NewSession(SessionConfig{MaxAttempts: 1, PollInterval: 30 * time.Millisecond}, logx.Nop(), nil)
	probe := func(context.Context) (ProbeResult, error) { return ProbeResult{QR: "2@abc"}, nil }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx, probe) }()

	waitState(t, s, StateConnecting)
	time.Sleep(60 * time.Millisecond)
	info := s.Info()
	assert.Equal(t, StateConnecting, info.State)
	assert.Equal(t, "2@abc", info.QR)
}

package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"chronosend/internal/eventbus"
	logx "chronosend/pkg/logx"
)

// SessionState is the connection lifecycle: Idle -> Connecting -> Ready | Failed.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

func (s SessionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ProbeResult is one observation of the remote session.
type ProbeResult struct {
	Ready bool
	// QR is set while the remote side waits for a pairing scan.
	QR string
}

// Probe checks the remote session. An error counts as a failed attempt.
type Probe func(ctx context.Context) (ProbeResult, error)

type SessionConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PollInterval time.Duration
}

type SessionInfo struct {
	State     SessionState `json:"state"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
	QR        string       `json:"qr,omitempty"`
	Since     time.Time    `json:"since"`
}

// Session owns transport connection state. Senders consult Ready instead of a
// package-level flag.
type Session struct {
	cfg SessionConfig
	log logx.Logger
	bus eventbus.Bus

	mu   sync.Mutex
	info SessionInfo
	kick chan struct{}
	rng  *rand.Rand
}

func NewSession(cfg SessionConfig, log logx.Logger, bus eventbus.Bus) *Session {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 10 * cfg.BaseDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{
		cfg:  cfg,
		log:  log,
		bus:  bus,
		info: SessionInfo{State: StateIdle, Since: time.Now()},
		kick: make(chan struct{}, 1),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.State == StateReady
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Reconnect resets the machine to Idle and wakes Run, including from Failed.
func (s *Session) Reconnect() {
	s.transition(StateIdle, "", 0)
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run drives the state machine until ctx ends. In Failed it waits for Reconnect.
func (s *Session) Run(ctx context.Context, probe Probe) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !s.Ready() {
			s.transition(StateConnecting, "", attempts)
		}

		res, err := probe(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			attempts++
			if attempts >= s.cfg.MaxAttempts {
				s.transition(StateFailed, err.Error(), attempts)
				s.log.Error("transport session failed", logx.Int("attempts", attempts), logx.Err(err))
				if !s.waitKick(ctx) {
					return nil
				}
				attempts = 0
				continue
			}
			s.transition(StateConnecting, err.Error(), attempts)
			wait = s.backoff(attempts)
			s.log.Warn("transport probe failed; retrying", logx.Int("attempt", attempts), logx.Duration("backoff", wait), logx.Err(err))
		case res.Ready:
			attempts = 0
			s.transition(StateReady, "", 0)
			wait = s.cfg.PollInterval
		default:
			// Waiting for pairing is not a failure.
			attempts = 0
			s.setQR(res.QR)
			wait = s.cfg.PollInterval / 3
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.kick:
			attempts = 0
		case <-time.After(wait):
		}
	}
}

func (s *Session) waitKick(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.kick:
		return true
	}
}

// backoff doubles from BaseDelay per attempt with up to 20% jitter, capped at MaxDelay.
func (s *Session) backoff(attempt int) time.Duration {
	d := s.cfg.BaseDelay
	for i := 1; i < attempt && d < s.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > s.cfg.MaxDelay {
		d = s.cfg.MaxDelay
	}
	s.mu.Lock()
	j := time.Duration(s.rng.Int63n(int64(d)/5 + 1))
	s.mu.Unlock()
	return d + j
}

func (s *Session) setQR(qr string) {
	s.mu.Lock()
	s.info.QR = qr
	s.mu.Unlock()
}

func (s *Session) transition(st SessionState, lastErr string, attempts int) {
	s.mu.Lock()
	changed := s.info.State != st
	s.info.Attempts = attempts
	s.info.LastError = lastErr
	if changed {
		s.info.State = st
		s.info.Since = time.Now()
		if st == StateReady || st == StateIdle {
			s.info.QR = ""
		}
	}
	info := s.info
	s.mu.Unlock()

	if !changed {
		return
	}
	s.log.Info("transport session state", logx.String("state", st.String()), logx.Int("attempts", attempts))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionChange, Time: info.Since, Data: info})
	}
}

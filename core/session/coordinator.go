// Package session manages client session tokens and transaction exclusivity:
// token leases with inactivity expiry, the at-most-one active session, and
// per-token one-shot timers.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cerrors "github.com/birdrest/birdrest/core/errors"
)

const (
	DefaultSessionTimeout = 360 * time.Second
	DefaultReaperInterval = 10 * time.Second
)

// ExpirationCallback is invoked, outside any coordinator lock, for every
// token dropped by the inactivity reaper.
type ExpirationCallback func(token string)

// TimerCallback is invoked when a per-token one-shot timer fires.
type TimerCallback func(token string)

type lease struct {
	createdAt     time.Time
	lastRequestAt time.Time
}

type oneShot struct {
	startedAt time.Time
	delay     time.Duration
	callback  TimerCallback
	cancelled bool
}

// Coordinator owns all session state. Each map has its own mutex; the
// reaper never holds one across a user callback.
type Coordinator struct {
	sessionTimeout time.Duration
	reaperInterval time.Duration
	logger         *slog.Logger
	now            func() time.Time

	tokenMu sync.Mutex
	leased  map[string]*lease
	active  string

	callbackMu sync.Mutex
	callbacks  map[string]ExpirationCallback

	timerMu sync.Mutex
	timers  map[string]*oneShot

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

func NewCoordinator(sessionTimeout, reaperInterval time.Duration, logger *slog.Logger) *Coordinator {
	if sessionTimeout <= 0 {
		sessionTimeout = DefaultSessionTimeout
	}
	if reaperInterval <= 0 {
		reaperInterval = DefaultReaperInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sessionTimeout: sessionTimeout,
		reaperInterval: reaperInterval,
		logger:         logger,
		now:            time.Now,
		leased:         make(map[string]*lease),
		callbacks:      make(map[string]ExpirationCallback),
		timers:         make(map[string]*oneShot),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
}

// Start launches the background reaper. It runs until Stop.
func (c *Coordinator) Start() {
	if c.started.Swap(true) {
		return
	}
	go c.reap()
}

// Stop terminates the reaper and waits for it to drain. Safe to call more
// than once, and before Start.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	if c.started.Load() {
		<-c.stopped
	}
}

// Register leases a new token. A token already leased is a conflict.
func (c *Coordinator) Register(token string) error {
	if token == "" {
		return cerrors.NewCode(cerrors.KindSession, cerrors.CodeTokenMissing, "session token is empty")
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if _, exists := c.leased[token]; exists {
		return cerrors.NewCode(cerrors.KindSession, cerrors.CodeTokenDuplicate,
			fmt.Sprintf("session token %q is already registered", token))
	}
	now := c.now()
	c.leased[token] = &lease{createdAt: now, lastRequestAt: now}
	c.logger.Info("registered session token", "token", token)
	return nil
}

// Check verifies a token is leased and refreshes its activity timestamp.
func (c *Coordinator) Check(token string) error {
	if token == "" {
		return cerrors.NewCode(cerrors.KindSession, cerrors.CodeTokenMissing, "authorization token is required")
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	leaseEntry, exists := c.leased[token]
	if !exists {
		return cerrors.NewCode(cerrors.KindSession, cerrors.CodeTokenInvalid,
			fmt.Sprintf("unknown session token %q", token))
	}
	leaseEntry.lastRequestAt = c.now()
	return nil
}

// SetActive promotes a token to the active session. Fails with conflict if
// a different session is already active.
func (c *Coordinator) SetActive(token string) error {
	if err := c.Check(token); err != nil {
		return err
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.active != "" && c.active != token {
		return cerrors.NewCode(cerrors.KindSession, cerrors.CodeConflict,
			fmt.Sprintf("there is already an active session %q", c.active))
	}
	c.active = token
	return nil
}

// CheckActive verifies the token is leased and is the active session.
func (c *Coordinator) CheckActive(token string) error {
	if err := c.Check(token); err != nil {
		return err
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.active != token {
		return cerrors.NewCode(cerrors.KindSession, cerrors.CodeNotActive,
			fmt.Sprintf("session %q is not the active session", token))
	}
	return nil
}

// Active returns the active token, or "".
func (c *Coordinator) Active() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.active
}

// ClearActive demotes the token if it is the active session.
func (c *Coordinator) ClearActive(token string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.active == token {
		c.active = ""
	}
}

// Remove drops a token lease. If it was the active session, active is
// cleared. Any armed one-shot timer is discarded.
func (c *Coordinator) Remove(token string) {
	c.tokenMu.Lock()
	delete(c.leased, token)
	if c.active == token {
		c.active = ""
	}
	c.tokenMu.Unlock()

	c.timerMu.Lock()
	delete(c.timers, token)
	c.timerMu.Unlock()
	c.logger.Info("removed session token", "token", token)
}

// Registered reports whether a token is currently leased.
func (c *Coordinator) Registered(token string) bool {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	_, exists := c.leased[token]
	return exists
}

// OnExpiration registers a named callback run for every expired token.
func (c *Coordinator) OnExpiration(id string, callback ExpirationCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.callbacks[id] = callback
}

// RemoveExpirationCallback drops a named callback.
func (c *Coordinator) RemoveExpirationCallback(id string) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	delete(c.callbacks, id)
}

// ArmOnce arms the token's one-shot timer. Arming while a non-cancelled
// timer exists fails.
func (c *Coordinator) ArmOnce(token string, delay time.Duration, callback TimerCallback) error {
	if err := c.Check(token); err != nil {
		return err
	}
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if existing, exists := c.timers[token]; exists && !existing.cancelled {
		return cerrors.New(cerrors.KindSession,
			fmt.Sprintf("a timer for session %q is already armed", token))
	}
	c.timers[token] = &oneShot{startedAt: c.now(), delay: delay, callback: callback}
	return nil
}

// CancelOnce marks the token's timer cancelled; the reaper discards it on
// its next pass.
func (c *Coordinator) CancelOnce(token string) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if timer, exists := c.timers[token]; exists {
		timer.cancelled = true
	}
}

func (c *Coordinator) reap() {
	ticker := time.NewTicker(c.reaperInterval)
	defer ticker.Stop()
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			c.logger.Info("session reaper stopping")
			return
		case <-ticker.C:
			c.reapExpiredTokens()
			c.reapTimers()
		}
	}
}

func (c *Coordinator) reapExpiredTokens() {
	now := c.now()
	expired := make([]string, 0, 2)
	c.tokenMu.Lock()
	for token, leaseEntry := range c.leased {
		if now.Sub(leaseEntry.lastRequestAt) > c.sessionTimeout {
			expired = append(expired, token)
		}
	}
	c.tokenMu.Unlock()

	for _, token := range expired {
		c.logger.Info("session token expired", "token", token)
		c.callbackMu.Lock()
		callbacks := make([]ExpirationCallback, 0, len(c.callbacks))
		for _, callback := range c.callbacks {
			callbacks = append(callbacks, callback)
		}
		c.callbackMu.Unlock()
		for _, callback := range callbacks {
			callback(token)
		}
		c.Remove(token)
	}
}

func (c *Coordinator) reapTimers() {
	now := c.now()
	fired := make([]*oneShot, 0, 2)
	firedTokens := make([]string, 0, 2)

	c.timerMu.Lock()
	for token, timer := range c.timers {
		if timer.cancelled {
			delete(c.timers, token)
			continue
		}
		if now.Sub(timer.startedAt) > timer.delay {
			fired = append(fired, timer)
			firedTokens = append(firedTokens, token)
			delete(c.timers, token)
		}
	}
	c.timerMu.Unlock()

	for i, timer := range fired {
		c.logger.Debug("one-shot timer fired", "token", firedTokens[i])
		timer.callback(firedTokens[i])
	}
}

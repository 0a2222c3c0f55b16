// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package engine drives the CDI polling protocol over a Channel.
//
// An Engine owns at most one connection at a time. Connect tears down any
// previous connection, opens a new channel and runs the handshake and the
// monitor loop on a single background goroutine, so writes and reads on a
// channel strictly alternate. State, status text and the latest telemetry
// are exposed as current-value observers. Every publication is checked
// against the connection that produced it: once Disconnect or a newer
// Connect has started, late results from the old connection are dropped.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/cdistat/pkg/cdi"
	"go.uber.org/zap"
)

// Status messages
const (
	StatusDisconnected = "Disconnected"
	StatusConnecting   = "Connecting..."
	StatusInitializing = "Initializing..."
	StatusConnected    = "Connected"
)

// NoDataPolls is how many consecutive empty monitor reads pass before the
// status reports that the unit has gone quiet
const NoDataPolls = 10

// Config holds polling timings and buffer sizes
type Config struct {
	PollInterval      time.Duration // delay after each write and after each read
	HandshakeInterval time.Duration // delay between handshake write and read
	ReadTimeout       time.Duration // hint passed to Channel.Read
	ScratchSize       int           // bytes requested per read
	BufferCapacity    int           // reassembler capacity
}

// DefaultConfig returns the stock 100 ms polling cadence
func DefaultConfig() Config {
	return Config{
		PollInterval:      100 * time.Millisecond,
		HandshakeInterval: 100 * time.Millisecond,
		ReadTimeout:       100 * time.Millisecond,
		ScratchSize:       256,
		BufferCapacity:    cdi.DefaultCapacity,
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithRecordHandler registers fn to receive every decoded record in order.
// It runs on the polling goroutine and must not block.
func WithRecordHandler(fn func(cdi.Telemetry)) Option {
	return func(e *Engine) {
		e.onRecord = fn
	}
}

// Engine runs the request/response polling protocol
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	onRecord func(cdi.Telemetry)

	state     *Value[State]
	status    *Value[string]
	telemetry *Value[*cdi.Telemetry]

	mu      sync.Mutex
	session *session
	nextID  uint64
	stats   cdi.Statistics
	lastErr error

	wg sync.WaitGroup
}

// session is one connection attempt: its channel, cancellation and buffer
type session struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	ch     Channel

	closeOnce   sync.Once
	reassembler *cdi.Reassembler
	packets     uint64
	emptyPolls  int
}

// New creates an idle engine in the Disconnected state
func New(cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.HandshakeInterval <= 0 {
		cfg.HandshakeInterval = def.HandshakeInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.ScratchSize <= 0 {
		cfg.ScratchSize = def.ScratchSize
	}
	if cfg.BufferCapacity < cdi.DefaultCapacity {
		cfg.BufferCapacity = cdi.DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "engine")),
		state:     NewValue(Disconnected),
		status:    NewValue(StatusDisconnected),
		telemetry: NewValue[*cdi.Telemetry](nil),
		stats:     *cdi.NewStatistics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the lifecycle state observer
func (e *Engine) State() *Value[State] {
	return e.state
}

// Status returns the status text observer
func (e *Engine) Status() *Value[string] {
	return e.status
}

// Telemetry returns the latest-record observer; nil until the first decode
func (e *Engine) Telemetry() *Value[*cdi.Telemetry] {
	return e.telemetry
}

// Stats returns a snapshot of the current connection's statistics
func (e *Engine) Stats() cdi.Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.CalculateRates()
	return s
}

// LastError returns the error that moved the engine into the Error state
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Connect disconnects any previous connection, then opens a channel with
// open and runs the handshake and monitor loop in the background. ctx
// bounds the lifetime of the whole connection: when it ends, the channel is
// closed and the engine returns to Disconnected. Failures are reported
// through the State and Status observers, never returned.
func (e *Engine) Connect(ctx context.Context, open Opener) error {
	if open == nil {
		return ErrChannelUnavailable
	}
	e.Disconnect()

	e.mu.Lock()
	sess := e.newSessionLocked(ctx, nil)
	e.setLocked(Connecting, StatusConnecting)
	e.mu.Unlock()

	e.logger.Info("connecting", zap.Uint64("session", sess.id))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(sess, open)
	}()
	return nil
}

// Wait blocks until background connections started by Connect have exited
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Disconnect cancels any running handshake or loop, closes the channel and
// resets state, status and telemetry. It is safe to call at any time and
// more than once.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	sess := e.session
	e.session = nil
	e.lastErr = nil
	e.setLocked(Disconnected, StatusDisconnected)
	e.telemetry.Set(nil)
	e.mu.Unlock()

	if sess != nil {
		e.logger.Info("disconnecting", zap.Uint64("session", sess.id))
		sess.teardown(e.logger)
	}
}

// run is the body of a Connect goroutine
func (e *Engine) run(sess *session, open Opener) {
	defer e.expire(sess)

	ch, err := open(sess.ctx)
	if err != nil {
		if sess.ctx.Err() != nil {
			return
		}
		e.logger.Error("open failed", zap.Uint64("session", sess.id), zap.Error(err))
		e.publish(sess, func() {
			e.lastErr = err
			e.setLocked(Error, fmt.Sprintf("Connection failed: %v", err))
		})
		return
	}
	if !e.bind(sess, ch) {
		return
	}

	if err := e.Initialize(sess.ctx, ch); err != nil {
		return
	}
	_ = e.RunMonitorLoop(sess.ctx, ch)
}

// expire tears down sess when the context passed to Connect ended it.
// Sessions replaced by Disconnect or a newer Connect are left alone.
func (e *Engine) expire(sess *session) {
	if sess.ctx.Err() == nil {
		return
	}

	e.mu.Lock()
	current := e.session == sess
	if current {
		e.session = nil
		e.setLocked(Disconnected, StatusDisconnected)
		e.telemetry.Set(nil)
	}
	e.mu.Unlock()

	if current {
		e.logger.Info("connection context done", zap.Uint64("session", sess.id))
		sess.teardown(e.logger)
	}
}

// Initialize performs the handshake: write the request, wait, read, and
// repeat until a read returns data. There is no attempt limit; only
// cancellation or an I/O error ends it early.
func (e *Engine) Initialize(ctx context.Context, ch Channel) error {
	if ch == nil || !ch.IsConnected() {
		return ErrChannelUnavailable
	}
	sess, release := e.attach(ctx, ch)
	defer release()

	e.publish(sess, func() {
		e.setLocked(Initializing, StatusInitializing)
	})

	req := cdi.BuildRequest()
	buf := make([]byte, e.cfg.ScratchSize)
	for attempt := 1; ; attempt++ {
		if err := sess.ctx.Err(); err != nil {
			return err
		}
		if err := ch.Write(sess.ctx, req); err != nil {
			return e.fail(sess, "write", err)
		}
		if err := sleep(sess.ctx, e.cfg.HandshakeInterval); err != nil {
			return err
		}
		n, err := ch.Read(sess.ctx, buf, e.cfg.ReadTimeout)
		if err != nil {
			return e.fail(sess, "read", err)
		}
		if n > 0 {
			e.logger.Info("handshake complete",
				zap.Uint64("session", sess.id),
				zap.Int("attempts", attempt),
				zap.Int("bytes", n),
			)
			e.publish(sess, func() {
				e.setLocked(Monitoring, StatusConnected)
			})
			return nil
		}

		e.logger.Debug("handshake: no response", zap.Uint64("session", sess.id), zap.Int("attempt", attempt))
		e.publish(sess, func() {
			e.status.Set(fmt.Sprintf("Waiting for device... (attempt %d)", attempt))
		})
	}
}

// RunMonitorLoop polls the unit until ctx is cancelled, the engine is
// disconnected, or the channel fails. Each cycle writes the request,
// waits, reads, feeds the bytes to the reassembler, publishes every
// decoded record and waits again.
func (e *Engine) RunMonitorLoop(ctx context.Context, ch Channel) error {
	if ch == nil || !ch.IsConnected() {
		return ErrChannelUnavailable
	}
	sess, release := e.attach(ctx, ch)
	defer release()

	e.publish(sess, func() {
		if e.state.Get() != Monitoring {
			e.setLocked(Monitoring, StatusConnected)
		}
	})

	req := cdi.BuildRequest()
	scratch := make([]byte, e.cfg.ScratchSize)
	for {
		if err := sess.ctx.Err(); err != nil {
			return err
		}
		if !ch.IsConnected() {
			return e.fail(sess, "read", ErrChannelClosed)
		}

		if err := ch.Write(sess.ctx, req); err != nil {
			return e.fail(sess, "write", err)
		}
		if err := sleep(sess.ctx, e.cfg.PollInterval); err != nil {
			return err
		}
		n, err := ch.Read(sess.ctx, scratch, e.cfg.ReadTimeout)
		if err != nil {
			return e.fail(sess, "read", err)
		}

		records := sess.reassembler.Feed(scratch[:n])
		e.deliver(sess, n, records)

		if err := sleep(sess.ctx, e.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// deliver publishes one poll cycle's results
func (e *Engine) deliver(sess *session, n int, records []cdi.Telemetry) {
	var anomalies [][]cdi.ValidationError
	ok := e.publish(sess, func() {
		e.stats.RecordPoll(n)
		if n == 0 {
			sess.emptyPolls++
			if sess.emptyPolls >= NoDataPolls {
				e.status.Set(fmt.Sprintf("No data for %d polls", sess.emptyPolls))
			}
		} else {
			sess.emptyPolls = 0
		}
		for i := range records {
			rec := records[i]
			problems := cdi.Validate(rec)
			e.stats.Update(rec, problems)
			if len(problems) > 0 {
				anomalies = append(anomalies, problems)
			}

			sess.packets++
			e.telemetry.Set(&rec)
			e.status.Set(fmt.Sprintf("%s — Packets: %d", StatusConnected, sess.packets))
		}
		e.stats.SetStream(sess.reassembler.Stats())
	})
	if !ok {
		return
	}

	for _, problems := range anomalies {
		for _, p := range problems {
			e.logger.Warn("anomalous telemetry", zap.Uint64("session", sess.id), zap.String("detail", p.Message))
		}
	}
	if e.onRecord != nil {
		for _, rec := range records {
			e.onRecord(rec)
		}
	}
}

// fail converts a channel error into the Error state and closes the channel.
// When the session was cancelled the error is a consequence of teardown and
// is not published.
func (e *Engine) fail(sess *session, op string, err error) error {
	if ctxErr := sess.ctx.Err(); ctxErr != nil {
		sess.closeChannel(e.logger)
		return ctxErr
	}

	ioErr := &IOError{Op: op, Err: err}
	e.logger.Error("channel error",
		zap.Uint64("session", sess.id),
		zap.String("op", op),
		zap.Error(err),
	)
	e.publish(sess, func() {
		e.lastErr = ioErr
		e.setLocked(Error, fmt.Sprintf("Error: %v", ioErr))
	})
	sess.closeChannel(e.logger)
	return ioErr
}

// attach returns the session owning ch, creating one (and tearing down any
// other) when ch is not the current channel. The returned release func
// must be called when the caller is done; until then cancelling ctx
// cancels the session.
func (e *Engine) attach(ctx context.Context, ch Channel) (*session, func()) {
	var old *session

	e.mu.Lock()
	sess := e.session
	if sess == nil || sess.ch != ch {
		old = sess
		sess = e.newSessionLocked(ctx, ch)
	}
	e.mu.Unlock()

	if old != nil {
		old.teardown(e.logger)
	}

	stop := context.AfterFunc(ctx, sess.cancel)
	return sess, func() { stop() }
}

// bind attaches a freshly opened channel to sess. If sess was superseded
// while the opener ran, the channel is closed and bind reports false.
func (e *Engine) bind(sess *session, ch Channel) bool {
	e.mu.Lock()
	current := e.session == sess && sess.ctx.Err() == nil
	if current {
		sess.ch = ch
	}
	e.mu.Unlock()

	if !current {
		if err := ch.Close(); err != nil {
			e.logger.Debug("close superseded channel", zap.Error(err))
		}
	}
	return current
}

// newSessionLocked replaces the current session. Callers hold e.mu and are
// responsible for tearing down the previous session.
func (e *Engine) newSessionLocked(ctx context.Context, ch Channel) *session {
	sctx, cancel := context.WithCancel(ctx)
	e.nextID++
	sess := &session{
		id:          e.nextID,
		ctx:         sctx,
		cancel:      cancel,
		ch:          ch,
		reassembler: cdi.NewReassembler(e.cfg.BufferCapacity),
	}
	e.session = sess
	e.stats = *cdi.NewStatistics()
	e.lastErr = nil
	return sess
}

// publish runs fn under the engine lock if sess is still the active,
// uncancelled session. It reports whether fn ran.
func (e *Engine) publish(sess *session, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != sess || sess.ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// setLocked updates state and status together. Callers hold e.mu.
func (e *Engine) setLocked(s State, status string) {
	if prev := e.state.Get(); prev != s {
		e.logger.Info("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
	// Status first: a state subscriber reading Status sees the new text
	e.status.Set(status)
	e.state.Set(s)
}

func (s *session) teardown(logger *zap.Logger) {
	s.cancel()
	s.closeChannel(logger)
}

func (s *session) closeChannel(logger *zap.Logger) {
	s.closeOnce.Do(func() {
		if s.ch == nil {
			return
		}
		if err := s.ch.Close(); err != nil {
			logger.Debug("close channel", zap.Uint64("session", s.id), zap.Error(err))
		}
	})
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

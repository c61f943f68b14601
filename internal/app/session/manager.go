/*
Package session owns the single live connection to the signaling server.

This file defines the Manager, whose run loop is the only goroutine that touches the
transport handle, the timers and the reconnection policy. Transport pumps and timers
post events into the loop, and every event carries the generation of the transport or
attempt it belongs to so that anything from a superseded connection is dropped.
*/
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sigchat/internal/app/store"
	"sigchat/internal/pkg/errs"
	"sigchat/internal/pkg/logx"
	"sigchat/internal/protocol"
)

const (
	// DefaultConnectTimeout bounds each attempt to open the transport.
	DefaultConnectTimeout = 15 * time.Second

	// DefaultJoinDelay is the stabilization pause between open and sending join.
	DefaultJoinDelay = 100 * time.Millisecond

	// DefaultTypingExpiry removes a remote user from the typing set when no stop-typing arrives.
	DefaultTypingExpiry = 5 * time.Second

	defaultSendQueueSize     = 256
	defaultDiagnosticsBuffer = 16

	closeNormal    = websocket.CloseNormalClosure
	closeGoingAway = websocket.CloseGoingAway
)

var (
	errManagerClosed = errors.New("session manager is shut down")
	errSuperseded    = errors.New("connection attempt superseded")
	errDisconnected  = errors.New("disconnected by caller")
)

// Options configures a Manager. Zero fields take the package defaults except where noted.
type Options struct {
	// Mode selects how inbound messages are reconciled with local echoes.
	Mode store.Mode

	ConnectTimeout       time.Duration
	JoinDelay            time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int

	// TypingExpiry of zero or less disables local expiry of remote typing entries.
	TypingExpiry time.Duration

	// PingPeriod of zero or less disables keepalive pings.
	PingPeriod time.Duration

	SendQueueSize     int
	DiagnosticsBuffer int

	// Dialer opens transports; nil uses a gorilla/websocket dialer.
	Dialer Dialer

	// OnSignal receives offer/answer/ice-candidate events. It runs on the loop goroutine.
	OnSignal func(protocol.Signal)
}

// DefaultOptions returns the options used for any zero field.
func DefaultOptions() Options {
	return Options{
		Mode:                 store.Broadcast,
		ConnectTimeout:       DefaultConnectTimeout,
		JoinDelay:            DefaultJoinDelay,
		ReconnectBaseDelay:   DefaultReconnectBaseDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		TypingExpiry:         DefaultTypingExpiry,
		PingPeriod:           pingPeriod,
		SendQueueSize:        defaultSendQueueSize,
		DiagnosticsBuffer:    defaultDiagnosticsBuffer,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.JoinDelay <= 0 {
		o.JoinDelay = def.JoinDelay
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = def.SendQueueSize
	}
	if o.DiagnosticsBuffer <= 0 {
		o.DiagnosticsBuffer = def.DiagnosticsBuffer
	}
	if o.Dialer == nil {
		o.Dialer = NewWSDialer()
	}
	return o
}

// Status is a point-in-time view of the reconnection policy.
type Status struct {
	Policy   PolicyState
	Attempts int
}

type timerKind int

const (
	timerConnect timerKind = iota
	timerJoin
	timerReconnect
	timerTyping

	numLoopTimers = timerTyping
)

func (k timerKind) String() string {
	switch k {
	case timerConnect:
		return "connect"
	case timerJoin:
		return "join"
	case timerReconnect:
		return "reconnect"
	case timerTyping:
		return "typing"
	default:
		return "unknown"
	}
}

// afterFunc arms a timer. Tests replace it to observe the scheduled delays.
type afterFunc func(kind timerKind, d time.Duration, f func()) *time.Timer

func realAfter(_ timerKind, d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, f)
}

// loopEvent is anything posted into the run loop by a pump, a timer or a dial goroutine.
type loopEvent interface {
	loopEvent()
}

type dialResult struct {
	gen       uint64
	transport Transport
	err       error
}

type timerFired struct {
	gen  uint64
	kind timerKind
}

type typingExpired struct {
	gen      uint64
	seq      uint64
	username string
}

type inboundEvent struct {
	gen   uint64
	event protocol.Event
}

type transportClosed struct {
	gen  uint64
	code int
	err  error
}

func (dialResult) loopEvent()      {}
func (timerFired) loopEvent()      {}
func (typingExpired) loopEvent()   {}
func (inboundEvent) loopEvent()    {}
func (transportClosed) loopEvent() {}

// connectTask is the pending outcome of one Connect call. It resolves exactly once.
type connectTask struct {
	done chan error
	once sync.Once
}

func newConnectTask() *connectTask {
	return &connectTask{done: make(chan error, 1)}
}

func (t *connectTask) resolve(err error) {
	t.once.Do(func() { t.done <- err })
}

type connectRequest struct {
	address  string
	username string
	task     *connectTask
}

type cancelRequest struct {
	task *connectTask
	err  error
}

type sendRequest struct {
	event protocol.Event
	echo  func(store.State) store.State
	reply chan error
}

type typingTimer struct {
	timer *time.Timer
	seq   uint64
}

// Manager maintains one connection to the signaling server, reconnects after
// unexpected closes and folds every inbound event into its Store.
type Manager struct {
	opts   Options
	store  *store.Store
	after  afterFunc
	logger zerolog.Logger

	// request channels served by the run loop.
	connectReq    chan connectRequest
	cancelReq     chan cancelRequest
	disconnectReq chan chan struct{}
	sendReq       chan sendRequest

	// events posted by pumps, timers and dial goroutines.
	events chan loopEvent

	diagnostics chan error

	// active is the adopted link, published for IsActive.
	active atomic.Pointer[link]
	status atomic.Pointer[Status]

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	// fields below are owned by the run loop.
	gen        uint64
	link       *link
	dialCancel context.CancelFunc
	pending    *connectTask
	address    string
	username   string
	policy     *ReconnectPolicy
	manual     bool
	joined     bool
	timers     [numLoopTimers]*time.Timer
	typing     map[string]*typingTimer
	typingSeq  uint64
}

// NewManager creates a Manager reporting into st and starts its run loop.
func NewManager(opts Options, st *store.Store) *Manager {
	return newManager(opts, st, realAfter)
}

func newManager(opts Options, st *store.Store, after afterFunc) *Manager {
	opts = opts.withDefaults()

	m := &Manager{
		opts:          opts,
		store:         st,
		after:         after,
		logger:        logx.Logger().With().Str("component", "session").Logger(),
		connectReq:    make(chan connectRequest),
		cancelReq:     make(chan cancelRequest),
		disconnectReq: make(chan chan struct{}),
		sendReq:       make(chan sendRequest),
		events:        make(chan loopEvent, 64),
		diagnostics:   make(chan error, opts.DiagnosticsBuffer),
		quit:          make(chan struct{}),
		policy:        NewReconnectPolicy(opts.MaxReconnectAttempts, opts.ReconnectBaseDelay),
		typing:        make(map[string]*typingTimer),
	}
	m.publishStatus()

	m.wg.Add(1)
	go m.run()
	return m
}

// Connect tears down any existing connection and opens a new one to address.
// It returns nil once the transport is open, an ErrConnectTimeout error if it does not
// open within the connect timeout, or an ErrTransportError error if the dial fails.
// The join is sent shortly after the open; completion is visible in the Store.
func (m *Manager) Connect(ctx context.Context, address, username string) error {
	if address == "" || username == "" {
		return errs.NewError(errs.ErrInvalidParams)
	}

	task := newConnectTask()
	select {
	case m.connectReq <- connectRequest{address: address, username: username, task: task}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.quit:
		return errManagerClosed
	}

	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
	case <-m.quit:
		return errManagerClosed
	}

	// the attempt may have resolved concurrently, so the task has the final word.
	select {
	case m.cancelReq <- cancelRequest{task: task, err: ctx.Err()}:
	case <-m.quit:
		return errManagerClosed
	}
	select {
	case err := <-task.done:
		return err
	case <-m.quit:
		return errManagerClosed
	}
}

// Disconnect suppresses reconnection, cancels every timer, closes the transport with a
// normal closure and clears all chat state. Calling it again is a no-op.
func (m *Manager) Disconnect() {
	done := make(chan struct{})
	select {
	case m.disconnectReq <- done:
		<-done
	case <-m.quit:
	}
}

// IsActive reports whether the current transport is open.
func (m *Manager) IsActive() bool {
	l := m.active.Load()
	return l != nil && l.ready.Load()
}

// Send encodes ev and queues it on the current transport.
func (m *Manager) Send(ev protocol.Event) error {
	return m.SendWithEcho(ev, nil)
}

// SendWithEcho is Send followed by echo applied to the Store once the frame is queued.
// Both happen on the loop, so the echo is ordered before any reply to the frame.
func (m *Manager) SendWithEcho(ev protocol.Event, echo func(store.State) store.State) error {
	req := sendRequest{event: ev, echo: echo, reply: make(chan error, 1)}

	select {
	case m.sendReq <- req:
	case <-m.quit:
		return errs.Wrap(errs.ErrSendWhileDisconnected, errManagerClosed)
	}

	select {
	case err := <-req.reply:
		return err
	case <-m.quit:
		return errs.Wrap(errs.ErrSendWhileDisconnected, errManagerClosed)
	}
}

// Diagnostics delivers non-fatal and terminal conditions the caller may want to surface.
func (m *Manager) Diagnostics() <-chan error {
	return m.diagnostics
}

// Status returns the reconnection policy state.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// Shutdown disconnects and stops the run loop. The Manager is unusable afterwards.
func (m *Manager) Shutdown() {
	m.quitOnce.Do(func() {
		close(m.quit)
	})
	m.wg.Wait()
}

func (m *Manager) run() {
	defer m.wg.Done()

	for {
		select {
		case req := <-m.connectReq:
			m.handleConnect(req)

		case req := <-m.cancelReq:
			if m.pending == req.task {
				m.failAttempt(errs.Wrap(errs.ErrTransportError, req.err))
			}

		case done := <-m.disconnectReq:
			m.handleDisconnect()
			close(done)

		case req := <-m.sendReq:
			req.reply <- m.handleSend(req)

		case ev := <-m.events:
			m.handleEvent(ev)

		case <-m.quit:
			m.handleDisconnect()
			m.logger.Info().Msg("Session run loop stopped")
			return
		}
	}
}

// post delivers ev to the run loop. It returns false once the Manager is shut down.
func (m *Manager) post(ev loopEvent) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.quit:
		return false
	}
}

func (m *Manager) handleEvent(ev loopEvent) {
	switch e := ev.(type) {
	case dialResult:
		m.handleDialResult(e)
	case timerFired:
		m.handleTimer(e)
	case typingExpired:
		m.handleTypingExpired(e)
	case inboundEvent:
		m.handleInbound(e)
	case transportClosed:
		m.handleClosed(e)
	}
}

func (m *Manager) handleConnect(req connectRequest) {
	m.logger.Info().Str("address", req.address).Str("username", req.username).Msg("Connecting to signaling server")

	m.teardown(closeNormal, "superseded by new connection")
	if m.pending != nil {
		m.pending.resolve(errs.Wrap(errs.ErrTransportError, errSuperseded))
		m.pending = nil
	}

	m.address = req.address
	m.username = req.username
	m.manual = false
	m.policy.Reset()
	m.publishStatus()

	m.pending = req.task
	m.startAttempt()
}

func (m *Manager) handleDisconnect() {
	wasOpen := m.link != nil

	m.manual = true
	m.policy.Suppress()
	m.publishStatus()

	if wasOpen {
		m.store.Update(func(s store.State) store.State {
			return store.WithConnection(s, store.Closing)
		})
	}

	m.teardown(closeNormal, "Manual disconnect")
	if m.pending != nil {
		m.pending.resolve(errs.Wrap(errs.ErrTransportError, errDisconnected))
		m.pending = nil
	}

	m.store.Reset()

	if wasOpen {
		m.logger.Info().Str("address", m.address).Msg("Disconnected from signaling server")
	}
}

func (m *Manager) handleSend(req sendRequest) error {
	if m.link == nil || !m.link.ready.Load() {
		return errs.NewError(errs.ErrSendWhileDisconnected)
	}

	frame, err := protocol.Encode(req.event)
	if err != nil {
		return err
	}

	if err := m.link.enqueue(frame); err != nil {
		return err
	}

	if req.echo != nil {
		m.store.Update(req.echo)
	}
	return nil
}

// startAttempt dials the current address under a fresh generation.
func (m *Manager) startAttempt() {
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel

	m.store.Update(func(s store.State) store.State {
		return store.WithConnection(s, store.Connecting)
	})
	m.schedule(timerConnect, m.opts.ConnectTimeout, gen)

	dialer := m.opts.Dialer
	address := m.address
	go func() {
		t, err := dialer.Dial(ctx, address)
		if !m.post(dialResult{gen: gen, transport: t, err: err}) && t != nil {
			_ = t.Close(closeGoingAway, "client shutting down")
		}
	}()
}

func (m *Manager) handleDialResult(ev dialResult) {
	if ev.gen != m.gen || m.link != nil {
		if ev.transport != nil {
			m.logger.Debug().Uint64("generation", ev.gen).Msg("Closing transport from stale attempt")
			_ = ev.transport.Close(closeNormal, "stale connection attempt")
		}
		return
	}

	m.cancelTimer(timerConnect)
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	if ev.err != nil {
		m.failAttempt(errs.Wrap(errs.ErrTransportError, ev.err))
		return
	}

	m.adopt(ev.transport)
}

// failAttempt ends the current attempt. A pending Connect gets err; otherwise the
// failure counts as a reconnect attempt and the policy decides what happens next.
func (m *Manager) failAttempt(err error) {
	m.gen++
	m.cancelTimer(timerConnect)
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	if m.pending != nil {
		m.store.Update(func(s store.State) store.State {
			return store.WithConnection(s, store.Disconnected)
		})
		m.pending.resolve(err)
		m.pending = nil
		m.logger.Warn().Err(err).Str("address", m.address).Msg("Connection attempt failed")
		return
	}

	m.logger.Warn().Err(err).Int("attempt", m.policy.Attempts()).Msg("Reconnect attempt failed")
	m.scheduleReconnect(err)
}

func (m *Manager) adopt(t Transport) {
	l := newLink(m.gen, t, m.opts.SendQueueSize, m.opts.PingPeriod, m.logger)
	m.link = l
	m.active.Store(l)
	m.joined = false

	m.policy.Reset()
	m.publishStatus()

	m.store.Update(func(s store.State) store.State {
		return store.WithConnection(s, store.Joining)
	})

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		l.readPump(m.post)
	}()
	go func() {
		defer m.wg.Done()
		l.writePump()
	}()

	m.schedule(timerJoin, m.opts.JoinDelay, m.gen)

	if m.pending != nil {
		m.pending.resolve(nil)
		m.pending = nil
	}

	l.logger.Info().Str("address", m.address).Msg("Connected to signaling server")
}

func (m *Manager) handleTimer(ev timerFired) {
	if ev.gen != m.gen {
		return
	}
	m.timers[ev.kind] = nil

	switch ev.kind {
	case timerConnect:
		if m.link == nil {
			m.failAttempt(errs.NewError(errs.ErrConnectTimeout, m.opts.ConnectTimeout))
		}

	case timerJoin:
		m.sendJoin()

	case timerReconnect:
		if m.link == nil && !m.manual {
			m.logger.Info().
				Str("address", m.address).
				Int("attempt", m.policy.Attempts()).
				Msg("Reconnecting to signaling server")
			m.startAttempt()
		}
	}
}

func (m *Manager) sendJoin() {
	if m.link == nil || !m.link.ready.Load() {
		return
	}

	frame, err := protocol.Encode(protocol.Join{Username: m.username})
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to encode join")
		return
	}
	if err := m.link.enqueue(frame); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to queue join")
	}
}

func (m *Manager) handleInbound(ev inboundEvent) {
	if ev.gen != m.gen || m.link == nil {
		return
	}

	switch e := ev.event.(type) {
	case protocol.Joined:
		first := !m.joined
		_, err := m.store.TryUpdate(func(s store.State) (store.State, error) {
			return store.ApplyJoined(s, e, first)
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("user_id", e.UserID).Msg("Ignoring divergent joined event")
			return
		}
		if first {
			m.joined = true
			m.logger.Info().Str("user_id", e.UserID).Str("username", e.Username).Msg("Joined chat")
		}

	case protocol.UserList:
		m.store.Update(func(s store.State) store.State {
			return store.ApplyUserList(s, e)
		})

	case protocol.ChatMessage:
		m.store.Update(func(s store.State) store.State {
			return store.ApplyInboundMessage(s, e, m.opts.Mode)
		})

	case protocol.Typing:
		m.store.Update(func(s store.State) store.State {
			return store.ApplyTyping(s, e)
		})
		if e.Stopped {
			m.stopTypingTimer(e.Username)
		} else {
			m.armTypingExpiry(e.Username)
		}

	case protocol.Signal:
		m.logger.Debug().Str("kind", string(e.Kind)).Str("from", e.UserID).Msg("Received signaling payload")
		if m.opts.OnSignal != nil {
			m.opts.OnSignal(e)
		}

	case protocol.ServerError:
		err := errs.NewError(errs.ErrServerReported, e.Error)
		m.logger.Warn().Err(err).Msg("Server reported an error")
		m.emit(err)

	default:
		m.logger.Warn().Str("type", string(ev.event.EventType())).Msg("Ignoring unexpected inbound event")
	}
}

func (m *Manager) handleClosed(ev transportClosed) {
	if ev.gen != m.gen || m.link == nil || m.link.gen != ev.gen {
		return
	}

	m.link.close(closeGoingAway, "connection closed")
	m.link = nil
	m.active.Store(nil)
	m.joined = false
	m.gen++
	m.cancelAllTimers()

	if ev.code == closeNormal {
		m.logger.Info().Str("address", m.address).Msg("Server closed the connection")
		m.store.Update(func(s store.State) store.State {
			return store.WithConnection(s, store.Disconnected)
		})
		return
	}

	m.logger.Warn().Err(ev.err).Int("close_code", ev.code).Msg("Connection lost")
	m.store.Update(func(s store.State) store.State {
		return store.WithConnection(s, store.Lost)
	})
	m.scheduleReconnect(errs.Wrap(errs.ErrUnexpectedClose, ev.err, ev.code))
}

func (m *Manager) scheduleReconnect(cause error) {
	if m.manual {
		return
	}

	delay, ok := m.policy.Next()
	m.publishStatus()

	if !ok {
		m.store.Update(func(s store.State) store.State {
			return store.WithConnection(s, store.Disconnected)
		})
		err := errs.Wrap(errs.ErrMaxReconnectExceeded, cause, m.policy.MaxAttempts)
		m.logger.Error().Err(err).Str("address", m.address).Msg("Giving up on reconnecting")
		m.emit(err)
		return
	}

	m.store.Update(func(s store.State) store.State {
		return store.WithConnection(s, store.Lost)
	})
	m.logger.Info().Dur("delay", delay).Int("attempt", m.policy.Attempts()).Msg("Scheduling reconnect")
	m.schedule(timerReconnect, delay, m.gen)
}

// teardown invalidates the current generation, stops every timer, cancels any dial
// and closes the adopted transport.
func (m *Manager) teardown(code int, reason string) {
	m.gen++
	m.cancelAllTimers()

	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	if m.link != nil {
		m.link.close(code, reason)
		m.link = nil
		m.active.Store(nil)
	}
	m.joined = false
}

func (m *Manager) schedule(kind timerKind, d time.Duration, gen uint64) {
	m.cancelTimer(kind)
	m.timers[kind] = m.after(kind, d, func() {
		m.post(timerFired{gen: gen, kind: kind})
	})
}

func (m *Manager) cancelTimer(kind timerKind) {
	if t := m.timers[kind]; t != nil {
		t.Stop()
		m.timers[kind] = nil
	}
}

func (m *Manager) cancelAllTimers() {
	for kind := range m.timers {
		m.cancelTimer(timerKind(kind))
	}
	for username := range m.typing {
		m.stopTypingTimer(username)
	}
}

func (m *Manager) armTypingExpiry(username string) {
	if m.opts.TypingExpiry <= 0 {
		return
	}
	m.stopTypingTimer(username)

	m.typingSeq++
	seq, gen := m.typingSeq, m.gen
	m.typing[username] = &typingTimer{
		seq: seq,
		timer: m.after(timerTyping, m.opts.TypingExpiry, func() {
			m.post(typingExpired{gen: gen, seq: seq, username: username})
		}),
	}
}

func (m *Manager) stopTypingTimer(username string) {
	if t := m.typing[username]; t != nil {
		t.timer.Stop()
		delete(m.typing, username)
	}
}

func (m *Manager) handleTypingExpired(ev typingExpired) {
	t := m.typing[ev.username]
	if ev.gen != m.gen || t == nil || t.seq != ev.seq {
		return
	}
	delete(m.typing, ev.username)

	m.store.Update(func(s store.State) store.State {
		return store.RemoveTyping(s, ev.username)
	})
}

// emit hands err to the diagnostics channel without blocking the loop.
func (m *Manager) emit(err error) {
	select {
	case m.diagnostics <- err:
	default:
		m.logger.Warn().Err(err).Msg("Diagnostics channel full, dropping error")
	}
}

func (m *Manager) publishStatus() {
	m.status.Store(&Status{Policy: m.policy.State(), Attempts: m.policy.Attempts()})
}

package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	neturl "net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/radio-trainer/internal/observability"
	"github.com/lexiqai/radio-trainer/internal/resilience"
)

var (
	// ErrNotConnected is returned when an operation needs an open socket
	ErrNotConnected = errors.New("stt: not connected")
	// ErrClosed is returned when Connect races a client Disconnect
	ErrClosed = errors.New("stt: adapter closed")
)

// Adapter drives one realtime STT websocket: connect with timeout, bounded
// reconnects with jittered backoff, audio framing and event fan-out. The
// provider wire format is supplied by a Protocol.
type Adapter struct {
	proto   Protocol
	log     zerolog.Logger
	dialer  *websocket.Dialer
	bus     *Bus
	tracker *Tracker

	// writeMu serialises data frames; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu             sync.Mutex
	cfg            Config
	state          ConnectionState
	conn           *websocket.Conn
	generation     uint64
	attempts       int
	closing        bool
	fatal          bool
	reconnectTimer *time.Timer
}

// NewAdapter builds an adapter around proto with DefaultConfig merged with cfg
func NewAdapter(proto Protocol, cfg Config) *Adapter {
	log := observability.Component("stt").With().Str("provider", proto.Name()).Logger()
	return &Adapter{
		proto:   proto,
		log:     log,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		bus:     NewBus(log),
		tracker: NewTracker(),
		cfg:     DefaultConfig().Merge(cfg),
		state:   StateDisconnected,
	}
}

// Name returns the provider id
func (a *Adapter) Name() string { return a.proto.Name() }

// Configure merges the non-zero fields of patch into the configuration. It
// takes effect on the next dial.
func (a *Adapter) Configure(patch Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = a.cfg.Merge(patch)
}

// Config returns the effective configuration
func (a *Adapter) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// State returns the connection state
func (a *Adapter) State() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Status returns the transcription status
func (a *Adapter) Status() Status { return a.tracker.Status() }

// Transcript returns the accumulated transcript
func (a *Adapter) Transcript() TranscriptState { return a.tracker.State() }

// Words returns the accepted word timings
func (a *Adapter) Words() []WordTiming { return a.tracker.Words() }

// FillerCount returns the live filler count
func (a *Adapter) FillerCount() int { return a.tracker.FillerCount() }

// On subscribes to events of type t
func (a *Adapter) On(t EventType, fn Handler) Subscription { return a.bus.On(t, fn) }

// Off removes a subscription
func (a *Adapter) Off(sub Subscription) bool { return a.bus.Off(sub) }

func (a *Adapter) policy(cfg Config) resilience.ReconnectPolicy {
	return resilience.ReconnectPolicy{
		MaxAttempts:  cfg.MaxReconnectAttempts,
		BaseDelay:    cfg.ReconnectBaseDelay,
		MaxDelay:     cfg.ReconnectMaxDelay,
		JitterFactor: cfg.JitterFactor,
	}
}

// Connect opens the websocket and sends the provider configuration, both
// within the connect timeout. A timeout or dial failure schedules a reconnect
// while attempts remain and Connect then returns nil; otherwise the adapter
// ends in the error state and the error is returned.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case StateConnected, StateConnecting, StateReconnecting:
		a.mu.Unlock()
		return nil
	}
	a.closing = false
	a.fatal = false
	a.attempts = 0
	a.mu.Unlock()

	a.tracker.SetStatus(StatusConnecting)
	a.setState(StateConnecting)
	return a.dial(ctx)
}

func (a *Adapter) dial(ctx context.Context) error {
	cfg := a.Config()
	name := a.proto.Name()

	url, header, subprotocols, err := a.proto.Dial(cfg)
	if err != nil {
		return a.failFatal(&ProviderError{Provider: name, Code: "config", Message: err.Error(), Fatal: true})
	}

	dctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	dialer := *a.dialer
	dialer.Subprotocols = subprotocols
	conn, resp, err := dialer.DialContext(dctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return a.failFatal(&ProviderError{
				Provider: name,
				Code:     "auth",
				Message:  fmt.Sprintf("handshake rejected with HTTP %d", resp.StatusCode),
				Fatal:    true,
			})
		}
		return a.connectFailed(ctx, dctx, err)
	}

	msgs, err := a.proto.ConfigMessages(cfg)
	if err != nil {
		conn.Close()
		return a.failFatal(&ProviderError{Provider: name, Code: "config", Message: err.Error(), Fatal: true})
	}
	if deadline, ok := dctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	for _, m := range msgs {
		if err := conn.WriteMessage(m.Type, m.Data); err != nil {
			conn.Close()
			return a.connectFailed(ctx, dctx, err)
		}
	}
	conn.SetWriteDeadline(time.Time{})

	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	a.conn = conn
	a.generation++
	gen := a.generation
	a.attempts = 0
	a.mu.Unlock()

	if a.tracker.Status() == StatusConnecting {
		a.tracker.SetStatus(StatusListening)
	}
	go a.readLoop(conn, gen)

	a.log.Info().Str("url", redactURL(url)).Msg("realtime websocket connected")
	a.setState(StateConnected)
	return nil
}

// connectFailed reports a failed dial and reconnects when allowed.
func (a *Adapter) connectFailed(parent, dctx context.Context, err error) error {
	name := a.proto.Name()
	wrapped := fmt.Errorf("%s: connect: %w", name, err)

	a.mu.Lock()
	closing := a.closing
	a.mu.Unlock()
	if closing {
		return wrapped
	}
	if parent.Err() != nil {
		a.setState(StateClosed)
		return wrapped
	}

	if isTimeout(dctx, err) {
		a.log.Warn().Err(err).Msg("connect timed out")
		a.emit(Event{Type: EventTimeout, Err: wrapped})
	} else {
		a.log.Warn().Err(err).Msg("connect failed")
		a.emit(Event{Type: EventError, Err: &ProviderError{Provider: name, Code: "connect", Message: err.Error()}})
	}
	observability.RecordError("connect", name)

	if a.scheduleReconnect() {
		return nil
	}
	a.tracker.SetStatus(StatusError)
	a.setState(StateError)
	return wrapped
}

// scheduleReconnect arms the backoff timer and moves to reconnecting.
func (a *Adapter) scheduleReconnect() bool {
	a.mu.Lock()
	p := a.policy(a.cfg)
	if a.closing || a.fatal || !p.Allows(a.attempts) {
		a.mu.Unlock()
		return false
	}
	delay := p.Delay(a.attempts)
	a.attempts++
	attempt := a.attempts
	prev := a.state
	a.state = StateReconnecting
	a.reconnectTimer = time.AfterFunc(delay, a.reconnect)
	a.mu.Unlock()

	a.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
	a.announce(prev, StateReconnecting)
	return true
}

func (a *Adapter) reconnect() {
	a.mu.Lock()
	if a.closing || a.state != StateReconnecting {
		a.mu.Unlock()
		return
	}
	a.reconnectTimer = nil
	a.mu.Unlock()

	a.setState(StateConnecting)
	_ = a.dial(context.Background())
}

func (a *Adapter) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			a.handleClose(gen, err)
			return
		}

		events, err := a.proto.HandleMessage(msgType, data, a.tracker)
		if err != nil {
			a.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed message")
			continue
		}
		a.dispatch(gen, events)
	}
}

func (a *Adapter) dispatch(gen uint64, events []Event) {
	var fatal *Event
	for i := range events {
		e := events[i]
		if e.Type == EventError && e.Fatal {
			fatal = &e
		}
		a.emit(e)
	}
	if fatal == nil {
		return
	}

	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		return
	}
	a.fatal = true
	conn := a.conn
	a.conn = nil
	a.generation++
	a.mu.Unlock()

	a.log.Error().Err(fatal.Err).Msg("fatal provider error")
	if conn != nil {
		a.closeConn(conn, websocket.CloseNormalClosure)
	}
	a.tracker.SetStatus(StatusError)
	a.setState(StateError)
}

func (a *Adapter) handleClose(gen uint64, err error) {
	a.mu.Lock()
	if gen != a.generation || a.closing {
		a.mu.Unlock()
		return
	}
	a.conn = nil
	a.mu.Unlock()

	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	switch {
	case code == websocket.CloseNormalClosure || a.tracker.State().IsFinal:
		a.log.Info().Int("code", code).Msg("realtime websocket closed")
		a.setState(StateDisconnected)
	case a.scheduleReconnect():
		a.log.Warn().Int("code", code).Err(err).Msg("realtime websocket dropped")
	default:
		a.log.Error().Int("code", code).Err(err).Msg("realtime websocket dropped, giving up")
		a.emit(Event{Type: EventError, Err: &ProviderError{
			Provider: a.proto.Name(),
			Code:     fmt.Sprintf("close_%d", code),
			Message:  "connection closed abnormally",
		}})
		a.tracker.SetStatus(StatusError)
		a.setState(StateError)
	}
}

// SendAudio frames and sends one PCM16 chunk. It is a no-op unless connected.
func (a *Adapter) SendAudio(chunk []byte) error {
	a.mu.Lock()
	conn, state, timeout := a.conn, a.state, a.cfg.WriteTimeout
	a.mu.Unlock()
	if state != StateConnected || conn == nil || len(chunk) == 0 {
		return nil
	}

	msg, err := a.proto.FrameAudio(chunk)
	if err != nil {
		return err
	}
	a.tracker.MarkAudio(time.Now())
	return a.write(conn, timeout, msg)
}

// EndAudio sends the provider's end-of-stream messages and moves the status
// to processing.
func (a *Adapter) EndAudio() error {
	a.mu.Lock()
	conn, state, timeout := a.conn, a.state, a.cfg.WriteTimeout
	a.mu.Unlock()

	a.tracker.SetStatus(StatusProcessing)
	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	msgs, err := a.proto.EndMessages()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := a.write(conn, timeout, m); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) write(conn *websocket.Conn, timeout time.Duration, m Message) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := conn.WriteMessage(m.Type, m.Data); err != nil {
		return fmt.Errorf("%s: write: %w", a.proto.Name(), err)
	}
	return nil
}

// Disconnect stops any pending reconnect, closes the socket with a normal
// closure and stops the read loop. The adapter ends in the closed state.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if a.closing && a.state == StateClosed {
		a.mu.Unlock()
		return
	}
	a.closing = true
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	conn := a.conn
	a.conn = nil
	a.generation++
	a.mu.Unlock()

	if conn != nil {
		a.closeConn(conn, websocket.CloseNormalClosure)
	}
	a.setState(StateClosed)
}

// Dispose disconnects, drops every subscriber and clears accumulated state
func (a *Adapter) Dispose() {
	a.Disconnect()
	a.bus.Clear()
	a.tracker.Reset()
}

func (a *Adapter) closeConn(conn *websocket.Conn, code int) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	conn.Close()
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func redactURL(raw string) string {
	u, err := neturl.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

func (a *Adapter) failFatal(perr *ProviderError) error {
	a.mu.Lock()
	a.fatal = true
	a.mu.Unlock()

	a.log.Error().Err(perr).Msg("connect failed permanently")
	observability.RecordError(perr.Code, perr.Provider)
	a.emit(Event{Type: EventError, Err: perr, Fatal: true})
	a.tracker.SetStatus(StatusError)
	a.setState(StateError)
	return perr
}

func (a *Adapter) setState(s ConnectionState) {
	a.mu.Lock()
	prev := a.state
	if prev == s {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.mu.Unlock()
	a.announce(prev, s)
}

func (a *Adapter) announce(prev, s ConnectionState) {
	observability.RecordConnectionState(a.proto.Name(), string(s))
	a.log.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("connection state change")
	a.emit(Event{Type: EventConnectionStateChange, State: s, Previous: prev})
}

func (a *Adapter) emit(e Event) {
	e.Provider = a.proto.Name()
	a.bus.Emit(e)
}

// Package transport wraps a WebSocket connection to the relay with the
// guarantees the rest of deskrelay relies on: bounded connect, periodic
// heartbeat, one serialized writer, one sequential reader and a single
// disconnect notification per connection.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/metrics"
	"github.com/postalsys/deskrelay/internal/protocol"
	"github.com/postalsys/deskrelay/internal/recovery"
)

// Defaults
const (
	DefaultConnectTimeout    = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultCloseTimeout      = 1 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultReadLimit         = 16 * 1024 * 1024
	Subprotocol              = "deskrelay.v1"
)

var (
	// ErrConnectTimeout is returned when the relay does not answer in time.
	ErrConnectTimeout = errors.New("connect timed out")

	// ErrNotConnected is returned by Send when the connection is not open.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect on a live connection.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrClosed is the disconnect cause after a local Close.
	ErrClosed = errors.New("connection closed")
)

// State is the lifecycle state of a Conn.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Config configures a Conn.
type Config struct {
	ConnectTimeout time.Duration

	// HeartbeatInterval is the period of heartbeat messages. Zero selects
	// the default; a negative value disables heartbeats.
	HeartbeatInterval time.Duration

	CloseTimeout time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64

	// TLSConfig is used for wss:// URLs. When nil, system roots are used
	// unless InsecureSkipVerify is set.
	TLSConfig          *tls.Config
	InsecureSkipVerify bool

	// OnMessage receives every decoded message, one at a time, from the
	// receive loop. The next frame is not read until it returns.
	OnMessage func(protocol.Message)

	// OnDisconnect is called exactly once per opened connection.
	OnDisconnect func(err error)

	// OnStateChange observes every state transition.
	OnStateChange func(State)

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	return c
}

// sendRequest is one queued write.
type sendRequest struct {
	data    []byte
	msgType protocol.MessageType
	result  chan error
}

// link is the state of one opened WebSocket. A Conn creates a new link on
// every successful Connect.
type link struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan *sendRequest
	done   chan struct{}
	once   sync.Once
	err    error
}

// Conn is a message-oriented connection to the relay.
type Conn struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	state atomic.Int32

	mu         sync.Mutex
	cur        *link
	dialCancel context.CancelFunc
	url        string
}

// New creates a disconnected Conn.
func New(cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		cfg:     cfg,
		logger:  logging.Component(cfg.Logger, "transport"),
		metrics: cfg.Metrics,
	}
}

// Accept upgrades an HTTP request and returns an open Conn. Used by the
// relay; the dialing side sends heartbeats, so cfg usually disables them.
func Accept(w http.ResponseWriter, r *http.Request, cfg Config) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket accept: %w", err)
	}

	c := New(cfg)
	c.url = r.RemoteAddr
	c.setState(StateConnecting)
	c.open(ws)
	return c, nil
}

// State returns the current state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// IsOpen reports whether messages can be sent.
func (c *Conn) IsOpen() bool {
	return c.State() == StateOpen
}

// URL returns the last dialed URL, or the remote address for accepted
// connections.
func (c *Conn) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Done returns a channel closed when the current connection has been torn
// down. It returns a closed channel when no connection exists.
func (c *Conn) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.cur.done
}

func (c *Conn) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.notify(old, s)
	}
}

// transition moves from one state to another only if the current state
// is from.
func (c *Conn) transition(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.notify(from, to)
	return true
}

func (c *Conn) notify(from, to State) {
	c.logger.Debug("state change", "from", from, "to", to)
	c.metrics.SetConnected(to == StateOpen)
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(to)
	}
}

// Connect dials url. It fails with ErrConnectTimeout when the dial does
// not complete within the configured timeout. It does not retry.
func (c *Conn) Connect(ctx context.Context, url string) error {
	if !c.transition(StateDisconnected, StateConnecting) {
		return ErrAlreadyConnected
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	c.mu.Lock()
	c.dialCancel = cancel
	c.url = url
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.dialCancel = nil
		c.mu.Unlock()
		cancel()
	}()

	c.logger.Info("connecting", logging.KeyURL, url)

	httpClient := c.httpClient()

	ws, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPClient:   httpClient,
	})
	if err != nil {
		c.transition(StateConnecting, StateDisconnected)
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrConnectTimeout, c.cfg.ConnectTimeout)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}

	if c.State() != StateConnecting {
		ws.CloseNow()
		return ErrClosed
	}

	c.open(ws)
	c.logger.Info("connected", logging.KeyURL, url)
	return nil
}

func (c *Conn) httpClient() *http.Client {
	tlsConfig := c.cfg.TLSConfig
	if tlsConfig == nil && c.cfg.InsecureSkipVerify {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if tlsConfig == nil {
		return nil
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}
}

// open starts the writer, reader and heartbeat for ws.
func (c *Conn) open(ws *websocket.Conn) {
	ws.SetReadLimit(c.cfg.ReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		ws:     ws,
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan *sendRequest, 1),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.cur = l
	c.mu.Unlock()
	c.setState(StateOpen)

	go c.writeLoop(l)
	go c.readLoop(l)
	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop(l)
	}
}

// Send encodes m and hands it to the writer, waiting for the write to
// finish. Sending on a connection that is not open logs a warning and
// returns ErrNotConnected without side effects.
func (c *Conn) Send(ctx context.Context, m protocol.Message) error {
	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()

	if c.State() != StateOpen || l == nil {
		c.logger.Warn("send on closed connection", logging.KeyType, messageType(m), logging.KeyState, c.State())
		c.metrics.RecordDropped("not_connected")
		return ErrNotConnected
	}

	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	req := &sendRequest{data: data, msgType: m.MessageType(), result: make(chan error, 1)}

	select {
	case l.sendCh <- req:
	case <-l.ctx.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-l.ctx.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func messageType(m protocol.Message) protocol.MessageType {
	if m == nil {
		return ""
	}
	return m.MessageType()
}

// writeLoop is the only goroutine that writes to the socket.
func (c *Conn) writeLoop(l *link) {
	defer recovery.RecoverWithLog(c.logger, "transport.writeLoop")

	for {
		select {
		case <-l.ctx.Done():
			return
		case req := <-l.sendCh:
			ctx, cancel := context.WithTimeout(l.ctx, c.cfg.WriteTimeout)
			err := l.ws.Write(ctx, websocket.MessageText, req.data)
			cancel()

			if err != nil {
				c.logger.Debug("write failed", logging.KeyType, req.msgType, logging.KeyError, err)
				err = fmt.Errorf("write %s: %w", req.msgType, err)
			} else {
				c.metrics.RecordMessageSent(string(req.msgType))
			}
			req.result <- err
		}
	}
}

// readLoop reads whole messages until the socket fails or closes.
func (c *Conn) readLoop(l *link) {
	defer recovery.RecoverWithLog(c.logger, "transport.readLoop")

	for {
		_, data, err := l.ws.Read(l.ctx)
		if err != nil {
			c.teardown(l, err)
			return
		}
		c.deliver(data)
	}
}

func (c *Conn) deliver(data []byte) {
	m, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn("discarding malformed message", logging.KeyError, err, logging.Bytes(len(data)))
		c.metrics.RecordDropped("invalid")
		return
	}
	if protocol.IsNoop(m) {
		c.logger.Debug("ignoring unknown message", logging.KeyType, m.MessageType())
		c.metrics.RecordDropped("unknown_type")
		return
	}

	c.metrics.RecordMessageReceived(string(m.MessageType()))
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(m)
	}
}

// heartbeatLoop sends a heartbeat every interval. A failed heartbeat is
// not a disconnect; only the reader decides that.
func (c *Conn) heartbeatLoop(l *link) {
	defer recovery.RecoverWithLog(c.logger, "transport.heartbeatLoop")

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(l.ctx, &protocol.Heartbeat{}); err != nil {
				c.logger.Debug("heartbeat failed", logging.KeyError, err)
			}
		}
	}
}

// teardown releases l and reports the disconnect once.
func (c *Conn) teardown(l *link, cause error) {
	l.once.Do(func() {
		l.err = cause
		l.cancel()
		l.ws.CloseNow()

		c.mu.Lock()
		current := c.cur == l
		c.mu.Unlock()
		if current {
			c.setState(StateDisconnected)
		}
		close(l.done)

		if status := websocket.CloseStatus(cause); status != -1 {
			c.logger.Info("disconnected", "status", status)
		} else if !errors.Is(cause, ErrClosed) {
			c.logger.Info("disconnected", logging.KeyError, cause)
		}

		if current && c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(cause)
		}
	})
}

// Close closes the connection. The close handshake is given
// CloseTimeout to finish; resources are released either way.
func (c *Conn) Close() error {
	if c.transition(StateConnecting, StateDisconnected) {
		c.mu.Lock()
		if c.dialCancel != nil {
			c.dialCancel()
		}
		c.mu.Unlock()
		return nil
	}
	if !c.transition(StateOpen, StateClosing) {
		return nil
	}

	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()

	closed := make(chan error, 1)
	go func() {
		closed <- l.ws.Close(websocket.StatusNormalClosure, "closing")
	}()

	timer := time.NewTimer(c.cfg.CloseTimeout)
	select {
	case err := <-closed:
		if err != nil {
			c.logger.Debug("close handshake failed", logging.KeyError, err)
		}
	case <-timer.C:
		c.logger.Debug("close handshake timed out", "timeout", c.cfg.CloseTimeout)
	}
	timer.Stop()

	c.teardown(l, ErrClosed)
	return nil
}

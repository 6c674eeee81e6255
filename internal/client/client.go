// Package client runs the controlled side of a session: it registers with
// the relay using an auth code, streams the screen to the agent and
// applies the agent's input.
package client

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/deskrelay/internal/capture"
	"github.com/postalsys/deskrelay/internal/health"
	"github.com/postalsys/deskrelay/internal/input"
	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/metrics"
	"github.com/postalsys/deskrelay/internal/protocol"
	"github.com/postalsys/deskrelay/internal/streamer"
	"github.com/postalsys/deskrelay/internal/sysinfo"
	"github.com/postalsys/deskrelay/internal/transport"
	"github.com/postalsys/deskrelay/internal/vault"
)

const (
	// DefaultSettleDelay is the pause between connecting and registering.
	DefaultSettleDelay = 1 * time.Second

	inboxSize = 16
)

var (
	// ErrAuthRejected is returned by Run when the relay refuses the code.
	ErrAuthRejected = errors.New("client: auth code rejected")

	// ErrNoAuthCode is returned by New without an auth code.
	ErrNoAuthCode = errors.New("client: auth code required")
)

// CaptureConfig holds the streaming parameters.
type CaptureConfig struct {
	Interval        time.Duration
	Quality         int
	ColorDepth      string
	CaptureCursor   bool
	Monitor         int
	NetworkPriority bool
	MaxBandwidth    int64

	// Encrypt seals frame payloads with a key derived from the auth code
	// and client id.
	Encrypt bool
}

// Config configures a Client.
type Config struct {
	URL      string
	AuthCode string
	Name     string

	Transport   transport.Config
	Reconnect   transport.ReconnectConfig
	SettleDelay time.Duration
	Capture     CaptureConfig

	// Source defaults to capture.NewSource.
	Source capture.Source

	// Injector applies input in global screen coordinates. Nil logs only.
	Injector input.Injector

	// Commander runs system commands. Nil refuses them.
	Commander input.Commander

	// Vault stores the reconnect credential. Nil disables persistence.
	Vault *vault.Vault

	// OnChat is called for chat messages from the agent.
	OnChat func(sender, text string)

	// OnStatus observes connection status lines for display.
	OnStatus func(status string)

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client is the controlled side of a session.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn     *transport.Conn
	source   capture.Source
	tracker  *input.Tracker
	streamer *streamer.Streamer
	inbox    chan protocol.Message
	stop     chan struct{}
	stopOnce sync.Once
	quit     chan struct{}
	quitOnce sync.Once

	running      atomic.Bool
	disconnected atomic.Bool

	mu       sync.Mutex
	clientID string
	rejected error
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.AuthCode == "" {
		return nil, ErrNoAuthCode
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	} else if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Name == "" {
		cfg.Name = sysinfo.Hostname()
	}
	if cfg.Reconnect.InitialDelay <= 0 {
		cfg.Reconnect = transport.DefaultReconnectConfig()
	}

	c := &Client{
		cfg:     cfg,
		logger:  logging.Component(cfg.Logger, "client"),
		metrics: cfg.Metrics,
		inbox:   make(chan protocol.Message, inboxSize),
		stop:    make(chan struct{}),
		quit:    make(chan struct{}),
	}

	c.source = cfg.Source
	if c.source == nil {
		c.source = capture.NewSource(cfg.Logger)
	}
	c.tracker = input.NewTracker(cfg.Injector, cfg.Logger)

	tcfg := cfg.Transport
	tcfg.Logger = cfg.Logger
	tcfg.Metrics = cfg.Metrics
	tcfg.OnMessage = c.enqueue
	userState := tcfg.OnStateChange
	tcfg.OnStateChange = func(s transport.State) {
		c.status(s.String())
		if userState != nil {
			userState(s)
		}
	}
	c.conn = transport.New(tcfg)

	cc := cfg.Capture
	c.streamer = streamer.New(streamer.Config{
		Source:          c.source,
		Sender:          c.conn,
		Interval:        cc.Interval,
		Quality:         cc.Quality,
		ColorDepth:      cc.ColorDepth,
		CaptureCursor:   cc.CaptureCursor,
		Cursor:          c.cursor,
		Monitor:         cc.Monitor,
		NetworkPriority: cc.NetworkPriority,
		MaxBandwidth:    cc.MaxBandwidth,
		Logger:          cfg.Logger,
		Metrics:         cfg.Metrics,
	})

	return c, nil
}

// enqueue hands a received message to the dispatcher. It blocks while the
// inbox is full so the receive loop applies backpressure.
func (c *Client) enqueue(m protocol.Message) {
	select {
	case c.inbox <- m:
	case <-c.stop:
	}
}

// cursor reports the tracked pointer relative to the captured monitor.
func (c *Client) cursor() (image.Point, bool) {
	p, ok := c.tracker.Cursor()
	if !ok {
		return image.Point{}, false
	}
	b := c.source.Bounds(c.monitor())
	return p.Sub(b.Min), p.In(b)
}

func (c *Client) monitor() int {
	return c.streamer.Monitor()
}

func (c *Client) status(s string) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s)
	}
}

// Run connects, registers and serves the session until ctx is cancelled,
// Disconnect is called or the relay rejects the auth code. Lost
// connections are re-established with exponential backoff. Cancelling ctx
// keeps the saved credential so the session can resume after a restart.
func (c *Client) Run(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)
	defer c.stopOnce.Do(func() { close(c.stop) })

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	select {
	case <-c.quit:
		cancel()
	default:
	}
	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer func() {
		if c.disconnected.Load() {
			c.clearCredential()
		}
	}()

	for {
		err := transport.Retry(ctx, c.cfg.Reconnect, c.logger, func(ctx context.Context) error {
			return c.conn.Connect(ctx, c.cfg.URL)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.serve(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		c.metrics.RecordReconnect()
		c.logger.Info("connection lost, reconnecting")
	}
}

// serve runs one connection: settle, register, then dispatch until the
// connection drops. It returns a non-nil error only when the session must
// not be retried.
func (c *Client) serve(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.streamer.Stop()

	done := c.conn.Done()

	// Messages left over from a previous connection are stale.
	for drained := false; !drained; {
		select {
		case <-c.inbox:
		default:
			drained = true
		}
	}

	select {
	case <-time.After(c.cfg.SettleDelay):
	case <-done:
		return nil
	case <-ctx.Done():
		c.conn.Close()
		return nil
	}

	if err := c.register(connCtx); err != nil {
		c.logger.Warn("registration failed", logging.KeyError, err)
	}

	h := &handler{c: c, ctx: connCtx}
	for {
		select {
		case m := <-c.inbox:
			protocol.Dispatch(m, h)
			if err := c.rejectedErr(); err != nil {
				c.conn.Close()
				return err
			}
		case <-done:
			c.tracker.Release(ctx)
			return nil
		case <-ctx.Done():
			c.streamer.Stop()
			c.conn.Close()
			return nil
		}
	}
}

func (c *Client) register(ctx context.Context) error {
	b := c.source.Bounds(0)
	info := sysinfo.Collect(c.cfg.Name, b.Dx(), b.Dy(), c.source.Displays())
	return c.conn.Send(ctx, &protocol.RegisterClient{
		AuthCode:   c.cfg.AuthCode,
		ClientName: c.cfg.Name,
		ClientInfo: info.Info,
	})
}

func (c *Client) rejectedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

func (c *Client) setClientID(id string) {
	c.mu.Lock()
	c.clientID = id
	c.mu.Unlock()
}

// ClientID returns the id assigned by the relay, or "".
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// SendChat sends a chat line to the agent. The relay fills in our client
// id.
func (c *Client) SendChat(ctx context.Context, text string) error {
	if c.ClientID() == "" {
		return transport.ErrNotConnected
	}
	return c.conn.Send(ctx, &protocol.ChatMessage{Message: text, Sender: c.cfg.Name})
}

// Streamer exposes the frame producer.
func (c *Client) Streamer() *streamer.Streamer {
	return c.streamer
}

// IsRunning implements health.StatsProvider.
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// Stats implements health.StatsProvider.
func (c *Client) Stats() health.Stats {
	_, sent, _ := c.streamer.Stats()
	return health.Stats{
		Role:       "client",
		Connected:  c.conn.IsOpen(),
		ClientID:   c.ClientID(),
		FramesSent: sent,
	}
}

// Disconnect ends the session for good: streaming stops, the connection
// is closed without reconnecting and the saved credential is removed. Run
// returns nil.
func (c *Client) Disconnect() {
	c.disconnected.Store(true)
	c.quitOnce.Do(func() { close(c.quit) })
	c.clearCredential()
}

func (c *Client) clearCredential() {
	if c.cfg.Vault != nil {
		c.cfg.Vault.Clear()
	}
}

// saveCredential stores the code with the id the relay knows us by.
func (c *Client) saveCredential(sessionID string) {
	if c.cfg.Vault == nil || sessionID == "" || c.disconnected.Load() {
		return
	}
	if err := c.cfg.Vault.Save(c.cfg.AuthCode, sessionID); err != nil {
		c.logger.Debug("credential not saved", logging.KeyError, err)
	}
}

func (c *Client) reject(msg string) {
	c.clearCredential()
	c.mu.Lock()
	c.rejected = fmt.Errorf("%w: %s", ErrAuthRejected, msg)
	c.mu.Unlock()
}

func itoa(n int) string { return strconv.Itoa(n) }

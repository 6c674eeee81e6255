// Package agent runs the controlling side of a session: it registers with
// the relay, hosts up to MaxSessions client sessions and sends input to
// them.
package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/deskrelay/internal/coords"
	"github.com/postalsys/deskrelay/internal/crypto"
	"github.com/postalsys/deskrelay/internal/health"
	"github.com/postalsys/deskrelay/internal/identity"
	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/metrics"
	"github.com/postalsys/deskrelay/internal/protocol"
	"github.com/postalsys/deskrelay/internal/recovery"
	"github.com/postalsys/deskrelay/internal/session"
	"github.com/postalsys/deskrelay/internal/transport"
)

const (
	// DefaultSettleDelay is the pause between connecting and registering.
	DefaultSettleDelay = 1 * time.Second

	inboxSize = 64
)

var (
	// ErrNoSession is returned when input is addressed to an unbound client.
	ErrNoSession = errors.New("agent: no session for client")

	// ErrNotRegistered is returned by Send* before the relay issued a code.
	ErrNotRegistered = errors.New("agent: not registered")
)

// Config configures an Agent.
type Config struct {
	URL     string
	Name    string
	DataDir string

	Transport   transport.Config
	Reconnect   transport.ReconnectConfig
	SettleDelay time.Duration
	Sessions    session.Config

	// OnAuthCode is called when the relay issues the code clients join with.
	OnAuthCode func(code string, sessionID int)

	// OnSessions is called after a session is bound or unbound.
	OnSessions func(sessions []*session.Session)

	// OnChat is called for chat messages from clients.
	OnChat func(clientID, sender, text string)

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Agent hosts client sessions. Session state is changed only by the
// dispatcher goroutine started by Run.
type Agent struct {
	cfg     Config
	id      identity.AgentID
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn     *transport.Conn
	sessions *session.Manager
	inbox    chan protocol.Message
	stop     chan struct{}
	stopOnce sync.Once

	running atomic.Bool

	mu        sync.Mutex
	authCode  string
	sessionID int

	// Owned by the dispatcher.
	keys map[string]*crypto.FrameKey
}

// New creates an Agent, loading or creating its persistent id in DataDir.
func New(cfg Config) (*Agent, error) {
	id, created, err := identity.LoadOrCreate(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	} else if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Reconnect.InitialDelay <= 0 {
		cfg.Reconnect = transport.DefaultReconnectConfig()
	}
	if cfg.Name == "" {
		cfg.Name = "agent-" + id.ShortString()
	}

	logger := logging.Component(cfg.Logger, "agent").With(logging.KeyAgentID, id.ShortString())
	if created {
		logger.Info("created agent identity", "data_dir", cfg.DataDir)
	}

	a := &Agent{
		cfg:     cfg,
		id:      id,
		logger:  logger,
		metrics: cfg.Metrics,
		inbox:   make(chan protocol.Message, inboxSize),
		stop:    make(chan struct{}),
		keys:    make(map[string]*crypto.FrameKey),
	}

	scfg := cfg.Sessions
	scfg.Logger = cfg.Logger
	scfg.Metrics = cfg.Metrics
	a.sessions = session.NewManager(scfg)

	tcfg := cfg.Transport
	tcfg.Logger = cfg.Logger
	tcfg.Metrics = cfg.Metrics
	tcfg.OnMessage = a.enqueue
	a.conn = transport.New(tcfg)

	return a, nil
}

func (a *Agent) enqueue(m protocol.Message) {
	select {
	case a.inbox <- m:
	case <-a.stop:
	}
}

// ID returns the persistent agent id.
func (a *Agent) ID() identity.AgentID {
	return a.id
}

// AuthCode returns the code issued by the relay and its session number.
func (a *Agent) AuthCode() (string, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authCode, a.sessionID
}

// Sessions returns the session manager.
func (a *Agent) Sessions() *session.Manager {
	return a.sessions
}

// Run connects, registers and serves sessions until ctx is cancelled.
// Lost connections unbind every session and are re-established with
// exponential backoff.
func (a *Agent) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("agent already running")
	}
	defer a.running.Store(false)
	defer a.stopOnce.Do(func() { close(a.stop) })

	a.logger.Info("starting agent", "name", a.cfg.Name)

	for {
		err := transport.Retry(ctx, a.cfg.Reconnect, a.logger, func(ctx context.Context) error {
			return a.conn.Connect(ctx, a.cfg.URL)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		a.serve(ctx)
		a.dropSessions()
		if ctx.Err() != nil {
			a.logger.Info("agent stopped")
			return nil
		}

		a.metrics.RecordReconnect()
		a.logger.Info("connection lost, reconnecting")
	}
}

// serve runs one connection until it drops or ctx is cancelled.
func (a *Agent) serve(ctx context.Context) {
	done := a.conn.Done()

	for drained := false; !drained; {
		select {
		case <-a.inbox:
		default:
			drained = true
		}
	}

	select {
	case <-time.After(a.cfg.SettleDelay):
	case <-done:
		return
	case <-ctx.Done():
		a.conn.Close()
		return
	}

	err := a.conn.Send(ctx, &protocol.RegisterAgent{AgentID: a.id.String(), AgentName: a.cfg.Name})
	if err != nil {
		a.logger.Warn("registration failed", logging.KeyError, err)
	}

	h := &handler{a: a}
	for {
		select {
		case m := <-a.inbox:
			a.dispatch(h, m)
		case <-done:
			return
		case <-ctx.Done():
			a.conn.Close()
			return
		}
	}
}

func (a *Agent) dispatch(h *handler, m protocol.Message) {
	defer recovery.RecoverWithLog(a.logger, "agent.dispatch")
	protocol.Dispatch(m, h)
}

// dropSessions unbinds everything after the relay connection ended. The
// issued code is no longer valid either.
func (a *Agent) dropSessions() {
	if n := a.sessions.UnbindAll(); n > 0 {
		a.logger.Info("released sessions", logging.KeyCount, n)
		a.sessionsChanged()
	}
	for id := range a.keys {
		delete(a.keys, id)
	}
	a.mu.Lock()
	a.authCode, a.sessionID = "", 0
	a.mu.Unlock()
}

func (a *Agent) sessionsChanged() {
	if a.cfg.OnSessions != nil {
		a.cfg.OnSessions(a.sessions.Sessions())
	}
}

// frameKey returns the key that opens sealed frames from clientID.
func (a *Agent) frameKey(clientID string) (*crypto.FrameKey, error) {
	if k, ok := a.keys[clientID]; ok {
		return k, nil
	}
	code, _ := a.AuthCode()
	if code == "" {
		return nil, ErrNotRegistered
	}
	k, err := crypto.DeriveFrameKey(code, clientID)
	if err != nil {
		return nil, err
	}
	a.keys[clientID] = k
	return k, nil
}

// decodeFrame returns the image bytes carried by m.
func (a *Agent) decodeFrame(m *protocol.ScreenData) ([]byte, error) {
	if !m.Encrypted {
		return base64.StdEncoding.DecodeString(m.Data)
	}
	k, err := a.frameKey(m.ClientID)
	if err != nil {
		return nil, err
	}
	return k.OpenString(m.Data)
}

func (a *Agent) session(clientID string) (*session.Session, error) {
	s, ok := a.sessions.Get(clientID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, clientID)
	}
	return s, nil
}

// SendMouse maps p, a point relative to the client's surface, to the
// remote screen and sends the mouse event.
func (a *Agent) SendMouse(ctx context.Context, clientID, action string, p coords.Point, delta int) error {
	s, err := a.session(clientID)
	if err != nil {
		return err
	}
	return a.conn.Send(ctx, s.Mouse(action, p, delta))
}

// SendKey sends a keyboard event to clientID.
func (a *Agent) SendKey(ctx context.Context, clientID, action string, keyCode int, key string, mods protocol.Modifiers) error {
	s, err := a.session(clientID)
	if err != nil {
		return err
	}
	return a.conn.Send(ctx, s.Key(action, keyCode, key, mods))
}

// SendSettings changes the client's streaming parameters. Zero fields
// are left unchanged by the client.
func (a *Agent) SendSettings(ctx context.Context, clientID string, set protocol.Settings) error {
	if _, err := a.session(clientID); err != nil {
		return err
	}
	set.TargetID = clientID
	return a.conn.Send(ctx, &set)
}

// SendSystemCommand asks the client to run one of the protocol commands.
func (a *Agent) SendSystemCommand(ctx context.Context, clientID, command, params string) error {
	if _, err := a.session(clientID); err != nil {
		return err
	}
	return a.conn.Send(ctx, &protocol.SystemCommand{TargetID: clientID, Command: command, Params: params})
}

// SendChat sends a chat line to clientID.
func (a *Agent) SendChat(ctx context.Context, clientID, text string) error {
	if _, err := a.session(clientID); err != nil {
		return err
	}
	return a.conn.Send(ctx, &protocol.ChatMessage{TargetID: clientID, Message: text, Sender: a.cfg.Name})
}

// IsRunning implements health.StatsProvider.
func (a *Agent) IsRunning() bool {
	return a.running.Load()
}

// Stats implements health.StatsProvider.
func (a *Agent) Stats() health.Stats {
	return health.Stats{
		Role:        "agent",
		Connected:   a.conn.IsOpen(),
		Sessions:    a.sessions.Len(),
		MaxSessions: a.sessions.Max(),
	}
}

// Package relay implements the development relay: it pairs clients with
// agents through six digit auth codes and forwards messages between them.
package relay

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postalsys/deskrelay/internal/health"
	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/metrics"
	"github.com/postalsys/deskrelay/internal/protocol"
	"github.com/postalsys/deskrelay/internal/recovery"
	"github.com/postalsys/deskrelay/internal/sysinfo"
	"github.com/postalsys/deskrelay/internal/transport"
)

const (
	// DefaultCodeTTL is how long an issued auth code accepts new clients.
	DefaultCodeTTL = 24 * time.Hour

	// DefaultSendTimeout bounds each forwarded write.
	DefaultSendTimeout = 10 * time.Second

	inboxSize = 16
)

var (
	// ErrInvalidAuthCode is returned for unknown or expired codes.
	ErrInvalidAuthCode = errors.New("relay: invalid auth code")

	// ErrClosed is returned after the hub has been closed.
	ErrClosed = errors.New("relay: closed")
)

// Config configures a Hub.
type Config struct {
	// CodeTTL limits how long an auth code accepts new clients. Zero
	// selects DefaultCodeTTL; negative disables expiry.
	CodeTTL time.Duration

	SendTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now is replaced in tests.
	Now func() time.Time
}

type role int

const (
	roleNone role = iota
	roleAgent
	roleClient
)

// peer is one accepted connection.
type peer struct {
	conn  *transport.Conn
	inbox chan protocol.Message
	gone  chan struct{}

	// Guarded by Hub.mu.
	role   role
	agent  *agentEntry
	client *clientEntry
}

type agentEntry struct {
	p         *peer
	id        string
	name      string
	code      string
	sessionID int
	issuedAt  time.Time
	clients   map[string]*clientEntry
}

type clientEntry struct {
	p     *peer
	info  protocol.ClientInfo
	agent *agentEntry
}

// Hub is the relay's routing table. It is an http.Handler accepting one
// WebSocket per request.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	peers       map[*peer]struct{}
	codes       map[string]*agentEntry
	clients     map[string]*clientEntry
	nextSession int
	closed      bool
	done        chan struct{}
}

// New creates a Hub.
func New(cfg Config) *Hub {
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		cfg:     cfg,
		logger:  logging.Component(cfg.Logger, "relay"),
		metrics: cfg.Metrics,
		peers:   make(map[*peer]struct{}),
		codes:   make(map[string]*agentEntry),
		clients: make(map[string]*clientEntry),
		done:    make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it
// closes. Messages from one connection are handled in order on this
// goroutine.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := &peer{
		inbox: make(chan protocol.Message, inboxSize),
		gone:  make(chan struct{}),
	}

	conn, err := transport.Accept(w, r, transport.Config{
		HeartbeatInterval: -1,
		Logger:            h.cfg.Logger,
		Metrics:           h.metrics,
		OnMessage: func(m protocol.Message) {
			select {
			case p.inbox <- m:
			case <-p.gone:
			}
		},
	})
	if err != nil {
		h.logger.Warn("accept failed", logging.KeyRemote, r.RemoteAddr, logging.KeyError, err)
		return
	}
	p.conn = conn

	if !h.track(p) {
		conn.Close()
		return
	}
	defer close(p.gone)
	defer h.drop(p)

	h.logger.Debug("peer connected", logging.KeyRemote, r.RemoteAddr)
	h.send(p, &protocol.Connected{Message: "connected to relay"})

	ph := &peerHandler{hub: h, p: p}
	done := conn.Done()
	for {
		select {
		case m := <-p.inbox:
			h.dispatch(ph, m)
		case <-done:
			return
		case <-h.done:
			conn.Close()
			return
		}
	}
}

func (h *Hub) dispatch(ph *peerHandler, m protocol.Message) {
	defer recovery.RecoverWithLog(h.logger, "relay.dispatch")
	protocol.Dispatch(m, ph)
}

func (h *Hub) track(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.peers[p] = struct{}{}
	return true
}

// send writes m to p, logging failures.
func (h *Hub) send(p *peer, m protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SendTimeout)
	defer cancel()
	if err := p.conn.Send(ctx, m); err != nil {
		h.logger.Debug("send failed", logging.KeyType, m.MessageType(), logging.KeyError, err)
	}
}

func (h *Hub) sendError(p *peer, code, msg string) {
	h.send(p, &protocol.Error{Code: code, Message: msg})
}

// newCode returns an unused six digit code. Caller holds h.mu.
func (h *Hub) newCode() (string, error) {
	for i := 0; i < 100; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
		if err != nil {
			return "", fmt.Errorf("generate auth code: %w", err)
		}
		code := fmt.Sprintf("%06d", n.Int64())
		if _, taken := h.codes[code]; !taken {
			return code, nil
		}
	}
	return "", errors.New("generate auth code: code space exhausted")
}

// registerAgent issues an auth code for p.
func (h *Hub) registerAgent(p *peer, msg *protocol.RegisterAgent) (*protocol.AuthCode, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch p.role {
	case roleClient:
		return nil, errors.New("connection is registered as a client")
	case roleAgent:
		// Re-registration keeps the code clients already know.
		a := p.agent
		a.name = msg.AgentName
		return &protocol.AuthCode{AuthCode: a.code, SessionID: a.sessionID}, nil
	}

	code, err := h.newCode()
	if err != nil {
		return nil, err
	}
	h.nextSession++

	id := msg.AgentID
	if id == "" {
		id = uuid.NewString()
	}
	a := &agentEntry{
		p:         p,
		id:        id,
		name:      msg.AgentName,
		code:      code,
		sessionID: h.nextSession,
		issuedAt:  h.cfg.Now(),
		clients:   make(map[string]*clientEntry),
	}
	p.role = roleAgent
	p.agent = a
	h.codes[code] = a
	h.updateCounts()

	h.logger.Info("agent registered",
		logging.KeyAgentID, id,
		"name", msg.AgentName,
		logging.KeySessionID, a.sessionID)

	return &protocol.AuthCode{AuthCode: code, SessionID: a.sessionID}, nil
}

// registerClient binds p to the agent owning code. A previous binding
// of the same connection is replaced and returned.
func (h *Hub) registerClient(p *peer, code, name, info string) (c, prev *clientEntry, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.role == roleAgent {
		return nil, nil, errors.New("connection is registered as an agent")
	}

	a, ok := h.codes[code]
	if !ok {
		return nil, nil, ErrInvalidAuthCode
	}
	now := h.cfg.Now()
	if h.cfg.CodeTTL > 0 && now.Sub(a.issuedAt) > h.cfg.CodeTTL {
		return nil, nil, fmt.Errorf("%w: expired", ErrInvalidAuthCode)
	}

	if p.client != nil {
		prev = p.client
		h.unbindLocked(prev)
	}

	ci := sysinfo.ParseDescription(info)
	ci.ID = uuid.NewString()
	ci.Name = name
	ci.ConnectedAt = now.UTC().Format(time.RFC3339)

	c = &clientEntry{p: p, info: ci, agent: a}
	p.role = roleClient
	p.client = c
	a.clients[ci.ID] = c
	h.clients[ci.ID] = c
	h.updateCounts()

	h.logger.Info("client registered",
		logging.KeyClientID, ci.ID,
		"name", name,
		logging.KeyAgentID, a.id)
	return c, prev, nil
}

// unbindLocked removes c from the routing table. Caller holds h.mu.
func (h *Hub) unbindLocked(c *clientEntry) {
	delete(h.clients, c.info.ID)
	delete(c.agent.clients, c.info.ID)
	if c.p.client == c {
		c.p.client = nil
	}
	h.updateCounts()
}

// drop forgets p after its connection ended.
func (h *Hub) drop(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)

	var notifyAgent *peer
	var left protocol.ClientInfo
	var orphans []*peer

	switch p.role {
	case roleClient:
		if c := p.client; c != nil {
			h.unbindLocked(c)
			if _, live := h.codes[c.agent.code]; live {
				notifyAgent = c.agent.p
			}
			left = c.info
		}
	case roleAgent:
		a := p.agent
		delete(h.codes, a.code)
		for _, c := range a.clients {
			orphans = append(orphans, c.p)
			delete(h.clients, c.info.ID)
			c.p.client = nil
		}
		a.clients = nil
		h.updateCounts()
		h.logger.Info("agent disconnected", logging.KeyAgentID, a.id, logging.KeyCount, len(orphans))
	}
	h.mu.Unlock()

	if notifyAgent != nil {
		h.logger.Info("client disconnected", logging.KeyClientID, left.ID)
		h.send(notifyAgent, &protocol.ClientDisconnected{Client: left})
	}
	for _, o := range orphans {
		h.sendError(o, protocol.CodeAgentDisconnected, "agent disconnected")
		o.conn.Close()
	}
}

// updateCounts refreshes the relay gauges. Caller holds h.mu.
func (h *Hub) updateCounts() {
	h.metrics.SetRelayCounts(len(h.codes), len(h.clients))
}

// clientOf returns the client entry for id if it belongs to a.
func (h *Hub) clientOf(a *agentEntry, id string) (*clientEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok || c.agent != a {
		return nil, false
	}
	return c, true
}

// Counts returns the number of registered agents and clients.
func (h *Hub) Counts() (agents, clients int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.codes), len(h.clients)
}

// IsRunning implements health.StatsProvider.
func (h *Hub) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Stats implements health.StatsProvider.
func (h *Hub) Stats() health.Stats {
	agents, clients := h.Counts()
	return health.Stats{
		Role:      "relay",
		Connected: h.IsRunning(),
		Agents:    agents,
		Clients:   clients,
	}
}

// Close disconnects every peer. Further connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()
	return nil
}

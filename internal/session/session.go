// Package session is the agent-side registry of concurrently connected
// clients. Each bound session owns one display surface and one coordinate
// mapping context; the registry enforces the concurrency limit and lays
// the surfaces out as equal rows.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/deskrelay/internal/coords"
	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/metrics"
	"github.com/postalsys/deskrelay/internal/protocol"
)

// MaxSessions is the default limit on concurrently bound sessions.
const MaxSessions = 3

// Default display area used for layout.
const (
	DefaultWidth   = 1280
	DefaultHeight  = 960
	DefaultSpacing = 8
	DefaultPadding = 8
)

var (
	// ErrAtCapacity is returned by Bind when MaxSessions are bound.
	ErrAtCapacity = errors.New("session limit reached")

	// ErrAlreadyBound is returned by Bind for a client id already bound.
	ErrAlreadyBound = errors.New("client already has a session")

	// ErrMissingClientID is returned by Bind for an empty client id.
	ErrMissingClientID = errors.New("client id is required")
)

// Session binds one client to its surface and mapping context.
type Session struct {
	Client    protocol.ClientInfo
	BoundAt   time.Time
	Surface   *Surface
	Mapper    *coords.Mapper
	FPS       *FPSTracker
	lastFrame atomic.Int64
}

// ID returns the client id.
func (s *Session) ID() string {
	return s.Client.ID
}

// Present shows a frame on the session surface and updates the mapper's
// image size and the FPS counter.
func (s *Session) Present(f Frame) {
	if !s.Surface.Present(f) {
		return
	}
	if f.Width > 0 && f.Height > 0 {
		s.Mapper.SetImage(coords.Size{W: f.Width, H: f.Height})
	}
	s.FPS.Record(f.ReceivedAt)
	s.lastFrame.Store(f.Number)
}

// Mouse builds a mouse_event for a point on the session surface. The
// point is relative to the surface's top-left corner and is mapped to
// remote screen pixels.
func (s *Session) Mouse(action string, p coords.Point, delta int) *protocol.MouseMessage {
	remote := s.Mapper.ToRemote(p)
	img := s.Mapper.Image()

	return &protocol.MouseMessage{
		TargetID: s.Client.ID,
		Event: protocol.MouseEvent{
			Action:       action,
			X:            remote.X,
			Y:            remote.Y,
			Delta:        delta,
			ScreenWidth:  img.W,
			ScreenHeight: img.H,
		},
	}
}

// Key builds a keyboard_event addressed to the session's client.
func (s *Session) Key(action string, keyCode int, key string, mods protocol.Modifiers) *protocol.KeyboardMessage {
	return &protocol.KeyboardMessage{
		TargetID: s.Client.ID,
		Event: protocol.KeyboardEvent{
			Action:    action,
			KeyCode:   keyCode,
			Key:       key,
			Modifiers: mods,
		},
	}
}

// Config configures a Manager.
type Config struct {
	MaxSessions int
	Width       float64
	Height      float64
	Spacing     float64
	Padding     float64

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now is used for bind and frame timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Manager owns the session table and the ordered list used for layout.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []*Session
}

// NewManager creates an empty session manager.
func NewManager(cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = MaxSessions
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		cfg:      cfg,
		logger:   logging.Component(cfg.Logger, "sessions"),
		metrics:  cfg.Metrics,
		sessions: make(map[string]*Session),
	}
}

// Bind creates a session for client. At capacity the request is dropped:
// nothing is allocated, the rejection is logged and ErrAtCapacity returned.
func (m *Manager) Bind(client protocol.ClientInfo) (*Session, error) {
	if client.ID == "" {
		return nil, ErrMissingClientID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[client.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyBound, client.ID)
	}
	if len(m.order) >= m.cfg.MaxSessions {
		m.logger.Warn("session limit reached, dropping client",
			logging.KeyClientID, client.ID,
			"name", client.Name,
			"max", m.cfg.MaxSessions)
		m.metrics.RecordSessionRejected()
		return nil, ErrAtCapacity
	}

	s := &Session{
		Client:  client,
		BoundAt: m.cfg.Now(),
		Surface: newSurface(),
		Mapper:  coords.NewMapper(),
		FPS:     NewFPSTracker(),
	}
	m.sessions[client.ID] = s
	m.order = append(m.order, s)
	m.relayout()

	m.logger.Info("session bound",
		logging.KeyClientID, client.ID,
		"name", client.Name,
		"os", client.OS,
		logging.KeyCount, len(m.order))
	m.metrics.SetSessions(len(m.order))
	return s, nil
}

// Unbind releases the session of clientID. It reports whether one existed.
func (m *Manager) Unbind(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[clientID]
	if !ok {
		return false
	}

	delete(m.sessions, clientID)
	for i, o := range m.order {
		if o == s {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	s.Surface.release()
	m.relayout()

	m.logger.Info("session unbound",
		logging.KeyClientID, clientID,
		logging.KeyFrame, s.lastFrame.Load(),
		logging.KeyCount, len(m.order))
	m.metrics.SetSessions(len(m.order))
	m.metrics.ForgetClient(clientID)
	return true
}

// UnbindAll releases every session, for example after the relay
// connection is lost.
func (m *Manager) UnbindAll() int {
	n := 0
	for _, s := range m.Sessions() {
		if m.Unbind(s.ID()) {
			n++
		}
	}
	return n
}

// Resize changes the display area and recomputes the layout.
func (m *Manager) Resize(width, height float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Width, m.cfg.Height = width, height
	m.relayout()
}

// relayout assigns row rectangles in bind order. Caller holds mu.
func (m *Manager) relayout() {
	rows := Layout(m.cfg.Width, m.cfg.Height, len(m.order), m.cfg.Spacing, m.cfg.Padding)
	for i, s := range m.order {
		var r Rect
		if i < len(rows) {
			r = rows[i]
		}
		s.Surface.setBounds(r)
		s.Mapper.SetBox(coords.Size{W: int(math.Round(r.W)), H: int(math.Round(r.H))})
	}
}

// Get returns the session of clientID.
func (m *Manager) Get(clientID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[clientID]
	return s, ok
}

// Sessions returns the bound sessions in layout order.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Session(nil), m.order...)
}

// Len returns the number of bound sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Max returns the session limit.
func (m *Manager) Max() int {
	return m.cfg.MaxSessions
}

// Present routes a frame to the session of clientID. It reports whether
// the session exists.
func (m *Manager) Present(clientID string, f Frame) bool {
	s, ok := m.Get(clientID)
	if !ok {
		return false
	}
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = m.cfg.Now()
	}
	s.Present(f)
	return true
}

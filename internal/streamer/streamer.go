// Package streamer turns a capture source into a stream of screen_data
// messages: capture, cursor overlay, color reduction, JPEG, base64 and an
// optional seal, once per tick.
package streamer

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/deskrelay/internal/capture"
	"github.com/postalsys/deskrelay/internal/crypto"
	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/metrics"
	"github.com/postalsys/deskrelay/internal/protocol"
	"github.com/postalsys/deskrelay/internal/recovery"
)

// DefaultInterval is the capture period (10 frames per second).
const DefaultInterval = 100 * time.Millisecond

// Sender sends one message. transport.Conn implements it.
type Sender interface {
	Send(ctx context.Context, m protocol.Message) error
}

// CursorFunc reports the pointer position relative to the captured
// monitor, and whether it is known.
type CursorFunc func() (image.Point, bool)

// Config configures a Streamer.
type Config struct {
	Source   capture.Source
	Sender   Sender
	ClientID string
	Interval time.Duration

	Quality       int
	ColorDepth    string
	CaptureCursor bool
	Cursor        CursorFunc
	Monitor       int

	// NetworkPriority caps the frame byte rate at MaxBandwidth bytes per
	// second. The cap is ignored when MaxBandwidth is zero.
	NetworkPriority bool
	MaxBandwidth    int64

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Streamer periodically captures and sends frames. Start and Stop are
// idempotent; settings may change while it runs.
type Streamer struct {
	source   capture.Source
	sender   Sender
	interval time.Duration
	cursor   CursorFunc
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu              sync.Mutex
	clientID        string
	quality         int
	colorDepth      string
	captureCursor   bool
	monitor         int
	networkPriority bool
	limiter         *rate.Limiter
	key             *crypto.FrameKey

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	frame  atomic.Int64
	sent   atomic.Int64
	errors atomic.Int64
}

// New creates a stopped Streamer.
func New(cfg Config) *Streamer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ColorDepth == "" || !capture.ValidColorDepth(cfg.ColorDepth) {
		cfg.ColorDepth = protocol.DefaultColorDepth
	}

	s := &Streamer{
		source:          cfg.Source,
		sender:          cfg.Sender,
		interval:        cfg.Interval,
		cursor:          cfg.Cursor,
		logger:          logging.Component(cfg.Logger, "streamer"),
		metrics:         cfg.Metrics,
		clientID:        cfg.ClientID,
		quality:         capture.ClampQuality(cfg.Quality),
		colorDepth:      cfg.ColorDepth,
		captureCursor:   cfg.CaptureCursor,
		monitor:         cfg.Monitor,
		networkPriority: cfg.NetworkPriority,
	}
	if cfg.MaxBandwidth > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MaxBandwidth), int(cfg.MaxBandwidth))
	}
	return s
}

// Start begins streaming. Calling Start on a running Streamer does nothing.
func (s *Streamer) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.logger.Info("streaming started",
		logging.KeyClientID, s.ClientID(),
		"interval", s.interval)

	go s.run(ctx, s.done)
}

// Stop halts streaming and waits for the current tick to finish. It is
// safe to call on a Streamer that was never started.
func (s *Streamer) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	<-s.done

	s.logger.Info("streaming stopped",
		logging.KeyFrame, s.frame.Load(),
		"errors", s.errors.Load())
}

// Running reports whether the capture loop is active.
func (s *Streamer) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Streamer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer recovery.RecoverWithLog(s.logger, "streamer.run")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick produces and sends one frame. Failures are logged and counted;
// a panic in the capture path is contained to this tick.
func (s *Streamer) tick(ctx context.Context) {
	defer recovery.RecoverWithCallback(s.logger, "streamer.tick", func(any) {
		s.fail()
	})

	msg, err := s.Frame()
	if err != nil {
		s.fail()
		s.logger.Debug("frame skipped", logging.KeyError, err)
		return
	}

	if err := s.throttle(ctx, len(msg.Data)); err != nil {
		return
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		s.fail()
		s.logger.Debug("frame send failed", logging.KeyFrame, msg.FrameNumber, logging.KeyError, err)
		return
	}

	s.sent.Add(1)
	s.metrics.RecordFrame(len(msg.Data))
}

func (s *Streamer) fail() {
	s.errors.Add(1)
	s.metrics.RecordFrameError()
}

// Frame captures and encodes a single frame without sending it. Each
// successful call consumes the next frame number.
func (s *Streamer) Frame() (*protocol.ScreenData, error) {
	s.mu.Lock()
	clientID := s.clientID
	quality := s.quality
	depth := s.colorDepth
	drawCursor := s.captureCursor
	monitor := s.monitor
	key := s.key
	s.mu.Unlock()

	img, err := s.source.Capture(monitor)
	if err != nil {
		return nil, err
	}

	if drawCursor && s.cursor != nil {
		if p, ok := s.cursor(); ok {
			capture.DrawCursor(img, p)
		}
	}
	capture.Quantize(img, depth)

	jpg, err := capture.EncodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}

	msg := &protocol.ScreenData{
		ClientID:     clientID,
		Width:        img.Bounds().Dx(),
		Height:       img.Bounds().Dy(),
		MonitorIndex: monitor,
		Quality:      quality,
		ColorDepth:   depth,
	}

	if key != nil {
		sealed, err := key.SealString(jpg)
		if err != nil {
			return nil, fmt.Errorf("seal frame: %w", err)
		}
		msg.Data = sealed
		msg.Encrypted = true
	} else {
		msg.Data = base64.StdEncoding.EncodeToString(jpg)
	}

	msg.FrameNumber = s.frame.Add(1)
	return msg, nil
}

// throttle waits for n bytes of budget when the bandwidth cap is active.
func (s *Streamer) throttle(ctx context.Context, n int) error {
	s.mu.Lock()
	limiter := s.limiter
	active := s.networkPriority
	s.mu.Unlock()

	if !active || limiter == nil {
		return nil
	}
	return waitBytes(ctx, limiter, n)
}

// waitBytes waits for n tokens in burst-sized steps so frames larger than
// the burst still pass.
func waitBytes(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// ApplySettings updates streaming parameters from a settings message.
// Zero or absent fields leave the current value unchanged.
func (s *Streamer) ApplySettings(set *protocol.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set.Quality != 0 {
		s.quality = capture.ClampQuality(set.Quality)
	}
	if set.ColorDepth != "" {
		if capture.ValidColorDepth(set.ColorDepth) {
			s.colorDepth = set.ColorDepth
		} else {
			s.logger.Warn("ignoring unknown color depth", "color_depth", set.ColorDepth)
		}
	}
	if set.CaptureCursor != nil {
		s.captureCursor = *set.CaptureCursor
	}
	if set.NetworkPriority != nil {
		s.networkPriority = *set.NetworkPriority
	}
	if set.MonitorIndex != nil {
		if m := *set.MonitorIndex; m >= 0 && m < s.source.Displays() {
			s.monitor = m
		} else {
			s.logger.Warn("ignoring unknown monitor", "monitor", m, "displays", s.source.Displays())
		}
	}

	s.logger.Info("settings applied",
		"quality", s.quality,
		"color_depth", s.colorDepth,
		"capture_cursor", s.captureCursor,
		"network_priority", s.networkPriority,
		"monitor", s.monitor)
}

// SetClientID sets the id stamped on outgoing frames.
func (s *Streamer) SetClientID(id string) {
	s.mu.Lock()
	s.clientID = id
	s.mu.Unlock()
}

// ClientID returns the id stamped on outgoing frames.
func (s *Streamer) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// SetKey enables sealing of frame payloads. A nil key disables it.
func (s *Streamer) SetKey(k *crypto.FrameKey) {
	s.mu.Lock()
	s.key = k
	s.mu.Unlock()
}

// Monitor returns the monitor being captured.
func (s *Streamer) Monitor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor
}

// Settings is a snapshot of the runtime-mutable parameters.
type Settings struct {
	Quality         int
	ColorDepth      string
	CaptureCursor   bool
	NetworkPriority bool
}

// Settings returns the current parameters.
func (s *Streamer) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Settings{
		Quality:         s.quality,
		ColorDepth:      s.colorDepth,
		CaptureCursor:   s.captureCursor,
		NetworkPriority: s.networkPriority,
	}
}

// Stats returns the last frame number, frames sent and failed ticks.
func (s *Streamer) Stats() (frame, sent, errors int64) {
	return s.frame.Load(), s.sent.Load(), s.errors.Load()
}

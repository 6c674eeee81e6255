package client

import (
	"context"
	"image"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/postalsys/deskrelay/internal/coords"
	"github.com/postalsys/deskrelay/internal/crypto"
	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/protocol"
	"github.com/postalsys/deskrelay/internal/recovery"
)

const commandTimeout = 30 * time.Second

// handler applies messages for one connection. All methods run on the
// dispatcher goroutine.
type handler struct {
	c   *Client
	ctx context.Context
}

func (h *handler) HandleConnected(m *protocol.Connected) {
	h.c.logger.Debug("relay greeting", "message", m.Message)
}

func (h *handler) HandleAuthCode(m *protocol.AuthCode) {
	h.c.saveCredential(itoa(m.SessionID))
}

func (h *handler) HandleClientRegistered(m *protocol.ClientRegistered) {
	c := h.c
	c.setClientID(m.ClientID)
	c.saveCredential(m.ClientID)
	c.logger.Info("registered", logging.KeyClientID, m.ClientID, "agent", m.AgentName)
	c.status("registered")
	h.startStreaming()
}

func (h *handler) HandleAgentConnected(m *protocol.AgentConnected) {
	h.c.logger.Info("agent connected", "agent", m.AgentName)
	h.startStreaming()
}

func (h *handler) startStreaming() {
	c := h.c
	id := c.ClientID()
	if id == "" {
		return
	}
	s := c.streamer
	s.SetClientID(id)
	if c.cfg.Capture.Encrypt {
		key, err := crypto.DeriveFrameKey(c.cfg.AuthCode, id)
		if err != nil {
			c.logger.Warn("frame sealing disabled", logging.KeyError, err)
		} else {
			s.SetKey(key)
		}
	}
	s.Start(h.ctx)
}

// localPoint converts a point the agent mapped against its view of the
// remote screen into global coordinates of the captured monitor.
func (h *handler) localPoint(x, y, sw, sh int) (int, int) {
	b := h.c.source.Bounds(h.c.monitor())
	local := coords.Size{W: b.Dx(), H: b.Dy()}
	p := coords.Rescale(coords.Point{X: x, Y: y}, coords.Size{W: sw, H: sh}, local)
	g := image.Pt(p.X, p.Y).Add(b.Min)
	return g.X, g.Y
}

func (h *handler) HandleMouse(m *protocol.MouseMessage) {
	ev := m.Event
	ev.X, ev.Y = h.localPoint(ev.X, ev.Y, ev.ScreenWidth, ev.ScreenHeight)
	if err := h.c.tracker.Mouse(h.ctx, ev); err != nil {
		h.c.logger.Debug("mouse event not applied", logging.KeyError, err)
	}
}

func (h *handler) HandleKeyboard(m *protocol.KeyboardMessage) {
	if err := h.c.tracker.Key(h.ctx, m.Event); err != nil {
		h.c.logger.Debug("keyboard event not applied", logging.KeyError, err)
	}
}

func (h *handler) HandleSystemCommand(m *protocol.SystemCommand) {
	c := h.c
	if c.cfg.Commander == nil {
		c.logger.Warn("system command refused", "command", m.Command)
		return
	}
	// Commands may start long-running programs; the dispatcher does not
	// wait for them.
	command, params := m.Command, m.Params
	recovery.Go(c.logger, "client.command", func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := c.cfg.Commander.Run(ctx, command, params); err != nil {
			c.logger.Warn("system command failed", "command", command, logging.KeyError, err)
		}
	})
}

func (h *handler) HandleSettings(m *protocol.Settings) {
	h.c.streamer.ApplySettings(m)
}

func (h *handler) HandleChat(m *protocol.ChatMessage) {
	h.c.logger.Info("chat", "sender", m.Sender, "message", m.Message)
	if h.c.cfg.OnChat != nil {
		h.c.cfg.OnChat(m.Sender, m.Message)
	}
}

func (h *handler) HandleFileTransfer(m *protocol.FileTransfer) {
	h.c.logger.Info("file transfer not supported",
		"action", m.Action,
		"file", m.FileName,
		"size", humanize.IBytes(uint64(max(m.FileSize, 0))))
}

func (h *handler) HandleError(m *protocol.Error) {
	c := h.c
	c.logger.Warn("relay error", "code", m.Code, "message", m.Message)
	c.status("error: " + m.Message)
	if m.Code == protocol.CodeInvalidAuthCode {
		c.reject(m.Message)
	}
}

func (h *handler) HandleHeartbeat(*protocol.Heartbeat) {}

func (h *handler) HandleUnknown(m *protocol.Unknown) {
	h.c.logger.Debug("ignoring unknown message", logging.KeyType, m.Type)
}

// Agent-side and relay-bound messages are not expected here.

func (h *handler) HandleRegisterAgent(m *protocol.RegisterAgent)   { h.ignore(m) }
func (h *handler) HandleRegisterClient(m *protocol.RegisterClient) { h.ignore(m) }
func (h *handler) HandleConnectClient(m *protocol.ConnectClient)   { h.ignore(m) }
func (h *handler) HandleClientConnected(m *protocol.ClientConnected) {
	h.ignore(m)
}
func (h *handler) HandleClientDisconnected(m *protocol.ClientDisconnected) {
	h.ignore(m)
}
func (h *handler) HandleScreenData(m *protocol.ScreenData) { h.ignore(m) }

func (h *handler) ignore(m protocol.Message) {
	h.c.logger.Debug("ignoring unexpected message", logging.KeyType, m.MessageType())
}

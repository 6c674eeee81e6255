package agent

import (
	"errors"

	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/protocol"
	"github.com/postalsys/deskrelay/internal/session"
)

// handler applies relay messages on the dispatcher goroutine.
type handler struct {
	a *Agent
}

func (h *handler) HandleConnected(m *protocol.Connected) {
	h.a.logger.Debug("relay greeting", "message", m.Message)
}

func (h *handler) HandleAuthCode(m *protocol.AuthCode) {
	a := h.a
	a.mu.Lock()
	a.authCode, a.sessionID = m.AuthCode, m.SessionID
	a.mu.Unlock()

	a.logger.Info("auth code issued", "auth_code", m.AuthCode, logging.KeySessionID, m.SessionID)
	if a.cfg.OnAuthCode != nil {
		a.cfg.OnAuthCode(m.AuthCode, m.SessionID)
	}
}

func (h *handler) HandleClientConnected(m *protocol.ClientConnected) {
	if _, err := h.a.sessions.Bind(m.Client); err != nil {
		if !errors.Is(err, session.ErrAtCapacity) {
			h.a.logger.Warn("client not bound", logging.KeyClientID, m.Client.ID, logging.KeyError, err)
		}
		return
	}
	h.a.sessionsChanged()
}

func (h *handler) HandleClientDisconnected(m *protocol.ClientDisconnected) {
	delete(h.a.keys, m.Client.ID)
	if h.a.sessions.Unbind(m.Client.ID) {
		h.a.sessionsChanged()
	}
}

func (h *handler) HandleScreenData(m *protocol.ScreenData) {
	a := h.a
	if _, ok := a.sessions.Get(m.ClientID); !ok {
		a.metrics.RecordDropped("no_session")
		return
	}

	data, err := a.decodeFrame(m)
	if err != nil {
		a.metrics.RecordDropped("invalid_frame")
		a.logger.Debug("frame dropped",
			logging.KeyClientID, m.ClientID,
			logging.KeyFrame, m.FrameNumber,
			logging.KeyError, err)
		return
	}

	a.sessions.Present(m.ClientID, session.Frame{
		Data:   data,
		Width:  m.Width,
		Height: m.Height,
		Number: m.FrameNumber,
	})
	a.metrics.RecordFrameReceived(m.ClientID)
}

func (h *handler) HandleChat(m *protocol.ChatMessage) {
	h.a.logger.Info("chat", logging.KeyClientID, m.ClientID, "sender", m.Sender, "message", m.Message)
	if h.a.cfg.OnChat != nil {
		h.a.cfg.OnChat(m.ClientID, m.Sender, m.Message)
	}
}

func (h *handler) HandleFileTransfer(m *protocol.FileTransfer) {
	h.a.logger.Info("file transfer not supported", logging.KeyClientID, m.ClientID, "action", m.Action, "file", m.FileName)
}

func (h *handler) HandleError(m *protocol.Error) {
	h.a.logger.Warn("relay error", "code", m.Code, "message", m.Message)
}

func (h *handler) HandleHeartbeat(*protocol.Heartbeat) {}

func (h *handler) HandleUnknown(m *protocol.Unknown) {
	h.a.logger.Debug("ignoring unknown message", logging.KeyType, m.Type)
}

// Client-bound and relay-bound types are not expected here.

func (h *handler) HandleRegisterAgent(m *protocol.RegisterAgent)   { h.ignore(m) }
func (h *handler) HandleRegisterClient(m *protocol.RegisterClient) { h.ignore(m) }
func (h *handler) HandleConnectClient(m *protocol.ConnectClient)   { h.ignore(m) }
func (h *handler) HandleClientRegistered(m *protocol.ClientRegistered) {
	h.ignore(m)
}
func (h *handler) HandleAgentConnected(m *protocol.AgentConnected) { h.ignore(m) }
func (h *handler) HandleMouse(m *protocol.MouseMessage)            { h.ignore(m) }
func (h *handler) HandleKeyboard(m *protocol.KeyboardMessage)      { h.ignore(m) }
func (h *handler) HandleSystemCommand(m *protocol.SystemCommand)   { h.ignore(m) }
func (h *handler) HandleSettings(m *protocol.Settings)             { h.ignore(m) }

func (h *handler) ignore(m protocol.Message) {
	h.a.logger.Debug("ignoring unexpected message", logging.KeyType, m.MessageType())
}

package relay

import (
	"errors"

	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/protocol"
)

// peerHandler handles messages from one connection.
type peerHandler struct {
	hub *Hub
	p   *peer
}

func (ph *peerHandler) HandleRegisterAgent(m *protocol.RegisterAgent) {
	ac, err := ph.hub.registerAgent(ph.p, m)
	if err != nil {
		ph.hub.logger.Warn("agent registration refused", logging.KeyError, err)
		ph.hub.sendError(ph.p, "", err.Error())
		return
	}
	ph.hub.send(ph.p, ac)
}

func (ph *peerHandler) HandleRegisterClient(m *protocol.RegisterClient) {
	ph.joinClient(m.AuthCode, m.ClientName, m.ClientInfo)
}

func (ph *peerHandler) HandleConnectClient(m *protocol.ConnectClient) {
	ph.joinClient(m.AuthCode, m.ClientName, "")
}

func (ph *peerHandler) joinClient(code, name, info string) {
	h := ph.hub
	c, prev, err := h.registerClient(ph.p, code, name, info)
	if err != nil {
		h.logger.Info("client registration refused", logging.KeyError, err)
		if errors.Is(err, ErrInvalidAuthCode) {
			h.sendError(ph.p, protocol.CodeInvalidAuthCode, "invalid auth code")
		} else {
			h.sendError(ph.p, "", err.Error())
		}
		return
	}

	if prev != nil {
		h.send(prev.agent.p, &protocol.ClientDisconnected{Client: prev.info})
	}
	h.send(ph.p, &protocol.ClientRegistered{ClientID: c.info.ID, AgentName: c.agent.name})
	h.send(c.agent.p, &protocol.ClientConnected{Client: c.info})
}

// fromClient returns the sender's client entry or replies not_registered.
func (ph *peerHandler) fromClient() (*clientEntry, bool) {
	ph.hub.mu.Lock()
	c := ph.p.client
	ph.hub.mu.Unlock()
	if c == nil {
		ph.hub.sendError(ph.p, protocol.CodeNotRegistered, "register before sending")
		return nil, false
	}
	return c, true
}

// fromAgent returns the sender's agent entry or replies not_registered.
func (ph *peerHandler) fromAgent() (*agentEntry, bool) {
	ph.hub.mu.Lock()
	a := ph.p.agent
	isAgent := ph.p.role == roleAgent
	ph.hub.mu.Unlock()
	if !isAgent {
		ph.hub.sendError(ph.p, protocol.CodeNotRegistered, "register before sending")
		return nil, false
	}
	return a, true
}

// toClient forwards a targeted message from an agent to its client.
func (ph *peerHandler) toClient(m protocol.Targeted) {
	a, ok := ph.fromAgent()
	if !ok {
		return
	}
	c, ok := ph.hub.clientOf(a, m.Target())
	if !ok {
		ph.hub.sendError(ph.p, protocol.CodeUnknownTarget, "unknown client "+m.Target())
		return
	}
	ph.hub.send(c.p, m)
}

func (ph *peerHandler) HandleScreenData(m *protocol.ScreenData) {
	c, ok := ph.fromClient()
	if !ok {
		return
	}
	m.ClientID = c.info.ID
	ph.hub.metrics.RecordFrameReceived(c.info.ID)
	ph.hub.send(c.agent.p, m)
}

func (ph *peerHandler) HandleMouse(m *protocol.MouseMessage)       { ph.toClient(m) }
func (ph *peerHandler) HandleKeyboard(m *protocol.KeyboardMessage) { ph.toClient(m) }
func (ph *peerHandler) HandleSystemCommand(m *protocol.SystemCommand) {
	ph.toClient(m)
}
func (ph *peerHandler) HandleSettings(m *protocol.Settings) { ph.toClient(m) }

// Chat and file transfer flow both ways.
func (ph *peerHandler) HandleChat(m *protocol.ChatMessage) {
	ph.bidirectional(m, &m.ClientID)
}

func (ph *peerHandler) HandleFileTransfer(m *protocol.FileTransfer) {
	ph.bidirectional(m, &m.ClientID)
}

func (ph *peerHandler) bidirectional(m protocol.Targeted, clientID *string) {
	ph.hub.mu.Lock()
	r := ph.p.role
	ph.hub.mu.Unlock()

	if r == roleAgent {
		ph.toClient(m)
		return
	}
	c, ok := ph.fromClient()
	if !ok {
		return
	}
	*clientID = c.info.ID
	ph.hub.send(c.agent.p, m)
}

func (ph *peerHandler) HandleHeartbeat(*protocol.Heartbeat) {}

func (ph *peerHandler) HandleError(m *protocol.Error) {
	ph.hub.logger.Info("peer reported error", "code", m.Code, "message", m.Message)
}

func (ph *peerHandler) HandleUnknown(m *protocol.Unknown) {
	ph.hub.logger.Debug("ignoring unknown message", logging.KeyType, m.Type)
}

// Relay-originated types are not accepted from peers.

func (ph *peerHandler) HandleConnected(m *protocol.Connected) { ph.unexpected(m) }
func (ph *peerHandler) HandleAuthCode(m *protocol.AuthCode)   { ph.unexpected(m) }
func (ph *peerHandler) HandleAgentConnected(m *protocol.AgentConnected) {
	ph.unexpected(m)
}
func (ph *peerHandler) HandleClientRegistered(m *protocol.ClientRegistered) {
	ph.unexpected(m)
}
func (ph *peerHandler) HandleClientConnected(m *protocol.ClientConnected) {
	ph.unexpected(m)
}
func (ph *peerHandler) HandleClientDisconnected(m *protocol.ClientDisconnected) {
	ph.unexpected(m)
}

func (ph *peerHandler) unexpected(m protocol.Message) {
	ph.hub.logger.Debug("ignoring relay-only message from peer", logging.KeyType, m.MessageType())
}

package protocol

// Handler receives decoded messages. Implementations must handle every
// message type, so adding a type to the protocol breaks every role that
// has not decided what to do with it.
type Handler interface {
	HandleRegisterAgent(*RegisterAgent)
	HandleRegisterClient(*RegisterClient)
	HandleConnectClient(*ConnectClient)
	HandleConnected(*Connected)
	HandleAuthCode(*AuthCode)
	HandleClientRegistered(*ClientRegistered)
	HandleAgentConnected(*AgentConnected)
	HandleClientConnected(*ClientConnected)
	HandleClientDisconnected(*ClientDisconnected)
	HandleScreenData(*ScreenData)
	HandleMouse(*MouseMessage)
	HandleKeyboard(*KeyboardMessage)
	HandleChat(*ChatMessage)
	HandleFileTransfer(*FileTransfer)
	HandleSystemCommand(*SystemCommand)
	HandleSettings(*Settings)
	HandleHeartbeat(*Heartbeat)
	HandleError(*Error)
	HandleUnknown(*Unknown)
}

// Dispatch calls the Handler method matching m's concrete type.
func Dispatch(m Message, h Handler) {
	switch msg := m.(type) {
	case *RegisterAgent:
		h.HandleRegisterAgent(msg)
	case *RegisterClient:
		h.HandleRegisterClient(msg)
	case *ConnectClient:
		h.HandleConnectClient(msg)
	case *Connected:
		h.HandleConnected(msg)
	case *AuthCode:
		h.HandleAuthCode(msg)
	case *ClientRegistered:
		h.HandleClientRegistered(msg)
	case *AgentConnected:
		h.HandleAgentConnected(msg)
	case *ClientConnected:
		h.HandleClientConnected(msg)
	case *ClientDisconnected:
		h.HandleClientDisconnected(msg)
	case *ScreenData:
		h.HandleScreenData(msg)
	case *MouseMessage:
		h.HandleMouse(msg)
	case *KeyboardMessage:
		h.HandleKeyboard(msg)
	case *ChatMessage:
		h.HandleChat(msg)
	case *FileTransfer:
		h.HandleFileTransfer(msg)
	case *SystemCommand:
		h.HandleSystemCommand(msg)
	case *Settings:
		h.HandleSettings(msg)
	case *Heartbeat:
		h.HandleHeartbeat(msg)
	case *Error:
		h.HandleError(msg)
	case *Unknown:
		h.HandleUnknown(msg)
	case nil:
		h.HandleUnknown(&Unknown{})
	default:
		u := &Unknown{}
		u.Type = m.MessageType()
		h.HandleUnknown(u)
	}
}

// Package protocol defines the JSON message set exchanged between the
// client, the agent and the relay.
//
// Every message is a flat JSON object carrying a "type" discriminator, a
// Unix timestamp in seconds and an "encrypted" flag next to its own fields.
package protocol

// MessageType is the value of the "type" discriminator.
type MessageType string

// Message types
const (
	TypeRegisterAgent      MessageType = "register_agent"
	TypeRegisterClient     MessageType = "register_client"
	TypeConnectClient      MessageType = "connect_client"
	TypeConnected          MessageType = "connected"
	TypeAuthCode           MessageType = "auth_code"
	TypeClientRegistered   MessageType = "client_registered"
	TypeAgentConnected     MessageType = "agent_connected"
	TypeClientConnected    MessageType = "client_connected"
	TypeClientDisconnected MessageType = "client_disconnected"
	TypeScreenData         MessageType = "screen_data"
	TypeMouseEvent         MessageType = "mouse_event"
	TypeKeyboardEvent      MessageType = "keyboard_event"
	TypeChatMessage        MessageType = "chat_message"
	TypeFileTransfer       MessageType = "file_transfer"
	TypeSystemCommand      MessageType = "system_command"
	TypeSettings           MessageType = "settings"
	TypeHeartbeat          MessageType = "heartbeat"
	TypeError              MessageType = "error"
)

// Mouse actions
const (
	MouseMove      = "move"
	MouseLeftDown  = "left_down"
	MouseLeftUp    = "left_up"
	MouseRightDown = "right_down"
	MouseRightUp   = "right_up"
	MouseWheel     = "wheel"
	MouseClick     = "click"
	MouseDown      = "down"
	MouseUp        = "up"
)

// Keyboard actions
const (
	KeyDown  = "key_down"
	KeyUp    = "key_up"
	KeyPress = "key_press"
)

// Color depth tags carried by screen_data and settings.
const (
	ColorDepth64   = "64"
	ColorDepth256  = "256"
	ColorDepthTrue = "true"
)

// File transfer actions
const (
	TransferInit     = "init"
	TransferChunk    = "chunk"
	TransferComplete = "complete"
	TransferCancel   = "cancel"
)

// System commands
const (
	CommandStartMenu   = "start_menu"
	CommandTaskManager = "task_manager"
	CommandPrompt      = "cmd"
	CommandCtrlAltDel  = "ctrl_alt_del"
	CommandExplorer    = "explorer"
	CommandShowDesktop = "show_desktop"
	CommandReboot      = "reboot"
)

// Error codes sent in error messages.
const (
	CodeInvalidAuthCode   = "invalid_auth_code"
	CodeAgentDisconnected = "agent_disconnected"
	CodeNotRegistered     = "not_registered"
	CodeUnknownTarget     = "unknown_target"
)

// Default screen_data parameters.
const (
	DefaultQuality    = 75
	DefaultColorDepth = ColorDepthTrue
)

// Message is implemented by every concrete message type.
type Message interface {
	// MessageType returns the discriminator the message is encoded with.
	MessageType() MessageType
	header() *Envelope
}

// Targeted is implemented by agent-originated messages addressed to a
// single client.
type Targeted interface {
	Message
	Target() string
}

// Envelope holds the fields common to every message.
type Envelope struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Encrypted bool        `json:"encrypted"`
}

func (e *Envelope) header() *Envelope { return e }

// ClientInfo describes a connected client machine.
type ClientInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Info        string `json:"info,omitempty"`
	ConnectedAt string `json:"connected_at,omitempty"`
	OS          string `json:"os,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	Monitors    int    `json:"monitors"`
}

// MouseEvent is a pointer action in remote screen coordinates.
// ScreenWidth and ScreenHeight are the remote dimensions the sender used
// to produce X and Y.
type MouseEvent struct {
	Action       string `json:"action"`
	X            int    `json:"x"`
	Y            int    `json:"y"`
	Delta        int    `json:"delta"`
	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
}

// Modifiers is the set of held modifier keys. The flags are independent.
type Modifiers struct {
	Ctrl  bool `json:"ctrl"`
	Alt   bool `json:"alt"`
	Shift bool `json:"shift"`
	Win   bool `json:"win"`
}

// KeyboardEvent is a key action with its modifier state.
type KeyboardEvent struct {
	Action    string    `json:"action"`
	KeyCode   int       `json:"key_code"`
	Key       string    `json:"key,omitempty"`
	Modifiers Modifiers `json:"modifiers"`
}

// RegisterAgent announces an agent to the relay.
type RegisterAgent struct {
	Envelope
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
}

// RegisterClient joins a client to the agent owning AuthCode.
type RegisterClient struct {
	Envelope
	AuthCode   string `json:"auth_code"`
	ClientName string `json:"client_name"`
	ClientInfo string `json:"client_info"`
}

// ConnectClient is the short join request used by older clients.
type ConnectClient struct {
	Envelope
	AuthCode   string `json:"auth_code"`
	ClientName string `json:"client_name,omitempty"`
}

// Connected is the relay greeting sent after the socket opens.
type Connected struct {
	Envelope
	Message string `json:"message,omitempty"`
}

// AuthCode hands an agent the six digit code clients join with.
type AuthCode struct {
	Envelope
	AuthCode  string `json:"auth_code"`
	SessionID int    `json:"session_id"`
}

// ClientRegistered confirms a client registration.
type ClientRegistered struct {
	Envelope
	ClientID  string `json:"client_id"`
	AgentName string `json:"agent_name,omitempty"`
}

// AgentConnected tells a client an agent has attached to it.
type AgentConnected struct {
	Envelope
	AgentName string `json:"agent_name"`
}

// ClientConnected tells an agent a client joined.
type ClientConnected struct {
	Envelope
	Client ClientInfo `json:"client"`
}

// ClientDisconnected tells an agent a client left.
type ClientDisconnected struct {
	Envelope
	Client ClientInfo `json:"client"`
}

// ScreenData carries one encoded frame. Data is base64 JPEG, or sealed
// bytes when Encrypted is set. FrameNumber increases monotonically per
// streamer and is advisory only.
type ScreenData struct {
	Envelope
	ClientID     string `json:"client_id"`
	Data         string `json:"data"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	MonitorIndex int    `json:"monitor_index"`
	Quality      int    `json:"quality"`
	ColorDepth   string `json:"color_depth"`
	FrameNumber  int64  `json:"frame_number"`
}

// MouseMessage delivers a MouseEvent to TargetID.
type MouseMessage struct {
	Envelope
	TargetID string     `json:"target_id"`
	Event    MouseEvent `json:"event"`
}

// KeyboardMessage delivers a KeyboardEvent to TargetID.
type KeyboardMessage struct {
	Envelope
	TargetID string        `json:"target_id"`
	Event    KeyboardEvent `json:"event"`
}

// ChatMessage is a text line between agent and client.
type ChatMessage struct {
	Envelope
	TargetID string `json:"target_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Message  string `json:"message"`
	Sender   string `json:"sender"`
}

// FileTransfer is one step of a file transfer. Chunk is base64.
type FileTransfer struct {
	Envelope
	TargetID string `json:"target_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Action   string `json:"action"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type,omitempty"`
	Chunk    string `json:"chunk,omitempty"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
}

// SystemCommand asks the client to run a well-known system action.
type SystemCommand struct {
	Envelope
	TargetID string `json:"target_id"`
	Command  string `json:"command"`
	Params   string `json:"params,omitempty"`
}

// Settings changes streaming parameters at runtime. Zero Quality, empty
// ColorDepth and nil flags leave the current value unchanged.
type Settings struct {
	Envelope
	TargetID        string `json:"target_id"`
	Quality         int    `json:"quality,omitempty"`
	ColorDepth      string `json:"color_depth,omitempty"`
	NetworkPriority *bool  `json:"network_priority,omitempty"`
	CaptureCursor   *bool  `json:"capture_cursor,omitempty"`
	MonitorIndex    *int   `json:"monitor_index,omitempty"`
}

// Heartbeat keeps idle connections alive.
type Heartbeat struct {
	Envelope
}

// Error reports a failure to the peer.
type Error struct {
	Envelope
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (*RegisterAgent) MessageType() MessageType      { return TypeRegisterAgent }
func (*RegisterClient) MessageType() MessageType     { return TypeRegisterClient }
func (*ConnectClient) MessageType() MessageType      { return TypeConnectClient }
func (*Connected) MessageType() MessageType          { return TypeConnected }
func (*AuthCode) MessageType() MessageType           { return TypeAuthCode }
func (*ClientRegistered) MessageType() MessageType   { return TypeClientRegistered }
func (*AgentConnected) MessageType() MessageType     { return TypeAgentConnected }
func (*ClientConnected) MessageType() MessageType    { return TypeClientConnected }
func (*ClientDisconnected) MessageType() MessageType { return TypeClientDisconnected }
func (*ScreenData) MessageType() MessageType         { return TypeScreenData }
func (*MouseMessage) MessageType() MessageType       { return TypeMouseEvent }
func (*KeyboardMessage) MessageType() MessageType    { return TypeKeyboardEvent }
func (*ChatMessage) MessageType() MessageType        { return TypeChatMessage }
func (*FileTransfer) MessageType() MessageType       { return TypeFileTransfer }
func (*SystemCommand) MessageType() MessageType      { return TypeSystemCommand }
func (*Settings) MessageType() MessageType           { return TypeSettings }
func (*Heartbeat) MessageType() MessageType          { return TypeHeartbeat }
func (*Error) MessageType() MessageType              { return TypeError }

func (m *MouseMessage) Target() string    { return m.TargetID }
func (m *KeyboardMessage) Target() string { return m.TargetID }
func (m *ChatMessage) Target() string     { return m.TargetID }
func (m *FileTransfer) Target() string    { return m.TargetID }
func (m *SystemCommand) Target() string   { return m.TargetID }
func (m *Settings) Target() string        { return m.TargetID }

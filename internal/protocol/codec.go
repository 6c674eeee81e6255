package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMessage is returned when a frame is not a JSON object or its
// payload does not match the schema of its type.
var ErrInvalidMessage = errors.New("invalid message")

// now is replaced in tests.
var now = time.Now

var factories = map[MessageType]func() Message{
	TypeRegisterAgent:      func() Message { return &RegisterAgent{} },
	TypeRegisterClient:     func() Message { return &RegisterClient{} },
	TypeConnectClient:      func() Message { return &ConnectClient{} },
	TypeConnected:          func() Message { return &Connected{} },
	TypeAuthCode:           func() Message { return &AuthCode{} },
	TypeClientRegistered:   func() Message { return &ClientRegistered{} },
	TypeAgentConnected:     func() Message { return &AgentConnected{} },
	TypeClientConnected:    func() Message { return &ClientConnected{} },
	TypeClientDisconnected: func() Message { return &ClientDisconnected{} },
	TypeScreenData:         func() Message { return &ScreenData{} },
	TypeMouseEvent:         func() Message { return &MouseMessage{} },
	TypeKeyboardEvent:      func() Message { return &KeyboardMessage{} },
	TypeChatMessage:        func() Message { return &ChatMessage{} },
	TypeFileTransfer:       func() Message { return &FileTransfer{} },
	TypeSystemCommand:      func() Message { return &SystemCommand{} },
	TypeSettings:           func() Message { return &Settings{} },
	TypeHeartbeat:          func() Message { return &Heartbeat{} },
	TypeError:              func() Message { return &Error{} },
}

// Unknown is the no-op classification for frames whose type is missing or
// not recognized. Callers log and discard it.
type Unknown struct {
	Envelope
	Fields map[string]json.RawMessage `json:"-"`
}

// MessageType returns the raw discriminator, which may be empty.
func (u *Unknown) MessageType() MessageType { return u.Type }

// Known reports whether t is a recognized message type.
func Known(t MessageType) bool {
	_, ok := factories[t]
	return ok
}

// IsNoop reports whether m is the no-op classification.
func IsNoop(m Message) bool {
	_, ok := m.(*Unknown)
	return ok
}

// Encode serializes m. The type discriminator is taken from m and a zero
// timestamp is stamped with the current time.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if _, ok := m.(*Unknown); ok {
		return nil, fmt.Errorf("%w: cannot encode unknown message", ErrInvalidMessage)
	}

	h := m.header()
	h.Type = m.MessageType()
	if h.Timestamp == 0 {
		h.Timestamp = now().Unix()
	}

	return json.Marshal(m)
}

// Decode parses one text frame. The document is first read as a generic
// object to find its type; only then is the concrete schema applied.
// Absent fields keep their zero value. A missing or unrecognized type
// returns an *Unknown and a nil error.
func Decode(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidMessage)
	}

	var t MessageType
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &t); err != nil {
			t = ""
		}
	}

	factory, ok := factories[t]
	if !ok {
		u := &Unknown{Fields: fields}
		u.Type = t
		return u, nil
	}

	m := factory()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, t, err)
	}
	return m, nil
}

package protocol

import "testing"

type recordingHandler struct {
	calls []string
}

func (r *recordingHandler) add(s string) { r.calls = append(r.calls, s) }

func (r *recordingHandler) HandleRegisterAgent(*RegisterAgent)       { r.add("register_agent") }
func (r *recordingHandler) HandleRegisterClient(*RegisterClient)     { r.add("register_client") }
func (r *recordingHandler) HandleConnectClient(*ConnectClient)       { r.add("connect_client") }
func (r *recordingHandler) HandleConnected(*Connected)               { r.add("connected") }
func (r *recordingHandler) HandleAuthCode(*AuthCode)                 { r.add("auth_code") }
func (r *recordingHandler) HandleClientRegistered(*ClientRegistered) { r.add("client_registered") }
func (r *recordingHandler) HandleAgentConnected(*AgentConnected)     { r.add("agent_connected") }
func (r *recordingHandler) HandleClientConnected(*ClientConnected)   { r.add("client_connected") }
func (r *recordingHandler) HandleClientDisconnected(*ClientDisconnected) {
	r.add("client_disconnected")
}
func (r *recordingHandler) HandleScreenData(*ScreenData)       { r.add("screen_data") }
func (r *recordingHandler) HandleMouse(*MouseMessage)          { r.add("mouse_event") }
func (r *recordingHandler) HandleKeyboard(*KeyboardMessage)    { r.add("keyboard_event") }
func (r *recordingHandler) HandleChat(*ChatMessage)            { r.add("chat_message") }
func (r *recordingHandler) HandleFileTransfer(*FileTransfer)   { r.add("file_transfer") }
func (r *recordingHandler) HandleSystemCommand(*SystemCommand) { r.add("system_command") }
func (r *recordingHandler) HandleSettings(*Settings)           { r.add("settings") }
func (r *recordingHandler) HandleHeartbeat(*Heartbeat)         { r.add("heartbeat") }
func (r *recordingHandler) HandleError(*Error)                 { r.add("error") }
func (r *recordingHandler) HandleUnknown(*Unknown)             { r.add("unknown") }

func TestDispatch_EveryKnownType(t *testing.T) {
	for typ, factory := range factories {
		h := &recordingHandler{}
		Dispatch(factory(), h)

		if len(h.calls) != 1 || h.calls[0] != string(typ) {
			t.Errorf("Dispatch(%s) called %v", typ, h.calls)
		}
	}
}

func TestDispatch_Unknown(t *testing.T) {
	h := &recordingHandler{}

	m, err := Decode([]byte(`{"type":"unknown_xyz"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	Dispatch(m, h)
	Dispatch(nil, h)

	if len(h.calls) != 2 || h.calls[0] != "unknown" || h.calls[1] != "unknown" {
		t.Errorf("calls = %v, want [unknown unknown]", h.calls)
	}
}

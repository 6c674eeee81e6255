package relay

import (
	"context"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/postalsys/deskrelay/internal/metrics"
	"github.com/postalsys/deskrelay/internal/protocol"
	"github.com/postalsys/deskrelay/internal/transport"
)

type testPeer struct {
	conn *transport.Conn
	msgs chan protocol.Message
}

func newHub(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	h := New(cfg)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *testPeer {
	t.Helper()
	tp := &testPeer{msgs: make(chan protocol.Message, 64)}
	tp.conn = transport.New(transport.Config{
		HeartbeatInterval: -1,
		OnMessage:         func(m protocol.Message) { tp.msgs <- m },
	})
	if err := tp.conn.Connect(context.Background(), url); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { tp.conn.Close() })

	if _, ok := tp.next(t).(*protocol.Connected); !ok {
		t.Fatal("first message is not connected")
	}
	return tp
}

func (tp *testPeer) send(t *testing.T, m protocol.Message) {
	t.Helper()
	if err := tp.conn.Send(context.Background(), m); err != nil {
		t.Fatalf("Send(%s) error = %v", m.MessageType(), err)
	}
}

func (tp *testPeer) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case m := <-tp.msgs:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func expect[T protocol.Message](t *testing.T, tp *testPeer) T {
	t.Helper()
	m := tp.next(t)
	got, ok := m.(T)
	if !ok {
		var zero T
		t.Fatalf("got %T (%+v), want %T", m, m, zero)
	}
	return got
}

// pair registers an agent and one client and returns both with the
// client id.
func pair(t *testing.T, url string) (agent, client *testPeer, clientID string) {
	t.Helper()
	agent = dial(t, url)
	agent.send(t, &protocol.RegisterAgent{AgentID: "agent-1", AgentName: "helpdesk"})
	code := expect[*protocol.AuthCode](t, agent)

	client = dial(t, url)
	client.send(t, &protocol.RegisterClient{
		AuthCode:   code.AuthCode,
		ClientName: "reception",
		ClientInfo: "os=windows/amd64; resolution=1920x1080; monitors=2; version=dev",
	})
	reg := expect[*protocol.ClientRegistered](t, client)
	conn := expect[*protocol.ClientConnected](t, agent)
	if conn.Client.ID != reg.ClientID {
		t.Fatalf("client_connected id %q != client_registered id %q", conn.Client.ID, reg.ClientID)
	}
	return agent, client, reg.ClientID
}

func TestRelay_EndToEnd(t *testing.T) {
	_, url := newHub(t, Config{})

	agent := dial(t, url)
	agent.send(t, &protocol.RegisterAgent{AgentID: "agent-1", AgentName: "helpdesk"})
	code := expect[*protocol.AuthCode](t, agent)
	if !regexp.MustCompile(`^\d{6}$`).MatchString(code.AuthCode) {
		t.Fatalf("auth code %q is not 6 digits", code.AuthCode)
	}
	if code.SessionID != 1 {
		t.Errorf("SessionID = %d, want 1", code.SessionID)
	}

	client := dial(t, url)
	client.send(t, &protocol.RegisterClient{
		AuthCode:   code.AuthCode,
		ClientName: "reception",
		ClientInfo: "os=windows/amd64; resolution=1920x1080; monitors=2; version=dev",
	})

	reg := expect[*protocol.ClientRegistered](t, client)
	if reg.ClientID == "" || reg.AgentName != "helpdesk" {
		t.Errorf("client_registered = %+v", reg)
	}

	cc := expect[*protocol.ClientConnected](t, agent)
	if cc.Client.ID != reg.ClientID || cc.Client.Name != "reception" {
		t.Errorf("client_connected = %+v", cc.Client)
	}
	if cc.Client.OS != "windows/amd64" || cc.Client.Resolution != "1920x1080" || cc.Client.Monitors != 2 {
		t.Errorf("client info not parsed: %+v", cc.Client)
	}
	if cc.Client.ConnectedAt == "" {
		t.Error("ConnectedAt is empty")
	}

	// Client frames reach the agent tagged with the client id.
	client.send(t, &protocol.ScreenData{Data: "aGVsbG8=", Width: 800, Height: 600, FrameNumber: 1})
	sd := expect[*protocol.ScreenData](t, agent)
	if sd.ClientID != reg.ClientID || sd.FrameNumber != 1 || sd.Data != "aGVsbG8=" {
		t.Errorf("screen_data = %+v", sd)
	}

	// Agent input reaches the client.
	agent.send(t, &protocol.MouseMessage{
		TargetID: reg.ClientID,
		Event:    protocol.MouseEvent{Action: protocol.MouseLeftDown, X: 10, Y: 20, ScreenWidth: 800, ScreenHeight: 600},
	})
	me := expect[*protocol.MouseMessage](t, client)
	if me.Event.X != 10 || me.Event.Y != 20 || me.Event.Action != protocol.MouseLeftDown {
		t.Errorf("mouse_event = %+v", me.Event)
	}
}

func TestRelay_InvalidAuthCode(t *testing.T) {
	_, url := newHub(t, Config{})

	client := dial(t, url)
	client.send(t, &protocol.RegisterClient{AuthCode: "000000", ClientName: "x"})

	e := expect[*protocol.Error](t, client)
	if e.Code != protocol.CodeInvalidAuthCode {
		t.Errorf("error code = %q, want %q", e.Code, protocol.CodeInvalidAuthCode)
	}
}

func TestRelay_ExpiredCode(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	h, url := newHub(t, Config{CodeTTL: time.Minute, Now: clock})

	agent := dial(t, url)
	agent.send(t, &protocol.RegisterAgent{AgentName: "helpdesk"})
	code := expect[*protocol.AuthCode](t, agent)

	h.mu.Lock()
	h.cfg.Now = func() time.Time { return now.Add(2 * time.Minute) }
	h.mu.Unlock()

	client := dial(t, url)
	client.send(t, &protocol.ConnectClient{AuthCode: code.AuthCode})
	if e := expect[*protocol.Error](t, client); e.Code != protocol.CodeInvalidAuthCode {
		t.Errorf("error code = %q, want invalid_auth_code", e.Code)
	}
}

func TestRelay_NotRegistered(t *testing.T) {
	_, url := newHub(t, Config{})

	p := dial(t, url)
	p.send(t, &protocol.ScreenData{Data: "x"})
	if e := expect[*protocol.Error](t, p); e.Code != protocol.CodeNotRegistered {
		t.Errorf("screen_data before register: code = %q", e.Code)
	}

	p.send(t, &protocol.MouseMessage{TargetID: "someone"})
	if e := expect[*protocol.Error](t, p); e.Code != protocol.CodeNotRegistered {
		t.Errorf("mouse_event before register: code = %q", e.Code)
	}
}

func TestRelay_UnknownTarget(t *testing.T) {
	_, url := newHub(t, Config{})
	agent, _, _ := pair(t, url)

	agent.send(t, &protocol.KeyboardMessage{TargetID: "not-a-client"})
	if e := expect[*protocol.Error](t, agent); e.Code != protocol.CodeUnknownTarget {
		t.Errorf("error code = %q, want unknown_target", e.Code)
	}
}

func TestRelay_TargetsAreScopedToAgent(t *testing.T) {
	_, url := newHub(t, Config{})
	_, _, clientID := pair(t, url)

	other := dial(t, url)
	other.send(t, &protocol.RegisterAgent{AgentName: "intruder"})
	expect[*protocol.AuthCode](t, other)

	other.send(t, &protocol.Settings{TargetID: clientID, Quality: 10})
	if e := expect[*protocol.Error](t, other); e.Code != protocol.CodeUnknownTarget {
		t.Errorf("error code = %q, want unknown_target", e.Code)
	}
}

func TestRelay_ChatBothWays(t *testing.T) {
	_, url := newHub(t, Config{})
	agent, client, clientID := pair(t, url)

	agent.send(t, &protocol.ChatMessage{TargetID: clientID, Message: "hello", Sender: "helpdesk"})
	if m := expect[*protocol.ChatMessage](t, client); m.Message != "hello" {
		t.Errorf("client got %+v", m)
	}

	client.send(t, &protocol.ChatMessage{Message: "hi", Sender: "reception"})
	m := expect[*protocol.ChatMessage](t, agent)
	if m.Message != "hi" || m.ClientID != clientID {
		t.Errorf("agent got %+v", m)
	}
}

func TestRelay_ClientDisconnect(t *testing.T) {
	h, url := newHub(t, Config{})
	agent, client, clientID := pair(t, url)

	client.conn.Close()

	cd := expect[*protocol.ClientDisconnected](t, agent)
	if cd.Client.ID != clientID {
		t.Errorf("client_disconnected id = %q, want %q", cd.Client.ID, clientID)
	}
	if agents, clients := h.Counts(); agents != 1 || clients != 0 {
		t.Errorf("Counts() = %d, %d; want 1, 0", agents, clients)
	}
}

func TestRelay_AgentDisconnect(t *testing.T) {
	h, url := newHub(t, Config{})
	agent, client, _ := pair(t, url)

	agent.conn.Close()

	if e := expect[*protocol.Error](t, client); e.Code != protocol.CodeAgentDisconnected {
		t.Errorf("error code = %q, want agent_disconnected", e.Code)
	}

	select {
	case <-client.conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client connection was not closed")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if agents, clients := h.Counts(); agents == 0 && clients == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	agents, clients := h.Counts()
	t.Errorf("Counts() = %d, %d; want 0, 0", agents, clients)
}

func TestRelay_ReRegisterKeepsCode(t *testing.T) {
	_, url := newHub(t, Config{})

	agent := dial(t, url)
	agent.send(t, &protocol.RegisterAgent{AgentName: "a"})
	first := expect[*protocol.AuthCode](t, agent)
	agent.send(t, &protocol.RegisterAgent{AgentName: "b"})
	second := expect[*protocol.AuthCode](t, agent)

	if first.AuthCode != second.AuthCode || first.SessionID != second.SessionID {
		t.Errorf("re-registration changed code: %+v -> %+v", first, second)
	}
}

func TestRelay_SessionIDsIncrease(t *testing.T) {
	_, url := newHub(t, Config{})

	var last int
	for i := 0; i < 3; i++ {
		a := dial(t, url)
		a.send(t, &protocol.RegisterAgent{AgentName: "a"})
		code := expect[*protocol.AuthCode](t, a)
		if code.SessionID <= last {
			t.Errorf("SessionID %d not greater than %d", code.SessionID, last)
		}
		last = code.SessionID
	}
}

func TestRelay_HeartbeatAbsorbed(t *testing.T) {
	_, url := newHub(t, Config{})
	agent, client, clientID := pair(t, url)

	client.send(t, &protocol.Heartbeat{})
	agent.send(t, &protocol.Heartbeat{})

	// The next message the agent sees is the frame, not a heartbeat.
	client.send(t, &protocol.ScreenData{Data: "x", FrameNumber: 9})
	if sd := expect[*protocol.ScreenData](t, agent); sd.ClientID != clientID {
		t.Errorf("screen_data client_id = %q", sd.ClientID)
	}
}

func TestRelay_MetricsAndStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	h, url := newHub(t, Config{Metrics: m})

	pair(t, url)

	if got := testutil.ToFloat64(m.RelayAgents); got != 1 {
		t.Errorf("relay_agents = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RelayClients); got != 1 {
		t.Errorf("relay_clients = %v, want 1", got)
	}

	st := h.Stats()
	if st.Role != "relay" || st.Agents != 1 || st.Clients != 1 || !st.Connected {
		t.Errorf("Stats() = %+v", st)
	}

	h.Close()
	if h.IsRunning() {
		t.Error("IsRunning() after Close")
	}
}

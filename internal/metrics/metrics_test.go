package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.FramesSent == nil {
		t.Error("FramesSent metric is nil")
	}
	if m.SessionsActive == nil {
		t.Error("SessionsActive metric is nil")
	}
	if m.MessagesDropped == nil {
		t.Error("MessagesDropped metric is nil")
	}
}

func TestSetConnected(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.SetConnected(true)
	if got := testutil.ToFloat64(m.TransportConnected); got != 1 {
		t.Errorf("TransportConnected = %v, want 1", got)
	}

	m.SetConnected(false)
	if got := testutil.ToFloat64(m.TransportConnected); got != 0 {
		t.Errorf("TransportConnected = %v, want 0", got)
	}
}

func TestRecordMessages(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordMessageSent("heartbeat")
	m.RecordMessageSent("heartbeat")
	m.RecordMessageSent("screen_data")
	m.RecordMessageReceived("mouse_event")
	m.RecordDropped("unknown_type")

	if got := testutil.ToFloat64(m.MessagesSent.WithLabelValues("heartbeat")); got != 2 {
		t.Errorf("MessagesSent{heartbeat} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.MessagesSent.WithLabelValues("screen_data")); got != 1 {
		t.Errorf("MessagesSent{screen_data} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MessagesReceived.WithLabelValues("mouse_event")); got != 1 {
		t.Errorf("MessagesReceived{mouse_event} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MessagesDropped.WithLabelValues("unknown_type")); got != 1 {
		t.Errorf("MessagesDropped{unknown_type} = %v, want 1", got)
	}
}

func TestRecordFrame(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordFrame(1000)
	m.RecordFrame(3000)
	m.RecordFrameError()

	if got := testutil.ToFloat64(m.FramesSent); got != 2 {
		t.Errorf("FramesSent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FrameBytes); got != 4000 {
		t.Errorf("FrameBytes = %v, want 4000", got)
	}
	if got := testutil.ToFloat64(m.FrameErrors); got != 1 {
		t.Errorf("FrameErrors = %v, want 1", got)
	}
}

func TestRecordFrameReceived_Forget(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordFrameReceived("c-1")
	m.RecordFrameReceived("c-1")
	m.RecordFrameReceived("c-2")

	if got := testutil.CollectAndCount(m.FramesReceived); got != 2 {
		t.Errorf("FramesReceived series = %d, want 2", got)
	}

	m.ForgetClient("c-1")
	if got := testutil.CollectAndCount(m.FramesReceived); got != 1 {
		t.Errorf("FramesReceived series after forget = %d, want 1", got)
	}
}

func TestSessions(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.SetSessions(3)
	m.RecordSessionRejected()
	m.RecordSessionRejected()

	if got := testutil.ToFloat64(m.SessionsActive); got != 3 {
		t.Errorf("SessionsActive = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.SessionsRejected); got != 2 {
		t.Errorf("SessionsRejected = %v, want 2", got)
	}
}

func TestRelayCounts(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	m.SetRelayCounts(2, 5)
	m.RecordReconnect()

	if got := testutil.ToFloat64(m.RelayAgents); got != 2 {
		t.Errorf("RelayAgents = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RelayClients); got != 5 {
		t.Errorf("RelayClients = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.Reconnects); got != 1 {
		t.Errorf("Reconnects = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	// None of these may panic.
	m.SetConnected(true)
	m.RecordReconnect()
	m.RecordMessageSent("x")
	m.RecordMessageReceived("x")
	m.RecordDropped("x")
	m.RecordFrame(10)
	m.RecordFrameError()
	m.RecordFrameReceived("c")
	m.ForgetClient("c")
	m.SetSessions(1)
	m.RecordSessionRejected()
	m.SetRelayCounts(1, 1)
}

func TestDefault(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different instances")
	}
}

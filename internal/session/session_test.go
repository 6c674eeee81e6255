package session

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/postalsys/deskrelay/internal/coords"
	"github.com/postalsys/deskrelay/internal/metrics"
	"github.com/postalsys/deskrelay/internal/protocol"
)

func client(i int) protocol.ClientInfo {
	return protocol.ClientInfo{ID: fmt.Sprintf("client-%d", i), Name: fmt.Sprintf("host-%d", i)}
}

func TestManager_CapacityBound(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	mgr := NewManager(Config{Metrics: m})

	var bound []*Session
	rejected := 0
	for i := 0; i < 5; i++ {
		s, err := mgr.Bind(client(i))
		switch {
		case errors.Is(err, ErrAtCapacity):
			rejected++
			if s != nil {
				t.Errorf("Bind() at capacity returned a session")
			}
		case err != nil:
			t.Fatalf("Bind(%d) error = %v", i, err)
		default:
			bound = append(bound, s)
		}
	}

	if mgr.Len() != MaxSessions {
		t.Errorf("Len() = %d, want %d", mgr.Len(), MaxSessions)
	}
	if len(bound) != 3 || rejected != 2 {
		t.Errorf("bound %d, rejected %d; want 3 and 2", len(bound), rejected)
	}
	surfaces := map[*Surface]bool{}
	for _, s := range mgr.Sessions() {
		surfaces[s.Surface] = true
	}
	if len(surfaces) != 3 {
		t.Errorf("distinct surfaces = %d, want 3", len(surfaces))
	}
	if _, ok := mgr.Get("client-3"); ok {
		t.Error("rejected client has a session")
	}

	if got := testutil.ToFloat64(m.SessionsActive); got != 3 {
		t.Errorf("sessions_active = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.SessionsRejected); got != 2 {
		t.Errorf("sessions_rejected_total = %v, want 2", got)
	}
}

func TestManager_BindErrors(t *testing.T) {
	mgr := NewManager(Config{})

	if _, err := mgr.Bind(protocol.ClientInfo{}); !errors.Is(err, ErrMissingClientID) {
		t.Errorf("Bind(empty id) error = %v, want %v", err, ErrMissingClientID)
	}
	if _, err := mgr.Bind(client(1)); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if _, err := mgr.Bind(client(1)); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second Bind() error = %v, want %v", err, ErrAlreadyBound)
	}
	if mgr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", mgr.Len())
	}
}

func TestManager_UnbindReflows(t *testing.T) {
	mgr := NewManager(Config{Width: 1000, Height: 616, Spacing: 8, Padding: 0})

	a, _ := mgr.Bind(client(1))
	b, _ := mgr.Bind(client(2))
	c, _ := mgr.Bind(client(3))

	if got := a.Surface.Bounds().H; got != 200 {
		t.Errorf("row height with 3 sessions = %v, want 200", got)
	}

	if !mgr.Unbind(b.ID()) {
		t.Fatal("Unbind() = false for bound session")
	}
	if mgr.Unbind(b.ID()) {
		t.Error("second Unbind() = true")
	}
	if !b.Surface.Released() {
		t.Error("unbound surface not released")
	}
	if b.Surface.Present(Frame{Number: 1}) {
		t.Error("Present() on released surface succeeded")
	}

	want := []Rect{
		{X: 0, Y: 0, W: 1000, H: 304},
		{X: 0, Y: 312, W: 1000, H: 304},
	}
	for i, s := range []*Session{a, c} {
		if got := s.Surface.Bounds(); got != want[i] {
			t.Errorf("session %d bounds = %+v, want %+v", i, got, want[i])
		}
		if got := s.Mapper.Box(); got != (coords.Size{W: 1000, H: 304}) {
			t.Errorf("session %d mapper box = %v", i, got)
		}
	}

	// Freed capacity can be reused.
	if _, err := mgr.Bind(client(4)); err != nil {
		t.Errorf("Bind() after Unbind error = %v", err)
	}
	if n := mgr.UnbindAll(); n != 3 || mgr.Len() != 0 {
		t.Errorf("UnbindAll() = %d, Len() = %d; want 3, 0", n, mgr.Len())
	}
}

func TestLayout_Properties(t *testing.T) {
	tests := []struct {
		width, height, spacing, padding float64
	}{
		{1280, 960, 8, 8},
		{1000, 1000, 0, 0},
		{640, 481, 5, 3},
		{1920, 1080, 12, 20},
	}

	for _, tt := range tests {
		for n := 1; n <= 3; n++ {
			rows := Layout(tt.width, tt.height, n, tt.spacing, tt.padding)
			if len(rows) != n {
				t.Fatalf("Layout(%v, n=%d) returned %d rows", tt, n, len(rows))
			}

			availW := tt.width - 2*tt.padding
			availH := tt.height - 2*tt.padding
			sumH, area := 0.0, 0.0
			for i, r := range rows {
				if math.Abs(r.H-rows[0].H) > 1e-9 {
					t.Errorf("Layout(%v, n=%d) row %d height %v != %v", tt, n, i, r.H, rows[0].H)
				}
				if r.W != availW {
					t.Errorf("Layout(%v, n=%d) row %d width %v, want %v", tt, n, i, r.W, availW)
				}
				for j := i + 1; j < len(rows); j++ {
					if r.Overlaps(rows[j]) {
						t.Errorf("Layout(%v, n=%d) rows %d and %d overlap", tt, n, i, j)
					}
				}
				sumH += r.H
				area += r.Area()
			}

			if got := sumH + tt.spacing*float64(n-1); math.Abs(got-availH) > 1e-6 {
				t.Errorf("Layout(%v, n=%d) heights+spacing = %v, want %v", tt, n, got, availH)
			}
			if area > availW*availH+1e-6 {
				t.Errorf("Layout(%v, n=%d) area %v exceeds %v", tt, n, area, availW*availH)
			}
		}
	}
}

func TestLayout_Degenerate(t *testing.T) {
	if rows := Layout(100, 100, 0, 0, 0); rows != nil {
		t.Errorf("Layout(n=0) = %v, want nil", rows)
	}
	if rows := Layout(100, 10, 3, 20, 0); rows != nil {
		t.Errorf("Layout(spacing exceeds height) = %v, want nil", rows)
	}
	if rows := Layout(10, 100, 1, 0, 10); rows != nil {
		t.Errorf("Layout(padding exceeds width) = %v, want nil", rows)
	}
}

func TestSession_MouseMapsToRemote(t *testing.T) {
	mgr := NewManager(Config{Width: 800, Height: 450, Spacing: 0, Padding: 0})
	s, err := mgr.Bind(client(1))
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	// Before any frame the point passes through unchanged.
	if ev := s.Mouse(protocol.MouseMove, coords.Point{X: 5, Y: 6}, 0).Event; ev.X != 5 || ev.Y != 6 {
		t.Errorf("unmapped move = (%d,%d), want (5,6)", ev.X, ev.Y)
	}

	mgr.Present(s.ID(), Frame{Width: 1600, Height: 900, Number: 1})

	msg := s.Mouse(protocol.MouseClick, coords.Point{X: 400, Y: 225}, 0)
	if msg.TargetID != "client-1" {
		t.Errorf("TargetID = %q, want client-1", msg.TargetID)
	}
	if msg.Event.X != 800 || msg.Event.Y != 450 {
		t.Errorf("mapped click = (%d,%d), want (800,450)", msg.Event.X, msg.Event.Y)
	}
	if msg.Event.ScreenWidth != 1600 || msg.Event.ScreenHeight != 900 {
		t.Errorf("screen size = %dx%d, want 1600x900", msg.Event.ScreenWidth, msg.Event.ScreenHeight)
	}

	key := s.Key(protocol.KeyDown, 65, "a", protocol.Modifiers{Ctrl: true, Shift: true})
	if key.TargetID != "client-1" || key.Event.KeyCode != 65 || !key.Event.Modifiers.Ctrl || !key.Event.Modifiers.Shift {
		t.Errorf("Key() = %+v", key)
	}
}

func TestManager_PresentUnknownClient(t *testing.T) {
	mgr := NewManager(Config{})
	if mgr.Present("nobody", Frame{Number: 1}) {
		t.Error("Present() for unknown client = true")
	}
}

func TestFPSTracker(t *testing.T) {
	f := NewFPSTracker()
	start := time.Unix(1000, 0)

	for i := 0; i < 10; i++ {
		f.Record(start.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	if f.FPS() != 0 {
		t.Errorf("FPS() before a full window = %v, want 0", f.FPS())
	}

	f.Record(start.Add(time.Second))
	if got := f.FPS(); math.Abs(got-11) > 1e-9 {
		t.Errorf("FPS() = %v, want 11", got)
	}
}

package recovery

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecoverWithLog_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer RecoverWithLog(logger, "captureTick")
		panic("capture device gone")
	}()

	wg.Wait()

	output := buf.String()
	for _, want := range []string{"panic recovered", "captureTick", "capture device gone", "stack="} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestRecoverWithLog_NoopOnNoPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	func() {
		defer RecoverWithLog(logger, "quiet")
	}()

	if buf.Len() > 0 {
		t.Errorf("expected no output when no panic, got: %s", buf.String())
	}
}

func TestRecoverWithLog_NilLogger(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer RecoverWithLog(nil, "nilLogger")
		panic("still recovered")
	}()
	<-done
}

func TestRecoverWithCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var got any
	func() {
		defer RecoverWithCallback(logger, "tick", func(r any) { got = r })
		panic("encode failed")
	}()

	if got != "encode failed" {
		t.Errorf("recovered value = %v, want %q", got, "encode failed")
	}
}

func TestRecoverWithCallback_NilCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	func() {
		defer RecoverWithCallback(logger, "tick", nil)
		panic("nil callback")
	}()

	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("expected panic to be logged, got: %s", buf.String())
	}
}

func TestGo(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, nil))

	done := make(chan struct{})
	Go(logger, "worker", func() {
		defer close(done)
		panic("boom")
	})
	<-done

	// The deferred close runs before RecoverWithLog logs; wait for the log line.
	for i := 0; i < 1000; i++ {
		mu.Lock()
		out := buf.String()
		mu.Unlock()
		if strings.Contains(out, "worker") {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("expected panic in worker to be logged")
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

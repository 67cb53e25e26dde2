package profiling

import (
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServerDisabled(t *testing.T) {
	s := NewServer(&config.ProfilingConfig{Enabled: false})

	if err := s.Start(); err != nil {
		t.Errorf("Start() disabled error = %v", err)
	}
	if s.server != nil {
		t.Error("Disabled server should not listen")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() disabled error = %v", err)
	}
}

func TestServerServesPprof(t *testing.T) {
	port := freePort(t)
	s := NewServer(&config.ProfilingConfig{
		Enabled: true,
		Bind:    fmt.Sprintf("127.0.0.1:%d", port),
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	// Give the listener a moment
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/debug/pprof/", port))
	if err != nil {
		t.Fatalf("GET /debug/pprof/ error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /debug/pprof/ = %d, want 200", resp.StatusCode)
	}
}

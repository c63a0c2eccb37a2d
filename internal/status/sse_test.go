package status

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glennswest/ipmi-bmc-emulator/config"
)

func TestHandleStreamSendsConnectedEventFirst(t *testing.T) {
	s := newTestServer(t, []config.TargetEntry{nodeEntry("node1", 0x20)})

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/bmcs/node1/stream", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("expected an SSE content type, got %q", resp.Header.Get("Content-Type"))
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("failed reading first SSE line: %v", err)
	}
	if !strings.HasPrefix(line, "event: connected") {
		t.Fatalf("expected a connected event first, got %q", line)
	}
}

func TestHandleStreamUnknownBMCReturns404(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/bmcs/does-not-exist/stream", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown bmc, got %d", w.Code)
	}
}

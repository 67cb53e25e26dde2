package minerconn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req TaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Undecodable task request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"task_id":       req.TaskID,
			"result_url":    "https://results.example.com/1",
			"model_version": "v2.1",
			"latency_ms":    120.5,
		})
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	req := &TaskRequest{TaskID: "5-1-1", SlotID: 5, Payload: json.RawMessage(`{"prompt":"x"}`)}

	resp, err := tr.Send(context.Background(), srv.URL, req)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if resp.TaskID != "5-1-1" {
		t.Errorf("TaskID = %s, want 5-1-1", resp.TaskID)
	}
	if resp.ResultURL != "https://results.example.com/1" {
		t.Errorf("ResultURL = %s", resp.ResultURL)
	}
	if resp.ModelVersion != "v2.1" {
		t.Errorf("ModelVersion = %s", resp.ModelVersion)
	}
	if resp.Digest == "" {
		t.Error("Digest should be computed for every response")
	}
}

func TestHTTPSendMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "this is not json"},
		{"missing task id", `{"result_url":"https://x"}`},
		{"wrong task id", `{"task_id":"other"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tr := NewHTTPTransport()
			_, err := tr.Send(context.Background(), srv.URL, &TaskRequest{TaskID: "t1"})
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Send() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestHTTPSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	_, err := tr.Send(context.Background(), srv.URL, &TaskRequest{TaskID: "t1"})
	if err == nil {
		t.Error("Send() should fail on non-200 status")
	}
	if errors.Is(err, ErrMalformed) {
		t.Error("HTTP error status is not a malformed reply")
	}
}

func TestHTTPSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tr := NewHTTPTransport()
	_, err := tr.Send(ctx, srv.URL, &TaskRequest{TaskID: "t1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestHTTPSendConnectionRefused(t *testing.T) {
	tr := NewHTTPTransport()
	_, err := tr.Send(context.Background(), "http://127.0.0.1:1", &TaskRequest{TaskID: "t1"})
	if err == nil {
		t.Error("Send() should fail when nothing listens")
	}
}

func TestDigestStable(t *testing.T) {
	a := Digest([]byte("result body"))
	b := Digest([]byte("result body"))
	c := Digest([]byte("different body"))

	if a != b {
		t.Error("Digest must be deterministic")
	}
	if a == c {
		t.Error("Different bodies must digest differently")
	}
	if len(a) != 64 {
		t.Errorf("Digest length = %d, want 64 hex chars", len(a))
	}
}

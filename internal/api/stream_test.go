package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	return conn
}

func TestStreamJSONSendsPayloadAndExitsOnClientClose(t *testing.T) {
	source := make(chan string, 1)
	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamJSON(w, r, streamOptions[string]{
			Source: source,
			Encode: func(value string) (any, bool) {
				return map[string]string{"value": value}, value != "skip"
			},
		})
		close(handlerDone)
	}))
	defer srv.Close()

	conn := dialStream(t, srv)
	source <- "skip"
	source <- "hello"

	var payload map[string]string
	if err := conn.ReadJSON(&payload); err != nil {
		_ = conn.Close()
		t.Fatalf("read websocket: %v", err)
	}
	if payload["value"] != "hello" {
		_ = conn.Close()
		t.Fatalf("unexpected payload: %v", payload)
	}
	_ = conn.Close()

	select {
	case <-handlerDone:
	case <-time.After(time.Second):
		t.Fatalf("handler did not exit after close")
	}
}

func TestStreamJSONClosesWhenSourceCloses(t *testing.T) {
	source := make(chan string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamJSON(w, r, streamOptions[string]{Source: source})
	}))
	defer srv.Close()

	conn := dialStream(t, srv)
	defer conn.Close()
	close(source)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestStreamJSONBeforeFailureClosesWithReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamJSON(w, r, streamOptions[string]{
			Source: make(chan string),
			Before: func(*websocket.Conn) error {
				return errors.New(strings.Repeat("x", 200))
			},
		})
	}))
	defer srv.Close()

	conn := dialStream(t, srv)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != websocket.CloseInternalServerErr {
		t.Fatalf("expected internal error code, got %d", closeErr.Code)
	}
	if len(closeErr.Text) != maxCloseReason {
		t.Fatalf("expected reason truncated to %d bytes, got %d", maxCloseReason, len(closeErr.Text))
	}
}

func TestOriginAllowed(t *testing.T) {
	cases := []struct {
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{origin: "", host: "localhost:8080", want: true},
		{origin: "http://localhost:3000", host: "localhost:8080", want: true},
		{origin: "http://evil.example", host: "localhost:8080", want: false},
		{origin: "http://dash.example", host: "localhost:8080", allowed: []string{"dash.example"}, want: true},
		{origin: "http://[::1]:3000", host: "[::1]:8080", want: true},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/events", nil)
		r.Host = tc.host
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := isOriginAllowed(r, tc.allowed); got != tc.want {
			t.Fatalf("origin %q host %q: expected %v, got %v", tc.origin, tc.host, tc.want, got)
		}
	}
}

func TestCloseCodeForStatus(t *testing.T) {
	cases := map[int]int{
		http.StatusBadRequest:          websocket.CloseProtocolError,
		http.StatusUnauthorized:        websocket.ClosePolicyViolation,
		http.StatusServiceUnavailable:  websocket.CloseTryAgainLater,
		http.StatusInternalServerError: websocket.CloseInternalServerErr,
	}
	for status, want := range cases {
		if got := closeCodeForStatus(status); got != want {
			t.Fatalf("status %d: expected %d, got %d", status, want, got)
		}
	}
}

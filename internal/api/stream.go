package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fswalk/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	streamBufferSize   = 1024
	streamWriteTimeout = 10 * time.Second
	maxCloseReason     = 123
)

// streamOptions describes one websocket stream of JSON values read from
// Source. Encode may skip a value by returning false.
type streamOptions[T any] struct {
	AllowedOrigins []string
	Source         <-chan T
	Encode         func(T) (any, bool)
	Before         func(*websocket.Conn) error
	WriteTimeout   time.Duration
	Logger         *logging.Logger
}

// streamJSON upgrades the request and writes Source to the client until
// Source closes or the client goes away. Client frames are read and dropped
// so close frames are noticed.
func streamJSON[T any](w http.ResponseWriter, r *http.Request, opts streamOptions[T]) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  streamBufferSize,
		WriteBufferSize: streamBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, opts.AllowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logStreamError(opts.Logger, r, http.StatusBadRequest, "websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = streamWriteTimeout
	}

	if opts.Before != nil {
		if err := opts.Before(conn); err != nil {
			logStreamError(opts.Logger, r, http.StatusInternalServerError, "stream setup failed", err)
			closeStream(conn, websocket.CloseInternalServerErr, err.Error(), timeout)
			return
		}
	}

	encode := opts.Encode
	if encode == nil {
		encode = func(value T) (any, bool) { return value, true }
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case value, ok := <-opts.Source:
				if !ok {
					closeStream(conn, websocket.CloseNormalClosure, "stream closed", timeout)
					return
				}
				payload, ok := encode(value)
				if !ok {
					continue
				}
				if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(payload); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeStream(conn *websocket.Conn, code int, reason string, timeout time.Duration) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	message := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(timeout))
}

// refuseStream answers a request that never reaches the upgrade with a plain
// HTTP error.
func refuseStream(w http.ResponseWriter, r *http.Request, logger *logging.Logger, status int, message string, err error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = http.StatusText(status)
	}
	logStreamError(logger, r, status, message, err)
	http.Error(w, message, status)
}

func logStreamError(logger *logging.Logger, r *http.Request, status int, message string, err error) {
	if logger == nil || r == nil {
		return
	}
	fields := map[string]string{
		"path":       r.URL.Path,
		"status":     strconv.Itoa(status),
		"close_code": strconv.Itoa(closeCodeForStatus(status)),
		"message":    message,
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.Error("event stream error", fields)
		return
	}
	logger.Warn("event stream error", fields)
}

func closeCodeForStatus(status int) int {
	switch {
	case status == http.StatusBadRequest:
		return websocket.CloseProtocolError
	case status == http.StatusServiceUnavailable:
		return websocket.CloseTryAgainLater
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

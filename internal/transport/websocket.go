// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"
)

// PasswordEnv names the environment variable holding the bridge password
const PasswordEnv = "CDISTAT_PASSWORD"

// ErrConnectionClosed is returned once the WebSocket has failed or closed
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketOptions configures a bridge connection
type WebSocketOptions struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool
}

// WebSocketChannel carries the unit's byte stream over binary WebSocket
// messages, typically from a serial-to-network bridge. A background reader
// buffers incoming bytes; Read drains whatever has arrived and ignores the
// timeout hint.
type WebSocketChannel struct {
	conn *websocket.Conn
	url  string

	writeMu sync.Mutex

	mu      sync.Mutex
	buf     []byte
	closed  bool
	shut    bool
	readErr error

	done chan struct{}
}

// OpenWebSocket dials the bridge with optional HTTP Basic auth
func OpenWebSocket(ctx context.Context, opts WebSocketOptions) (*WebSocketChannel, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, opts.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketChannel(conn, opts.URL), nil
}

func newWebSocketChannel(conn *websocket.Conn, u string) *WebSocketChannel {
	w := &WebSocketChannel{
		conn: conn,
		url:  u,
		done: make(chan struct{}),
	}
	go w.readLoop()
	return w
}

// readLoop buffers binary messages until the connection fails
func (w *WebSocketChannel) readLoop() {
	defer close(w.done)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			if !w.closed {
				w.readErr = err
			}
			w.closed = true
			w.mu.Unlock()
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.mu.Lock()
		w.buf = append(w.buf, data...)
		w.mu.Unlock()
	}
}

func (w *WebSocketChannel) Write(ctx context.Context, p []byte) error {
	if !w.IsConnected() {
		return ErrConnectionClosed
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		w.conn.SetWriteDeadline(deadline)
	} else {
		w.conn.SetWriteDeadline(time.Time{})
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (w *WebSocketChannel) Read(ctx context.Context, p []byte, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Buffered bytes are still delivered after the peer hangs up
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}
	if w.closed {
		if w.readErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.readErr)
		}
		return 0, ErrConnectionClosed
	}
	return 0, nil
}

func (w *WebSocketChannel) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed || len(w.buf) > 0
}

func (w *WebSocketChannel) Close() error {
	w.mu.Lock()
	if w.shut {
		w.mu.Unlock()
		return nil
	}
	w.shut = true
	w.closed = true
	w.buf = nil
	w.mu.Unlock()

	w.writeMu.Lock()
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()

	err := w.conn.Close()
	<-w.done
	return err
}

// String describes the link for status lines
func (w *WebSocketChannel) String() string {
	return fmt.Sprintf("WebSocket: %s", w.url)
}

// GetPassword reads the bridge password from PasswordEnv or prompts for it
// without echo.
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		// Not a terminal; read a plain line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

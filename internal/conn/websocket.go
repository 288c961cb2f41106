package conn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/noteduco342/om-realtime-hub/internal/wire"
)

// WebSocketDialer dials the realtime endpoint with the session's bearer
// token and tenant header.
type WebSocketDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// EnableCompression negotiates permessage-deflate on top of the gzip
	// binary frames.
	EnableCompression bool
}

func (d *WebSocketDialer) Dial(ctx context.Context, session models.Session) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  d.HandshakeTimeout,
		EnableCompression: d.EnableCompression,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+session.Token)
	if session.TenantID != "" {
		header.Set("X-Tenant-ID", session.TenantID)
	}
	header.Set("X-Accept-Encoding", "gzip")

	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("websocket handshake: %w (status %d)", ErrUnauthorized, resp.StatusCode)
			}
			return nil, fmt.Errorf("websocket handshake: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	ws.SetReadLimit(wire.MaxFrameSize)
	return &wsConn{ws: ws, writeTimeout: d.WriteTimeout}, nil
}

// wsConn serializes writes, which the websocket library does not allow
// concurrently.
type wsConn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func (c *wsConn) ReadMessage() ([]byte, bool, error) {
	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, false, err
	}
	return data, messageType == websocket.BinaryMessage, nil
}

func (c *wsConn) WriteMessage(data []byte, binary bool) error {
	frameType := websocket.TextMessage
	if binary {
		frameType = websocket.BinaryMessage
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(frameType, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// WriteControl may run concurrently with WriteMessage.
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

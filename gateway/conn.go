package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Conn is one signalling session.
type Conn interface {
	// Send writes one message. It is safe for concurrent use.
	Send(ctx context.Context, op Opcode, data any) error
	// Receive blocks for the next message. Close unblocks it.
	Receive(ctx context.Context) (Payload, error)
	// Close sends a close frame with code and closes the connection.
	Close(code int, reason string) error
}

// Dialer opens signalling sessions.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebsocketDialer dials the voice endpoint over a websocket.
type WebsocketDialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// WriteTimeout bounds each write when ctx has no deadline.
	WriteTimeout time.Duration
}

// URL builds the signalling URL for an endpoint. Bare host:port endpoints
// get the wss scheme; explicit ws:// or wss:// URLs keep theirs.
func URL(endpoint string) (string, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "wss://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid voice endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid voice endpoint scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(Version))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	target, err := URL(endpoint)
	if err != nil {
		return nil, err
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "WebsocketDialer.Dial",
		"url":      target,
	}).Debug("Signalling connection opened")

	timeout := d.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &wsConn{ws: ws, writeTimeout: timeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func (c *wsConn) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(c.writeTimeout)
}

func (c *wsConn) Send(ctx context.Context, op Opcode, data any) error {
	payload, err := NewPayload(op, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(c.deadline(ctx))
	if err := c.ws.WriteJSON(payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", op, classifyError(err))
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) (Payload, error) {
	if d, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(d)
	} else {
		_ = c.ws.SetReadDeadline(time.Time{})
	}

	var p Payload
	if err := c.ws.ReadJSON(&p); err != nil {
		if ctx.Err() != nil {
			return Payload{}, ctx.Err()
		}
		return Payload{}, classifyError(err)
	}
	return p, nil
}

func (c *wsConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// classifyError turns websocket close frames into *CloseError.
func classifyError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Text: ce.Text}
	}
	return err
}

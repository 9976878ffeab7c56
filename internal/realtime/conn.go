package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chirp-social/realtime/pkg/logger"
	"github.com/chirp-social/realtime/pkg/metrics"
)

var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a slow client cannot keep up.
	ErrSendBufferFull = errors.New("send buffer full")
)

// ConnOptions tunes a WebSocket connection.
type ConnOptions struct {
	SendBuffer      int
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

func (o *ConnOptions) norm() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4096
	}
}

// Conn is a WebSocket connection bound to one logical user.
// One goroutine reads, one writes; Send only enqueues.
type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan []byte
	opts   ConnOptions
	logger *logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an upgraded socket.
func NewConn(ws *websocket.Conn, userID string, opts ConnOptions, log *logger.Logger) *Conn {
	opts.norm()
	id := uuid.Must(uuid.NewV7()).String()
	return &Conn{
		id:     id,
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, opts.SendBuffer),
		opts:   opts,
		logger: log.With(zap.String("conn_id", id), zap.String("user_id", userID)),
		done:   make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// UserID returns the logical user the connection belongs to.
func (c *Conn) UserID() string { return c.userID }

// Send enqueues frame for the write pump.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// Serve attaches the connection to hub and blocks until the peer goes away.
func (c *Conn) Serve(ctx context.Context, hub *Hub) {
	metrics.IncrementWSConnections()
	defer metrics.DecrementWSConnections()

	hub.Attach(ctx, c)
	c.logger.Info("websocket connected")

	go c.writePump()
	c.readPump()

	// detach first so nothing new is routed here while the socket closes
	hub.Detach(context.WithoutCancel(ctx), c)
	_ = c.Close()
	c.logger.Info("websocket disconnected")
}

// readPump discards client frames; the channel is server-to-client only.
func (c *Conn) readPump() {
	pongWait := c.opts.PingInterval * 2
	c.ws.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

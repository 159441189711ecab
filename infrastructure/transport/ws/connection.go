package ws

import (
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"chat-connect/protocol"
	"chat-connect/services"
	"chat-connect/sink"
	"context"
	goerrors "errors"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// connection pairs one reader and one writer goroutine over a websocket.
// Only the writer writes data frames.
type connection struct {
	log     *slog.Logger
	ws      *websocket.Conn
	session *services.Session
	out     *sink.ConnectionSink
	opts    Options
}

func newConnection(log *slog.Logger, ws *websocket.Conn, session *services.Session, out *sink.ConnectionSink, opts Options) *connection {
	return &connection{
		log:     log.With("participant_id", session.ParticipantID(), "connection_id", session.ConnectionID()),
		ws:      ws,
		session: session,
		out:     out,
		opts:    opts,
	}
}

// serve blocks until the connection is over, then unregisters the session.
func (c *connection) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.readLoop(ctx)
	cancel()
	<-writerDone
	c.session.Close(context.WithoutCancel(ctx))
	_ = c.ws.Close()
	c.log.Debug("Connection closed", "reason", c.out.Reason())
}

func (c *connection) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.out.Close(closeReasonFor(err))
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
		// Failures were already reported to the client as error events.
		_ = c.session.Handle(ctx, data)
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.out.Done():
			c.flush()
			c.writeClose(c.out.Reason())
			// Unblocks the reader.
			_ = c.ws.Close()
			return
		case e := <-c.out.Events():
			if err := c.write(e); err != nil {
				c.log.Debug("Write failed", "error", err)
				c.out.Close(chat.CloseNormal)
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.out.Close(chat.CloseNormal)
				_ = c.ws.Close()
				return
			}
		}
	}
}

// flush writes what is already buffered, except for a slow consumer.
func (c *connection) flush() {
	if c.out.Reason() == chat.CloseServerError {
		return
	}
	for {
		select {
		case e := <-c.out.Events():
			if err := c.write(e); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) write(e event.Event) error {
	frame, err := protocol.Encode(e)
	if err != nil {
		c.log.Error("Event encoding failed", "type", e.Name(), "error", err)
		return nil
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *connection) writeClose(reason chat.CloseReason) {
	msg := websocket.FormatCloseMessage(closeCode(reason), reason.String())
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
}

func closeCode(reason chat.CloseReason) int {
	switch reason {
	case chat.CloseAuthFailure:
		return CloseAuthFailure
	case chat.CloseTimeout:
		return CloseTimeout
	case chat.CloseServerError:
		return websocket.CloseInternalServerErr
	default:
		return websocket.CloseNormalClosure
	}
}

func closeReasonFor(err error) chat.CloseReason {
	var netErr net.Error
	if goerrors.As(err, &netErr) && netErr.Timeout() {
		return chat.CloseTimeout
	}
	return chat.CloseNormal
}

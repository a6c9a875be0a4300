package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/PlutoLang/Language-Server/internal/frame"
	"github.com/PlutoLang/Language-Server/internal/rpc"
	"github.com/PlutoLang/Language-Server/internal/session"
)

// Listener accepts TCP connections and drives one Dispatcher-backed read
// loop per connection. Shutdown waits for every in-flight connection via
// wg, the same drain-before-return shape as the teacher's
// MultiLSPManager.ShutdownAll (server/multi_lsp.go) waiting on its live
// subprocess registry.
type Listener struct {
	Dispatcher *Dispatcher
	Logger     *slog.Logger

	wg sync.WaitGroup
}

// NewListener returns a Listener that will dispatch every connection's
// messages to d.
func NewListener(d *Dispatcher, logger *slog.Logger) *Listener {
	return &Listener{
		Dispatcher: d,
		Logger:     logger,
	}
}

// Serve accepts connections on ln until it returns an error (typically
// because the caller closed ln before calling Shutdown).
func (l *Listener) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		l.wg.Add(1)
		go l.handleConn(conn)
	}
}

// Shutdown blocks until every connection accepted by Serve has ended. It
// does not close live connections: each one ends only when its client
// disconnects, sends exit, or hits a connection-fatal error. The caller is
// responsible for closing the net.Listener passed to Serve first, so no new
// connections are accepted while this waits.
func (l *Listener) Shutdown() {
	l.wg.Wait()
}

func (l *Listener) handleConn(conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	id := uuid.NewString()
	logger := l.Logger.With("session", id, "remote_addr", conn.RemoteAddr().String())
	sess := session.New(id)

	logger.Info("connection established")
	defer logger.Info("connection closed")

	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			sess.Frames.Feed(buf[:n])
			if !l.drainFrames(conn, sess, logger) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// drainFrames extracts and dispatches every complete frame currently
// buffered. It returns false if the connection must be closed.
func (l *Listener) drainFrames(conn net.Conn, sess *session.Session, logger *slog.Logger) bool {
	for {
		body, ok, err := sess.Frames.Next()
		if err != nil {
			logger.Warn("malformed frame", "err", err)
			return false
		}
		if !ok {
			return true
		}

		msg, derr := rpc.Decode(body)
		if derr != nil {
			logger.Warn("invalid json", "err", derr)
			return false
		}

		logger.Debug("dispatching", "method", msg.Method)
		frames, closeConn, dispatchErr := l.Dispatcher.Dispatch(sess, msg)
		if dispatchErr != nil {
			logger.Warn("request error", "kind", dispatchErr.Kind, "err", dispatchErr.Err)
		}

		for _, f := range frames {
			if _, werr := conn.Write(frame.Encode(f)); werr != nil {
				logger.Warn("write failed, dropping connection", "err", werr)
				return false
			}
		}

		if closeConn {
			return false
		}
	}
}

// ErrBindFailure wraps a failure to bind the listening socket, so callers
// can distinguish it (spec.md §6: exit code 1) from other startup errors
// with errors.Is.
var ErrBindFailure = errors.New("server: bind failure")

// Listen binds a TCP listener on port.
func Listen(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("%w: :%d: %v", ErrBindFailure, port, err)
	}
	return ln, nil
}

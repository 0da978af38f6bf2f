// Package server accepts client connections on a local byte channel, frames
// the stream into delimiter-terminated messages, and feeds each one to the
// command dispatcher.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mzani/taskd/internal/broadcast"
	"github.com/mzani/taskd/internal/dispatch"
	"github.com/mzani/taskd/internal/observability"
	"github.com/mzani/taskd/internal/protocol"
)

const (
	readBufferSize = 4096

	// eventWriteTimeout bounds every broadcast write on a subscribed
	// connection. A subscriber whose socket buffer stays full past it fails
	// the write and is dropped; the broadcaster is never blocked on.
	eventWriteTimeout = 5 * time.Second
)

// Server runs the accept loop for one or more listeners and owns the
// per-connection read loops.
type Server struct {
	dispatcher  *dispatch.Dispatcher
	broadcaster *broadcast.Broadcaster
	metrics     *observability.Metrics

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
}

func New(dispatcher *dispatch.Dispatcher, broadcaster *broadcast.Broadcaster, metrics *observability.Metrics) *Server {
	return &Server{
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		metrics:     metrics,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until the listener is closed. It returns nil
// on a clean shutdown triggered by Close.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		if s.metrics != nil {
			s.metrics.Connections.Set(float64(len(s.conns)))
		}
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

// Close drops every open connection. Listeners are closed by the caller
// that opened them.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// eventSink carries broadcast frames onto a subscribed connection through
// the same encoder the response path uses, under a per-write deadline. The
// broadcaster serializes sink writes, so deadline set and clear never race
// with another broadcast on this connection.
type eventSink struct {
	conn    net.Conn
	enc     *protocol.Encoder
	timeout time.Duration
}

func (s *eventSink) WriteFrame(frame []byte) error {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = eventWriteTimeout
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	err := s.enc.WriteFrame(frame)
	_ = s.conn.SetWriteDeadline(time.Time{})
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	enc := protocol.NewEncoder(conn)
	sink := &eventSink{conn: conn, enc: enc}
	subID := 0

	defer func() {
		if subID != 0 {
			s.broadcaster.Remove(subID)
		}
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		if s.metrics != nil {
			s.metrics.Connections.Set(float64(len(s.conns)))
		}
		s.mu.Unlock()
	}()

	// Private byte accumulator: a message may be split across reads, and a
	// single read may carry several pipelined messages. Every complete frame
	// available after a read is processed before waiting for more bytes.
	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(pending, protocol.Delimiter)
				if idx < 0 {
					break
				}
				frame := pending[:idx]
				pending = pending[idx+1:]
				if len(bytes.TrimSpace(frame)) == 0 {
					continue
				}
				if err := s.handleFrame(enc, sink, &subID, frame); err != nil {
					log.Printf("server: write to %s failed: %v", conn.RemoteAddr(), err)
					return
				}
			}
		}
		if readErr != nil {
			return
		}
	}
}

// handleFrame decodes one message, dispatches it, and writes the response.
// The returned error is a connection write failure; decode and handler
// failures stay on the wire as failure responses.
func (s *Server) handleFrame(enc *protocol.Encoder, sink *eventSink, subID *int, frame []byte) error {
	cmd, err := protocol.ParseCommand(frame)
	if err != nil {
		var verr *protocol.ValidationError
		if errors.As(err, &verr) {
			return enc.Encode(protocol.Fail(cmd.ID, verr.Error()))
		}
		// Malformed payload short-circuits without reaching the dispatcher.
		return enc.Encode(protocol.Fail(protocol.ExtractID(frame), err.Error()))
	}

	resp := s.dispatcher.Dispatch(cmd)

	// A successful subscribe writes its acknowledgment and registers the
	// connection under the broadcaster lock, so every event broadcast after
	// the ack reaches this subscriber.
	if cmd.Action == protocol.ActionSubscribe && resp.Success && *subID == 0 {
		ack, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		id, err := s.broadcaster.Subscribe(sink, ack)
		if err != nil {
			return err
		}
		*subID = id
		return nil
	}

	return enc.Encode(resp)
}

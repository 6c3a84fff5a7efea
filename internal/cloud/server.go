package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/value"
)

const (
	defaultSendBuffer = 256
	writeWait         = 10 * time.Second
	maxMessageSize    = 4 << 20
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *ServerMetrics

	// SendBuffer is the per-connection outbound queue length. A client whose
	// queue fills is disconnected. Default 256.
	SendBuffer int
}

// Server is the authoritative side of the cloud store. It implements
// http.Handler; mount it on the path clients dial.
//
// All writes and connection registrations are serialized by one mutex so
// that every connection observes changes in version order and a new
// connection's snapshot is never interleaved with a broadcast.
type Server struct {
	store    *store.Store
	clock    *Clock
	logger   *slog.Logger
	metrics  *ServerMetrics
	buffer   int
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a server over st. The clock resumes after the highest
// version st has recorded.
func NewServer(ctx context.Context, st *store.Store, opts ServerOptions) (*Server, error) {
	if st == nil {
		return nil, errors.New("cloud: nil store")
	}
	last, err := st.MaxVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloud: resume clock: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}

	return &Server{
		store:   st,
		clock:   NewClockAt(last),
		logger:  logger,
		metrics: opts.Metrics,
		buffer:  buffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}, nil
}

// Version returns the last version the server issued.
func (s *Server) Version() int64 {
	return s.clock.Current()
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := &conn{
		ws:     ws,
		out:    make(chan Message, s.buffer),
		done:   make(chan struct{}),
		remote: r.RemoteAddr,
	}

	if err := s.register(r.Context(), c); err != nil {
		s.logger.Warn("connection rejected", "remote", c.remote, "error", err)
		ws.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(s.logger)
	}()

	s.readLoop(c)

	s.unregister(c)
	c.close()
	<-writerDone
}

// register adds c and queues its snapshot under the write lock.
func (s *Server) register(ctx context.Context, c *conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("server closed")
	}

	stored, err := s.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	snap := Message{Type: MsgSnapshot, Entries: make([]Entry, 0, len(stored))}
	for _, e := range stored {
		snap.Entries = append(snap.Entries, toWire(e))
	}

	s.conns[c] = struct{}{}
	s.metrics.connected(1)
	s.logger.Debug("client connected", "remote", c.remote, "keys", len(snap.Entries))

	c.out <- snap
	return nil
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[c]; !ok {
		return
	}
	delete(s.conns, c)
	s.metrics.connected(-1)
	s.logger.Debug("client disconnected", "remote", c.remote)
}

func (s *Server) readLoop(c *conn) {
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				s.logger.Debug("read failed", "remote", c.remote, "error", err)
			}
			return
		}

		switch msg.Type {
		case MsgBatch:
			s.apply(c, msg)
		case MsgSync:
			s.enqueue(c, Message{Type: MsgSynced, Seq: msg.Seq})
		default:
			s.enqueue(c, Message{Type: MsgError, Error: fmt.Sprintf("unexpected message type %q", msg.Type)})
		}
	}
}

// apply writes a batch, acks it to the sender and broadcasts the changed
// entries to every other connection, one message per origin.
func (s *Server) apply(from *conn, batch Message) {
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	var groups []Message
	for _, op := range batch.Ops {
		version := s.clock.Next()

		var (
			changed bool
			err     error
			kind    = "set"
		)
		if op.removal() {
			kind = "remove"
			changed, err = s.store.Delete(ctx, op.Key, version)
		} else {
			changed, err = s.store.Put(ctx, op.Key, op.Value.Value, version, op.Origin)
		}
		if err != nil {
			s.logger.Error("apply failed", "key", op.Key, "op", kind, "error", err)
			s.enqueueLocked(from, s.rejection(ctx, op.Key, err))
			continue
		}
		if !changed {
			s.metrics.ignored()
			continue
		}
		s.metrics.applied(kind)

		entry := Entry{Key: op.Key, Value: op.Value, Version: version}
		if n := len(groups); n > 0 && groups[n-1].Origin == op.Origin {
			groups[n-1].Entries = append(groups[n-1].Entries, entry)
		} else {
			groups = append(groups, Message{Type: MsgChanged, Origin: op.Origin, Entries: []Entry{entry}})
		}
	}

	s.enqueueLocked(from, Message{Type: MsgAck, Seq: batch.Seq})

	for _, msg := range groups {
		for c := range s.conns {
			if c == from {
				continue
			}
			s.enqueueLocked(c, msg)
			s.metrics.broadcast()
		}
	}
}

// rejection reports a failed op along with the key's stored state, so the
// sender can replace the value it applied optimistically.
func (s *Server) rejection(ctx context.Context, key string, cause error) Message {
	msg := Message{Type: MsgError, Key: key, Error: cause.Error()}
	e, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("read after failed apply", "key", key, "error", err)
		return msg
	}
	entry := Entry{Key: key}
	if ok {
		entry.Value = value.Envelope{Value: e.Value}
		entry.Version = e.Version
	}
	msg.Entries = []Entry{entry}
	return msg
}

func (s *Server) enqueue(c *conn, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(c, msg)
}

// enqueueLocked queues msg without blocking. A connection that cannot keep
// up is dropped; its reader then exits and the handler cleans up.
func (s *Server) enqueueLocked(c *conn, msg Message) {
	if c.isClosed() {
		return
	}
	select {
	case c.out <- msg:
	default:
		s.logger.Warn("client too slow, disconnecting", "remote", c.remote)
		s.metrics.dropped()
		delete(s.conns, c)
		s.metrics.connected(-1)
		c.close()
	}
}

// Close disconnects every client and waits for their handlers to return.
// The store is not closed.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.conns {
		c.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func toWire(e store.Entry) Entry {
	return Entry{Key: e.Key, Value: value.Envelope{Value: e.Value}, Version: e.Version}
}

type conn struct {
	ws     *websocket.Conn
	out    chan Message
	remote string

	closeOnce sync.Once
	done      chan struct{}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		// Unblocks the reader; the writer notices done.
		c.ws.Close()
	})
}

func (c *conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) writeLoop(logger *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				logger.Debug("write failed", "remote", c.remote, "error", err)
				c.close()
				return
			}
		}
	}
}

package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/value"
)

// ErrDisconnected is returned by writes after the connection to the server
// was lost. Reads keep serving the last known state.
var ErrDisconnected = errors.New("cloud: connection lost")

const closeFlushTimeout = 2 * time.Second

// ClientOptions configures Dial.
type ClientOptions struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// ID identifies this client; writes without a context origin are
	// attributed to it. Defaults to a fresh UUIDv7.
	ID string

	// Header is sent with the websocket handshake.
	Header http.Header
}

// Client is a batched-flavor kv.Store backed by a Server.
//
// Thread-safety: all methods are safe for concurrent use. Watch callbacks for
// local writes run on the writing goroutine; callbacks for remote changes run
// on the client's reader goroutine.
type Client struct {
	id       string
	ws       *websocket.Conn
	logger   *slog.Logger
	watchers *kv.Watchers

	mu       sync.Mutex
	cache    map[string]value.Value
	pending  map[string]int
	queue    []outItem
	inflight map[int64][]string
	waiters  map[int64]chan bool
	batchSeq int64
	syncSeq  int64
	closed   bool
	err      error

	signal   chan struct{}
	done     chan struct{}
	failOnce sync.Once
	wg       sync.WaitGroup
}

// outItem is either an op or a sync request; order between them is kept.
type outItem struct {
	op   *Op
	sync int64
}

// Dial connects to the server at url (ws:// or wss://) and waits for the
// initial snapshot. ctx bounds the handshake and the snapshot read.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := opts.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("cloud: dial %s: %w", url, err)
	}
	ws.SetReadLimit(maxMessageSize)

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	var first Message
	if err := ws.ReadJSON(&first); err != nil {
		ws.Close()
		return nil, fmt.Errorf("cloud: read snapshot: %w", err)
	}
	if first.Type != MsgSnapshot {
		ws.Close()
		return nil, fmt.Errorf("cloud: expected snapshot, got %q", first.Type)
	}
	ws.SetReadDeadline(time.Time{})

	c := &Client{
		id:       id,
		ws:       ws,
		logger:   logger.With("client", id),
		watchers: kv.NewWatchers(),
		cache:    make(map[string]value.Value, len(first.Entries)),
		pending:  make(map[string]int),
		inflight: make(map[int64][]string),
		waiters:  make(map[int64]chan bool),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, e := range first.Entries {
		if e.Value.Value != nil {
			c.cache[e.Key] = e.Value.Value
		}
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	c.logger.Debug("connected", "url", url, "keys", len(c.cache))
	return c, nil
}

// ID returns the client id.
func (c *Client) ID() string {
	return c.id
}

// Done is closed when the connection ends, by Close or by failure.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Get implements kv.Store from the local cache.
func (c *Client) Get(_ context.Context, key string) (value.Value, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, kv.ErrClosed
	}
	v, ok := c.cache[key]
	if !ok {
		return nil, false, nil
	}
	return value.Clone(v), true, nil
}

// Set implements kv.Store. Watchers are notified before the op reaches the
// server.
func (c *Client) Set(ctx context.Context, key string, v value.Value) error {
	if v == nil {
		return fmt.Errorf("cloud: set %q: nil value", key)
	}
	return c.write(ctx, key, v)
}

// Remove implements kv.Store.
func (c *Client) Remove(ctx context.Context, key string) error {
	return c.write(ctx, key, nil)
}

func (c *Client) write(ctx context.Context, key string, v value.Value) error {
	origin := kv.OriginFrom(ctx)
	if origin == "" {
		origin = c.id
	}

	c.mu.Lock()
	if err := c.writableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	old, existed := c.cache[key]
	if v == nil {
		if !existed {
			c.mu.Unlock()
			return nil
		}
		delete(c.cache, key)
	} else {
		if existed && value.Equal(old, v) {
			c.mu.Unlock()
			return nil
		}
		c.cache[key] = value.Clone(v)
	}

	c.pending[key]++
	c.queue = append(c.queue, outItem{op: &Op{Key: key, Value: value.Envelope{Value: value.Clone(v)}, Origin: origin}})
	c.wakeLocked()
	c.mu.Unlock()

	c.watchers.Notify([]string{key}, origin)
	return nil
}

func (c *Client) writableLocked() error {
	if c.closed {
		return kv.ErrClosed
	}
	if c.err != nil {
		return ErrDisconnected
	}
	return nil
}

func (c *Client) wakeLocked() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// WatchAll implements kv.Broadcaster.
func (c *Client) WatchAll(fn func(kv.Change)) kv.Cancel {
	return c.watchers.WatchAll(fn)
}

// Keys implements kv.Lister. Keys are returned sorted.
func (c *Client) Keys(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, kv.ErrClosed
	}
	keys := make([]string, 0, len(c.cache))
	for k := range c.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Synchronize implements kv.Synchronizer. It reports true once every write
// queued before the call has been applied by the server.
func (c *Client) Synchronize(ctx context.Context) bool {
	c.mu.Lock()
	if c.writableLocked() != nil {
		c.mu.Unlock()
		return false
	}
	c.syncSeq++
	seq := c.syncSeq
	ch := make(chan bool, 1)
	c.waiters[seq] = ch
	c.queue = append(c.queue, outItem{sync: seq})
	c.wakeLocked()
	c.mu.Unlock()

	select {
	case ok := <-ch:
		return ok
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, seq)
		c.mu.Unlock()
		return false
	case <-c.done:
		return false
	}
}

// Close flushes queued writes (bounded by a short timeout), closes the
// connection and waits for the client's goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	if !c.Synchronize(ctx) && c.Err() == nil {
		c.logger.Warn("close: pending writes may not have reached the server")
	}
	cancel()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.fail(kv.ErrClosed)
	c.wg.Wait()
	return nil
}

// fail ends the connection once, releasing every Synchronize waiter.
func (c *Client) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		waiters := c.waiters
		c.waiters = make(map[int64]chan bool)
		c.mu.Unlock()

		close(c.done)
		c.ws.Close()
		for _, ch := range waiters {
			ch <- false
		}
	})
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("connection lost", "error", err)
			}
			c.fail(fmt.Errorf("%w: %v", ErrDisconnected, err))
			return
		}

		switch msg.Type {
		case MsgChanged:
			c.applyRemote(msg)
		case MsgAck:
			c.ack(msg.Seq)
		case MsgSynced:
			c.resolve(msg.Seq)
		case MsgError:
			c.logger.Warn("server rejected write", "key", msg.Key, "error", msg.Error)
			c.reject(msg)
		default:
			c.logger.Debug("ignoring message", "type", msg.Type)
		}
	}
}

// applyRemote folds a changed message into the cache and notifies watchers
// with the keys whose value actually changed.
func (c *Client) applyRemote(msg Message) {
	c.mu.Lock()
	var keys []string
	for _, e := range msg.Entries {
		if c.pending[e.Key] > 0 {
			continue
		}
		if c.foldLocked(e) {
			keys = append(keys, e.Key)
		}
	}
	c.mu.Unlock()

	c.watchers.Notify(keys, msg.Origin)
}

// reject restores the server's state for keys whose write was refused. The
// refused op is still counted in pending until its batch is acked, so a key
// with more than one pending op has a later write that supersedes it.
func (c *Client) reject(msg Message) {
	c.mu.Lock()
	var keys []string
	for _, e := range msg.Entries {
		if c.pending[e.Key] > 1 {
			continue
		}
		if c.foldLocked(e) {
			keys = append(keys, e.Key)
		}
	}
	c.mu.Unlock()

	c.watchers.Notify(keys, "")
}

// foldLocked stores e in the cache and reports whether the value changed.
func (c *Client) foldLocked(e Entry) bool {
	old, existed := c.cache[e.Key]
	if e.Value.Value == nil {
		if !existed {
			return false
		}
		delete(c.cache, e.Key)
		return true
	}
	if existed && value.Equal(old, e.Value.Value) {
		return false
	}
	c.cache[e.Key] = e.Value.Value
	return true
}

func (c *Client) ack(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.inflight[seq] {
		if c.pending[key]--; c.pending[key] <= 0 {
			delete(c.pending, key)
		}
	}
	delete(c.inflight, seq)
}

func (c *Client) resolve(seq int64) {
	c.mu.Lock()
	ch, ok := c.waiters[seq]
	delete(c.waiters, seq)
	c.mu.Unlock()

	if ok {
		ch <- true
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.signal:
		}

		c.mu.Lock()
		items := c.queue
		c.queue = nil
		c.mu.Unlock()

		if err := c.flush(items); err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrDisconnected, err))
			return
		}
	}
}

// flush sends items in order, coalescing runs of ops into one batch.
func (c *Client) flush(items []outItem) error {
	var batch []Op
	sendBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		keys := make([]string, len(batch))
		for i, op := range batch {
			keys[i] = op.Key
		}

		c.mu.Lock()
		c.batchSeq++
		seq := c.batchSeq
		c.inflight[seq] = keys
		c.mu.Unlock()

		msg := Message{Type: MsgBatch, Seq: seq, Ops: batch}
		batch = nil
		return c.send(msg)
	}

	for _, it := range items {
		if it.op != nil {
			batch = append(batch, *it.op)
			continue
		}
		if err := sendBatch(); err != nil {
			return err
		}
		if err := c.send(Message{Type: MsgSync, Seq: it.sync}); err != nil {
			return err
		}
	}
	return sendBatch()
}

func (c *Client) send(msg Message) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

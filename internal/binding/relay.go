package binding

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/observe"
)

type relayState int32

const (
	relayUnsubscribed relayState = iota
	relaySubscribed
	relayClosed
)

func (s relayState) String() string {
	switch s {
	case relayUnsubscribed:
		return "unsubscribed"
	case relaySubscribed:
		return "subscribed"
	case relayClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// relay turns store change events into field notifications.
//
// It ignores keys outside its forward map, keys of blacklisted fields and
// events stamped with its owner's own origin (those writes already notified
// locally). Each remaining key is announced once per event, on the executor.
type relay struct {
	state     atomic.Int32
	source    kv.ChangeSource
	forward   map[string]string
	blacklist map[string]struct{}
	origin    string
	exec      observe.Executor
	announce  func(name string)
	logger    *slog.Logger

	mu     sync.Mutex
	cancel kv.Cancel
}

func newRelay(source kv.ChangeSource, forward map[string]string, blacklist map[string]struct{},
	origin string, exec observe.Executor, announce func(string), logger *slog.Logger) *relay {
	return &relay{
		source:    source,
		forward:   forward,
		blacklist: blacklist,
		origin:    origin,
		exec:      exec,
		announce:  announce,
		logger:    logger,
	}
}

func (r *relay) currentState() relayState {
	return relayState(r.state.Load())
}

// subscribe moves Unsubscribed -> Subscribed. The state flips before the
// watches are registered so no event delivered during registration is lost.
func (r *relay) subscribe() error {
	if !r.state.CompareAndSwap(int32(relayUnsubscribed), int32(relaySubscribed)) {
		return nil
	}

	keys := make([]string, 0, len(r.forward))
	for key := range r.forward {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	cancel, err := r.source.Subscribe(keys, r.handle)
	if err != nil {
		r.state.Store(int32(relayClosed))
		return err
	}

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	return nil
}

// close moves to the terminal state and removes the watches exactly once.
func (r *relay) close() {
	prev := relayState(r.state.Swap(int32(relayClosed)))
	if prev != relaySubscribed {
		return
	}

	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (r *relay) handle(c kv.Change) {
	if r.currentState() != relaySubscribed {
		return
	}
	if c.Origin != "" && c.Origin == r.origin {
		return
	}

	seen := make(map[string]struct{}, len(c.Keys))
	for _, key := range c.Keys {
		name, ok := r.forward[key]
		if !ok {
			continue
		}
		if _, ignored := r.blacklist[name]; ignored {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		r.logger.Debug("external change", slog.String("field", name), slog.String("key", key), slog.String("origin", c.Origin))
		r.exec.Dispatch(func() {
			if r.currentState() != relaySubscribed {
				return
			}
			r.announce(name)
		})
	}
}

package observe

import (
	"sort"
	"sync"
)

// ID identifies an observable field within one Registrar.
type ID string

// Cancel removes a subscription. Safe to call more than once.
type Cancel func()

// Registrar records field reads and fans out mutation notifications.
//
// Thread-safety: all methods are safe for concurrent use. Mutation bodies are
// serialized per id, so a body may mutate other ids (a store watcher writing
// a sibling field, say) but must not mutate its own. Notifications run after
// the body, outside the internal locks, so an observer may read fields,
// write them, or subscribe again.
type Registrar struct {
	mu     sync.Mutex
	next   uint64
	subs   map[ID]map[uint64]func(ID)
	bodies map[ID]*sync.Mutex

	// trackMu serializes tracking passes; pass is the active one.
	trackMu sync.Mutex
	passMu  sync.Mutex
	pass    *trackingPass
}

type trackingPass struct {
	ids  map[ID]struct{}
	list []ID
}

// NewRegistrar creates an empty registrar.
func NewRegistrar() *Registrar {
	return &Registrar{
		subs:   make(map[ID]map[uint64]func(ID)),
		bodies: make(map[ID]*sync.Mutex),
	}
}

// Access records a dependency on id from the active tracking pass.
// Without an active pass it does nothing.
func (r *Registrar) Access(id ID) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	if r.pass == nil {
		return
	}
	if _, seen := r.pass.ids[id]; seen {
		return
	}
	r.pass.ids[id] = struct{}{}
	r.pass.list = append(r.pass.list, id)
}

// AnnounceMutation runs body (which may be nil) and then notifies every
// subscriber of id, in subscription order.
func (r *Registrar) AnnounceMutation(id ID, body func()) {
	if body != nil {
		mu := r.bodyLock(id)
		mu.Lock()
		func() {
			defer mu.Unlock()
			body()
		}()
	}

	r.mu.Lock()
	set := r.subs[id]
	keys := make([]uint64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	fns := make([]func(ID), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, set[k])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}

// bodyLock returns the lock serializing mutation bodies of id. The set of
// ids is the owner's fields, so locks are never released.
func (r *Registrar) bodyLock(id ID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	mu, ok := r.bodies[id]
	if !ok {
		mu = new(sync.Mutex)
		r.bodies[id] = mu
	}
	return mu
}

// Subscribe calls fn after every announced mutation of id until cancelled.
func (r *Registrar) Subscribe(id ID, fn func(ID)) Cancel {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	key := r.next
	set, ok := r.subs[id]
	if !ok {
		set = make(map[uint64]func(ID))
		r.subs[id] = set
	}
	set[key] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs[id], key)
			if len(r.subs[id]) == 0 {
				delete(r.subs, id)
			}
		})
	}
}

// Track runs apply, recording every id it accesses, and arranges for
// onChange to be called once, on the first later mutation of any of them.
// It returns the ids read during apply.
//
// Tracking passes are serialized per Registrar. Accesses made by other
// goroutines while apply runs are attributed to the active pass, so apply
// should only read fields synchronously.
func (r *Registrar) Track(apply func(), onChange func(ID)) ([]ID, Cancel) {
	r.trackMu.Lock()
	pass := &trackingPass{ids: make(map[ID]struct{})}

	r.passMu.Lock()
	r.pass = pass
	r.passMu.Unlock()

	func() {
		defer func() {
			r.passMu.Lock()
			r.pass = nil
			r.passMu.Unlock()
			r.trackMu.Unlock()
		}()
		apply()
	}()

	var (
		once    sync.Once
		cancels []Cancel
		mu      sync.Mutex
	)
	cancelAll := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range cancels {
			c()
		}
	}
	fire := func(id ID) {
		once.Do(func() {
			cancelAll()
			if onChange != nil {
				onChange(id)
			}
		})
	}

	mu.Lock()
	for _, id := range pass.list {
		cancels = append(cancels, r.Subscribe(id, fire))
	}
	mu.Unlock()

	return pass.list, func() { once.Do(cancelAll) }
}

// SubscriberCount returns the number of live subscriptions for id.
func (r *Registrar) SubscriberCount(id ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[id])
}

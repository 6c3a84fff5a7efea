// Package cloud implements a network-synchronized store.
//
// A Server owns the authoritative key table (SQLite, see internal/store) and
// accepts websocket connections. A Client dials a server and satisfies
// kv.Store, kv.Broadcaster, kv.Synchronizer and kv.Lister against a local
// cache so reads never block on the network.
//
// # Protocol
//
// Messages are JSON objects with a "type" discriminator:
//
//	server -> client  snapshot  every stored entry, sent once on connect
//	client -> server  batch     set/remove ops, each stamped with its origin
//	server -> client  ack       the batch with this seq has been applied
//	server -> client  changed   entries another connection changed (one origin)
//	client -> server  sync      flush request
//	server -> client  synced    everything sent before the sync is durable
//	server -> client  error     a rejected op; the connection stays open
//
// The server applies ops in arrival order (last writer wins), stamps each
// accepted write with a logical version, and broadcasts only writes that
// changed the stored content. A batch that touches several keys is delivered
// to other clients as one change list per origin, which is why the client is a
// batched-flavor store.
//
// # Local writes
//
// Client.Set updates the cache and notifies watchers immediately; the op is
// queued for the writer goroutine. Until the server acks it, remote changes to
// the same key are ignored: the server applied them before our op and our op
// will overwrite them.
package cloud

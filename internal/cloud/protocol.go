package cloud

import (
	"github.com/roach88/fieldsync/internal/value"
)

// MessageType discriminates protocol messages.
type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgBatch    MessageType = "batch"
	MsgAck      MessageType = "ack"
	MsgChanged  MessageType = "changed"
	MsgSync     MessageType = "sync"
	MsgSynced   MessageType = "synced"
	MsgError    MessageType = "error"
)

// Op is one client write. A null value removes the key.
type Op struct {
	Key    string         `json:"key"`
	Value  value.Envelope `json:"value"`
	Origin string         `json:"origin,omitempty"`
}

// Entry is one server-side key state. A null value means the key was removed.
type Entry struct {
	Key     string         `json:"key"`
	Value   value.Envelope `json:"value"`
	Version int64          `json:"version,omitempty"`
}

// Message is the single wire frame shape; unused fields are omitted.
type Message struct {
	Type    MessageType `json:"type"`
	Seq     int64       `json:"seq,omitempty"`
	Origin  string      `json:"origin,omitempty"`
	Ops     []Op        `json:"ops,omitempty"`
	Entries []Entry     `json:"entries,omitempty"`
	Key     string      `json:"key,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (o Op) removal() bool { return o.Value.Value == nil }

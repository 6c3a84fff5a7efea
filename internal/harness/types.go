package harness

import (
	"sync"

	"github.com/roach88/fieldsync/internal/value"
)

// Trace event types beyond the step ops.
const (
	EventStoreSet    = "store_set"
	EventStoreRemove = "store_remove"
	EventNotify      = "notify"
)

// originExternal labels store calls made without an owner.
const originExternal = "external"

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Type   string      `json:"type"`
	Owner  string      `json:"owner,omitempty"`
	Field  string      `json:"field,omitempty"`
	Key    string      `json:"key,omitempty"`
	Value  value.Value `json:"-"`
	Origin string      `json:"origin,omitempty"`
	Seq    int64       `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every read and assertion held.
	Pass bool `json:"pass"`

	// Trace lists steps, store calls and notifications in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	mu sync.Mutex
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(e TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Trace = append(r.Trace, e)
}

// Events returns the trace events of the given type.
func (r *Result) Events(typ string) []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/fieldsync/internal/binding"
	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/observe"
	"github.com/roach88/fieldsync/internal/testutil"
	"github.com/roach88/fieldsync/internal/value"
)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock over a fresh memory store.
type Harness struct {
	store  *recordingStore
	clock  *testutil.DeterministicClock
	logger *slog.Logger
	result *Result

	owners map[string]*binding.Owner
	names  map[string]string // owner id -> scenario name
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh memory store for isolation. An error is
// returned when the scenario cannot be executed at all (an owner fails to
// build); failed reads and assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		clock:  testutil.NewDeterministicClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		result: NewResult(),
		owners: make(map[string]*binding.Owner, len(scenario.Owners)),
		names:  make(map[string]string, len(scenario.Owners)),
	}
	h.store = &recordingStore{Memory: kv.NewMemory(), record: h.record}
	defer h.closeAll()

	ctx := context.Background()
	if err := h.seed(ctx, scenario.Store); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}

	for _, decl := range scenario.Owners {
		if err := h.build(decl); err != nil {
			return nil, err
		}
	}

	for i, step := range scenario.Flow {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", i, step.Op, err)
		}
	}

	h.labelOrigins()

	actx := &AssertionContext{Store: h.store.Memory, Owners: h.owners, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}

	return h.result, nil
}

func (h *Harness) seed(ctx context.Context, seed map[string]any) error {
	keys := make([]string, 0, len(seed))
	for k := range seed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := value.FromPlain(seed[k])
		if err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		if err := h.store.Memory.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) build(decl OwnerDecl) error {
	o, err := decl.Owner.Build(h.store, func(c *binding.Config) {
		c.Executor = observe.Inline
		c.Logger = h.logger
	})
	if err != nil {
		return fmt.Errorf("owner %q: %w", decl.Name, err)
	}

	name := decl.Name
	h.owners[name] = o
	h.names[o.ID()] = name
	o.SubscribeAll(func(field string) {
		h.record(TraceEvent{Type: EventNotify, Owner: name, Field: field})
	})
	return nil
}

func (h *Harness) closeAll() {
	for _, o := range h.owners {
		o.Close()
	}
}

// record stamps e with the next sequence number and appends it.
func (h *Harness) record(e TraceEvent) {
	e.Seq = h.clock.Next()
	h.result.addEvent(e)
}

func (h *Harness) handle(owner, field string) (binding.Handle, error) {
	o, ok := h.owners[owner]
	if !ok {
		return nil, fmt.Errorf("unknown owner %q", owner)
	}
	f, ok := o.Field(field)
	if !ok {
		return nil, fmt.Errorf("owner %q has no field %q", owner, field)
	}
	return f, nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch step.Op {
	case OpSet:
		f, err := h.handle(step.Owner, step.Field)
		if err != nil {
			return err
		}
		v, err := nodeValue(&step.Value)
		if err != nil {
			return err
		}
		h.record(TraceEvent{Type: OpSet, Owner: step.Owner, Field: step.Field, Value: v})
		return f.SetValue(v)

	case OpReset:
		f, err := h.handle(step.Owner, step.Field)
		if err != nil {
			return err
		}
		h.record(TraceEvent{Type: OpReset, Owner: step.Owner, Field: step.Field})
		f.Reset()
		return nil

	case OpRead:
		f, err := h.handle(step.Owner, step.Field)
		if err != nil {
			return err
		}
		want, err := nodeValue(&step.Expect)
		if err != nil {
			return err
		}
		got := f.Value()
		h.record(TraceEvent{Type: OpRead, Owner: step.Owner, Field: step.Field, Value: got})
		if !valuesMatch(want, got) {
			h.result.AddError(fmt.Sprintf("read %s.%s: expected %s, got %s",
				step.Owner, step.Field, value.Format(want), value.Format(got)))
		}
		return nil

	case OpExternalSet:
		v, err := nodeValue(&step.Value)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("external_set: null value (use external_remove)")
		}
		h.record(TraceEvent{Type: OpExternalSet, Key: step.Key, Value: v})
		return h.store.Set(ctx, step.Key, v)

	case OpExternalRemove:
		h.record(TraceEvent{Type: OpExternalRemove, Key: step.Key})
		return h.store.Remove(ctx, step.Key)

	case OpClose:
		o, ok := h.owners[step.Owner]
		if !ok {
			return fmt.Errorf("unknown owner %q", step.Owner)
		}
		h.record(TraceEvent{Type: OpClose, Owner: step.Owner})
		return o.Close()

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

// labelOrigins replaces owner ids on store events with scenario names. Ids
// are only known once an owner is built, after its starting values were
// written, so labeling happens at the end.
func (h *Harness) labelOrigins() {
	h.result.mu.Lock()
	defer h.result.mu.Unlock()

	for i, e := range h.result.Trace {
		if e.Type != EventStoreSet && e.Type != EventStoreRemove {
			continue
		}
		switch name, ok := h.names[e.Origin]; {
		case e.Origin == "":
			h.result.Trace[i].Origin = originExternal
		case ok:
			h.result.Trace[i].Origin = name
		}
	}
}

func valuesMatch(want, got value.Value) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	return value.Equal(want, got)
}

// recordingStore is a memory store that traces every write call, including
// calls the store then treats as no-ops.
type recordingStore struct {
	*kv.Memory
	record func(TraceEvent)
}

func (s *recordingStore) Set(ctx context.Context, key string, v value.Value) error {
	s.record(TraceEvent{Type: EventStoreSet, Key: key, Value: value.Clone(v), Origin: kv.OriginFrom(ctx)})
	return s.Memory.Set(ctx, key, v)
}

func (s *recordingStore) Remove(ctx context.Context, key string) error {
	s.record(TraceEvent{Type: EventStoreRemove, Key: key, Origin: kv.OriginFrom(ctx)})
	return s.Memory.Remove(ctx, key)
}

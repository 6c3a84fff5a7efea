package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/fieldsync/internal/binding"
	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/value"
)

// AssertionContext provides final state for assertions.
type AssertionContext struct {
	Store  kv.Store
	Owners map[string]*binding.Owner
	Ctx    context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, describe(event))
		}
	}

	return buf.String()
}

func describe(e TraceEvent) string {
	var parts []string
	parts = append(parts, e.Type)
	if e.Owner != "" {
		target := e.Owner
		if e.Field != "" {
			target += "." + e.Field
		}
		parts = append(parts, target)
	}
	if e.Key != "" {
		parts = append(parts, e.Key)
	}
	if e.Value != nil {
		parts = append(parts, "= "+value.Format(e.Value))
	}
	if e.Origin != "" {
		parts = append(parts, "by "+e.Origin)
	}
	return strings.Join(parts, " ")
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertNotified:
		return assertNotified(result.Trace, a)
	case AssertNotifyOrder:
		return assertNotifyOrder(result.Trace, a)
	case AssertWrites:
		return assertWrites(result.Trace, a)
	case AssertStored:
		return assertStored(actx, a)
	case AssertValue:
		return assertValue(actx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertNotified checks that owner.field was notified exactly Count times.
func assertNotified(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.Type == EventNotify && e.Owner == a.Owner && e.Field == a.Field {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertNotified,
			Expected: fmt.Sprintf("%d notifications of %s.%s", *a.Count, a.Owner, a.Field),
			Actual:   fmt.Sprintf("%d notifications", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertNotifyOrder checks that the listed notifications occur in order.
// Other notifications may intervene.
func assertNotifyOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, e := range trace {
		if next == len(a.Events) {
			break
		}
		if e.Type == EventNotify && e.Owner+"."+e.Field == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		return &AssertionError{
			Type:     AssertNotifyOrder,
			Expected: fmt.Sprintf("notifications in order: %v", a.Events),
			Actual:   fmt.Sprintf("%s not found after %v", a.Events[next], a.Events[:next]),
			Trace:    trace,
		}
	}
	return nil
}

// assertWrites counts store calls by owners (not external steps) for Key.
func assertWrites(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if (e.Type == EventStoreSet || e.Type == EventStoreRemove) && e.Key == a.Key && e.Origin != originExternal {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertWrites,
			Expected: fmt.Sprintf("%d store writes to %s", *a.Count, a.Key),
			Actual:   fmt.Sprintf("%d writes", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertStored(actx *AssertionContext, a Assertion) error {
	got, ok, err := actx.Store.Get(actx.Ctx, a.Key)
	if err != nil {
		return fmt.Errorf("stored %s: %w", a.Key, err)
	}

	if a.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertStored,
				Expected: fmt.Sprintf("%s absent", a.Key),
				Actual:   fmt.Sprintf("%s = %s", a.Key, value.Format(got)),
			}
		}
		return nil
	}

	want, err := nodeValue(&a.Expect)
	if err != nil {
		return fmt.Errorf("stored %s: expect: %w", a.Key, err)
	}
	if !ok || !valuesMatch(want, got) {
		return &AssertionError{
			Type:     AssertStored,
			Expected: fmt.Sprintf("%s = %s", a.Key, value.Format(want)),
			Actual:   fmt.Sprintf("%s = %s", a.Key, value.Format(got)),
		}
	}
	return nil
}

func assertValue(actx *AssertionContext, a Assertion) error {
	o, ok := actx.Owners[a.Owner]
	if !ok {
		return fmt.Errorf("value: unknown owner %q", a.Owner)
	}
	f, ok := o.Field(a.Field)
	if !ok {
		return fmt.Errorf("value: owner %q has no field %q", a.Owner, a.Field)
	}

	want, err := nodeValue(&a.Expect)
	if err != nil {
		return fmt.Errorf("value %s.%s: expect: %w", a.Owner, a.Field, err)
	}
	got := f.Value()
	if !valuesMatch(want, got) {
		return &AssertionError{
			Type:     AssertValue,
			Expected: fmt.Sprintf("%s.%s = %s", a.Owner, a.Field, value.Format(want)),
			Actual:   fmt.Sprintf("%s.%s = %s", a.Owner, a.Field, value.Format(got)),
		}
	}
	return nil
}

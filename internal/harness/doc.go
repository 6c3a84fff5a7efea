// Package harness runs conformance scenarios against bound owners.
//
// A scenario declares one or more owners (in the owner description format of
// internal/config) that share a single recording memory store, a flow of
// steps, and assertions over the resulting trace and final state. Owners use
// the inline executor, so every notification is recorded in a deterministic
// position and traces can be compared against golden files.
//
// # Scenario Format
//
//	name: app_count
//	description: "A write by one owner reaches the other"
//	store:
//	  app_theme: dark
//	owners:
//	  - name: a
//	    prefix: app_
//	    fields:
//	      - {name: count, type: int, default: 0}
//	  - name: b
//	    prefix: app_
//	    fields:
//	      - {name: count, type: int, default: 0}
//	flow:
//	  - {op: set, owner: a, field: count, value: 1}
//	  - {op: read, owner: b, field: count, expect: 1}
//	  - {op: external_set, key: app_count, value: 7}
//	assertions:
//	  - {type: notified, owner: b, field: count, count: 2}
//	  - {type: stored, key: app_count, expect: 7}
//
// # Steps
//
//   - set: write value to owner.field (null clears an optional field)
//   - reset: remove owner.field's key
//   - read: record owner.field's value; fails the scenario unless it equals expect
//   - external_set / external_remove: write the store directly with no origin
//   - close: close the owner; later external changes must not reach it
//
// # Assertion Types
//
//   - notified: owner.field was notified exactly count times
//   - notify_order: "owner.field" notifications occurred in this order
//   - writes: owners called the store for key exactly count times
//   - stored: key holds expect, or is absent when absent is true
//   - value: owner.field's final value equals expect
//
// # Trace
//
// Every step, every store call and every notification is appended to the
// trace with a logical sequence number. Store calls carry an origin label:
// the writing owner's name, or "external".
package harness

package scenario

import (
	"fmt"
	"reflect"

	"github.com/inkwell-app/draftsync/internal/engine"
)

// EvaluateAssertions checks every assertion against the result and returns
// one failure message per violated assertion. An empty slice means the
// scenario passed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case "draft_field":
		return assertDraftField(result.Final, a)
	case "draft_version":
		return assertDraftVersion(result.Final, a)
	case "turn_status":
		return assertTurnStatus(result.Final, a)
	case "buffer_count":
		return assertBufferCount(result.Final, a)
	case "event_count":
		return assertEventCount(result, a)
	case "active_turn":
		return assertActiveTurn(result.Final, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertDraftField(final engine.State, a Assertion) error {
	actual, ok := final.Draft.Fields[a.Field]
	if !ok {
		return fmt.Errorf("draft has no field %q", a.Field)
	}
	if !valuesEqual(actual, a.Value) {
		return fmt.Errorf("field %q = %v, want %v", a.Field, actual, a.Value)
	}
	return nil
}

func assertDraftVersion(final engine.State, a Assertion) error {
	if final.Draft.Version != a.Version {
		return fmt.Errorf("draft version = %d, want %d", final.Draft.Version, a.Version)
	}
	return nil
}

func assertTurnStatus(final engine.State, a Assertion) error {
	t := final.Turn(a.Turn)
	if t == nil {
		return fmt.Errorf("no turn %q", a.Turn)
	}
	if string(t.Status) != a.Status {
		return fmt.Errorf("turn %q status = %s, want %s", a.Turn, t.Status, a.Status)
	}
	return nil
}

func assertBufferCount(final engine.State, a Assertion) error {
	var n int
	switch a.Buffer {
	case "preview":
		n = len(final.Buffers.Preview)
	case "final":
		n = len(final.Buffers.Final)
	default:
		return fmt.Errorf("unknown buffer %q (want \"preview\" or \"final\")", a.Buffer)
	}
	if n != a.Count {
		return fmt.Errorf("%s buffer has %d events, want %d", a.Buffer, n, a.Count)
	}
	return nil
}

func assertEventCount(result *Result, a Assertion) error {
	n := 0
	for _, ev := range result.Telemetry {
		if ev.Name == a.Event {
			n++
		}
	}
	if n != a.Count {
		return fmt.Errorf("telemetry event %q emitted %d times, want %d", a.Event, n, a.Count)
	}
	return nil
}

func assertActiveTurn(final engine.State, a Assertion) error {
	if final.ActiveTurnID != a.Turn {
		return fmt.Errorf("active turn = %q, want %q", final.ActiveTurnID, a.Turn)
	}
	return nil
}

// valuesEqual compares an assertion value (decoded from YAML) with a draft
// field value. Integer widths differ between YAML decoding and patch fields,
// so numbers compare by value.
func valuesEqual(actual, expected any) bool {
	if an, ok := toInt64(actual); ok {
		if en, ok := toInt64(expected); ok {
			return an == en
		}
	}
	return reflect.DeepEqual(actual, expected)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

package invalidation

import (
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2026, 8, 30, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_HappyPath(t *testing.T) {
	for _, op := range []string{OpAppend, OpRewrite} {
		ev := Event{Version: 1, Op: op, Simulation: "tpe20110802cln", TS: mustTS()}
		if err := ev.Validate(); err != nil {
			t.Fatalf("op %s: %v", op, err)
		}
	}
}

func TestEvent_Validate_RejectsBadVersion(t *testing.T) {
	ev := Event{Version: 2, Op: OpAppend, Simulation: "tpe20110802cln", TS: mustTS()}
	if err := ev.Validate(); err == nil {
		t.Fatal("expected error for unknown version")
	}
}

func TestEvent_Validate_RejectsBadOp(t *testing.T) {
	ev := Event{Version: 1, Op: "truncate", Simulation: "tpe20110802cln", TS: mustTS()}
	if err := ev.Validate(); err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestEvent_Validate_RequiresSimulationAndTS(t *testing.T) {
	if err := (Event{Version: 1, Op: OpAppend, TS: mustTS()}).Validate(); err == nil {
		t.Fatal("expected error for missing simulation")
	}
	if err := (Event{Version: 1, Op: OpAppend, Simulation: "x"}).Validate(); err == nil {
		t.Fatal("expected error for missing ts")
	}
}

package notify

import (
	"errors"
	"testing"

	"github.com/pegesund/concentratee-cache-sub000/internal/errs"
)

func TestParsePayloadValid(t *testing.T) {
	n, err := parsePayload("students_changes", []byte(`{"operation":"UPDATE","id":42}`))
	if err != nil {
		t.Fatalf("parsePayload returned error: %v", err)
	}
	if n.Channel != "students_changes" || n.Operation != OpUpdate || n.ID != 42 {
		t.Fatalf("parsePayload = %+v, want channel=students_changes op=UPDATE id=42", n)
	}
}

func TestParsePayloadReloadAllAllowsZeroID(t *testing.T) {
	n, err := parsePayload("students_changes", []byte(`{"operation":"RELOAD_ALL"}`))
	if err != nil {
		t.Fatalf("parsePayload returned error: %v", err)
	}
	if n.Operation != OpReloadAll || n.ID != 0 {
		t.Fatalf("parsePayload = %+v, want RELOAD_ALL with id=0", n)
	}
}

func TestParsePayloadRejectsUnknownOperation(t *testing.T) {
	_, err := parsePayload("students_changes", []byte(`{"operation":"TRUNCATE","id":1}`))
	if !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("parsePayload error = %v, want wrapping ErrInvalidPayload", err)
	}
}

func TestParsePayloadRejectsMissingIDUnlessReloadAll(t *testing.T) {
	_, err := parsePayload("students_changes", []byte(`{"operation":"INSERT"}`))
	if !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("parsePayload error = %v, want wrapping ErrInvalidPayload for missing id", err)
	}
}

func TestParsePayloadRejectsMalformedJSON(t *testing.T) {
	_, err := parsePayload("students_changes", []byte(`not json`))
	if !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("parsePayload error = %v, want wrapping ErrInvalidPayload for bad JSON", err)
	}
}

// Extra payload fields beyond operation/id are accepted and ignored.
func TestParsePayloadIgnoresExtraFields(t *testing.T) {
	n, err := parsePayload("rules_changes", []byte(`{"operation":"DELETE","id":7,"scope":"School","scopeValue":"5"}`))
	if err != nil {
		t.Fatalf("parsePayload returned error: %v", err)
	}
	if n.ID != 7 || n.Operation != OpDelete {
		t.Fatalf("parsePayload = %+v, want id=7 op=DELETE", n)
	}
}

func TestLaneForIsDeterministic(t *testing.T) {
	n := Notification{Channel: "sessions_changes", ID: 100}
	first := laneFor(n, 8)
	for i := 0; i < 10; i++ {
		if got := laneFor(n, 8); got != first {
			t.Fatalf("laneFor is not deterministic: got %d, want %d", got, first)
		}
	}
	if first < 0 || first >= 8 {
		t.Fatalf("laneFor returned out-of-range lane %d for width 8", first)
	}
}

func TestLaneForDistributesAcrossIDs(t *testing.T) {
	seen := make(map[int]bool)
	for id := int64(0); id < 200; id++ {
		lane := laneFor(Notification{Channel: "sessions_changes", ID: id}, 8)
		seen[lane] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected notifications to spread across more than one lane, got %v", seen)
	}
}

// Same channel+id must always land on the same lane so that same-entity
// notifications are applied in arrival order.
func TestLaneForSameChannelAndIDStable(t *testing.T) {
	a := laneFor(Notification{Channel: "rules_changes", ID: 9}, 8)
	b := laneFor(Notification{Channel: "rules_changes", ID: 9}, 8)
	if a != b {
		t.Fatalf("laneFor(same channel+id) = %d and %d, want equal", a, b)
	}
}

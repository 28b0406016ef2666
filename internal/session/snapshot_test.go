package session

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tsuryphone/ha-bridge/addon/internal/tsuryphone"
)

func TestMergeStatusPreservesNestedSiblings(t *testing.T) {
	snapshot := NewSnapshot()
	snapshot.Set(tsuryphone.CategoryStatus, map[string]any{
		"call": map[string]any{"id": 7, "number": "555"},
		"wifi": map[string]any{"rssi": -40},
	})

	snapshot.MergeStatus(map[string]any{"call": map[string]any{"number": "556"}})

	status, ok := snapshot.Get(tsuryphone.CategoryStatus)
	if !ok {
		t.Fatal("status category missing")
	}
	want := map[string]any{
		"call": map[string]any{"id": 7, "number": "556"},
		"wifi": map[string]any{"rssi": -40},
	}
	if diff := cmp.Diff(want, status); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeStatusNeverRemovesTopLevelKeys(t *testing.T) {
	snapshot := NewSnapshot()
	snapshot.Set(tsuryphone.CategoryStatus, map[string]any{
		"state":  "Idle",
		"uptime": float64(120),
	})

	snapshot.MergeStatus(map[string]any{"state": "IncomingCallRing"})

	status, _ := snapshot.Get(tsuryphone.CategoryStatus)
	if status["uptime"] != float64(120) {
		t.Fatalf("uptime = %v, want preserved 120", status["uptime"])
	}
	if status["state"] != "IncomingCallRing" {
		t.Fatalf("state = %v, want overwritten", status["state"])
	}
}

func TestMergeStatusIntoEmptySnapshot(t *testing.T) {
	snapshot := NewSnapshot()
	snapshot.MergeStatus(map[string]any{"state": "Idle"})

	status, ok := snapshot.Get(tsuryphone.CategoryStatus)
	if !ok || status["state"] != "Idle" {
		t.Fatalf("status = %v, ok = %v", status, ok)
	}
}

func TestSetIsIdempotentForIdenticalPayloads(t *testing.T) {
	payload := map[string]any{"state": "Idle", "call": map[string]any{"active": false}}
	snapshot := NewSnapshot()
	snapshot.Set(tsuryphone.CategoryStatus, payload)
	first, _ := snapshot.Get(tsuryphone.CategoryStatus)

	snapshot.Set(tsuryphone.CategoryStatus, payload)
	second, _ := snapshot.Get(tsuryphone.CategoryStatus)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("snapshot changed across identical sets (-first +second):\n%s", diff)
	}
}

func TestGetReturnsCopyNotAlias(t *testing.T) {
	snapshot := NewSnapshot()
	snapshot.Set(tsuryphone.CategoryStatus, map[string]any{"call": map[string]any{"id": 1}})

	got, _ := snapshot.Get(tsuryphone.CategoryStatus)
	got["call"].(map[string]any)["id"] = 999

	fresh, _ := snapshot.Get(tsuryphone.CategoryStatus)
	if fresh["call"].(map[string]any)["id"] != 1 {
		t.Fatal("mutating a returned category leaked into the snapshot")
	}
}

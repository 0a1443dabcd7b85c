package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAsRunStore_SaveAndLoadLatest(t *testing.T) {
	rs := AsRunStore(NewMemStore[RunRecord]())
	ctx := context.Background()

	rec := RunRecord{
		WorkflowName:     "onboarding",
		StartNodeID:      "start",
		NodeOutputs:      map[string]string{"start": "hi"},
		ExecutionOrder:   []string{"start"},
		LastActiveNodeID: "start",
		Success:          true,
		Duration:         time.Second,
	}

	if err := rs.SaveStep(ctx, "run-1", 1, "start", rec); err != nil {
		t.Fatalf("SaveStep returned error: %v", err)
	}

	got, step, err := rs.LoadLatest(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadLatest returned error: %v", err)
	}
	if step != 1 {
		t.Errorf("expected step 1, got %d", step)
	}
	if got.WorkflowName != "onboarding" || !got.Success {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestAsRunStore_LoadLatest_KeepsLastStep(t *testing.T) {
	rs := AsRunStore(NewMemStore[RunRecord]())
	ctx := context.Background()

	_ = rs.SaveStep(ctx, "run-1", 1, "start", RunRecord{FinalNodeID: "start"})
	_ = rs.SaveStep(ctx, "run-1", 2, "out", RunRecord{FinalNodeID: "out"})

	got, step, err := rs.LoadLatest(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadLatest returned error: %v", err)
	}
	if step != 2 || got.FinalNodeID != "out" {
		t.Fatalf("expected the most recent step, got step=%d rec=%+v", step, got)
	}
}

func TestAsRunStore_LoadLatest_NotFound(t *testing.T) {
	rs := AsRunStore(NewMemStore[RunRecord]())
	_, _, err := rs.LoadLatest(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

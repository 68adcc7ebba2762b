package observer

import (
	"context"
	"testing"
)

func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments()
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

func TestNewInstruments_PopulatesAllFields(t *testing.T) {
	inst := testInstruments(t)

	if inst.Tracer == nil {
		t.Error("Tracer is nil")
	}
	if inst.Meter == nil {
		t.Error("Meter is nil")
	}
	if inst.Logger == nil {
		t.Error("Logger is nil")
	}
	if inst.RememberTotal == nil {
		t.Error("RememberTotal is nil")
	}
	if inst.RecallTotal == nil {
		t.Error("RecallTotal is nil")
	}
	if inst.EmbedRequests == nil {
		t.Error("EmbedRequests is nil")
	}
	if inst.LLMRequests == nil {
		t.Error("LLMRequests is nil")
	}
	if inst.FactOutcomes == nil {
		t.Error("FactOutcomes is nil")
	}
	if inst.GateRejections == nil {
		t.Error("GateRejections is nil")
	}
	if inst.GraphSyncOps == nil {
		t.Error("GraphSyncOps is nil")
	}
	if inst.RememberDuration == nil {
		t.Error("RememberDuration is nil")
	}
	if inst.RecallDuration == nil {
		t.Error("RecallDuration is nil")
	}
	if inst.EmbedDuration == nil {
		t.Error("EmbedDuration is nil")
	}
	if inst.GraphSyncBacklog == nil {
		t.Error("GraphSyncBacklog is nil")
	}
}

func TestNewInstruments_CountersRecordWithoutPanic(t *testing.T) {
	inst := testInstruments(t)
	ctx := context.Background()

	inst.RememberTotal.Add(ctx, 1)
	inst.RecallTotal.Add(ctx, 1)
	inst.EmbedRequests.Add(ctx, 1)
	inst.LLMRequests.Add(ctx, 1)
	inst.FactOutcomes.Add(ctx, 1)
	inst.GateRejections.Add(ctx, 1)
	inst.GraphSyncOps.Add(ctx, 1)
	inst.RememberDuration.Record(ctx, 12.5)
	inst.RecallDuration.Record(ctx, 3.2)
	inst.EmbedDuration.Record(ctx, 7.1)
}

func TestNewInstruments_ScopeNameIsStable(t *testing.T) {
	if scopeName != "github.com/cortexmem/cortex/observer" {
		t.Errorf("scopeName = %q, want github.com/cortexmem/cortex/observer", scopeName)
	}
}

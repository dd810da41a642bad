package main

import (
	"context"
	"testing"

	"github.com/FacuVCanale/gralph/internal/contracts"
)

type recordingSink struct{ events []contracts.EventType }

func (r *recordingSink) Emit(_ context.Context, event contracts.Event) error {
	r.events = append(r.events, event.Type)
	return nil
}

func TestVerboseFilterSinkDropsRunnerOutputByDefault(t *testing.T) {
	rec := &recordingSink{}
	f := verboseFilterSink{sink: rec}

	_ = f.Emit(context.Background(), contracts.Event{Type: contracts.EventRunnerOutput})
	_ = f.Emit(context.Background(), contracts.Event{Type: contracts.EventTaskDone})

	if len(rec.events) != 1 || rec.events[0] != contracts.EventTaskDone {
		t.Fatalf("expected only the lifecycle event to pass through, got %v", rec.events)
	}
}

func TestVerboseFilterSinkPassesEverythingWhenVerbose(t *testing.T) {
	rec := &recordingSink{}
	f := verboseFilterSink{verbose: true, sink: rec}

	_ = f.Emit(context.Background(), contracts.Event{Type: contracts.EventRunnerOutput})
	_ = f.Emit(context.Background(), contracts.Event{Type: contracts.EventTaskDone})

	if len(rec.events) != 2 {
		t.Fatalf("expected both events to pass through, got %v", rec.events)
	}
}

package engine

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"quill/api/internal/metrics"
)

func TestActivityRecorderAppends(t *testing.T) {
	st, doc := seedWorkspace(t)
	recorder := NewActivityRecorder(st, nil, nil, 0)
	ctx := context.Background()

	recorder.Record(ctx, doc.ProjectID, ownerID, ActionCreated, ResourceDocument, doc.ID)
	recorder.Record(ctx, doc.ProjectID, ownerID, ActionUpdated, ResourceDocument, doc.ID)

	records, err := st.ListActivity(ctx, doc.ProjectID, 10)
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListActivity() = %d records, want 2", len(records))
	}
	if records[0].Action != string(ActionUpdated) || records[1].Action != string(ActionCreated) {
		t.Fatalf("ListActivity() actions = [%s %s]", records[0].Action, records[1].Action)
	}
}

func TestActivityRecorderSwallowsFailures(t *testing.T) {
	sink := &failingActivity{err: errors.New("activity_log unavailable")}
	core, logs := observer.New(zap.WarnLevel)
	collector := metrics.NewCollector("quill_test")
	recorder := NewActivityRecorder(sink, zap.New(core), collector, 3)

	for i := 0; i < 10; i++ {
		recorder.Record(context.Background(), "prj_1", ownerID, ActionUpdated, ResourceDocument, "doc_1")
	}

	if sink.calls != 3 {
		t.Fatalf("sink calls = %d, want 3 before the breaker opens", sink.calls)
	}
	if got := counterValue(t, collector, "quill_test_activity_records_dropped_total"); got != 10 {
		t.Fatalf("activity dropped = %v, want 10", got)
	}
	if logs.FilterMessage("activity record dropped").Len() != 10 {
		t.Fatalf("dropped log entries = %d, want 10", logs.FilterMessage("activity record dropped").Len())
	}
	if logs.FilterMessage("breaker state changed").Len() == 0 {
		t.Fatal("expected breaker state change to be logged")
	}
}

func TestNilActivityRecorderIsSafe(t *testing.T) {
	var recorder *ActivityRecorder
	recorder.Record(context.Background(), "prj_1", ownerID, ActionDeleted, ResourceDocument, "doc_1")
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("quill_test")
	c.VersionCommitted()
	c.VersionCommitted()
	c.SaveConflict("stale_base")
	c.CommentAppended()
	c.ActivityDropped("breaker_open")
	c.ObserveRequest("GET", "/api/projects", 200, 10*time.Millisecond)

	if got := testutil.ToFloat64(c.versionsCommitted); got != 2 {
		t.Fatalf("versions committed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.saveConflicts.WithLabelValues("stale_base")); got != 1 {
		t.Fatalf("save conflicts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.activityDropped.WithLabelValues("breaker_open")); got != 1 {
		t.Fatalf("activity dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/api/projects", "200")); got != 1 {
		t.Fatalf("http requests = %v, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.VersionCommitted()
	c.SaveConflict("x")
	c.CommentAppended()
	c.ActivityDropped("x")
	c.ObserveRequest("GET", "/", 200, time.Millisecond)
	if c.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

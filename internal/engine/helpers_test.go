package engine

import (
	"context"
	"testing"
	"time"

	"quill/api/internal/metrics"
	"quill/api/internal/store"
)

const (
	ownerID   = "usr_owner"
	editorID  = "usr_editor"
	strangeID = "usr_stranger"
)

func seedWorkspace(t *testing.T) (*store.MemoryStore, store.Document) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.InsertProject(ctx, store.Project{ID: "prj_atlas", OwnerID: ownerID, Name: "Atlas", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("InsertProject() error = %v", err)
	}
	doc := store.Document{ID: "doc_plan", ProjectID: "prj_atlas", Name: "Plan", Type: store.TypeDocument, CreatedBy: ownerID, CreatedAt: time.Now()}
	if err := st.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("InsertDocument() error = %v", err)
	}
	return st, doc
}

func counterValue(t *testing.T, c *metrics.Collector, name string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func versionNumbers(versions []store.Version) []int {
	out := make([]int, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.Number)
	}
	return out
}

// failingActivity rejects every insert.
type failingActivity struct {
	calls int
	err   error
}

func (f *failingActivity) InsertActivity(context.Context, store.ActivityRecord) error {
	f.calls++
	return f.err
}

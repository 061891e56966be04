package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"quill/api/internal/store"
)

type ScanSource interface {
	ListDocuments(ctx context.Context, projectID string) ([]store.Document, error)
	LatestVersion(ctx context.Context, documentID string) (store.Version, error)
	ListComments(ctx context.Context, documentID string) ([]store.Comment, error)
}

// Scan walks a project row by row. It backs search for the in-memory store
// where there is no SQL to push the match into.
type Scan struct {
	source ScanSource
}

func NewScan(source ScanSource) *Scan {
	return &Scan{source: source}
}

func (s *Scan) Healthy() bool { return true }

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}
	documents, err := s.source.ListDocuments(ctx, q.ProjectID)
	if err != nil {
		return nil, 0, fmt.Errorf("scan documents: %w", err)
	}

	type hit struct {
		result Result
		at     time.Time
	}
	var hits []hit
	for _, doc := range documents {
		if q.wants(ResultDocument) {
			content := ""
			latest, err := s.source.LatestVersion(ctx, doc.ID)
			switch {
			case err == nil:
				content = latest.Content
			case !errors.Is(err, store.ErrNotFound):
				return nil, 0, fmt.Errorf("scan latest version: %w", err)
			}
			if strings.Contains(strings.ToLower(doc.Name), needle) || strings.Contains(strings.ToLower(content), needle) {
				hits = append(hits, hit{at: doc.CreatedAt, result: Result{
					Type: ResultDocument, ID: doc.ID, Title: doc.Name, Snippet: snippet(content, q.Text),
					DocumentID: doc.ID, ProjectID: doc.ProjectID,
				}})
			}
		}
		if q.wants(ResultComment) {
			comments, err := s.source.ListComments(ctx, doc.ID)
			if err != nil {
				return nil, 0, fmt.Errorf("scan comments: %w", err)
			}
			for _, c := range comments {
				if strings.Contains(strings.ToLower(c.Content), needle) {
					hits = append(hits, hit{at: c.CreatedAt, result: Result{
						Type: ResultComment, ID: c.ID, Title: doc.Name, Snippet: snippet(c.Content, q.Text),
						DocumentID: doc.ID, ProjectID: doc.ProjectID,
					}})
				}
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].at.After(hits[j].at) })
	total := len(hits)
	start := q.offset()
	if start > total {
		start = total
	}
	end := start + q.limit()
	if end > total {
		end = total
	}
	results := make([]Result, 0, end-start)
	for _, h := range hits[start:end] {
		results = append(results, h.result)
	}
	return results, total, nil
}

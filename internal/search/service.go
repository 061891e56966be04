package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Index is the write side of a search backend.
type Index interface {
	Healthy() bool
	IndexDocument(DocumentRecord) error
	IndexComment(CommentRecord) error
	DeleteDocument(id string, commentIDs []string) error
	IndexDocuments([]DocumentRecord) error
	IndexComments([]CommentRecord) error
}

type primary interface {
	Searcher
	Index
}

// Service tries Meilisearch first and falls back to the store-backed
// searcher. Writes only go to Meilisearch and never block the caller.
type Service struct {
	primary  primary
	fallback Searcher
	logger   *zap.Logger
	pending  sync.WaitGroup
}

// NewService accepts a nil meili when Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{fallback: fallback, logger: logger.Named("search")}
	if meili != nil {
		s.primary = meili
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.String("project_id", q.ProjectID), zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) IndexDocument(doc DocumentRecord) {
	s.async("index document", doc.ID, func(idx Index) error { return idx.IndexDocument(doc) })
}

func (s *Service) IndexComment(c CommentRecord) {
	s.async("index comment", c.ID, func(idx Index) error { return idx.IndexComment(c) })
}

func (s *Service) DeleteDocument(id string, commentIDs []string) {
	s.async("delete document", id, func(idx Index) error { return idx.DeleteDocument(id, commentIDs) })
}

// ReindexAll pushes every record at once. It runs synchronously and is
// meant for startup.
func (s *Service) ReindexAll(documents []DocumentRecord, comments []CommentRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	if err := s.primary.IndexDocuments(documents); err != nil {
		s.logger.Warn("reindex documents", zap.Error(err))
	}
	if err := s.primary.IndexComments(comments); err != nil {
		s.logger.Warn("reindex comments", zap.Error(err))
	}
}

// Wait blocks until in-flight index writes finish. Used on shutdown.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) async(op, id string, fn func(Index) error) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	idx := s.primary
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(idx); err != nil {
			s.logger.Warn(op, zap.String("id", id), zap.Error(err))
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

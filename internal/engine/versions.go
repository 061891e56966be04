// Package engine implements the document versioning and collaborative-state
// rules: the append-only version ledger, the per-document comment log,
// project membership checks, best-effort activity recording and the
// editing session that ties them together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"quill/api/internal/metrics"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

type VersionLedger interface {
	GetDocument(context.Context, string) (store.Document, error)
	CountVersions(context.Context, string) (int, error)
	LatestVersion(context.Context, string) (store.Version, error)
	GetVersion(context.Context, string, int) (store.Version, error)
	ListVersions(context.Context, string) ([]store.Version, error)
	InsertVersion(context.Context, store.Version) error
}

// VersionStore is the append-only ledger of content snapshots. Versions are
// never updated or removed here; only document deletion ends their life.
type VersionStore struct {
	ledger  VersionLedger
	metrics *metrics.Collector
	now     func() time.Time
}

func NewVersionStore(ledger VersionLedger, collector *metrics.Collector) *VersionStore {
	return &VersionStore{
		ledger:  ledger,
		metrics: collector,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Latest returns the highest-numbered version, or nil when the document has
// never been saved.
func (s *VersionStore) Latest(ctx context.Context, documentID string) (*store.Version, error) {
	version, err := s.ledger.LatestVersion(ctx, documentID)
	if err == nil {
		return &version, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, &StoreError{Op: "latest version", Err: err}
	}
	if err := s.requireDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return nil, nil
}

// History lists every version newest first. A document without versions
// yields an empty slice; a document that does not exist yields NotFoundError.
func (s *VersionStore) History(ctx context.Context, documentID string) ([]store.Version, error) {
	versions, err := s.ledger.ListVersions(ctx, documentID)
	if err != nil {
		return nil, &StoreError{Op: "list versions", Err: err}
	}
	if len(versions) == 0 {
		if err := s.requireDocument(ctx, documentID); err != nil {
			return nil, err
		}
		return []store.Version{}, nil
	}
	return versions, nil
}

func (s *VersionStore) Get(ctx context.Context, documentID string, number int) (store.Version, error) {
	if number < 1 {
		return store.Version{}, &ValidationError{Field: "versionNumber", Message: "must be a positive integer"}
	}
	version, err := s.ledger.GetVersion(ctx, documentID, number)
	if err != nil {
		return store.Version{}, storeFailure("get version", "version", documentID+"@"+strconv.Itoa(number), err)
	}
	return version, nil
}

// Commit persists content as version count+1. Count-then-insert is not
// atomic; the store's unique (document_id, version_number) constraint makes
// the loser of a concurrent race fail with a StoreError.
func (s *VersionStore) Commit(ctx context.Context, documentID, content, authorID string) (store.Version, error) {
	count, err := s.count(ctx, documentID)
	if err != nil {
		return store.Version{}, err
	}
	version, err := s.insert(ctx, documentID, content, authorID, count+1)
	if err != nil {
		var storeErr *StoreError
		if errors.As(err, &storeErr) && storeErr.Conflict() {
			s.metrics.SaveConflict("duplicate_version")
		}
		return store.Version{}, err
	}
	return version, nil
}

// CommitOnBase is the optimistic variant: it fails with StaleBaseError when
// the document's latest version is no longer base, including when a
// concurrent writer wins the insert race.
func (s *VersionStore) CommitOnBase(ctx context.Context, documentID, content, authorID string, base int) (store.Version, error) {
	count, err := s.count(ctx, documentID)
	if err != nil {
		return store.Version{}, err
	}
	if count != base {
		s.metrics.SaveConflict("stale_base")
		return store.Version{}, &StaleBaseError{DocumentID: documentID, Base: base, Latest: count}
	}
	version, err := s.insert(ctx, documentID, content, authorID, count+1)
	if err != nil {
		var storeErr *StoreError
		if errors.As(err, &storeErr) && storeErr.Conflict() {
			s.metrics.SaveConflict("stale_base")
			return store.Version{}, &StaleBaseError{DocumentID: documentID, Base: base, Latest: count + 1}
		}
		return store.Version{}, err
	}
	return version, nil
}

// RestoreToBuffer reads an old snapshot's content. It never creates a
// version; the caller decides whether to commit it again.
func (s *VersionStore) RestoreToBuffer(ctx context.Context, documentID string, number int) (string, error) {
	version, err := s.Get(ctx, documentID, number)
	if err != nil {
		return "", err
	}
	return version.Content, nil
}

func (s *VersionStore) count(ctx context.Context, documentID string) (int, error) {
	count, err := s.ledger.CountVersions(ctx, documentID)
	if err != nil {
		return 0, &StoreError{Op: "count versions", Err: err}
	}
	return count, nil
}

func (s *VersionStore) insert(ctx context.Context, documentID, content, authorID string, number int) (store.Version, error) {
	if authorID == "" {
		return store.Version{}, &ValidationError{Field: "authorId", Message: "is required"}
	}
	version := store.Version{
		ID:         util.NewID("ver"),
		DocumentID: documentID,
		Number:     number,
		Content:    content,
		AuthorID:   authorID,
		CreatedAt:  s.now(),
	}
	if err := s.ledger.InsertVersion(ctx, version); err != nil {
		return store.Version{}, storeFailure(fmt.Sprintf("insert version %d", number), "document", documentID, err)
	}
	s.metrics.VersionCommitted()
	return version, nil
}

func (s *VersionStore) requireDocument(ctx context.Context, documentID string) error {
	if _, err := s.ledger.GetDocument(ctx, documentID); err != nil {
		return storeFailure("get document", "document", documentID, err)
	}
	return nil
}

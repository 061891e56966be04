package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps every table in process memory. It enforces the same
// uniqueness and parent rules as the Postgres schema so the engine behaves
// identically against either backend.
type MemoryStore struct {
	mu        sync.RWMutex
	seq       int64
	profiles  map[string]Profile
	refresh   map[string]RefreshSession
	projects  map[string]Project
	documents map[string]Document
	versions  map[string][]sequenced[Version]
	comments  map[string][]sequenced[Comment]
	members   map[string][]sequenced[ProjectMembership]
	activity  []sequenced[ActivityRecord]
}

type sequenced[T any] struct {
	seq  int64
	item T
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:  make(map[string]Profile),
		refresh:   make(map[string]RefreshSession),
		projects:  make(map[string]Project),
		documents: make(map[string]Document),
		versions:  make(map[string][]sequenced[Version]),
		comments:  make(map[string][]sequenced[Comment]),
		members:   make(map[string][]sequenced[ProjectMembership]),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) next() int64 {
	s.seq++
	return s.seq
}

func (s *MemoryStore) CreateProfile(_ context.Context, profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; ok {
		return fmt.Errorf("insert profile: %w: users_profile_pkey", ErrDuplicate)
	}
	for _, existing := range s.profiles {
		if strings.EqualFold(existing.Email, profile.Email) {
			return fmt.Errorf("insert profile: %w: users_profile_email_key", ErrDuplicate)
		}
	}
	s.profiles[profile.ID] = profile
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return Profile{}, fmt.Errorf("get profile: %w", ErrNotFound)
	}
	return profile, nil
}

func (s *MemoryStore) GetProfileByEmail(_ context.Context, email string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, profile := range s.profiles {
		if strings.EqualFold(profile.Email, email) {
			return profile, nil
		}
	}
	return Profile{}, fmt.Errorf("get profile by email: %w", ErrNotFound)
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[tokenHash] = RefreshSession{TokenHash: tokenHash, UserID: userID, ExpiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.refresh[tokenHash]
	if !ok || record.RevokedAt != nil || !record.ExpiresAt.After(time.Now()) {
		return "", fmt.Errorf("lookup refresh session: %w", ErrNotFound)
	}
	return record.UserID, nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.refresh[tokenHash]
	if !ok {
		return nil
	}
	now := time.Now()
	record.RevokedAt = &now
	s.refresh[tokenHash] = record
	return nil
}

func (s *MemoryStore) InsertProject(_ context.Context, project Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; ok {
		return fmt.Errorf("insert project: %w: projects_pkey", ErrDuplicate)
	}
	s.projects[project.ID] = project
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, projectID string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[projectID]
	if !ok {
		return Project{}, fmt.Errorf("get project: %w", ErrNotFound)
	}
	return project, nil
}

func (s *MemoryStore) ListProjectsForUser(_ context.Context, userID string) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Project, 0)
	for _, project := range s.projects {
		if project.OwnerID == userID || s.isMemberLocked(project.ID, userID) {
			items = append(items, project)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return fmt.Errorf("delete project: %w", ErrNotFound)
	}
	for id, doc := range s.documents {
		if doc.ProjectID == projectID {
			s.deleteDocumentLocked(id)
		}
	}
	delete(s.members, projectID)
	delete(s.projects, projectID)
	return nil
}

func (s *MemoryStore) InsertDocument(_ context.Context, item Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[item.ProjectID]; !ok {
		return fmt.Errorf("insert document: %w: documents_project_id_fkey", ErrMissingParent)
	}
	if _, ok := s.documents[item.ID]; ok {
		return fmt.Errorf("insert document: %w: documents_pkey", ErrDuplicate)
	}
	s.documents[item.ID] = item
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, documentID string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return Document{}, fmt.Errorf("get document: %w", ErrNotFound)
	}
	return doc, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, projectID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Document, 0)
	for _, doc := range s.documents {
		if doc.ProjectID == projectID {
			items = append(items, doc)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return fmt.Errorf("delete document: %w", ErrNotFound)
	}
	s.deleteDocumentLocked(documentID)
	return nil
}

func (s *MemoryStore) deleteDocumentLocked(documentID string) {
	delete(s.comments, documentID)
	delete(s.versions, documentID)
	delete(s.documents, documentID)
}

func (s *MemoryStore) CountVersions(_ context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[documentID]), nil
}

func (s *MemoryStore) LatestVersion(_ context.Context, documentID string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.sortedVersionsLocked(documentID)
	if len(items) == 0 {
		return Version{}, fmt.Errorf("latest version: %w", ErrNotFound)
	}
	return items[0], nil
}

func (s *MemoryStore) GetVersion(_ context.Context, documentID string, number int) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.versions[documentID] {
		if entry.item.Number == number {
			return entry.item, nil
		}
	}
	return Version{}, fmt.Errorf("get version: %w", ErrNotFound)
}

func (s *MemoryStore) ListVersions(_ context.Context, documentID string) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedVersionsLocked(documentID), nil
}

func (s *MemoryStore) sortedVersionsLocked(documentID string) []Version {
	entries := s.versions[documentID]
	items := make([]Version, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entry.item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Number != items[j].Number {
			return items[i].Number > items[j].Number
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

func (s *MemoryStore) InsertVersion(_ context.Context, item Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[item.DocumentID]; !ok {
		return fmt.Errorf("insert version: %w: versions_document_id_fkey", ErrMissingParent)
	}
	for _, entry := range s.versions[item.DocumentID] {
		if entry.item.Number == item.Number {
			return fmt.Errorf("insert version: %w: versions_document_id_version_number_key", ErrDuplicate)
		}
	}
	s.versions[item.DocumentID] = append(s.versions[item.DocumentID], sequenced[Version]{seq: s.next(), item: item})
	return nil
}

func (s *MemoryStore) InsertComment(_ context.Context, item Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[item.DocumentID]; !ok {
		return fmt.Errorf("insert comment: %w: comments_document_id_fkey", ErrMissingParent)
	}
	s.comments[item.DocumentID] = append(s.comments[item.DocumentID], sequenced[Comment]{seq: s.next(), item: item})
	return nil
}

func (s *MemoryStore) ListComments(_ context.Context, documentID string) ([]Comment, error) {
	s.mu.RLock()
	entries := append([]sequenced[Comment](nil), s.comments[documentID]...)
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].item.CreatedAt.Equal(entries[j].item.CreatedAt) {
			return entries[i].item.CreatedAt.After(entries[j].item.CreatedAt)
		}
		return entries[i].seq > entries[j].seq
	})
	items := make([]Comment, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entry.item)
	}
	return items, nil
}

func (s *MemoryStore) InsertMembership(_ context.Context, item ProjectMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[item.ProjectID]; !ok {
		return fmt.Errorf("insert membership: %w: project_members_project_id_fkey", ErrMissingParent)
	}
	if s.isMemberLocked(item.ProjectID, item.UserID) {
		return fmt.Errorf("insert membership: %w: project_members_pkey", ErrDuplicate)
	}
	s.members[item.ProjectID] = append(s.members[item.ProjectID], sequenced[ProjectMembership]{seq: s.next(), item: item})
	return nil
}

func (s *MemoryStore) IsProjectMember(_ context.Context, projectID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isMemberLocked(projectID, userID), nil
}

func (s *MemoryStore) isMemberLocked(projectID, userID string) bool {
	for _, entry := range s.members[projectID] {
		if entry.item.UserID == userID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListMembers(_ context.Context, projectID string) ([]ProjectMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ProjectMembership, 0, len(s.members[projectID]))
	for _, entry := range s.members[projectID] {
		items = append(items, entry.item)
	}
	return items, nil
}

func (s *MemoryStore) InsertActivity(_ context.Context, item ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, sequenced[ActivityRecord]{seq: s.next(), item: item})
	return nil
}

func (s *MemoryStore) ListActivity(_ context.Context, projectID string, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ActivityRecord, 0)
	for i := len(s.activity) - 1; i >= 0 && len(items) < limit; i-- {
		if s.activity[i].item.ProjectID == projectID {
			items = append(items, s.activity[i].item)
		}
	}
	return items, nil
}

package app

import (
	"time"

	"quill/api/internal/engine"
	"quill/api/internal/store"
)

type projectView struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type documentView struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"projectId"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	CreatedBy     string    `json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
	LatestVersion *int      `json:"latestVersion,omitempty"`
}

type versionView struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"documentId"`
	VersionNumber int       `json:"versionNumber"`
	Content       string    `json:"content"`
	AuthorID      string    `json:"authorId"`
	CreatedAt     time.Time `json:"createdAt"`
}

type commentView struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	AuthorID   string    `json:"authorId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

type memberView struct {
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type activityView struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	UserID       string    `json:"userId"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	CreatedAt    time.Time `json:"createdAt"`
}

type sessionView struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId"`
	ProjectID   string    `json:"projectId"`
	State       string    `json:"state"`
	Dirty       bool      `json:"dirty"`
	Buffer      string    `json:"buffer"`
	BaseVersion int       `json:"baseVersion"`
	Saving      bool      `json:"saving"`
	LastActive  time.Time `json:"lastActive"`
}

func toProjectView(p store.Project) projectView {
	return projectView{ID: p.ID, OwnerID: p.OwnerID, Name: p.Name, Description: p.Description, CreatedAt: p.CreatedAt}
}

func toDocumentView(d store.Document, latest *store.Version) documentView {
	view := documentView{
		ID:        d.ID,
		ProjectID: d.ProjectID,
		Name:      d.Name,
		Type:      string(d.Type),
		CreatedBy: d.CreatedBy,
		CreatedAt: d.CreatedAt,
	}
	if latest != nil {
		n := latest.Number
		view.LatestVersion = &n
	}
	return view
}

func toVersionView(v store.Version) versionView {
	return versionView{
		ID:            v.ID,
		DocumentID:    v.DocumentID,
		VersionNumber: v.Number,
		Content:       v.Content,
		AuthorID:      v.AuthorID,
		CreatedAt:     v.CreatedAt,
	}
}

func toCommentView(c store.Comment) commentView {
	return commentView{ID: c.ID, DocumentID: c.DocumentID, AuthorID: c.AuthorID, Content: c.Content, CreatedAt: c.CreatedAt}
}

func toSessionView(s engine.Snapshot) sessionView {
	return sessionView{
		ID:          s.ID,
		DocumentID:  s.DocumentID,
		ProjectID:   s.ProjectID,
		State:       s.State.String(),
		Dirty:       s.State == engine.StateDirty,
		Buffer:      s.Buffer,
		BaseVersion: s.BaseVersion,
		Saving:      s.Saving,
		LastActive:  s.LastActive,
	}
}

func mapSlice[T, V any](items []T, fn func(T) V) []V {
	out := make([]V, 0, len(items))
	for _, item := range items {
		out = append(out, fn(item))
	}
	return out
}

func toMemberView(m store.ProjectMembership) memberView {
	return memberView{ProjectID: m.ProjectID, UserID: m.UserID, Role: m.Role, CreatedAt: m.CreatedAt}
}

func toActivityView(a store.ActivityRecord) activityView {
	return activityView{
		ID:           a.ID,
		ProjectID:    a.ProjectID,
		UserID:       a.UserID,
		Action:       a.Action,
		ResourceType: a.ResourceType,
		ResourceID:   a.ResourceID,
		CreatedAt:    a.CreatedAt,
	}
}

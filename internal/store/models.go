package store

import "time"

type Profile struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

type Project struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	CreatedAt   time.Time
}

// DocumentType is the fixed set of document kinds a project can hold.
type DocumentType string

const (
	TypeDocument     DocumentType = "document"
	TypeSpreadsheet  DocumentType = "spreadsheet"
	TypePresentation DocumentType = "presentation"
)

var DocumentTypes = []DocumentType{TypeDocument, TypeSpreadsheet, TypePresentation}

type Document struct {
	ID        string
	ProjectID string
	Name      string
	Type      DocumentType
	CreatedBy string
	CreatedAt time.Time
}

// Version is an immutable content snapshot. Number is unique per document.
type Version struct {
	ID         string
	DocumentID string
	Number     int
	Content    string
	AuthorID   string
	CreatedAt  time.Time
}

// Comment addresses a document as a whole, never a specific version.
type Comment struct {
	ID         string
	DocumentID string
	AuthorID   string
	Content    string
	CreatedAt  time.Time
}

type ProjectMembership struct {
	ProjectID string
	UserID    string
	Role      string
	CreatedAt time.Time
}

type ActivityRecord struct {
	ID           string
	ProjectID    string
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	CreatedAt    time.Time
}

type RefreshSession struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

package engine

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"quill/api/internal/store"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// NormalizeRole maps free-form input onto a known role. Empty and unknown
// values become editor. Roles are recorded but only membership itself gates
// access.
func NormalizeRole(role string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleOwner:
		return RoleOwner
	case RoleViewer:
		return RoleViewer
	default:
		return RoleEditor
	}
}

type MemberDirectory interface {
	GetProject(context.Context, string) (store.Project, error)
	IsProjectMember(ctx context.Context, projectID, userID string) (bool, error)
	ListMembers(context.Context, string) ([]store.ProjectMembership, error)
	InsertMembership(context.Context, store.ProjectMembership) error
}

type MembershipRegistry struct {
	directory MemberDirectory
	now       func() time.Time
}

func NewMembershipRegistry(directory MemberDirectory) *MembershipRegistry {
	return &MembershipRegistry{
		directory: directory,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IsMember is true for the project owner and for every user with an
// explicit membership row.
func (r *MembershipRegistry) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	project, err := r.directory.GetProject(ctx, projectID)
	if err != nil {
		return false, storeFailure("get project", "project", projectID, err)
	}
	if project.OwnerID == userID {
		return true, nil
	}
	member, err := r.directory.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return false, &StoreError{Op: "check membership", Err: err}
	}
	return member, nil
}

// Members enumerates explicit membership rows only. The owner lives on the
// project row and is not repeated here.
func (r *MembershipRegistry) Members(ctx context.Context, projectID string) ([]store.ProjectMembership, error) {
	members, err := r.directory.ListMembers(ctx, projectID)
	if err != nil {
		return nil, &StoreError{Op: "list members", Err: err}
	}
	if members == nil {
		members = []store.ProjectMembership{}
	}
	return members, nil
}

func (r *MembershipRegistry) AddMember(ctx context.Context, projectID, userID, role string) (store.ProjectMembership, error) {
	if err := validation.Validate(strings.TrimSpace(userID), validation.Required); err != nil {
		return store.ProjectMembership{}, &ValidationError{Field: "userId", Message: err.Error()}
	}
	membership := store.ProjectMembership{
		ProjectID: projectID,
		UserID:    userID,
		Role:      string(NormalizeRole(role)),
		CreatedAt: r.now(),
	}
	if err := r.directory.InsertMembership(ctx, membership); err != nil {
		return store.ProjectMembership{}, storeFailure("insert membership", "project", projectID, err)
	}
	return membership, nil
}

package engine

import (
	"context"
	"errors"
	"testing"
)

func TestMembershipRegistryIsMember(t *testing.T) {
	st, doc := seedWorkspace(t)
	registry := NewMembershipRegistry(st)
	ctx := context.Background()

	members, err := registry.Members(ctx, doc.ProjectID)
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("Members() = %v, want no explicit rows", members)
	}

	if _, err := registry.AddMember(ctx, doc.ProjectID, editorID, ""); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}

	cases := []struct {
		name   string
		userID string
		want   bool
	}{
		{name: "owner without membership row", userID: ownerID, want: true},
		{name: "explicit member", userID: editorID, want: true},
		{name: "stranger", userID: strangeID, want: false},
		{name: "anonymous", userID: "", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := registry.IsMember(ctx, doc.ProjectID, tc.userID)
			if err != nil {
				t.Fatalf("IsMember() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("IsMember(%q) = %v, want %v", tc.userID, got, tc.want)
			}
		})
	}
}

func TestMembershipRegistryAddMember(t *testing.T) {
	st, doc := seedWorkspace(t)
	registry := NewMembershipRegistry(st)
	ctx := context.Background()

	added, err := registry.AddMember(ctx, doc.ProjectID, editorID, "Viewer")
	if err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if added.Role != string(RoleViewer) {
		t.Fatalf("AddMember() role = %q, want viewer", added.Role)
	}

	_, err = registry.AddMember(ctx, doc.ProjectID, editorID, "editor")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || !storeErr.Conflict() {
		t.Fatalf("AddMember(duplicate) error = %v, want conflicting StoreError", err)
	}

	var notFound *NotFoundError
	if _, err := registry.AddMember(ctx, "prj_missing", editorID, ""); !errors.As(err, &notFound) {
		t.Fatalf("AddMember(missing project) error = %v, want NotFoundError", err)
	}
	if _, err := registry.IsMember(ctx, "prj_missing", ownerID); !errors.As(err, &notFound) {
		t.Fatalf("IsMember(missing project) error = %v, want NotFoundError", err)
	}

	var invalid *ValidationError
	if _, err := registry.AddMember(ctx, doc.ProjectID, "  ", ""); !errors.As(err, &invalid) {
		t.Fatalf("AddMember(blank user) error = %v, want ValidationError", err)
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]Role{
		"":        RoleEditor,
		"editor":  RoleEditor,
		" OWNER ": RoleOwner,
		"viewer":  RoleViewer,
		"admin":   RoleEditor,
	}
	for input, want := range cases {
		if got := NormalizeRole(input); got != want {
			t.Fatalf("NormalizeRole(%q) = %q, want %q", input, got, want)
		}
	}
}

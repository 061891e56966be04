package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"quill/api/internal/config"
	"quill/api/internal/engine"
	"quill/api/internal/export"
	"quill/api/internal/gitrepo"
	"quill/api/internal/search"
	"quill/api/internal/store"
)

func TestCreateDocumentCommitsEmptyFirstVersion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	projectID, documentID := h.workspace(t)

	doc, latest, err := h.svc.GetDocument(ctx, "usr_owner", documentID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if doc.ProjectID != projectID || doc.Type != store.TypeDocument || doc.CreatedBy != "usr_owner" {
		t.Fatalf("GetDocument() = %+v", doc)
	}
	if latest == nil || latest.Number != 1 || latest.Content != "" || latest.AuthorID != "usr_owner" {
		t.Fatalf("GetDocument() latest = %+v, want empty v1", latest)
	}

	commits, err := h.svc.ArchivedHistory(ctx, "usr_owner", documentID, 0)
	if err != nil {
		t.Fatalf("ArchivedHistory() error = %v", err)
	}
	if len(commits) != 1 || commits[0].Message != "v1" {
		t.Fatalf("ArchivedHistory() = %+v, want one v1 commit", commits)
	}

	activity, err := h.svc.ListActivity(ctx, "usr_owner", projectID, 10)
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(activity) != 2 {
		t.Fatalf("ListActivity() = %+v, want 2 entries", activity)
	}
	if activity[0].Action != string(engine.ActionCreated) || activity[0].ResourceType != engine.ResourceDocument {
		t.Fatalf("ListActivity()[0] = %+v, want created/document first", activity[0])
	}
	if activity[1].ResourceType != engine.ResourceProject {
		t.Fatalf("ListActivity()[1] = %+v, want created/project", activity[1])
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	projectID, _ := h.workspace(t)

	cases := []struct {
		name    string
		docName string
		docType string
	}{
		{name: "blank name", docName: "   ", docType: "document"},
		{name: "unknown type", docName: "Budget", docType: "drawing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := h.svc.CreateDocument(ctx, "usr_owner", projectID, tc.docName, tc.docType)
			if err == nil {
				t.Fatalf("CreateDocument() expected validation error")
			}
			if status, code, _, _ := mapError(err); status != 422 || code != "VALIDATION_ERROR" {
				t.Fatalf("mapError(CreateDocument()) = %d %s, want 422 VALIDATION_ERROR", status, code)
			}
		})
	}

	docs, err := h.svc.ListDocuments(ctx, "usr_owner", projectID)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("ListDocuments() = %d documents, want only the seeded one", len(docs))
	}
}

func TestProjectAccessRequiresMembership(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	projectID, documentID := h.workspace(t)
	h.user(t, "usr_guest", "Guest")

	if _, err := h.svc.GetProject(ctx, "usr_guest", projectID); !errors.Is(err, errForbidden) {
		t.Fatalf("GetProject(outsider) error = %v, want forbidden", err)
	}
	if _, err := h.svc.History(ctx, "usr_guest", documentID); !errors.Is(err, errForbidden) {
		t.Fatalf("History(outsider) error = %v, want forbidden", err)
	}
	if _, err := h.svc.AddMember(ctx, "usr_guest", projectID, "usr_guest", "editor"); !errors.Is(err, errForbidden) {
		t.Fatalf("AddMember(non-owner) error = %v, want forbidden", err)
	}

	member, err := h.svc.AddMember(ctx, "usr_owner", projectID, "usr_guest", "")
	if err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if member.Role != string(engine.RoleEditor) {
		t.Fatalf("AddMember() role = %q, want editor default", member.Role)
	}
	if _, err := h.svc.GetProject(ctx, "usr_guest", projectID); err != nil {
		t.Fatalf("GetProject(member) error = %v", err)
	}
	projects, err := h.svc.ListProjects(ctx, "usr_guest")
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 1 || projects[0].ID != projectID {
		t.Fatalf("ListProjects(member) = %+v", projects)
	}

	var storeErr *engine.StoreError
	if _, err := h.svc.AddMember(ctx, "usr_owner", projectID, "usr_guest", "viewer"); !errors.As(err, &storeErr) || !storeErr.Conflict() {
		t.Fatalf("AddMember(duplicate) error = %v, want conflict", err)
	}
	var notFound *engine.NotFoundError
	if _, err := h.svc.AddMember(ctx, "usr_owner", projectID, "usr_nobody", "viewer"); !errors.As(err, &notFound) {
		t.Fatalf("AddMember(unknown user) error = %v, want NotFoundError", err)
	}
}

func TestSessionSaveStageAndArchive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, documentID := h.workspace(t)

	opened, err := h.svc.OpenSession(ctx, "usr_owner", documentID)
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if opened.State != engine.StateClean || opened.BaseVersion != 1 {
		t.Fatalf("OpenSession() = %+v, want clean at v1", opened)
	}
	if _, err := h.svc.EditSession("usr_owner", opened.ID, "hello"); err != nil {
		t.Fatalf("EditSession() error = %v", err)
	}
	v2, snapshot, err := h.svc.SaveSession(ctx, "usr_owner", opened.ID)
	if err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	if v2.Number != 2 || v2.Content != "hello" || snapshot.State != engine.StateClean {
		t.Fatalf("SaveSession() = %+v %+v", v2, snapshot)
	}

	staged, err := h.svc.StageSessionVersion(ctx, "usr_owner", opened.ID, 1)
	if err != nil {
		t.Fatalf("StageSessionVersion() error = %v", err)
	}
	if staged.State != engine.StateDirty || staged.Buffer != "" {
		t.Fatalf("StageSessionVersion() = %+v, want dirty empty buffer", staged)
	}
	v3, _, err := h.svc.SaveSession(ctx, "usr_owner", opened.ID)
	if err != nil {
		t.Fatalf("SaveSession(restore) error = %v", err)
	}
	if v3.Number != 3 || v3.Content != "" {
		t.Fatalf("SaveSession(restore) = %+v, want v3 with v1 content", v3)
	}

	history, err := h.svc.History(ctx, "usr_owner", documentID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 || history[0].Number != 3 || history[2].Number != 1 {
		t.Fatalf("History() = %+v", history)
	}
	if content, err := h.archive.ArchivedContent(documentID, 2); err != nil || content != "hello" {
		t.Fatalf("ArchivedContent(2) = %q, %v", content, err)
	}
	if _, err := h.archive.ArchivedContent(documentID, 3); err != nil {
		t.Fatalf("ArchivedContent(3) error = %v", err)
	}
}

func TestSessionsArePrivateAndClosable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	projectID, documentID := h.workspace(t)
	h.user(t, "usr_guest", "Guest")
	if _, err := h.svc.AddMember(ctx, "usr_owner", projectID, "usr_guest", "editor"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}

	snapshot, err := h.svc.OpenSession(ctx, "usr_owner", documentID)
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	var notFound *engine.NotFoundError
	if _, err := h.svc.GetSession("usr_guest", snapshot.ID); !errors.As(err, &notFound) {
		t.Fatalf("GetSession(other caller) error = %v, want NotFoundError", err)
	}
	if err := h.svc.CloseSession("usr_guest", snapshot.ID); !errors.As(err, &notFound) {
		t.Fatalf("CloseSession(other caller) error = %v, want NotFoundError", err)
	}
	if err := h.svc.CloseSession("usr_owner", snapshot.ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if _, err := h.svc.GetSession("usr_owner", snapshot.ID); !errors.As(err, &notFound) {
		t.Fatalf("GetSession(closed) error = %v, want NotFoundError", err)
	}
}

func TestIdleSessionsExpire(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, documentID := h.workspace(t)

	snapshot, err := h.svc.OpenSession(ctx, "usr_owner", documentID)
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	session, ok := h.svc.sessions.get(snapshot.ID, "usr_owner")
	if !ok {
		t.Fatalf("session not registered")
	}

	h.svc.sessions.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if expired := h.svc.sessions.sweep(); expired != 1 {
		t.Fatalf("sweep() = %d, want 1", expired)
	}
	if session.State() != engine.StateClosed {
		t.Fatalf("expired session state = %s, want closed", session.State())
	}
	if _, err := h.svc.GetSession("usr_owner", snapshot.ID); err == nil {
		t.Fatalf("GetSession(expired) expected error")
	}
}

func TestConcurrentEditorsByMode(t *testing.T) {
	cases := []struct {
		name       string
		optimistic bool
		wantStale  bool
	}{
		{name: "last writer wins", optimistic: false},
		{name: "optimistic", optimistic: true, wantStale: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, func(cfg *config.Config, _ *Deps) { cfg.OptimisticSaves = tc.optimistic })
			ctx := context.Background()
			_, documentID := h.workspace(t)

			first, err := h.svc.OpenSession(ctx, "usr_owner", documentID)
			if err != nil {
				t.Fatalf("OpenSession(first) error = %v", err)
			}
			second, err := h.svc.OpenSession(ctx, "usr_owner", documentID)
			if err != nil {
				t.Fatalf("OpenSession(second) error = %v", err)
			}
			if _, err := h.svc.EditSession("usr_owner", first.ID, "a"); err != nil {
				t.Fatalf("EditSession(first) error = %v", err)
			}
			if _, err := h.svc.EditSession("usr_owner", second.ID, "b"); err != nil {
				t.Fatalf("EditSession(second) error = %v", err)
			}
			if _, _, err := h.svc.SaveSession(ctx, "usr_owner", first.ID); err != nil {
				t.Fatalf("SaveSession(first) error = %v", err)
			}

			_, _, err = h.svc.SaveSession(ctx, "usr_owner", second.ID)
			var stale *engine.StaleBaseError
			if tc.wantStale {
				if !errors.As(err, &stale) || stale.Base != 1 || stale.Latest != 2 {
					t.Fatalf("SaveSession(second) error = %v, want StaleBaseError 1->2", err)
				}
				still, err := h.svc.GetSession("usr_owner", second.ID)
				if err != nil || still.Buffer != "b" || still.State != engine.StateDirty {
					t.Fatalf("GetSession(after stale) = %+v, %v; buffer must survive", still, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SaveSession(second) error = %v", err)
			}
			latest, err := h.svc.GetVersion(ctx, "usr_owner", documentID, 3)
			if err != nil || latest.Content != "b" {
				t.Fatalf("GetVersion(3) = %+v, %v; want last writer content", latest, err)
			}
		})
	}
}

func TestDeleteDocumentClosesSessionsAndCleansUp(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, documentID := h.workspace(t)

	snapshot, err := h.svc.OpenSession(ctx, "usr_owner", documentID)
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	session, _ := h.svc.sessions.get(snapshot.ID, "usr_owner")
	if _, err := h.svc.AddComment(ctx, "usr_owner", documentID, "looks good"); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}

	if err := h.svc.DeleteDocument(ctx, "usr_owner", documentID); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if session.State() != engine.StateClosed {
		t.Fatalf("session state after delete = %s, want closed", session.State())
	}
	if _, err := session.Save(ctx); err == nil {
		t.Fatalf("Save() on closed session expected error")
	}

	var notFound *engine.NotFoundError
	if _, err := h.svc.History(ctx, "usr_owner", documentID); !errors.As(err, &notFound) {
		t.Fatalf("History(deleted) error = %v, want NotFoundError", err)
	}
	if _, err := h.svc.ListComments(ctx, "usr_owner", documentID); !errors.As(err, &notFound) {
		t.Fatalf("ListComments(deleted) error = %v, want NotFoundError", err)
	}
	if _, err := h.archive.ArchivedHistory(documentID, 0); !errors.Is(err, gitrepo.ErrNotArchived) {
		t.Fatalf("archive after delete error = %v, want ErrNotArchived", err)
	}
}

func TestDeleteProjectIsOwnerOnly(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	projectID, documentID := h.workspace(t)
	h.user(t, "usr_guest", "Guest")
	if _, err := h.svc.AddMember(ctx, "usr_owner", projectID, "usr_guest", "editor"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}

	if err := h.svc.DeleteProject(ctx, "usr_guest", projectID); !errors.Is(err, errForbidden) {
		t.Fatalf("DeleteProject(member) error = %v, want forbidden", err)
	}
	if err := h.svc.DeleteProject(ctx, "usr_owner", projectID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if _, err := h.store.GetDocument(ctx, documentID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("document survived project delete: %v", err)
	}
	projects, err := h.svc.ListProjects(ctx, "usr_guest")
	if err != nil || len(projects) != 0 {
		t.Fatalf("ListProjects() = %+v, %v; want none", projects, err)
	}
}

func TestSearchScopesToProjectMembers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	projectID, documentID := h.workspace(t)
	h.user(t, "usr_guest", "Guest")

	snapshot, err := h.svc.OpenSession(ctx, "usr_owner", documentID)
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if _, err := h.svc.EditSession("usr_owner", snapshot.ID, "Quarterly roadmap draft"); err != nil {
		t.Fatalf("EditSession() error = %v", err)
	}
	if _, _, err := h.svc.SaveSession(ctx, "usr_owner", snapshot.ID); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	if _, err := h.svc.SessionComment(ctx, "usr_owner", snapshot.ID, "Roadmap needs dates"); err != nil {
		t.Fatalf("SessionComment() error = %v", err)
	}

	resp, err := h.svc.Search(ctx, "usr_owner", search.Query{Text: "roadmap", ProjectID: projectID})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("Search() = %+v, want document and comment", resp)
	}
	resp, err = h.svc.Search(ctx, "usr_owner", search.Query{Text: "roadmap", ProjectID: projectID, FilterType: search.ResultComment})
	if err != nil || resp.Total != 1 || resp.Results[0].Type != search.ResultComment {
		t.Fatalf("Search(comments) = %+v, %v", resp, err)
	}
	if _, err := h.svc.Search(ctx, "usr_owner", search.Query{Text: "x", ProjectID: projectID, FilterType: "spreadsheet"}); err == nil {
		t.Fatalf("Search(bad type) expected validation error")
	}
	if _, err := h.svc.Search(ctx, "usr_guest", search.Query{Text: "roadmap", ProjectID: projectID}); !errors.Is(err, errForbidden) {
		t.Fatalf("Search(outsider) error = %v, want forbidden", err)
	}
}

func TestExportChecksAccessAndVersion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, documentID := h.workspace(t)
	h.user(t, "usr_guest", "Guest")

	result, err := h.svc.Export(ctx, "usr_owner", export.Request{DocumentID: documentID, VersionNumber: 1, Format: export.FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Plan-v1.html" {
		t.Fatalf("Export() filename = %q", result.Filename)
	}

	var notFound *engine.NotFoundError
	if _, err := h.svc.Export(ctx, "usr_owner", export.Request{DocumentID: documentID, VersionNumber: 7, Format: export.FormatHTML}); !errors.As(err, &notFound) {
		t.Fatalf("Export(missing version) error = %v, want NotFoundError", err)
	}
	if _, err := h.svc.Export(ctx, "usr_guest", export.Request{DocumentID: documentID, VersionNumber: 1, Format: export.FormatHTML}); !errors.Is(err, errForbidden) {
		t.Fatalf("Export(outsider) error = %v, want forbidden", err)
	}
}

type failingArchive struct{}

func (failingArchive) ArchiveVersion(store.Version) (gitrepo.CommitInfo, error) {
	return gitrepo.CommitInfo{}, errors.New("disk full")
}

func (failingArchive) ArchivedHistory(string, int) ([]gitrepo.CommitInfo, error) {
	return nil, errors.New("disk full")
}

func (failingArchive) RemoveDocument(string) error { return errors.New("disk full") }

func TestArchiveFailureNeverFailsWrites(t *testing.T) {
	h := newHarness(t, func(_ *config.Config, deps *Deps) { deps.Archive = failingArchive{} })
	ctx := context.Background()
	_, documentID := h.workspace(t)

	snapshot, err := h.svc.OpenSession(ctx, "usr_owner", documentID)
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if _, err := h.svc.EditSession("usr_owner", snapshot.ID, "still saved"); err != nil {
		t.Fatalf("EditSession() error = %v", err)
	}
	if _, _, err := h.svc.SaveSession(ctx, "usr_owner", snapshot.ID); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	if err := h.svc.DeleteDocument(ctx, "usr_owner", documentID); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
}

func TestArchivedHistoryDisabled(t *testing.T) {
	h := newHarness(t, func(_ *config.Config, deps *Deps) { deps.Archive = nil })
	_, documentID := h.workspace(t)

	_, err := h.svc.ArchivedHistory(context.Background(), "usr_owner", documentID, 0)
	if status, code, _, _ := mapError(err); status != 404 || code != "ARCHIVE_DISABLED" {
		t.Fatalf("ArchivedHistory(disabled) = %d %s, want 404 ARCHIVE_DISABLED", status, code)
	}
}

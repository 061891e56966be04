package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"quill/api/internal/authpw"
	"quill/api/internal/config"
	"quill/api/internal/engine"
	"quill/api/internal/export"
	"quill/api/internal/gitrepo"
	"quill/api/internal/metrics"
	"quill/api/internal/search"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

// DataStore is satisfied by store.PostgresStore and store.MemoryStore.
type DataStore interface {
	engine.Store
	authpw.ProfileStore
	RefreshStore
	Ping(context.Context) error
	GetProfile(context.Context, string) (store.Profile, error)
	InsertProject(context.Context, store.Project) error
	ListProjectsForUser(context.Context, string) ([]store.Project, error)
	DeleteProject(context.Context, string) error
	InsertDocument(context.Context, store.Document) error
	ListDocuments(context.Context, string) ([]store.Document, error)
	DeleteDocument(context.Context, string) error
	ListActivity(ctx context.Context, projectID string, limit int) ([]store.ActivityRecord, error)
}

// RefreshStore keeps hashed refresh tokens. session.RedisStore and both
// primary stores implement it.
type RefreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type SearchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexDocument(search.DocumentRecord)
	IndexComment(search.CommentRecord)
	DeleteDocument(id string, commentIDs []string)
}

type Archiver interface {
	ArchiveVersion(store.Version) (gitrepo.CommitInfo, error)
	ArchivedHistory(documentID string, limit int) ([]gitrepo.CommitInfo, error)
	RemoveDocument(documentID string) error
}

type Exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// Deps wires the service. Only Store is required; Archive stays nil when
// the mirror is disabled.
type Deps struct {
	Config  config.Config
	Store   DataStore
	Refresh RefreshStore
	Search  SearchIndex
	Archive Archiver
	Export  Exporter
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

type Service struct {
	cfg      config.Config
	store    DataStore
	refresh  RefreshStore
	search   SearchIndex
	archive  Archiver
	exporter Exporter
	accounts *authpw.Service
	engine   *engine.Engine
	sessions *sessionRegistry
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:      deps.Config,
		store:    deps.Store,
		refresh:  deps.Refresh,
		search:   deps.Search,
		archive:  deps.Archive,
		exporter: deps.Export,
		accounts: authpw.NewService(deps.Store),
		logger:   logger,
		metrics:  deps.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.refresh == nil {
		s.refresh = deps.Store
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewScan(deps.Store), logger)
	}
	if s.exporter == nil {
		s.exporter = export.NewService(deps.Store)
	}
	breakerFailures := deps.Config.ActivityBreakerFailure
	if breakerFailures < 0 {
		breakerFailures = 0
	}
	s.engine = engine.New(deps.Store, engine.Options{
		Optimistic:          deps.Config.OptimisticSaves,
		ActivityMaxFailures: uint32(breakerFailures),
		Logger:              logger,
		Metrics:             deps.Metrics,
	})
	s.sessions = newSessionRegistry(deps.Config.SessionTTL)
	return s
}

// Ping checks the primary store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Projects

type projectInput struct {
	Name        string
	Description string
}

func (in projectInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&in.Description, validation.RuneLength(0, 2000)),
	)
}

func (s *Service) CreateProject(ctx context.Context, ownerID, name, description string) (store.Project, error) {
	input := projectInput{Name: strings.TrimSpace(name), Description: strings.TrimSpace(description)}
	if err := input.Validate(); err != nil {
		return store.Project{}, err
	}
	project := store.Project{
		ID:          util.NewID("prj"),
		OwnerID:     ownerID,
		Name:        input.Name,
		Description: input.Description,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, &engine.StoreError{Op: "insert project", Err: err}
	}
	s.engine.Activity.Record(ctx, project.ID, ownerID, engine.ActionCreated, engine.ResourceProject, project.ID)
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, userID string) ([]store.Project, error) {
	projects, err := s.store.ListProjectsForUser(ctx, userID)
	if err != nil {
		return nil, &engine.StoreError{Op: "list projects", Err: err}
	}
	return projects, nil
}

func (s *Service) GetProject(ctx context.Context, callerID, projectID string) (store.Project, error) {
	if err := s.requireMember(ctx, callerID, projectID); err != nil {
		return store.Project{}, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, notFoundOr("get project", "project", projectID, err)
	}
	return project, nil
}

// DeleteProject is owner only. Every document goes with it, so open
// sessions, index entries and archives are dropped first.
func (s *Service) DeleteProject(ctx context.Context, callerID, projectID string) error {
	if err := s.requireOwner(ctx, callerID, projectID); err != nil {
		return err
	}
	documents, err := s.store.ListDocuments(ctx, projectID)
	if err != nil {
		return &engine.StoreError{Op: "list documents", Err: err}
	}
	cleanups := make([]func(), 0, len(documents))
	for _, doc := range documents {
		cleanups = append(cleanups, s.documentCleanup(ctx, doc))
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return notFoundOr("delete project", "project", projectID, err)
	}
	for _, cleanup := range cleanups {
		cleanup()
	}
	s.engine.Activity.Record(ctx, projectID, callerID, engine.ActionDeleted, engine.ResourceProject, projectID)
	return nil
}

// AddMember is owner only. The user must have a profile.
func (s *Service) AddMember(ctx context.Context, callerID, projectID, userID, role string) (store.ProjectMembership, error) {
	if err := s.requireOwner(ctx, callerID, projectID); err != nil {
		return store.ProjectMembership{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID != "" {
		if _, err := s.store.GetProfile(ctx, userID); err != nil {
			return store.ProjectMembership{}, notFoundOr("get profile", "user", userID, err)
		}
	}
	membership, err := s.engine.Members.AddMember(ctx, projectID, userID, role)
	if err != nil {
		return store.ProjectMembership{}, err
	}
	s.engine.Activity.Record(ctx, projectID, callerID, engine.ActionMemberAdded, engine.ResourceMember, userID)
	return membership, nil
}

func (s *Service) ListMembers(ctx context.Context, callerID, projectID string) ([]store.ProjectMembership, error) {
	if err := s.requireMember(ctx, callerID, projectID); err != nil {
		return nil, err
	}
	return s.engine.Members.Members(ctx, projectID)
}

// ListActivity returns the newest entries first.
func (s *Service) ListActivity(ctx context.Context, callerID, projectID string, limit int) ([]store.ActivityRecord, error) {
	if err := s.requireMember(ctx, callerID, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := s.store.ListActivity(ctx, projectID, limit)
	if err != nil {
		return nil, &engine.StoreError{Op: "list activity", Err: err}
	}
	return items, nil
}

// Documents

type documentInput struct {
	Name string
	Type string
}

func (in documentInput) Validate() error {
	types := make([]any, 0, len(store.DocumentTypes))
	for _, t := range store.DocumentTypes {
		types = append(types, string(t))
	}
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&in.Type, validation.Required, validation.In(types...)),
	)
}

// CreateDocument inserts the document and commits an empty version 1
// authored by the creator.
func (s *Service) CreateDocument(ctx context.Context, callerID, projectID, name, docType string) (store.Document, store.Version, error) {
	input := documentInput{Name: strings.TrimSpace(name), Type: strings.ToLower(strings.TrimSpace(docType))}
	if input.Type == "" {
		input.Type = string(store.TypeDocument)
	}
	if err := input.Validate(); err != nil {
		return store.Document{}, store.Version{}, err
	}
	if err := s.requireMember(ctx, callerID, projectID); err != nil {
		return store.Document{}, store.Version{}, err
	}

	doc := store.Document{
		ID:        util.NewID("doc"),
		ProjectID: projectID,
		Name:      input.Name,
		Type:      store.DocumentType(input.Type),
		CreatedBy: callerID,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, store.Version{}, notFoundOr("insert document", "project", projectID, err)
	}
	first, err := s.engine.Versions.Commit(ctx, doc.ID, "", callerID)
	if err != nil {
		return store.Document{}, store.Version{}, fmt.Errorf("commit first version: %w", err)
	}
	s.engine.Activity.Record(ctx, projectID, callerID, engine.ActionCreated, engine.ResourceDocument, doc.ID)
	s.afterCommit(doc, first)
	return doc, first, nil
}

func (s *Service) ListDocuments(ctx context.Context, callerID, projectID string) ([]store.Document, error) {
	if err := s.requireMember(ctx, callerID, projectID); err != nil {
		return nil, err
	}
	documents, err := s.store.ListDocuments(ctx, projectID)
	if err != nil {
		return nil, &engine.StoreError{Op: "list documents", Err: err}
	}
	return documents, nil
}

// GetDocument returns the document and its latest version, which is nil
// only for a document whose first commit failed.
func (s *Service) GetDocument(ctx context.Context, callerID, documentID string) (store.Document, *store.Version, error) {
	doc, err := s.accessibleDocument(ctx, callerID, documentID)
	if err != nil {
		return store.Document{}, nil, err
	}
	latest, err := s.engine.Versions.Latest(ctx, documentID)
	if err != nil {
		return store.Document{}, nil, err
	}
	return doc, latest, nil
}

// DeleteDocument removes the document with its versions and comments, and
// closes every session still bound to it.
func (s *Service) DeleteDocument(ctx context.Context, callerID, documentID string) error {
	doc, err := s.accessibleDocument(ctx, callerID, documentID)
	if err != nil {
		return err
	}
	cleanup := s.documentCleanup(ctx, doc)
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return notFoundOr("delete document", "document", documentID, err)
	}
	cleanup()
	s.engine.Activity.Record(ctx, doc.ProjectID, callerID, engine.ActionDeleted, engine.ResourceDocument, documentID)
	return nil
}

func (s *Service) History(ctx context.Context, callerID, documentID string) ([]store.Version, error) {
	if _, err := s.accessibleDocument(ctx, callerID, documentID); err != nil {
		return nil, err
	}
	return s.engine.Versions.History(ctx, documentID)
}

func (s *Service) GetVersion(ctx context.Context, callerID, documentID string, number int) (store.Version, error) {
	if _, err := s.accessibleDocument(ctx, callerID, documentID); err != nil {
		return store.Version{}, err
	}
	return s.engine.Versions.Get(ctx, documentID, number)
}

// ArchivedHistory lists mirrored commits. A document that was never
// mirrored reports an empty list.
func (s *Service) ArchivedHistory(ctx context.Context, callerID, documentID string, limit int) ([]gitrepo.CommitInfo, error) {
	if _, err := s.accessibleDocument(ctx, callerID, documentID); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return nil, domainError(http.StatusNotFound, "ARCHIVE_DISABLED", "Version archive is not enabled", nil)
	}
	commits, err := s.archive.ArchivedHistory(documentID, limit)
	if errors.Is(err, gitrepo.ErrNotArchived) {
		return []gitrepo.CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archived history: %w", err)
	}
	return commits, nil
}

// Comments

func (s *Service) ListComments(ctx context.Context, callerID, documentID string) ([]store.Comment, error) {
	if _, err := s.accessibleDocument(ctx, callerID, documentID); err != nil {
		return nil, err
	}
	return s.engine.Comments.List(ctx, documentID)
}

func (s *Service) AddComment(ctx context.Context, callerID, documentID, text string) (store.Comment, error) {
	doc, err := s.accessibleDocument(ctx, callerID, documentID)
	if err != nil {
		return store.Comment{}, err
	}
	comment, err := s.engine.Comments.Append(ctx, documentID, callerID, text)
	if err != nil {
		return store.Comment{}, err
	}
	s.engine.Activity.Record(ctx, doc.ProjectID, callerID, engine.ActionCommented, engine.ResourceComment, comment.ID)
	s.indexComment(doc, comment)
	return comment, nil
}

// Search and export

func (s *Service) Search(ctx context.Context, callerID string, q search.Query) (search.Response, error) {
	if err := s.requireMember(ctx, callerID, q.ProjectID); err != nil {
		return search.Response{}, err
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if q.FilterType != "" && q.FilterType != search.ResultDocument && q.FilterType != search.ResultComment {
		return search.Response{}, &engine.ValidationError{Field: "type", Message: "must be document or comment"}
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) Export(ctx context.Context, callerID string, req export.Request) (*export.Result, error) {
	if _, err := s.accessibleDocument(ctx, callerID, req.DocumentID); err != nil {
		return nil, err
	}
	if req.VersionNumber < 1 {
		return nil, &engine.ValidationError{Field: "versionNumber", Message: "must be at least 1"}
	}
	result, err := s.exporter.Export(ctx, req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &engine.NotFoundError{Resource: "version", ID: fmt.Sprintf("%s@%d", req.DocumentID, req.VersionNumber)}
		}
		return nil, fmt.Errorf("export document: %w", err)
	}
	return result, nil
}

// Access helpers

func (s *Service) requireMember(ctx context.Context, callerID, projectID string) error {
	member, err := s.engine.Members.IsMember(ctx, projectID, callerID)
	if err != nil {
		return err
	}
	if !member {
		return errForbidden
	}
	return nil
}

func (s *Service) requireOwner(ctx context.Context, callerID, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return notFoundOr("get project", "project", projectID, err)
	}
	if project.OwnerID != callerID {
		return errForbidden
	}
	return nil
}

func (s *Service) accessibleDocument(ctx context.Context, callerID, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, notFoundOr("get document", "document", documentID, err)
	}
	if err := s.requireMember(ctx, callerID, doc.ProjectID); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// documentCleanup captures what must be undone outside the store once a
// document is gone. Comment ids are read before the rows disappear.
func (s *Service) documentCleanup(ctx context.Context, doc store.Document) func() {
	comments, err := s.store.ListComments(ctx, doc.ID)
	if err != nil {
		s.logger.Warn("list comments for cleanup", zap.String("document_id", doc.ID), zap.Error(err))
	}
	commentIDs := make([]string, 0, len(comments))
	for _, c := range comments {
		commentIDs = append(commentIDs, c.ID)
	}
	return func() {
		if closed := s.sessions.closeDocument(doc.ID); closed > 0 {
			s.logger.Info("closed sessions for deleted document", zap.String("document_id", doc.ID), zap.Int("sessions", closed))
		}
		s.search.DeleteDocument(doc.ID, commentIDs)
		if s.archive != nil {
			if err := s.archive.RemoveDocument(doc.ID); err != nil {
				s.logger.Warn("remove archive", zap.String("document_id", doc.ID), zap.Error(err))
			}
		}
	}
}

// afterCommit pushes a fresh version to the search index and the archive.
// Neither may fail the commit.
func (s *Service) afterCommit(doc store.Document, version store.Version) {
	s.search.IndexDocument(search.DocumentRecord{
		ID:            doc.ID,
		Name:          doc.Name,
		Type:          string(doc.Type),
		Content:       version.Content,
		LatestVersion: version.Number,
		ProjectID:     doc.ProjectID,
	})
	if s.archive == nil {
		return
	}
	if _, err := s.archive.ArchiveVersion(version); err != nil {
		s.logger.Warn("archive version",
			zap.String("document_id", doc.ID),
			zap.String("project_id", doc.ProjectID),
			zap.Int("version", version.Number),
			zap.Error(err),
		)
	}
}

func (s *Service) indexComment(doc store.Document, comment store.Comment) {
	s.search.IndexComment(search.CommentRecord{
		ID:           comment.ID,
		Body:         comment.Content,
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		ProjectID:    doc.ProjectID,
		AuthorID:     comment.AuthorID,
	})
}

func notFoundOr(op, resource, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrMissingParent) {
		return &engine.NotFoundError{Resource: resource, ID: id}
	}
	return &engine.StoreError{Op: op, Err: err}
}

package engine

import (
	"context"
	"sync"
	"time"

	"quill/api/internal/store"
	"quill/api/internal/util"
)

type State int

const (
	StateUnloaded State = iota
	StateClean
	StateDirty
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type DocumentReader interface {
	GetDocument(context.Context, string) (store.Document, error)
}

// DocumentSession binds one caller to one open document. The buffer is only
// persisted through Save; staging an old version only rewrites the buffer.
//
// The mutex guards session fields and is never held across store calls. At
// most one Save is outstanding at a time; a second one fails with
// InvalidStateError instead of queueing.
//
// Comments and Comment need a bound document, so they fail with
// InvalidStateError while unloaded or closed. CommentThread can be used
// directly in any state.
type DocumentSession struct {
	id       string
	callerID string

	documents  DocumentReader
	versions   *VersionStore
	comments   *CommentThread
	activity   *ActivityRecorder
	optimistic bool
	now        func() time.Time

	mu          sync.Mutex
	state       State
	document    store.Document
	buffer      string
	baseVersion int
	generation  uint64
	saving      bool
	lastActive  time.Time
}

// Snapshot is a consistent copy of the session's observable fields.
type Snapshot struct {
	ID          string
	CallerID    string
	DocumentID  string
	ProjectID   string
	State       State
	Buffer      string
	BaseVersion int
	Saving      bool
	LastActive  time.Time
}

func (s *DocumentSession) ID() string       { return s.id }
func (s *DocumentSession) CallerID() string { return s.callerID }

func (s *DocumentSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *DocumentSession) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// BaseVersion is the version number the buffer descends from; 0 before the
// first save of a never-saved document.
func (s *DocumentSession) BaseVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseVersion
}

func (s *DocumentSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.id,
		CallerID:    s.callerID,
		DocumentID:  s.document.ID,
		ProjectID:   s.document.ProjectID,
		State:       s.state,
		Buffer:      s.buffer,
		BaseVersion: s.baseVersion,
		Saving:      s.saving,
		LastActive:  s.lastActive,
	}
}

// Open seeds the buffer with the latest committed content.
func (s *DocumentSession) Open(ctx context.Context, documentID string) error {
	s.mu.Lock()
	if s.state != StateUnloaded {
		defer s.mu.Unlock()
		return &InvalidStateError{Op: "open", State: s.state}
	}
	s.mu.Unlock()

	document, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return storeFailure("get document", "document", documentID, err)
	}
	latest, err := s.versions.Latest(ctx, documentID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnloaded {
		return &InvalidStateError{Op: "open", State: s.state}
	}
	s.document = document
	s.buffer = ""
	s.baseVersion = 0
	if latest != nil {
		s.buffer = latest.Content
		s.baseVersion = latest.Number
	}
	s.state = StateClean
	s.touchLocked()
	return nil
}

func (s *DocumentSession) Edit(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClean && s.state != StateDirty {
		return &InvalidStateError{Op: "edit", State: s.state}
	}
	s.buffer = content
	s.generation++
	s.state = StateDirty
	s.touchLocked()
	return nil
}

// Save commits the buffer as the next version. On failure the buffer and
// state are left as they were. Edits that land while the commit is in
// flight keep the session dirty.
func (s *DocumentSession) Save(ctx context.Context) (store.Version, error) {
	s.mu.Lock()
	if s.state != StateClean && s.state != StateDirty {
		defer s.mu.Unlock()
		return store.Version{}, &InvalidStateError{Op: "save", State: s.state}
	}
	if s.saving {
		defer s.mu.Unlock()
		return store.Version{}, &InvalidStateError{Op: "save while another save is outstanding", State: s.state}
	}
	s.saving = true
	documentID := s.document.ID
	projectID := s.document.ProjectID
	content := s.buffer
	base := s.baseVersion
	generation := s.generation
	s.mu.Unlock()

	var (
		version store.Version
		err     error
	)
	if s.optimistic {
		version, err = s.versions.CommitOnBase(ctx, documentID, content, s.callerID, base)
	} else {
		version, err = s.versions.Commit(ctx, documentID, content, s.callerID)
	}

	s.mu.Lock()
	s.saving = false
	if err == nil && s.state != StateClosed {
		s.baseVersion = version.Number
		if s.generation == generation {
			s.state = StateClean
		}
	}
	s.touchLocked()
	s.mu.Unlock()

	if err != nil {
		return store.Version{}, err
	}
	s.activity.Record(ctx, projectID, s.callerID, ActionUpdated, ResourceDocument, documentID)
	return version, nil
}

// StageVersion replaces the buffer with an old snapshot's content. The
// session is dirty afterwards even when the content is unchanged. Staging
// the document's latest version also moves the base to it, which is how a
// session that lost a StaleBaseError race takes the other writer's content.
func (s *DocumentSession) StageVersion(ctx context.Context, number int) (string, error) {
	documentID, err := s.boundDocument("stage version")
	if err != nil {
		return "", err
	}
	content, err := s.versions.RestoreToBuffer(ctx, documentID, number)
	if err != nil {
		return "", err
	}
	latest, err := s.versions.Latest(ctx, documentID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClean && s.state != StateDirty {
		return "", &InvalidStateError{Op: "stage version", State: s.state}
	}
	s.buffer = content
	if latest != nil && latest.Number == number && number > s.baseVersion {
		s.baseVersion = number
	}
	s.generation++
	s.state = StateDirty
	s.touchLocked()
	return content, nil
}

// Rebase keeps the buffer and adopts the document's current latest version
// as its base, so the next Save overwrites whatever landed since the buffer
// was loaded. It returns the new base. The session is dirty afterwards.
func (s *DocumentSession) Rebase(ctx context.Context) (int, error) {
	documentID, err := s.boundDocument("rebase")
	if err != nil {
		return 0, err
	}
	latest, err := s.versions.Latest(ctx, documentID)
	if err != nil {
		return 0, err
	}
	base := 0
	if latest != nil {
		base = latest.Number
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClean && s.state != StateDirty {
		return 0, &InvalidStateError{Op: "rebase", State: s.state}
	}
	if s.saving {
		return 0, &InvalidStateError{Op: "rebase while a save is outstanding", State: s.state}
	}
	if base > s.baseVersion {
		s.baseVersion = base
	}
	s.state = StateDirty
	s.touchLocked()
	return s.baseVersion, nil
}

// Comments lists the document's thread without changing session state.
func (s *DocumentSession) Comments(ctx context.Context) ([]store.Comment, error) {
	documentID, err := s.boundDocument("list comments")
	if err != nil {
		return nil, err
	}
	return s.comments.List(ctx, documentID)
}

func (s *DocumentSession) Comment(ctx context.Context, text string) (store.Comment, error) {
	documentID, err := s.boundDocument("append comment")
	if err != nil {
		return store.Comment{}, err
	}
	comment, err := s.comments.Append(ctx, documentID, s.callerID, text)
	if err != nil {
		return store.Comment{}, err
	}
	s.activity.Record(ctx, s.projectID(), s.callerID, ActionCommented, ResourceComment, comment.ID)
	return comment, nil
}

// Close is terminal and idempotent. An in-flight save still completes in the
// store but the session no longer moves out of closed.
func (s *DocumentSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// IdleSince reports whether the session has been inactive since before t.
func (s *DocumentSession) IdleSince(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.saving && s.lastActive.Before(t)
}

func (s *DocumentSession) boundDocument(op string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClean && s.state != StateDirty {
		return "", &InvalidStateError{Op: op, State: s.state}
	}
	s.touchLocked()
	return s.document.ID, nil
}

func (s *DocumentSession) projectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document.ProjectID
}

func (s *DocumentSession) touchLocked() {
	s.lastActive = s.now()
}

func newSessionID() string {
	return util.NewID("ses")
}

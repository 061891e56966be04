package engine

import (
	"time"

	"go.uber.org/zap"

	"quill/api/internal/metrics"
)

// Store is everything the engine needs from persistence. Both
// store.PostgresStore and store.MemoryStore satisfy it.
type Store interface {
	VersionLedger
	CommentLog
	MemberDirectory
	ActivitySink
}

type Options struct {
	// Optimistic makes Save fail with StaleBaseError when the document
	// advanced past the session's base version.
	Optimistic          bool
	ActivityMaxFailures uint32
	Logger              *zap.Logger
	Metrics             *metrics.Collector
}

type Engine struct {
	Versions *VersionStore
	Comments *CommentThread
	Members  *MembershipRegistry
	Activity *ActivityRecorder

	documents  DocumentReader
	optimistic bool
	now        func() time.Time
}

func New(st Store, opts Options) *Engine {
	return &Engine{
		Versions:   NewVersionStore(st, opts.Metrics),
		Comments:   NewCommentThread(st, opts.Metrics),
		Members:    NewMembershipRegistry(st),
		Activity:   NewActivityRecorder(st, opts.Logger, opts.Metrics, opts.ActivityMaxFailures),
		documents:  st,
		optimistic: opts.Optimistic,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Optimistic() bool { return e.optimistic }

// NewSession returns an unloaded session for callerID. Open binds it to a
// document.
func (e *Engine) NewSession(callerID string) *DocumentSession {
	s := &DocumentSession{
		id:         newSessionID(),
		callerID:   callerID,
		documents:  e.documents,
		versions:   e.Versions,
		comments:   e.Comments,
		activity:   e.Activity,
		optimistic: e.optimistic,
		now:        e.now,
		state:      StateUnloaded,
	}
	s.lastActive = s.now()
	return s
}

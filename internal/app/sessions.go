package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"quill/api/internal/engine"
	"quill/api/internal/store"
)

const defaultSessionTTL = time.Hour

// sessionRegistry owns every open DocumentSession. A session is only
// visible to the caller that opened it.
type sessionRegistry struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	byID map[string]*engine.DocumentSession
}

func newSessionRegistry(ttl time.Duration) *sessionRegistry {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &sessionRegistry{
		ttl:  ttl,
		now:  time.Now,
		byID: make(map[string]*engine.DocumentSession),
	}
}

func (r *sessionRegistry) add(session *engine.DocumentSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[session.ID()] = session
}

// get sweeps expired sessions before the lookup. Someone else's session
// looks exactly like a missing one.
func (r *sessionRegistry) get(sessionID, callerID string) (*engine.DocumentSession, bool) {
	r.sweep()
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[sessionID]
	if !ok || session.CallerID() != callerID {
		return nil, false
	}
	return session, true
}

func (r *sessionRegistry) remove(sessionID, callerID string) (*engine.DocumentSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[sessionID]
	if !ok || session.CallerID() != callerID {
		return nil, false
	}
	delete(r.byID, sessionID)
	return session, true
}

func (r *sessionRegistry) closeDocument(documentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	closed := 0
	for id, session := range r.byID {
		if session.Snapshot().DocumentID == documentID {
			session.Close()
			delete(r.byID, id)
			closed++
		}
	}
	return closed
}

// sweep closes sessions idle for longer than the TTL. Sessions with a
// save in flight are left alone.
func (r *sessionRegistry) sweep() int {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	expired := 0
	for id, session := range r.byID {
		if session.IdleSince(cutoff) {
			session.Close()
			delete(r.byID, id)
			expired++
		}
	}
	return expired
}

func (r *sessionRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, session := range r.byID {
		session.Close()
		delete(r.byID, id)
	}
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// OpenSession binds a new session for callerID to the document and seeds
// it with the latest content.
func (s *Service) OpenSession(ctx context.Context, callerID, documentID string) (engine.Snapshot, error) {
	if _, err := s.accessibleDocument(ctx, callerID, documentID); err != nil {
		return engine.Snapshot{}, err
	}
	session := s.engine.NewSession(callerID)
	if err := session.Open(ctx, documentID); err != nil {
		return engine.Snapshot{}, err
	}
	s.sessions.add(session)
	return session.Snapshot(), nil
}

func (s *Service) GetSession(callerID, sessionID string) (engine.Snapshot, error) {
	session, err := s.session(callerID, sessionID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

func (s *Service) EditSession(callerID, sessionID, content string) (engine.Snapshot, error) {
	session, err := s.session(callerID, sessionID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	if err := session.Edit(content); err != nil {
		return engine.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// SaveSession commits the buffer, then indexes and archives the new
// version best-effort.
func (s *Service) SaveSession(ctx context.Context, callerID, sessionID string) (store.Version, engine.Snapshot, error) {
	session, err := s.session(callerID, sessionID)
	if err != nil {
		return store.Version{}, engine.Snapshot{}, err
	}
	version, err := session.Save(ctx)
	if err != nil {
		s.logSaveFailure(session, err)
		return store.Version{}, engine.Snapshot{}, err
	}
	doc, err := s.store.GetDocument(ctx, version.DocumentID)
	if err != nil {
		s.logger.Warn("reload document after save", zap.String("document_id", version.DocumentID), zap.Error(err))
		doc = store.Document{ID: version.DocumentID, ProjectID: session.Snapshot().ProjectID}
	}
	s.afterCommit(doc, version)
	return version, session.Snapshot(), nil
}

func (s *Service) StageSessionVersion(ctx context.Context, callerID, sessionID string, number int) (engine.Snapshot, error) {
	session, err := s.session(callerID, sessionID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	if _, err := session.StageVersion(ctx, number); err != nil {
		return engine.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// RebaseSession moves the session's base to the latest version and keeps
// its buffer. The next save overwrites what other sessions committed.
func (s *Service) RebaseSession(ctx context.Context, callerID, sessionID string) (engine.Snapshot, error) {
	session, err := s.session(callerID, sessionID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	if _, err := session.Rebase(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

func (s *Service) SessionComments(ctx context.Context, callerID, sessionID string) ([]store.Comment, error) {
	session, err := s.session(callerID, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Comments(ctx)
}

func (s *Service) SessionComment(ctx context.Context, callerID, sessionID, text string) (store.Comment, error) {
	session, err := s.session(callerID, sessionID)
	if err != nil {
		return store.Comment{}, err
	}
	comment, err := session.Comment(ctx, text)
	if err != nil {
		return store.Comment{}, err
	}
	snapshot := session.Snapshot()
	if doc, err := s.store.GetDocument(ctx, snapshot.DocumentID); err == nil {
		s.indexComment(doc, comment)
	}
	return comment, nil
}

// CloseSession is idempotent from the caller's point of view: closing an
// unknown session is reported as not found, never as a failure.
func (s *Service) CloseSession(callerID, sessionID string) error {
	session, ok := s.sessions.remove(sessionID, callerID)
	if !ok {
		return &engine.NotFoundError{Resource: "session", ID: sessionID}
	}
	session.Close()
	return nil
}

// RunSessionSweeper expires idle sessions until ctx is done.
func (s *Service) RunSessionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := s.sessions.sweep(); expired > 0 {
				s.logger.Info("expired idle sessions", zap.Int("count", expired))
			}
		}
	}
}

// Shutdown closes every open session. Unsaved buffers are discarded.
func (s *Service) Shutdown() {
	if open := s.sessions.len(); open > 0 {
		s.logger.Info("closing open sessions", zap.Int("count", open))
	}
	s.sessions.closeAll()
}

func (s *Service) session(callerID, sessionID string) (*engine.DocumentSession, error) {
	session, ok := s.sessions.get(sessionID, callerID)
	if !ok {
		return nil, &engine.NotFoundError{Resource: "session", ID: sessionID}
	}
	return session, nil
}

func (s *Service) logSaveFailure(session *engine.DocumentSession, err error) {
	snapshot := session.Snapshot()
	fields := []zap.Field{
		zap.String("session_id", snapshot.ID),
		zap.String("document_id", snapshot.DocumentID),
		zap.Int("base_version", snapshot.BaseVersion),
		zap.Error(err),
	}
	var (
		staleErr *engine.StaleBaseError
		storeErr *engine.StoreError
	)
	switch {
	case errors.As(err, &staleErr), errors.As(err, &storeErr) && storeErr.Conflict():
		s.logger.Info("save lost a concurrent write", fields...)
	case errors.As(err, &storeErr):
		s.logger.Warn("save failed", fields...)
	}
}

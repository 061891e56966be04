package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users_profile (id, email, display_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, profile.ID, profile.Email, profile.DisplayName, profile.PasswordHash, profile.CreatedAt)
	return classify("insert profile", err)
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	return s.scanProfile(ctx, "get profile", `WHERE id=$1`, userID)
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	return s.scanProfile(ctx, "get profile by email", `WHERE LOWER(email)=LOWER($1)`, email)
}

func (s *PostgresStore) scanProfile(ctx context.Context, op, where string, arg any) (Profile, error) {
	var profile Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at
		FROM users_profile `+where, arg).Scan(&profile.ID, &profile.Email, &profile.DisplayName, &profile.PasswordHash, &profile.CreatedAt)
	if err != nil {
		return Profile{}, classify(op, err)
	}
	return profile, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	return classify("save refresh session", err)
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", classify("lookup refresh session", err)
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	return classify("revoke refresh session", err)
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, project.ID, project.OwnerID, project.Name, project.Description, project.CreatedAt)
	return classify("insert project", err)
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, created_at FROM projects WHERE id=$1
	`, projectID).Scan(&item.ID, &item.OwnerID, &item.Name, &item.Description, &item.CreatedAt)
	if err != nil {
		return Project{}, classify("get project", err)
	}
	return item, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.owner_id, p.name, p.description, p.created_at
		FROM projects p
		WHERE p.owner_id = $1
			OR EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $1)
		ORDER BY p.created_at DESC, p.id DESC
	`, userID)
	if err != nil {
		return nil, classify("list projects", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Name, &item.Description, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

// DeleteProject removes the project and everything it owns in one
// transaction, children first.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	return s.withTx(ctx, "delete project", func(tx *sql.Tx) error {
		steps := []string{
			`DELETE FROM comments WHERE document_id IN (SELECT id FROM documents WHERE project_id=$1)`,
			`DELETE FROM versions WHERE document_id IN (SELECT id FROM documents WHERE project_id=$1)`,
			`DELETE FROM documents WHERE project_id=$1`,
			`DELETE FROM project_members WHERE project_id=$1`,
		}
		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, step, projectID); err != nil {
				return err
			}
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
		if err != nil {
			return err
		}
		return requireAffected(result)
	})
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, name, type, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ProjectID, item.Name, string(item.Type), item.CreatedBy, item.CreatedAt)
	return classify("insert document", err)
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	var docType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, type, created_by, created_at FROM documents WHERE id=$1
	`, documentID).Scan(&item.ID, &item.ProjectID, &item.Name, &docType, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return Document{}, classify("get document", err)
	}
	item.Type = DocumentType(docType)
	return item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, type, created_by, created_at
		FROM documents
		WHERE project_id=$1
		ORDER BY created_at DESC, id DESC
	`, projectID)
	if err != nil {
		return nil, classify("list documents", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		var docType string
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &docType, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		item.Type = DocumentType(docType)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// DeleteDocument removes comments and versions before the document row so
// no child outlives its parent, all inside one transaction.
func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	return s.withTx(ctx, "delete document", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE document_id=$1`, documentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE document_id=$1`, documentID); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
		if err != nil {
			return err
		}
		return requireAffected(result)
	})
}

func (s *PostgresStore) CountVersions(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE document_id=$1`, documentID).Scan(&count)
	if err != nil {
		return 0, classify("count versions", err)
	}
	return count, nil
}

func (s *PostgresStore) LatestVersion(ctx context.Context, documentID string) (Version, error) {
	var item Version
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version_number, content, author_id, created_at
		FROM versions
		WHERE document_id=$1
		ORDER BY version_number DESC, created_at DESC
		LIMIT 1
	`, documentID).Scan(&item.ID, &item.DocumentID, &item.Number, &item.Content, &item.AuthorID, &item.CreatedAt)
	if err != nil {
		return Version{}, classify("latest version", err)
	}
	return item, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID string, number int) (Version, error) {
	var item Version
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version_number, content, author_id, created_at
		FROM versions
		WHERE document_id=$1 AND version_number=$2
	`, documentID, number).Scan(&item.ID, &item.DocumentID, &item.Number, &item.Content, &item.AuthorID, &item.CreatedAt)
	if err != nil {
		return Version{}, classify("get version", err)
	}
	return item, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version_number, content, author_id, created_at
		FROM versions
		WHERE document_id=$1
		ORDER BY version_number DESC, created_at DESC
	`, documentID)
	if err != nil {
		return nil, classify("list versions", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var item Version
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Number, &item.Content, &item.AuthorID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertVersion(ctx context.Context, item Version) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO versions (id, document_id, version_number, content, author_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.DocumentID, item.Number, item.Content, item.AuthorID, item.CreatedAt)
	return classify("insert version", err)
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, author_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.DocumentID, item.AuthorID, item.Content, item.CreatedAt)
	return classify("insert comment", err)
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, author_id, content, created_at
		FROM comments
		WHERE document_id=$1
		ORDER BY created_at DESC, id DESC
	`, documentID)
	if err != nil {
		return nil, classify("list comments", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.AuthorID, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertMembership(ctx context.Context, item ProjectMembership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, item.ProjectID, item.UserID, item.Role, item.CreatedAt)
	return classify("insert membership", err)
}

func (s *PostgresStore) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_members WHERE project_id=$1 AND user_id=$2)
	`, projectID, userID).Scan(&exists)
	if err != nil {
		return false, classify("check membership", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]ProjectMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, user_id, role, created_at
		FROM project_members
		WHERE project_id=$1
		ORDER BY created_at ASC, user_id ASC
	`, projectID)
	if err != nil {
		return nil, classify("list members", err)
	}
	defer rows.Close()

	items := make([]ProjectMembership, 0)
	for rows.Next() {
		var item ProjectMembership
		if err := rows.Scan(&item.ProjectID, &item.UserID, &item.Role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, item ActivityRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, project_id, user_id, action, resource_type, resource_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ProjectID, item.UserID, item.Action, item.ResourceType, item.ResourceID, item.CreatedAt)
	return classify("insert activity", err)
}

func (s *PostgresStore) ListActivity(ctx context.Context, projectID string, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, user_id, action, resource_type, resource_id, created_at
		FROM activity_log
		WHERE project_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, classify("list activity", err)
	}
	defer rows.Close()

	items := make([]ActivityRecord, 0)
	for rows.Next() {
		var item ActivityRecord
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Action, &item.ResourceType, &item.ResourceID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS is the Postgres fallback used while Meilisearch is down. It is a
// case-insensitive substring match over document names, latest version
// content and comments.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const latestContent = `
	LEFT JOIN LATERAL (
		SELECT content, version_number FROM versions
		WHERE document_id = d.id
		ORDER BY version_number DESC
		LIMIT 1
	) v ON true`

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	args := []any{likePattern(q.Text), q.ProjectID}

	var subQueries []string
	if q.wants(ResultDocument) {
		subQueries = append(subQueries, `
			SELECT 'document'::text AS type, d.id, d.name AS title,
				coalesce(v.content, '') AS body, d.id AS document_id, d.project_id, d.created_at
			FROM documents d`+latestContent+`
			WHERE d.project_id = $2 AND (d.name ILIKE $1 ESCAPE '\' OR v.content ILIKE $1 ESCAPE '\')`)
	}
	if q.wants(ResultComment) {
		subQueries = append(subQueries, `
			SELECT 'comment'::text AS type, c.id, d.name AS title,
				c.content AS body, c.document_id, d.project_id, c.created_at
			FROM comments c
			JOIN documents d ON d.id = c.document_id
			WHERE d.project_id = $2 AND c.content ILIKE $1 ESCAPE '\'`)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, title, body, document_id, project_id
		FROM (%s) sub
		ORDER BY created_at DESC, id DESC
		LIMIT %d OFFSET %d`, union, q.limit(), q.offset()), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r    Result
			kind string
			body string
		)
		if err := rows.Scan(&kind, &r.ID, &r.Title, &body, &r.DocumentID, &r.ProjectID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(kind)
		r.Snippet = snippet(body, q.Text)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CommentRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.name, d.type, coalesce(v.content, ''), coalesce(v.version_number, 0), d.project_id
		FROM documents d`+latestContent)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Name, &d.Type, &d.Content, &d.LatestVersion, &d.ProjectID); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.document_id, d.name, d.project_id, c.author_id
		FROM comments c
		JOIN documents d ON d.id = c.document_id`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Body, &c.DocumentID, &c.DocumentName, &c.ProjectID, &c.AuthorID); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}
	return documents, comments, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(text string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(text)) + "%"
}

const snippetRadius = 60

// snippet returns a window of body around the first case-insensitive match
// of text, or the head of body when there is none.
func snippet(body, text string) string {
	runes := []rune(body)
	needle := []rune(strings.ToLower(strings.TrimSpace(text)))
	at := -1
	if len(needle) > 0 {
		lower := []rune(strings.ToLower(body))
		if len(lower) == len(runes) {
			at = indexRunes(lower, needle)
		}
	}
	if at < 0 {
		if len(runes) <= 2*snippetRadius {
			return body
		}
		return string(runes[:2*snippetRadius]) + "…"
	}

	start := at - snippetRadius
	if start < 0 {
		start = 0
	}
	end := at + len(needle) + snippetRadius
	if end > len(runes) {
		end = len(runes)
	}
	out := string(runes[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultComment  ResultType = "comment"
)

type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	ProjectID  string     `json:"projectId"`
}

// Query is always scoped to one project; callers check membership first.
type Query struct {
	Text       string
	ProjectID  string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

func (q Query) wants(t ResultType) bool {
	return q.FilterType == "" || q.FilterType == t
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is what gets indexed for a document: its name and the
// content of its latest version.
type DocumentRecord struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Content       string `json:"content"`
	LatestVersion int    `json:"latestVersion"`
	ProjectID     string `json:"projectId"`
}

type CommentRecord struct {
	ID           string `json:"id"`
	Body         string `json:"body"`
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	ProjectID    string `json:"projectId"`
	AuthorID     string `json:"authorId"`
}

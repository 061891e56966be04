package engine

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"quill/api/internal/metrics"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

type CommentLog interface {
	GetDocument(context.Context, string) (store.Document, error)
	InsertComment(context.Context, store.Comment) error
	ListComments(context.Context, string) ([]store.Comment, error)
}

// CommentThread is the flat comment log of a document. Comments address the
// document as a whole and have no edit or delete path.
type CommentThread struct {
	log     CommentLog
	metrics *metrics.Collector
	now     func() time.Time
}

func NewCommentThread(log CommentLog, collector *metrics.Collector) *CommentThread {
	return &CommentThread{
		log:     log,
		metrics: collector,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// List returns comments newest first.
func (t *CommentThread) List(ctx context.Context, documentID string) ([]store.Comment, error) {
	comments, err := t.log.ListComments(ctx, documentID)
	if err != nil {
		return nil, &StoreError{Op: "list comments", Err: err}
	}
	if len(comments) == 0 {
		if _, err := t.log.GetDocument(ctx, documentID); err != nil {
			return nil, storeFailure("get document", "document", documentID, err)
		}
		return []store.Comment{}, nil
	}
	return comments, nil
}

// Append stores text as given; only the emptiness check looks at the
// trimmed form.
func (t *CommentThread) Append(ctx context.Context, documentID, authorID, text string) (store.Comment, error) {
	if err := validation.Validate(strings.TrimSpace(text), validation.Required); err != nil {
		return store.Comment{}, &ValidationError{Field: "content", Message: err.Error()}
	}
	if err := validation.Validate(authorID, validation.Required); err != nil {
		return store.Comment{}, &ValidationError{Field: "authorId", Message: err.Error()}
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: documentID,
		AuthorID:   authorID,
		Content:    text,
		CreatedAt:  t.now(),
	}
	if err := t.log.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, storeFailure("insert comment", "document", documentID, err)
	}
	t.metrics.CommentAppended()
	return comment, nil
}

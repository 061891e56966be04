package export

import (
	"context"
	"fmt"

	"quill/api/internal/store"
)

type DataStore interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	GetProject(ctx context.Context, id string) (store.Project, error)
	GetVersion(ctx context.Context, documentID string, number int) (store.Version, error)
	ListComments(ctx context.Context, documentID string) ([]store.Comment, error)
	GetProfile(ctx context.Context, userID string) (store.Profile, error)
}

type pdfRenderer func(ctx context.Context, html, title string) (*Result, error)

type Service struct {
	store     DataStore
	renderPDF pdfRenderer
}

func NewService(data DataStore) *Service {
	return &Service{store: data, renderPDF: exportPDF}
}

// Export renders one version. Store lookups keep their sentinel errors so
// callers can tell a missing document or version apart from a failure.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format != FormatHTML && req.Format != FormatPDF {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	project, err := s.store.GetProject(ctx, doc.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	version, err := s.store.GetVersion(ctx, doc.ID, req.VersionNumber)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	names := map[string]string{}
	data := TemplateData{
		Title:         doc.Name,
		ProjectName:   project.Name,
		DocumentType:  string(doc.Type),
		VersionNumber: version.Number,
		Author:        s.displayName(ctx, names, version.AuthorID),
		CreatedAt:     version.CreatedAt,
		Paragraphs:    splitParagraphs(version.Content),
	}

	if req.IncludeComments {
		comments, err := s.store.ListComments(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		for _, c := range comments {
			data.Comments = append(data.Comments, TemplateComment{
				Author:    s.displayName(ctx, names, c.AuthorID),
				Body:      c.Content,
				CreatedAt: c.CreatedAt,
			})
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	base := fmt.Sprintf("%s-v%d", sanitizeFilename(doc.Name), version.Number)
	if req.Format == FormatPDF {
		return s.renderPDF(ctx, html, base)
	}
	return &Result{
		Data:     []byte(html),
		Filename: base + ".html",
		MimeType: "text/html; charset=utf-8",
	}, nil
}

// displayName falls back to the raw user id when no profile exists.
func (s *Service) displayName(ctx context.Context, cache map[string]string, userID string) string {
	if name, ok := cache[userID]; ok {
		return name
	}
	name := userID
	if profile, err := s.store.GetProfile(ctx, userID); err == nil && profile.DisplayName != "" {
		name = profile.DisplayName
	}
	cache[userID] = name
	return name
}

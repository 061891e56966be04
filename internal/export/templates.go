package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("Jan 2, 2006 15:04 MST")
	},
}).Parse(documentHTML))

type TemplateData struct {
	Title         string
	ProjectName   string
	DocumentType  string
	VersionNumber int
	Author        string
	CreatedAt     time.Time
	Paragraphs    []string
	Comments      []TemplateComment
}

type TemplateComment struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// RenderDocumentHTML renders the page. Content is treated as plain text and
// escaped; blank lines separate paragraphs.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func splitParagraphs(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	parts := strings.Split(normalized, "\n\n")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

const documentHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}} (v{{.VersionNumber}})</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .content p { white-space: pre-wrap; }
    .comment { background: #f5f5f5; padding: 0.75rem 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .comment .who { font-size: 0.85em; color: #555; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.ProjectName}} | {{.DocumentType}} | version {{.VersionNumber}} | {{.Author}} | {{formatDate .CreatedAt}}</div>
  <div class="content">
  {{range .Paragraphs}}<p>{{.}}</p>
  {{else}}<p><em>Empty document</em></p>
  {{end}}
  </div>
  {{if .Comments}}
  <h2>Comments</h2>
  {{range .Comments}}<div class="comment"><div class="who">{{.Author}} · {{formatDate .CreatedAt}}</div><div>{{.Body}}</div></div>
  {{end}}
  {{end}}
</body>
</html>`

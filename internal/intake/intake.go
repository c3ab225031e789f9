// Package intake turns uploaded problem documents (text, Markdown, HTML, PDF) into
// plain text the Expert stage can read.
package intake

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Limits bound the work done on one document.
type Limits struct {
	MaxBytes int
	MaxPages int
}

var DefaultLimits = Limits{MaxBytes: 20 << 20, MaxPages: 20}

var ErrUnsupported = errors.New("unsupported document type; provide PDF, HTML, Markdown or plain text")

// Document is one uploaded file.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// DecodeBase64 builds a Document from base64 data, accepting data: URLs.
func DecodeBase64(name, contentType, b64 string) (Document, error) {
	if strings.HasPrefix(b64, "data:") {
		if i := strings.Index(b64, ","); i != -1 {
			if contentType == "" {
				contentType = strings.TrimSuffix(strings.TrimPrefix(b64[:i], "data:"), ";base64")
			}
			b64 = b64[i+1:]
		}
	}
	buf, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Document{}, fmt.Errorf("invalid base64: %w", err)
	}
	return Document{Name: name, ContentType: contentType, Data: buf}, nil
}

// ReadFile loads a document from disk.
func ReadFile(path string) (Document, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Document{Name: filepath.Base(path), Data: buf}, nil
}

// Extract returns the document's text.
func Extract(ctx context.Context, doc Document, lim Limits) (string, error) {
	if lim.MaxBytes > 0 && len(doc.Data) > lim.MaxBytes {
		return "", fmt.Errorf("document too large: %d bytes > limit %d", len(doc.Data), lim.MaxBytes)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(doc.Name), "."))
	ctype := strings.ToLower(doc.ContentType)

	if bytes.HasPrefix(doc.Data, []byte("%PDF-")) || ext == "pdf" || strings.Contains(ctype, "pdf") {
		return extractPDF(ctx, doc.Data, lim.MaxPages)
	}

	looksHTML := ext == "html" || ext == "htm" || strings.Contains(ctype, "html")
	if !looksHTML {
		s := strings.ToLower(string(doc.Data))
		looksHTML = strings.Contains(s, "<html") || strings.Contains(s, "<body")
	}
	if looksHTML {
		return HTMLToText(string(doc.Data))
	}

	switch ext {
	case "", "txt", "md", "markdown", "csv", "json", "yaml", "yml":
		return strings.TrimSpace(string(doc.Data)), nil
	}
	if strings.HasPrefix(ctype, "text/") || strings.Contains(ctype, "json") || strings.Contains(ctype, "yaml") {
		return strings.TrimSpace(string(doc.Data)), nil
	}
	return "", ErrUnsupported
}

// Compose appends a document's text to the problem statement.
func Compose(problem, document string) string {
	problem = strings.TrimSpace(problem)
	document = strings.TrimSpace(document)
	switch {
	case document == "":
		return problem
	case problem == "":
		return document
	}
	return problem + "\n\nAttached document:\n" + document
}

func extractPDF(ctx context.Context, data []byte, maxPages int) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	total := r.NumPage()
	if maxPages <= 0 || maxPages > total {
		maxPages = total
	}
	var out strings.Builder
	for i := 1; i <= maxPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("pdf page %d: %w", i, err)
		}
		if t := strings.TrimSpace(txt); t != "" {
			out.WriteString(t)
			out.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// HTMLToText drops script and style content and keeps block structure as newlines.
func HTMLToText(s string) (string, error) {
	node, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var b strings.Builder
	extractText(node, &b, false)
	return strings.TrimSpace(compactWhitespace(b.String())), nil
}

func extractText(n *html.Node, b *strings.Builder, inHidden bool) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript":
			inHidden = true
		case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "table":
			b.WriteString("\n")
		}
	}
	if !inHidden && n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, b, inHidden)
	}
}

func compactWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.Join(strings.Fields(ln), " "); ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
)

var (
	ErrEmptyDocument       = errors.New("document is empty")
	ErrUnsupportedDocument = errors.New("unsupported document type")
)

// Extractor derives plain text from uploaded document bytes. PDFs go through
// PDFParser, plain-text exports through the eino text parser.
type Extractor struct {
	parser parser.Parser
}

func NewExtractor(ctx context.Context) (*Extractor, error) {
	ext, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			".pdf": PDFParser{},
		},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init document parser: %w", err)
	}
	return &Extractor{parser: ext}, nil
}

// ExtractText returns the text content of data. The type is sniffed from the
// bytes; the filename only names the document.
func (e *Extractor) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyDocument
	}
	uri, err := documentURI(filename, data)
	if err != nil {
		return "", err
	}
	docs, err := e.parser.Parse(ctx, bytes.NewReader(data), parser.WithURI(uri))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", uri, err)
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return "", ErrNoText
	}
	return builder.String(), nil
}

// documentURI maps the sniffed content type onto the extension the ExtParser
// dispatches on.
func documentURI(filename string, data []byte) (string, error) {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "upload"
	}
	contentType := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(contentType, "application/pdf"):
		return base + ".pdf", nil
	case strings.HasPrefix(contentType, "text/plain"):
		return base + ".txt", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, contentType)
	}
}
